package utils

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// SecretSpec describes a secret the service reads from the environment
type SecretSpec struct {
	EnvVar  string
	Purpose string
	Bytes   int
}

// ServiceSecrets lists the secrets a deployment must provide
var ServiceSecrets = []SecretSpec{
	{EnvVar: "IDENTITY_TOKEN_SECRET", Purpose: "signs guest identity tokens (HS256)", Bytes: 32},
	{EnvVar: "GATEWAY_MERCHANT_SECRET", Purpose: "signs payment notifications in a local gateway sandbox", Bytes: 32},
}

// GenerateSecret generates a cryptographically secure random secret
func GenerateSecret(bytes int) (string, error) {
	b := make([]byte, bytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// GenerateServiceSecrets returns a value for every spec not already set in
// existing. With force every spec gets a new value.
func GenerateServiceSecrets(specs []SecretSpec, existing map[string]string, force bool) (map[string]string, error) {
	generated := make(map[string]string, len(specs))
	for _, spec := range specs {
		if !force && existing[spec.EnvVar] != "" {
			continue
		}
		if spec.Bytes < 16 {
			return nil, fmt.Errorf("%s: secrets need at least 16 bytes, got %d", spec.EnvVar, spec.Bytes)
		}

		value, err := GenerateSecret(spec.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", spec.EnvVar, err)
		}
		generated[spec.EnvVar] = value
	}
	return generated, nil
}
