package jwt

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-identity-secret-key-for-testing-purposes"

func TestNewService(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)

	assert.NotNil(t, service)
	assert.Equal(t, testSecret, service.secret)
	assert.Equal(t, 5*time.Minute, service.expiry)
}

func TestGenerateIdentityToken(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)

	issued, err := service.GenerateIdentityToken("+94771234567", "sms")
	require.NoError(t, err)
	assert.NotEmpty(t, issued.Token)
	assert.NotEmpty(t, issued.TokenID)
	assert.WithinDuration(t, time.Now().Add(5*time.Minute), issued.ExpiresAt, 2*time.Second)

	claims, err := service.ValidateIdentityToken(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "+94771234567", claims.Identifier)
	assert.Equal(t, "sms", claims.Channel)
	assert.Equal(t, IdentityToken, claims.TokenType)
	assert.Equal(t, issued.TokenID, claims.ID)
}

func TestGenerateIdentityToken_UniqueIDs(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)

	first, err := service.GenerateIdentityToken("guest@example.com", "email")
	require.NoError(t, err)
	second, err := service.GenerateIdentityToken("guest@example.com", "email")
	require.NoError(t, err)

	assert.NotEqual(t, first.TokenID, second.TokenID)
}

func TestValidateIdentityToken_Expired(t *testing.T) {
	issuedAt := time.Now().Add(-time.Hour)
	service := NewService(testSecret, 5*time.Minute).WithClock(func() time.Time { return issuedAt })

	issued, err := service.GenerateIdentityToken("guest@example.com", "email")
	require.NoError(t, err)

	service.WithClock(time.Now)
	_, err = service.ValidateIdentityToken(issued.Token)
	assert.Error(t, err)
	assert.ErrorIs(t, err, jwt.ErrTokenExpired)
}

func TestValidateIdentityToken_WrongSecret(t *testing.T) {
	issuer := NewService(testSecret, 5*time.Minute)
	verifier := NewService("another-secret", 5*time.Minute)

	issued, err := issuer.GenerateIdentityToken("guest@example.com", "email")
	require.NoError(t, err)

	_, err = verifier.ValidateIdentityToken(issued.Token)
	assert.ErrorIs(t, err, jwt.ErrTokenSignatureInvalid)
}

func TestValidateIdentityToken_WrongType(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)
	now := time.Now()

	claims := Claims{
		Identifier: "guest@example.com",
		TokenType:  TokenType("access"),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "abc",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)

	_, err = service.ValidateIdentityToken(token)
	assert.ErrorContains(t, err, "invalid token type")
}

func TestValidateIdentityToken_RejectsNoneAlgorithm(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)
	now := time.Now()

	claims := Claims{
		Identifier: "guest@example.com",
		TokenType:  IdentityToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        "abc",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = service.ValidateIdentityToken(token)
	assert.Error(t, err)
}

func TestValidateIdentityToken_Malformed(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)

	_, err := service.ValidateIdentityToken("not.a.token")
	assert.Error(t, err)
}

func TestExtractClaims(t *testing.T) {
	service := NewService(testSecret, 5*time.Minute)

	issued, err := service.GenerateIdentityToken("guest@example.com", "email")
	require.NoError(t, err)

	claims, err := service.ExtractClaims(issued.Token)
	require.NoError(t, err)
	assert.Equal(t, "guest@example.com", claims.Subject)
	assert.Equal(t, issued.TokenID, claims.ID)
}
