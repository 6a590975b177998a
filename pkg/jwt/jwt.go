package jwt

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenType represents the type of JWT token
type TokenType string

const (
	IdentityToken TokenType = "identity"
)

const issuer = "booking-core"

// Claims represents the identity token claims
type Claims struct {
	Identifier string    `json:"identifier"`
	Channel    string    `json:"channel"`
	TokenType  TokenType `json:"token_type"`
	jwt.RegisteredClaims
}

// IssuedToken is a signed identity token and its metadata
type IssuedToken struct {
	Token     string
	TokenID   string
	ExpiresAt time.Time
}

// Service handles identity token operations
type Service struct {
	secret string
	expiry time.Duration
	now    func() time.Time
}

// NewService creates a new identity token service
func NewService(secret string, expiry time.Duration) *Service {
	return &Service{
		secret: secret,
		expiry: expiry,
		now:    time.Now,
	}
}

// WithClock overrides the time source used for issuing and validating tokens
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// GenerateIdentityToken signs a short-lived token proving control of identifier
func (s *Service) GenerateIdentityToken(identifier, channel string) (*IssuedToken, error) {
	now := s.now()
	expiresAt := now.Add(s.expiry)
	tokenID := uuid.NewString()

	claims := Claims{
		Identifier: identifier,
		Channel:    channel,
		TokenType:  IdentityToken,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        tokenID,
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   identifier,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return nil, fmt.Errorf("failed to sign identity token: %w", err)
	}

	return &IssuedToken{
		Token:     tokenString,
		TokenID:   tokenID,
		ExpiresAt: expiresAt,
	}, nil
}

// ValidateIdentityToken validates and parses an identity token
func (s *Service) ValidateIdentityToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		// Verify signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(s.secret), nil
	}, jwt.WithTimeFunc(s.now), jwt.WithIssuer(issuer), jwt.WithExpirationRequired())

	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	if claims.TokenType != IdentityToken {
		return nil, fmt.Errorf("invalid token type: expected %s, got %s", IdentityToken, claims.TokenType)
	}

	if claims.ID == "" {
		return nil, fmt.Errorf("token has no id")
	}

	return claims, nil
}

// ExtractClaims extracts claims from a token without validation (for debugging)
func (s *Service) ExtractClaims(tokenString string) (*Claims, error) {
	token, _, err := jwt.NewParser().ParseUnverified(tokenString, &Claims{})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, fmt.Errorf("invalid token claims")
	}

	return claims, nil
}
