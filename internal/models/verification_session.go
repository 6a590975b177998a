package models

import (
	"time"

	"github.com/google/uuid"
)

// VerificationSession is the single active one-time code for an identifier
// (verification_sessions table)
type VerificationSession struct {
	ID          uuid.UUID `db:"id"`
	Identifier  string    `db:"identifier"`
	Channel     string    `db:"channel"`
	CodeHash    string    `db:"code_hash"`
	Attempts    int       `db:"attempts"`
	MaxAttempts int       `db:"max_attempts"`
	ExpiresAt   time.Time `db:"expires_at"`
	IPAddress   *string   `db:"ip_address"`
	UserAgent   *string   `db:"user_agent"`
	CreatedAt   time.Time `db:"created_at"`
}

// IsExpired reports whether the session can no longer be verified at now
func (s *VerificationSession) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// RequestCodeRequest is the request body for requesting a verification code
type RequestCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
}

// RequestCodeResponse is returned after a code was issued
type RequestCodeResponse struct {
	SessionID uuid.UUID `json:"session_id"`
	Channel   string    `json:"channel"`
	ExpiresAt time.Time `json:"expires_at"`
	DevCode   string    `json:"dev_code,omitempty"` // only populated in dev delivery mode
}

// VerifyCodeRequest is the request body for verifying a code
type VerifyCodeRequest struct {
	Identifier string `json:"identifier" binding:"required"`
	Code       string `json:"code" binding:"required"`
}

// VerifyCodeResponse carries the identity token issued on success
type VerifyCodeResponse struct {
	IdentityToken string    `json:"identity_token"`
	Identifier    string    `json:"identifier"`
	ExpiresAt     time.Time `json:"expires_at"`
}
