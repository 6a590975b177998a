package services

import (
	"context"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/config"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/models"
	"github.com/travelcore/booking-core/pkg/delivery"
	"github.com/travelcore/booking-core/pkg/jwt"
	"github.com/travelcore/booking-core/pkg/validator"
	"golang.org/x/crypto/bcrypt"
)

// RateLimiter throttles code requests
type RateLimiter interface {
	Check(ctx context.Context, identifier, ip string) error
	ClaimCooldown(ctx context.Context, identifier string) error
	Record(ctx context.Context, identifier, ip string) error
}

// IdentityTokenIssuer signs identity tokens
type IdentityTokenIssuer interface {
	GenerateIdentityToken(identifier, channel string) (*jwt.IssuedToken, error)
}

// RequestCodeInput is a request for a one-time code
type RequestCodeInput struct {
	Identifier string
	IPAddress  string
	UserAgent  string
}

// CodeRequestResult describes the issued session
type CodeRequestResult struct {
	SessionID  uuid.UUID
	Identifier string
	Channel    string
	ExpiresAt  time.Time
	DevCode    string // only set in dev delivery mode
}

// VerifyCodeInput is a code submitted by the guest
type VerifyCodeInput struct {
	Identifier string
	Code       string
	IPAddress  string
	UserAgent  string
}

// IdentityToken proves control of an identifier
type IdentityToken struct {
	Token      string
	TokenID    string
	Identifier string
	Channel    string
	ExpiresAt  time.Time
}

// VerificationService issues and verifies one-time codes
type VerificationService struct {
	db          database.DB
	identifiers *validator.IdentifierValidator
	sender      delivery.Sender
	tokens      IdentityTokenIssuer
	limiter     RateLimiter
	audit       *AuditService
	config      config.VerificationConfig
	devMode     bool
	sendTimeout time.Duration
	logger      *logrus.Logger
	clock       clock.Clock

	deliveries sync.WaitGroup
}

// VerificationDeps groups the collaborators of the verification service
type VerificationDeps struct {
	DB          database.DB
	Identifiers *validator.IdentifierValidator
	Sender      delivery.Sender
	Tokens      IdentityTokenIssuer
	Limiter     RateLimiter
	Audit       *AuditService
	Logger      *logrus.Logger
	Clock       clock.Clock
}

// NewVerificationService creates a new verification service
func NewVerificationService(deps VerificationDeps, cfg config.VerificationConfig, deliveryCfg config.DeliveryConfig) *VerificationService {
	sendTimeout := deliveryCfg.Timeout
	if sendTimeout <= 0 {
		sendTimeout = 10 * time.Second
	}
	return &VerificationService{
		db:          deps.DB,
		identifiers: deps.Identifiers,
		sender:      deps.Sender,
		tokens:      deps.Tokens,
		limiter:     deps.Limiter,
		audit:       deps.Audit,
		config:      cfg,
		devMode:     deliveryCfg.Mode != "production",
		sendTimeout: sendTimeout,
		logger:      deps.Logger,
		clock:       deps.Clock,
	}
}

// RequestCode issues a new code for the identifier, replacing any earlier one
func (s *VerificationService) RequestCode(ctx context.Context, in RequestCodeInput) (*CodeRequestResult, error) {
	identifier, err := s.identifiers.Normalize(in.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	if err := s.limiter.Check(ctx, identifier.Value, in.IPAddress); err != nil {
		return nil, s.throttled(ctx, identifier.Value, in, err)
	}
	if err := s.limiter.ClaimCooldown(ctx, identifier.Value); err != nil {
		return nil, s.throttled(ctx, identifier.Value, in, err)
	}

	code, err := generateCode(s.config.CodeLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.config.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash code: %w", err)
	}

	now := s.clock.Now()
	session := models.VerificationSession{
		ID:          uuid.New(),
		Identifier:  identifier.Value,
		Channel:     string(identifier.Channel),
		CodeHash:    string(hash),
		MaxAttempts: s.config.MaxAttempts,
		ExpiresAt:   now.Add(s.config.CodeTTL),
		IPAddress:   optionalString(in.IPAddress),
		UserAgent:   optionalString(in.UserAgent),
		CreatedAt:   now,
	}

	// One session per identifier: the upsert makes every earlier code unusable
	query := `
		INSERT INTO verification_sessions (id, identifier, channel, code_hash, attempts, max_attempts, expires_at, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, 0, $5, $6, $7, $8, $9)
		ON CONFLICT (identifier) DO UPDATE
		SET id = EXCLUDED.id,
		    channel = EXCLUDED.channel,
		    code_hash = EXCLUDED.code_hash,
		    attempts = 0,
		    max_attempts = EXCLUDED.max_attempts,
		    expires_at = EXCLUDED.expires_at,
		    ip_address = EXCLUDED.ip_address,
		    user_agent = EXCLUDED.user_agent,
		    created_at = EXCLUDED.created_at
	`
	_, err = s.db.ExecContext(ctx, query,
		session.ID, session.Identifier, session.Channel, session.CodeHash, session.MaxAttempts,
		session.ExpiresAt, session.IPAddress, session.UserAgent, session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to store verification session: %w", err)
	}

	if err := s.limiter.Record(ctx, identifier.Value, in.IPAddress); err != nil {
		s.logger.WithError(err).Warn("Failed to record verification request")
	}

	s.deliver(delivery.Message{
		Identifier: identifier.Value,
		Channel:    delivery.Channel(identifier.Channel),
		Code:       code,
		TTL:        s.config.CodeTTL,
	})

	s.audit.Record(ctx, models.NewAuditEvent(models.AuditCodeRequested, "verification_session").
		SetEntity(session.ID).
		SetClient(in.IPAddress, in.UserAgent).
		With("identifier", identifier.Value).
		With("channel", session.Channel))

	result := &CodeRequestResult{
		SessionID:  session.ID,
		Identifier: identifier.Value,
		Channel:    session.Channel,
		ExpiresAt:  session.ExpiresAt,
	}
	if s.devMode {
		result.DevCode = code
	}
	return result, nil
}

// VerifyCode checks a code and, on a match, consumes the session and issues an identity token
func (s *VerificationService) VerifyCode(ctx context.Context, in VerifyCodeInput) (*IdentityToken, error) {
	identifier, err := s.identifiers.Normalize(in.Identifier)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}

	session, err := s.getSession(ctx, identifier.Value)
	if err != nil {
		return nil, err
	}

	if session.IsExpired(s.clock.Now()) {
		if _, err := s.deleteSession(ctx, session.ID); err != nil {
			s.logger.WithError(err).Warn("Failed to delete expired verification session")
		}
		return nil, ErrNoActiveSession
	}

	if session.Attempts >= session.MaxAttempts {
		if _, err := s.deleteSession(ctx, session.ID); err != nil {
			return nil, fmt.Errorf("failed to discard exhausted session: %w", err)
		}
		return nil, ErrTooManyAttempts
	}

	slot, err := s.claimAttempt(ctx, session.ID)
	if err != nil {
		return nil, err
	}

	if bcrypt.CompareHashAndPassword([]byte(slot.CodeHash), []byte(strings.TrimSpace(in.Code))) != nil {
		return nil, s.recordMismatch(ctx, session, slot, in)
	}

	// Only the caller that deletes the session gets a token
	deleted, err := s.consumeSession(ctx, session.ID)
	if err != nil {
		return nil, err
	}
	if !deleted {
		return nil, ErrNoActiveSession
	}

	issued, err := s.tokens.GenerateIdentityToken(session.Identifier, session.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to issue identity token: %w", err)
	}

	s.audit.Record(ctx, models.NewAuditEvent(models.AuditCodeVerified, "verification_session").
		SetEntity(session.ID).
		SetClient(in.IPAddress, in.UserAgent).
		With("identifier", session.Identifier).
		With("token_id", issued.TokenID))

	return &IdentityToken{
		Token:      issued.Token,
		TokenID:    issued.TokenID,
		Identifier: session.Identifier,
		Channel:    session.Channel,
		ExpiresAt:  issued.ExpiresAt,
	}, nil
}

// CleanupExpiredSessions removes sessions whose code can no longer be used
func (s *VerificationService) CleanupExpiredSessions(ctx context.Context) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verification_sessions WHERE expires_at <= $1`, s.clock.Now())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired sessions: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected, nil
}

// WaitForDeliveries blocks until in-flight code deliveries finish or ctx is done
func (s *VerificationService) WaitForDeliveries(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.deliveries.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// deliver hands the code to the sender without blocking the request
func (s *VerificationService) deliver(msg delivery.Message) {
	s.deliveries.Add(1)
	go func() {
		defer s.deliveries.Done()

		ctx, cancel := context.WithTimeout(context.Background(), s.sendTimeout)
		defer cancel()

		if err := s.sender.Send(ctx, msg); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"channel": msg.Channel,
				"sender":  s.sender.Name(),
			}).Error("Failed to deliver verification code")
		}
	}()
}

// throttled audits a rate limit rejection and passes err through
func (s *VerificationService) throttled(ctx context.Context, identifier string, in RequestCodeInput, err error) error {
	var throttled *ThrottledError
	if errors.As(err, &throttled) {
		s.audit.Record(ctx, models.NewAuditEvent(models.AuditCodeThrottled, "verification_session").
			SetClient(in.IPAddress, in.UserAgent).
			With("identifier", identifier).
			With("scope", throttled.Scope).
			With("retry_after_seconds", int(throttled.RetryAfter.Seconds())))
	}
	return err
}

// attemptSlot is the session state after a counted attempt
type attemptSlot struct {
	CodeHash    string `db:"code_hash"`
	Attempts    int    `db:"attempts"`
	MaxAttempts int    `db:"max_attempts"`
}

// claimAttempt counts an attempt before the code is compared, so concurrent
// guesses never exceed max_attempts comparisons
func (s *VerificationService) claimAttempt(ctx context.Context, id uuid.UUID) (*attemptSlot, error) {
	query := `
		UPDATE verification_sessions
		SET attempts = attempts + 1
		WHERE id = $1 AND attempts < max_attempts
		RETURNING code_hash, attempts, max_attempts
	`

	var slot attemptSlot
	err := s.db.GetContext(ctx, &slot, query, id)
	if err == nil {
		return &slot, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to claim verification attempt: %w", err)
	}

	// Either the attempts ran out or the session is gone
	deleted, err := s.deleteSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to discard exhausted session: %w", err)
	}
	if deleted {
		return nil, ErrTooManyAttempts
	}
	return nil, ErrNoActiveSession
}

func (s *VerificationService) recordMismatch(ctx context.Context, session *models.VerificationSession, slot *attemptSlot, in VerifyCodeInput) error {
	event := models.NewAuditEvent(models.AuditCodeRejected, "verification_session").
		SetEntity(session.ID).
		SetClient(in.IPAddress, in.UserAgent).
		With("identifier", session.Identifier).
		With("attempts", slot.Attempts)
	defer s.audit.Record(ctx, event)

	if slot.Attempts >= slot.MaxAttempts {
		event.With("reason", "too_many_attempts")
		if _, err := s.deleteSession(ctx, session.ID); err != nil {
			return fmt.Errorf("failed to discard exhausted session: %w", err)
		}
		return ErrTooManyAttempts
	}

	event.With("reason", "code_mismatch")
	return &CodeMismatchError{RemainingAttempts: slot.MaxAttempts - slot.Attempts}
}

func (s *VerificationService) getSession(ctx context.Context, identifier string) (*models.VerificationSession, error) {
	query := `
		SELECT id, identifier, channel, code_hash, attempts, max_attempts, expires_at, ip_address, user_agent, created_at
		FROM verification_sessions
		WHERE identifier = $1
	`

	var session models.VerificationSession
	if err := s.db.GetContext(ctx, &session, query, identifier); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoActiveSession
		}
		return nil, fmt.Errorf("failed to get verification session: %w", err)
	}
	return &session, nil
}

func (s *VerificationService) deleteSession(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM verification_sessions WHERE id = $1`, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete verification session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// consumeSession deletes a session that has not run out of attempts
func (s *VerificationService) consumeSession(ctx context.Context, id uuid.UUID) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM verification_sessions WHERE id = $1 AND attempts <= max_attempts`, id)
	if err != nil {
		return false, fmt.Errorf("failed to consume verification session: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// generateCode returns a cryptographically random numeric code of the given length
func generateCode(length int) (string, error) {
	max := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", length, n), nil
}

func optionalString(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}
