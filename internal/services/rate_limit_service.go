package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/config"
	"github.com/travelcore/booking-core/internal/database"
)

const (
	scopeIdentifier = "identifier"
	scopeIP         = "ip"
)

// RateLimitService throttles verification code requests
type RateLimitService struct {
	db     database.DB
	config config.RateLimitConfig
	clock  clock.Clock
}

// NewRateLimitService creates a new rate limit service
func NewRateLimitService(db database.DB, cfg config.RateLimitConfig, clk clock.Clock) *RateLimitService {
	return &RateLimitService{
		db:     db,
		config: cfg,
		clock:  clk,
	}
}

// requestWindow summarises the requests recorded for one identifier inside a window
type requestWindow struct {
	Count  int       `db:"count"`
	Oldest time.Time `db:"oldest"`
	Newest time.Time `db:"newest"`
}

// Check returns a *ThrottledError when identifier or ip used up its request window
func (s *RateLimitService) Check(ctx context.Context, identifier, ip string) error {
	now := s.clock.Now()

	if identifier != "" && s.config.MaxIdentifierRequests > 0 {
		window := s.config.IdentifierWindow
		stats, err := s.getRequestWindow(ctx, identifier, scopeIdentifier, now.Add(-window))
		if err != nil {
			return fmt.Errorf("failed to check identifier rate limit: %w", err)
		}

		if stats.Count >= s.config.MaxIdentifierRequests {
			return &ThrottledError{RetryAfter: stats.Oldest.Add(window).Sub(now), Scope: scopeIdentifier}
		}
	}

	if ip != "" && s.config.MaxIPRequests > 0 {
		stats, err := s.getRequestWindow(ctx, ip, scopeIP, now.Add(-s.config.IPWindow))
		if err != nil {
			return fmt.Errorf("failed to check IP rate limit: %w", err)
		}

		if stats.Count >= s.config.MaxIPRequests {
			return &ThrottledError{RetryAfter: stats.Oldest.Add(s.config.IPWindow).Sub(now), Scope: scopeIP}
		}
	}

	return nil
}

// ClaimCooldown starts the identifier's cooldown, or returns a *ThrottledError
// while the previous one is still running. Concurrent claims for the same
// identifier serialise on its row and only one of them succeeds.
func (s *RateLimitService) ClaimCooldown(ctx context.Context, identifier string) error {
	if identifier == "" || s.config.Cooldown <= 0 {
		return nil
	}
	now := s.clock.Now()

	query := `
		INSERT INTO verification_cooldowns (identifier, last_requested_at)
		VALUES ($1, $2)
		ON CONFLICT (identifier) DO UPDATE
		SET last_requested_at = EXCLUDED.last_requested_at
		WHERE verification_cooldowns.last_requested_at <= $3
		RETURNING last_requested_at
	`

	var claimed time.Time
	err := s.db.GetContext(ctx, &claimed, query, identifier, now, now.Add(-s.config.Cooldown))
	if err == nil {
		return nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("failed to claim cooldown: %w", err)
	}

	var last time.Time
	err = s.db.GetContext(ctx, &last,
		`SELECT last_requested_at FROM verification_cooldowns WHERE identifier = $1`, identifier)
	if err != nil {
		return fmt.Errorf("failed to read cooldown: %w", err)
	}

	retryAfter := last.Add(s.config.Cooldown).Sub(now)
	if retryAfter < time.Second {
		retryAfter = time.Second
	}
	return &ThrottledError{RetryAfter: retryAfter, Scope: scopeIdentifier}
}

// Record stores a verification request for rate limiting
func (s *RateLimitService) Record(ctx context.Context, identifier, ip string) error {
	now := s.clock.Now()

	if identifier != "" {
		if err := s.recordRequest(ctx, identifier, scopeIdentifier, now); err != nil {
			return fmt.Errorf("failed to record identifier request: %w", err)
		}
	}

	if ip != "" {
		if err := s.recordRequest(ctx, ip, scopeIP, now); err != nil {
			return fmt.Errorf("failed to record IP request: %w", err)
		}
	}

	return nil
}

// CleanupExpiredRecords removes records older than the longest window
func (s *RateLimitService) CleanupExpiredRecords(ctx context.Context) (int64, error) {
	maxWindow := s.config.IPWindow
	if s.config.IdentifierWindow > maxWindow {
		maxWindow = s.config.IdentifierWindow
	}
	if s.config.Cooldown > maxWindow {
		maxWindow = s.config.Cooldown
	}

	query := `
		DELETE FROM verification_requests
		WHERE created_at < $1
	`

	now := s.clock.Now()
	result, err := s.db.ExecContext(ctx, query, now.Add(-maxWindow))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup rate limits: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM verification_cooldowns WHERE last_requested_at < $1`, now.Add(-s.config.Cooldown))
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup cooldowns: %w", err)
	}

	cooldowns, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return rowsAffected + cooldowns, nil
}

func (s *RateLimitService) getRequestWindow(ctx context.Context, identifier, identifierType string, since time.Time) (requestWindow, error) {
	query := `
		SELECT COUNT(*) AS count,
		       COALESCE(MIN(created_at), $3) AS oldest,
		       COALESCE(MAX(created_at), $3) AS newest
		FROM verification_requests
		WHERE identifier = $1
		  AND identifier_type = $2
		  AND created_at > $3
	`

	var stats requestWindow
	if err := s.db.GetContext(ctx, &stats, query, identifier, identifierType, since); err != nil {
		return requestWindow{}, err
	}
	return stats, nil
}

func (s *RateLimitService) recordRequest(ctx context.Context, identifier, identifierType string, at time.Time) error {
	query := `
		INSERT INTO verification_requests (identifier, identifier_type, created_at)
		VALUES ($1, $2, $3)
	`

	_, err := s.db.ExecContext(ctx, query, identifier, identifierType, at)
	return err
}
