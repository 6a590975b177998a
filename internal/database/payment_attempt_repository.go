package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/travelcore/booking-core/internal/models"
)

const attemptColumns = `id, booking_id, idempotency_key, gateway_transaction_id, checkout_url,
	amount, currency, status, failure_reason, created_at, completed_at`

// PaymentAttemptRepository persists gateway transactions
type PaymentAttemptRepository struct {
	db *sqlx.DB
}

// NewPaymentAttemptRepository creates a new payment attempt repository
func NewPaymentAttemptRepository(db *sqlx.DB) *PaymentAttemptRepository {
	return &PaymentAttemptRepository{db: db}
}

// WithTx runs fn in a transaction shared with every repository on the same database
func (r *PaymentAttemptRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.db, fn)
}

// Create inserts a new attempt. Returns ErrConflict when the booking already has one.
func (r *PaymentAttemptRepository) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	query := `
		INSERT INTO payment_attempts (
			id, booking_id, idempotency_key, gateway_transaction_id, checkout_url,
			amount, currency, status, created_at
		) VALUES (
			:id, :booking_id, :idempotency_key, :gateway_transaction_id, :checkout_url,
			:amount, :currency, :status, :created_at
		)
	`

	if _, err := sqlx.NamedExecContext(ctx, querier(ctx, r.db), query, attempt); err != nil {
		return fmt.Errorf("failed to create payment attempt: %w", mapError(err))
	}
	return nil
}

// GetByIdempotencyKey returns the attempt opened with the given key
func (r *PaymentAttemptRepository) GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error) {
	return r.getOne(ctx, `idempotency_key = $1`, key)
}

// GetByTransactionID returns the attempt for a gateway transaction
func (r *PaymentAttemptRepository) GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentAttempt, error) {
	return r.getOne(ctx, `gateway_transaction_id = $1`, transactionID)
}

// GetByBookingID returns the attempt for a booking
func (r *PaymentAttemptRepository) GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error) {
	return r.getOne(ctx, `booking_id = $1`, bookingID)
}

// Complete moves a created attempt to a terminal status.
// Returns ErrNotFound when the attempt was already terminal.
func (r *PaymentAttemptRepository) Complete(ctx context.Context, id uuid.UUID, status models.PaymentAttemptStatus, reason *string, at time.Time) (*models.PaymentAttempt, error) {
	query := `
		UPDATE payment_attempts
		SET status = $2, failure_reason = $3, completed_at = $4
		WHERE id = $1
		  AND status = 'created'
		RETURNING ` + attemptColumns

	var attempt models.PaymentAttempt
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &attempt, query, id, string(status), reason, at); err != nil {
		return nil, mapError(err)
	}
	return &attempt, nil
}

func (r *PaymentAttemptRepository) getOne(ctx context.Context, where string, arg interface{}) (*models.PaymentAttempt, error) {
	query := `SELECT ` + attemptColumns + ` FROM payment_attempts WHERE ` + where

	var attempt models.PaymentAttempt
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &attempt, query, arg); err != nil {
		return nil, mapError(err)
	}
	return &attempt, nil
}
