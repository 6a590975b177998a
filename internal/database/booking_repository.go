package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/travelcore/booking-core/internal/models"
)

const bookingColumns = `id, guest_name, guest_email, guest_phone, contact_identifier, contact_channel,
	line_items, total_amount, currency, status, failure_reason, identity_token_id,
	checkout_deadline, submitted_at, confirmed_at, created_at, updated_at`

// BookingRepository persists bookings
type BookingRepository struct {
	db *sqlx.DB
}

// NewBookingRepository creates a new booking repository
func NewBookingRepository(db *sqlx.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

// WithTx runs fn in a transaction shared with every repository on the same database
func (r *BookingRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.db, fn)
}

// Create inserts a new booking
func (r *BookingRepository) Create(ctx context.Context, booking *models.Booking) error {
	query := `
		INSERT INTO bookings (
			id, guest_name, guest_email, guest_phone, contact_identifier, contact_channel,
			line_items, total_amount, currency, status, created_at, updated_at
		) VALUES (
			:id, :guest_name, :guest_email, :guest_phone, :contact_identifier, :contact_channel,
			:line_items, :total_amount, :currency, :status, :created_at, :updated_at
		)
	`

	if _, err := sqlx.NamedExecContext(ctx, querier(ctx, r.db), query, booking); err != nil {
		return fmt.Errorf("failed to create booking: %w", mapError(err))
	}
	return nil
}

// GetByID returns a booking by id
func (r *BookingRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1`

	var booking models.Booking
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &booking, query, id); err != nil {
		return nil, mapError(err)
	}
	return &booking, nil
}

// GetForUpdate returns a booking and locks its row until the surrounding transaction ends
func (r *BookingRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = $1 FOR UPDATE`

	var booking models.Booking
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &booking, query, id); err != nil {
		return nil, mapError(err)
	}
	return &booking, nil
}

// Transition applies a status change only when the booking is in one of the expected statuses.
// Returns ErrNotFound when no row matched, ErrConflict when the identity token was already consumed.
func (r *BookingRepository) Transition(ctx context.Context, id uuid.UUID, t models.BookingTransition) (*models.Booking, error) {
	query := `
		UPDATE bookings
		SET status = $2,
		    updated_at = $3,
		    line_items = COALESCE($4, line_items),
		    failure_reason = COALESCE($5, failure_reason),
		    identity_token_id = COALESCE($6, identity_token_id),
		    checkout_deadline = COALESCE($7, checkout_deadline),
		    submitted_at = CASE WHEN $2 = 'pending_payment' THEN $3 ELSE submitted_at END,
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN $3 ELSE confirmed_at END
		WHERE id = $1
		  AND status = ANY($8::text[])
		RETURNING ` + bookingColumns

	// A nil LineItems must reach Postgres as NULL, not as JSON null
	var lineItems interface{}
	if t.LineItems != nil {
		lineItems = t.LineItems
	}

	var booking models.Booking
	err := sqlx.GetContext(ctx, querier(ctx, r.db), &booking, query,
		id,
		string(t.To),
		t.At,
		lineItems,
		t.FailureReason,
		t.IdentityTokenID,
		t.Deadline,
		stringArray(t.From),
	)
	if err != nil {
		return nil, mapError(err)
	}
	return &booking, nil
}

// ListStale returns bookings whose checkout window has elapsed, in created_at, id
// order starting after q.After
func (r *BookingRepository) ListStale(ctx context.Context, q models.StaleQuery) ([]models.Booking, error) {
	query := `
		SELECT ` + bookingColumns + `
		FROM bookings
		WHERE ((status IN ('pending_payment', 'payment_processing') AND checkout_deadline < $1)
		    OR (status = 'draft' AND created_at < $2))
		  AND ($3::timestamptz IS NULL OR (created_at, id) > ($3::timestamptz, $4::uuid))
		ORDER BY created_at ASC, id ASC
		LIMIT $5
	`

	var (
		afterCreatedAt *time.Time
		afterID        *uuid.UUID
	)
	if q.After != nil {
		afterCreatedAt = &q.After.CreatedAt
		afterID = &q.After.ID
	}

	var bookings []models.Booking
	err := sqlx.SelectContext(ctx, querier(ctx, r.db), &bookings, query,
		q.Now, q.DraftCutoff, afterCreatedAt, afterID, q.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale bookings: %w", err)
	}
	return bookings, nil
}
