package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/travelcore/booking-core/internal/models"
)

// AuditRepository handles audit trail database operations
type AuditRepository struct {
	db *sqlx.DB
}

// NewAuditRepository creates a new audit repository
func NewAuditRepository(db *sqlx.DB) *AuditRepository {
	return &AuditRepository{db: db}
}

// Log inserts a new audit event. Audit rows are written outside any caller
// transaction so that rejected operations are still recorded.
func (r *AuditRepository) Log(ctx context.Context, event *models.AuditEvent) error {
	query := `
		INSERT INTO audit_events (id, action, entity_type, entity_id, ip_address, user_agent, details, created_at)
		VALUES (:id, :action, :entity_type, :entity_id, :ip_address, :user_agent, :details, :created_at)
	`

	if _, err := r.db.NamedExecContext(ctx, query, event); err != nil {
		return fmt.Errorf("failed to insert audit event: %w", err)
	}
	return nil
}

// DeleteOlderThan removes audit events created before cutoff
func (r *AuditRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM audit_events WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old audit events: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
