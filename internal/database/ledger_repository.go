package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/travelcore/booking-core/internal/models"
)

const resourceColumns = `id, name, kind, total_capacity, granularity, valid_from, valid_to, created_at`

const holdColumns = `id, resource_id, booking_id, start_date, end_date, quantity, status,
	expires_at, created_at, committed_at, released_at`

// LedgerRepository persists inventory resources and capacity holds
type LedgerRepository struct {
	db *sqlx.DB
}

// NewLedgerRepository creates a new ledger repository
func NewLedgerRepository(db *sqlx.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// WithTx runs fn in a transaction shared with every repository on the same database
func (r *LedgerRepository) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return WithTx(ctx, r.db, fn)
}

// GetResource returns a resource without locking it
func (r *LedgerRepository) GetResource(ctx context.Context, id uuid.UUID) (*models.InventoryResource, error) {
	query := `SELECT ` + resourceColumns + ` FROM inventory_resources WHERE id = $1`

	var resource models.InventoryResource
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &resource, query, id); err != nil {
		return nil, mapError(err)
	}
	return &resource, nil
}

// LockResources row-locks the given resources in ascending id order.
// Must run inside WithTx; concurrent lockers queue on the row locks in arrival order.
func (r *LedgerRepository) LockResources(ctx context.Context, ids []uuid.UUID) ([]models.InventoryResource, error) {
	if txFromContext(ctx) == nil {
		return nil, fmt.Errorf("LockResources requires a transaction")
	}

	query := `
		SELECT ` + resourceColumns + `
		FROM inventory_resources
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE
	`

	var resources []models.InventoryResource
	if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &resources, query, uuidArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to lock resources: %w", err)
	}
	return resources, nil
}

// SumActiveHolds returns the quantity held by non-released holds on a resource.
// A nil range counts every hold on the resource.
func (r *LedgerRepository) SumActiveHolds(ctx context.Context, resourceID uuid.UUID, rng *models.DateRange) (int, error) {
	query := `
		SELECT COALESCE(SUM(quantity), 0)
		FROM capacity_holds
		WHERE resource_id = $1
		  AND status <> 'released'
	`
	args := []interface{}{resourceID}
	if rng != nil {
		query += ` AND start_date < $2 AND end_date > $3`
		args = append(args, rng.End, rng.Start)
	}

	var total int
	if err := sqlx.GetContext(ctx, querier(ctx, r.db), &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to sum active holds: %w", err)
	}
	return total, nil
}

// InsertHolds stores new holds
func (r *LedgerRepository) InsertHolds(ctx context.Context, holds []models.CapacityHold) error {
	query := `
		INSERT INTO capacity_holds (id, resource_id, booking_id, start_date, end_date, quantity, status, expires_at, created_at)
		VALUES (:id, :resource_id, :booking_id, :start_date, :end_date, :quantity, :status, :expires_at, :created_at)
	`

	q := querier(ctx, r.db)
	for _, hold := range holds {
		if _, err := sqlx.NamedExecContext(ctx, q, query, hold); err != nil {
			return fmt.Errorf("failed to insert hold %s: %w", hold.ID, mapError(err))
		}
	}
	return nil
}

// GetHolds returns the holds with the given ids
func (r *LedgerRepository) GetHolds(ctx context.Context, ids []uuid.UUID) ([]models.CapacityHold, error) {
	query := `SELECT ` + holdColumns + ` FROM capacity_holds WHERE id = ANY($1::uuid[]) ORDER BY created_at, id`

	var holds []models.CapacityHold
	if err := sqlx.SelectContext(ctx, querier(ctx, r.db), &holds, query, uuidArray(ids)); err != nil {
		return nil, fmt.Errorf("failed to get holds: %w", err)
	}
	return holds, nil
}

// UpdateHoldStatus moves holds currently in one of the from statuses to the target status
func (r *LedgerRepository) UpdateHoldStatus(ctx context.Context, ids []uuid.UUID, from []models.HoldStatus, to models.HoldStatus, at time.Time) (int64, error) {
	query := `
		UPDATE capacity_holds
		SET status = $1,
		    committed_at = CASE WHEN $1 = 'committed' THEN $2 ELSE committed_at END,
		    released_at = CASE WHEN $1 = 'released' THEN $2 ELSE released_at END
		WHERE id = ANY($3::uuid[])
		  AND status = ANY($4::text[])
	`

	result, err := querier(ctx, r.db).ExecContext(ctx, query, string(to), at, uuidArray(ids), stringArray(from))
	if err != nil {
		return 0, fmt.Errorf("failed to update hold status: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}

// ReleaseExpiredHolds releases tentative holds whose TTL has passed
func (r *LedgerRepository) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	query := `
		UPDATE capacity_holds
		SET status = 'released', released_at = $1
		WHERE status = 'tentative'
		  AND expires_at <= $1
	`

	result, err := querier(ctx, r.db).ExecContext(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to release expired holds: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rows, nil
}
