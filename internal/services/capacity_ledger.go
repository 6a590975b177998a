package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/models"
)

// LedgerStore is the persistence the capacity ledger needs
type LedgerStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	GetResource(ctx context.Context, id uuid.UUID) (*models.InventoryResource, error)
	LockResources(ctx context.Context, ids []uuid.UUID) ([]models.InventoryResource, error)
	SumActiveHolds(ctx context.Context, resourceID uuid.UUID, rng *models.DateRange) (int, error)
	InsertHolds(ctx context.Context, holds []models.CapacityHold) error
	GetHolds(ctx context.Context, ids []uuid.UUID) ([]models.CapacityHold, error)
	UpdateHoldStatus(ctx context.Context, ids []uuid.UUID, from []models.HoldStatus, to models.HoldStatus, at time.Time) (int64, error)
	ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error)
}

// CapacityLedger admits, commits and releases capacity holds
type CapacityLedger struct {
	store   LedgerStore
	holdTTL time.Duration
	logger  *logrus.Logger
	clock   clock.Clock
}

const defaultHoldTTL = 20 * time.Minute

// NewCapacityLedger creates a new capacity ledger
func NewCapacityLedger(store LedgerStore, holdTTL time.Duration, logger *logrus.Logger, clk clock.Clock) *CapacityLedger {
	if holdTTL <= 0 {
		holdTTL = defaultHoldTTL
	}
	return &CapacityLedger{
		store:   store,
		holdTTL: holdTTL,
		logger:  logger,
		clock:   clk,
	}
}

// Reserve admits a single tentative hold
func (l *CapacityLedger) Reserve(ctx context.Context, req models.HoldRequest) (*models.CapacityHold, error) {
	holds, err := l.ReserveBatch(ctx, req.BookingID, []models.HoldRequest{req})
	if err != nil {
		return nil, err
	}
	return &holds[0], nil
}

// ReserveBatch admits every request or none of them. Resource rows are locked
// in ascending id order so concurrent batches queue instead of deadlocking.
func (l *CapacityLedger) ReserveBatch(ctx context.Context, bookingID uuid.UUID, reqs []models.HoldRequest) ([]models.CapacityHold, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: no line items", ErrInvalidBooking)
	}
	for i, req := range reqs {
		if req.Quantity <= 0 {
			return nil, &InvalidLineItemError{Index: i, Reason: "quantity must be positive"}
		}
	}

	now := l.clock.Now()
	var holds []models.CapacityHold

	err := l.store.WithTx(ctx, func(txCtx context.Context) error {
		resources, err := l.store.LockResources(txCtx, sortedResourceIDs(reqs))
		if err != nil {
			return err
		}
		byID := make(map[uuid.UUID]models.InventoryResource, len(resources))
		for _, r := range resources {
			byID[r.ID] = r
		}

		holds = make([]models.CapacityHold, 0, len(reqs))
		for i, req := range reqs {
			resource, ok := byID[req.ResourceID]
			if !ok {
				return fmt.Errorf("%w: %s", ErrResourceNotFound, req.ResourceID)
			}

			rng, err := holdRange(&resource, req.Range)
			if err != nil {
				return &InvalidLineItemError{Index: i, Reason: err.Error()}
			}
			if req.Quantity > resource.TotalCapacity {
				return &InvalidLineItemError{Index: i, Reason: "quantity exceeds total capacity"}
			}

			existing, err := l.store.SumActiveHolds(txCtx, resource.ID, overlapFilter(&resource, rng))
			if err != nil {
				return err
			}
			existing += admittedInBatch(&resource, rng, holds)

			if existing+req.Quantity > resource.TotalCapacity {
				return &CapacityExceededError{
					ResourceID: resource.ID,
					Requested:  req.Quantity,
					Available:  max(resource.TotalCapacity-existing, 0),
				}
			}

			holds = append(holds, models.CapacityHold{
				ID:         uuid.New(),
				ResourceID: resource.ID,
				BookingID:  bookingID,
				StartDate:  rng.Start,
				EndDate:    rng.End,
				Quantity:   req.Quantity,
				Status:     models.HoldStatusTentative,
				ExpiresAt:  now.Add(l.holdTTL),
				CreatedAt:  now,
			})
		}

		return l.store.InsertHolds(txCtx, holds)
	})
	if err != nil {
		var exceeded *CapacityExceededError
		if errors.As(err, &exceeded) {
			l.logger.WithFields(logrus.Fields{
				"booking_id":  bookingID,
				"resource_id": exceeded.ResourceID,
				"requested":   exceeded.Requested,
				"available":   exceeded.Available,
			}).Info("Capacity reservation rejected")
		}
		return nil, err
	}

	return holds, nil
}

// Normalize checks requests against their resources without locking and
// returns them with slot ranges filled in from the departure window
func (l *CapacityLedger) Normalize(ctx context.Context, reqs []models.HoldRequest) ([]models.HoldRequest, error) {
	normalized := make([]models.HoldRequest, len(reqs))
	for i, req := range reqs {
		if req.Quantity <= 0 {
			return nil, &InvalidLineItemError{Index: i, Reason: "quantity must be positive"}
		}

		resource, err := l.store.GetResource(ctx, req.ResourceID)
		if err != nil {
			if errors.Is(err, database.ErrNotFound) {
				return nil, &InvalidLineItemError{Index: i, Reason: "resource not found"}
			}
			return nil, err
		}
		if req.Quantity > resource.TotalCapacity {
			return nil, &InvalidLineItemError{Index: i, Reason: "quantity exceeds total capacity"}
		}

		rng, err := holdRange(resource, req.Range)
		if err != nil {
			return nil, &InvalidLineItemError{Index: i, Reason: err.Error()}
		}

		req.Range = rng
		normalized[i] = req
	}
	return normalized, nil
}

// Commit makes tentative holds permanent. Already committed holds are accepted.
func (l *CapacityLedger) Commit(ctx context.Context, holdIDs []uuid.UUID) ([]models.CapacityHold, error) {
	if len(holdIDs) == 0 {
		return nil, nil
	}

	var committed []models.CapacityHold
	err := l.store.WithTx(ctx, func(txCtx context.Context) error {
		holds, err := l.getHolds(txCtx, holdIDs)
		if err != nil {
			return err
		}
		for _, h := range holds {
			if h.Status == models.HoldStatusReleased {
				return fmt.Errorf("%w: %s", ErrHoldReleased, h.ID)
			}
		}

		_, err = l.store.UpdateHoldStatus(txCtx, holdIDs,
			[]models.HoldStatus{models.HoldStatusTentative}, models.HoldStatusCommitted, l.clock.Now())
		if err != nil {
			return err
		}

		committed, err = l.store.GetHolds(txCtx, holdIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// Release returns tentative holds to the pool. Releasing twice is a no-op.
func (l *CapacityLedger) Release(ctx context.Context, holdIDs []uuid.UUID) ([]models.CapacityHold, error) {
	if len(holdIDs) == 0 {
		return nil, nil
	}

	var released []models.CapacityHold
	err := l.store.WithTx(ctx, func(txCtx context.Context) error {
		_, err := l.store.UpdateHoldStatus(txCtx, holdIDs,
			[]models.HoldStatus{models.HoldStatusTentative}, models.HoldStatusReleased, l.clock.Now())
		if err != nil {
			return err
		}

		released, err = l.store.GetHolds(txCtx, holdIDs)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// SweepExpired releases tentative holds whose TTL has passed
func (l *CapacityLedger) SweepExpired(ctx context.Context) (int64, error) {
	released, err := l.store.ReleaseExpiredHolds(ctx, l.clock.Now())
	if err != nil {
		return 0, err
	}
	if released > 0 {
		l.logger.WithField("released", released).Info("Released expired capacity holds")
	}
	return released, nil
}

// Availability reports free capacity for display. It takes no locks and the
// answer may be stale by the time a reservation is attempted.
func (l *CapacityLedger) Availability(ctx context.Context, resourceID uuid.UUID, rng models.DateRange) (*models.Availability, error) {
	resource, err := l.store.GetResource(ctx, resourceID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrResourceNotFound
		}
		return nil, err
	}

	rng, err = holdRange(resource, rng)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBooking, err)
	}

	held, err := l.store.SumActiveHolds(ctx, resource.ID, overlapFilter(resource, rng))
	if err != nil {
		return nil, err
	}

	return &models.Availability{
		ResourceID:    resource.ID,
		Range:         rng,
		TotalCapacity: resource.TotalCapacity,
		Held:          held,
		Available:     max(resource.TotalCapacity-held, 0),
	}, nil
}

func (l *CapacityLedger) getHolds(ctx context.Context, ids []uuid.UUID) ([]models.CapacityHold, error) {
	holds, err := l.store.GetHolds(ctx, ids)
	if err != nil {
		return nil, err
	}
	if len(holds) != len(uniqueIDs(ids)) {
		return nil, fmt.Errorf("expected %d capacity holds, found %d", len(ids), len(holds))
	}
	return holds, nil
}

// holdRange resolves the range a hold on resource covers. Slot holds always
// cover the departure's fixed window; night holds must be a non-empty range
// inside the validity window.
func holdRange(resource *models.InventoryResource, requested models.DateRange) (models.DateRange, error) {
	window := resource.Window()

	if resource.IsSlot() {
		if !requested.Start.IsZero() && !requested.Equal(window) {
			return models.DateRange{}, fmt.Errorf("range must match departure %s..%s", window.Start, window.End)
		}
		return window, nil
	}

	if !requested.Valid() {
		return models.DateRange{}, errors.New("check-out must be after check-in")
	}
	if !requested.Within(window) {
		return models.DateRange{}, fmt.Errorf("range outside bookable window %s..%s", window.Start, window.End)
	}
	return requested, nil
}

// overlapFilter returns nil for slot resources: every hold on a departure competes.
func overlapFilter(resource *models.InventoryResource, rng models.DateRange) *models.DateRange {
	if resource.IsSlot() {
		return nil
	}
	return &rng
}

func admittedInBatch(resource *models.InventoryResource, rng models.DateRange, admitted []models.CapacityHold) int {
	total := 0
	for _, h := range admitted {
		if h.ResourceID != resource.ID {
			continue
		}
		if resource.IsSlot() || h.Range().Overlaps(rng) {
			total += h.Quantity
		}
	}
	return total
}

func sortedResourceIDs(reqs []models.HoldRequest) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.ResourceID)
	}
	ids = uniqueIDs(ids)
	sort.Slice(ids, func(i, j int) bool {
		return bytes.Compare(ids[i][:], ids[j][:]) < 0
	})
	return ids
}

func uniqueIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	unique := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	return unique
}
