package services

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/models"
)

type memTxKey struct{}

// memoryDB is an in-memory stand-in for Postgres. Transactions are serialised
// and roll back to a snapshot on error.
type memoryDB struct {
	txMu sync.Mutex
	mu   sync.Mutex

	resources map[uuid.UUID]models.InventoryResource
	holds     map[uuid.UUID]models.CapacityHold
	bookings  map[uuid.UUID]models.Booking
	attempts  map[uuid.UUID]models.PaymentAttempt

	// staleLocks makes the next GetForUpdate report an outdated status, as a
	// reader that lost a race would have seen it
	staleLocks map[uuid.UUID]models.BookingStatus
	// brokenBookings fail every status change with the stored error
	brokenBookings map[uuid.UUID]error
}

func newMemoryDB() *memoryDB {
	return &memoryDB{
		resources: make(map[uuid.UUID]models.InventoryResource),
		holds:     make(map[uuid.UUID]models.CapacityHold),
		bookings:  make(map[uuid.UUID]models.Booking),
		attempts:  make(map[uuid.UUID]models.PaymentAttempt),

		staleLocks:     make(map[uuid.UUID]models.BookingStatus),
		brokenBookings: make(map[uuid.UUID]error),
	}
}

func (m *memoryDB) breakBooking(id uuid.UUID, err error) {
	m.read(func() { m.brokenBookings[id] = err })
}

func (m *memoryDB) staleLock(id uuid.UUID, status models.BookingStatus) {
	m.read(func() { m.staleLocks[id] = status })
}

func (m *memoryDB) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if inMemTx(ctx) {
		return fn(ctx)
	}

	m.txMu.Lock()
	snapshot := m.snapshot()
	txCtx, hooks := database.WithCommitHooks(context.WithValue(ctx, memTxKey{}, true))
	err := fn(txCtx)
	if err != nil {
		m.restore(snapshot)
	}
	m.txMu.Unlock()

	if err != nil {
		return err
	}
	hooks.Run()
	return nil
}

func inMemTx(ctx context.Context) bool {
	v, _ := ctx.Value(memTxKey{}).(bool)
	return v
}

// write runs fn as its own transaction unless ctx already carries one
func (m *memoryDB) write(ctx context.Context, fn func() error) error {
	if !inMemTx(ctx) {
		m.txMu.Lock()
		defer m.txMu.Unlock()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn()
}

func (m *memoryDB) read(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn()
}

type memorySnapshot struct {
	holds    map[uuid.UUID]models.CapacityHold
	bookings map[uuid.UUID]models.Booking
	attempts map[uuid.UUID]models.PaymentAttempt
}

func (m *memoryDB) snapshot() memorySnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := memorySnapshot{
		holds:    make(map[uuid.UUID]models.CapacityHold, len(m.holds)),
		bookings: make(map[uuid.UUID]models.Booking, len(m.bookings)),
		attempts: make(map[uuid.UUID]models.PaymentAttempt, len(m.attempts)),
	}
	for k, v := range m.holds {
		s.holds[k] = v
	}
	for k, v := range m.bookings {
		s.bookings[k] = v
	}
	for k, v := range m.attempts {
		s.attempts[k] = v
	}
	return s
}

func (m *memoryDB) restore(s memorySnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.holds = s.holds
	m.bookings = s.bookings
	m.attempts = s.attempts
}

func (m *memoryDB) addResource(r models.InventoryResource) {
	m.read(func() { m.resources[r.ID] = r })
}

func (m *memoryDB) activeHeld(resourceID uuid.UUID) int {
	total := 0
	m.read(func() {
		for _, h := range m.holds {
			if h.ResourceID == resourceID && h.IsActive() {
				total += h.Quantity
			}
		}
	})
	return total
}

func (m *memoryDB) holdsByStatus(status models.HoldStatus) int {
	count := 0
	m.read(func() {
		for _, h := range m.holds {
			if h.Status == status {
				count++
			}
		}
	})
	return count
}

// ---- ledger ----

type memoryLedger struct{ *memoryDB }

func (m memoryLedger) GetResource(_ context.Context, id uuid.UUID) (*models.InventoryResource, error) {
	var (
		r  models.InventoryResource
		ok bool
	)
	m.read(func() { r, ok = m.resources[id] })
	if !ok {
		return nil, database.ErrNotFound
	}
	return &r, nil
}

func (m memoryLedger) LockResources(ctx context.Context, ids []uuid.UUID) ([]models.InventoryResource, error) {
	if !inMemTx(ctx) {
		return nil, errors.New("LockResources requires a transaction")
	}
	var out []models.InventoryResource
	m.read(func() {
		for _, id := range ids {
			if r, ok := m.resources[id]; ok {
				out = append(out, r)
			}
		}
	})
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0 })
	return out, nil
}

func (m memoryLedger) SumActiveHolds(_ context.Context, resourceID uuid.UUID, rng *models.DateRange) (int, error) {
	total := 0
	m.read(func() {
		for _, h := range m.holds {
			if h.ResourceID != resourceID || !h.IsActive() {
				continue
			}
			if rng == nil || h.Range().Overlaps(*rng) {
				total += h.Quantity
			}
		}
	})
	return total, nil
}

func (m memoryLedger) InsertHolds(ctx context.Context, holds []models.CapacityHold) error {
	return m.write(ctx, func() error {
		for _, h := range holds {
			m.holds[h.ID] = h
		}
		return nil
	})
}

func (m memoryLedger) GetHolds(_ context.Context, ids []uuid.UUID) ([]models.CapacityHold, error) {
	var out []models.CapacityHold
	m.read(func() {
		for _, id := range ids {
			if h, ok := m.holds[id]; ok {
				out = append(out, h)
			}
		}
	})
	return out, nil
}

func (m memoryLedger) UpdateHoldStatus(ctx context.Context, ids []uuid.UUID, from []models.HoldStatus, to models.HoldStatus, at time.Time) (int64, error) {
	var n int64
	err := m.write(ctx, func() error {
		for _, id := range ids {
			h, ok := m.holds[id]
			if !ok || !containsHoldStatus(from, h.Status) {
				continue
			}
			h.Status = to
			switch to {
			case models.HoldStatusCommitted:
				h.CommittedAt = &at
			case models.HoldStatusReleased:
				h.ReleasedAt = &at
			}
			m.holds[id] = h
			n++
		}
		return nil
	})
	return n, err
}

func (m memoryLedger) ReleaseExpiredHolds(ctx context.Context, now time.Time) (int64, error) {
	var n int64
	err := m.write(ctx, func() error {
		for id, h := range m.holds {
			if h.Status == models.HoldStatusTentative && !h.ExpiresAt.After(now) {
				h.Status = models.HoldStatusReleased
				h.ReleasedAt = &now
				m.holds[id] = h
				n++
			}
		}
		return nil
	})
	return n, err
}

func containsHoldStatus(statuses []models.HoldStatus, status models.HoldStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

// ---- bookings ----

type memoryBookings struct{ *memoryDB }

func (m memoryBookings) Create(ctx context.Context, booking *models.Booking) error {
	return m.write(ctx, func() error {
		if _, ok := m.bookings[booking.ID]; ok {
			return database.ErrConflict
		}
		m.bookings[booking.ID] = *booking
		return nil
	})
}

func (m memoryBookings) GetByID(_ context.Context, id uuid.UUID) (*models.Booking, error) {
	var (
		b  models.Booking
		ok bool
	)
	m.read(func() { b, ok = m.bookings[id] })
	if !ok {
		return nil, database.ErrNotFound
	}
	return &b, nil
}

// GetForUpdate needs no lock: memory transactions are serialised
func (m memoryBookings) GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error) {
	b, err := m.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	m.read(func() {
		if status, ok := m.staleLocks[id]; ok {
			b.Status = status
			delete(m.staleLocks, id)
		}
	})
	return b, nil
}

func (m memoryBookings) Transition(ctx context.Context, id uuid.UUID, t models.BookingTransition) (*models.Booking, error) {
	var updated models.Booking
	err := m.write(ctx, func() error {
		if err, broken := m.brokenBookings[id]; broken {
			return err
		}
		b, ok := m.bookings[id]
		if !ok || !containsStatus(t.From, b.Status) {
			return database.ErrNotFound
		}
		if t.IdentityTokenID != nil {
			for otherID, other := range m.bookings {
				if otherID != id && other.IdentityTokenID != nil && *other.IdentityTokenID == *t.IdentityTokenID {
					return database.ErrConflict
				}
			}
			b.IdentityTokenID = t.IdentityTokenID
		}
		b.Status = t.To
		b.UpdatedAt = t.At
		if t.LineItems != nil {
			b.LineItems = t.LineItems
		}
		if t.FailureReason != nil {
			b.FailureReason = t.FailureReason
		}
		if t.Deadline != nil {
			b.CheckoutDeadline = t.Deadline
		}
		switch t.To {
		case models.BookingStatusPendingPayment:
			b.SubmittedAt = &t.At
		case models.BookingStatusConfirmed:
			b.ConfirmedAt = &t.At
		}
		m.bookings[id] = b
		updated = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

func (m memoryBookings) ListStale(_ context.Context, q models.StaleQuery) ([]models.Booking, error) {
	var out []models.Booking
	m.read(func() {
		for _, b := range m.bookings {
			if q.After != nil && !bookingAfter(b, *q.After) {
				continue
			}
			switch b.Status {
			case models.BookingStatusPendingPayment, models.BookingStatusPaymentProcessing:
				if b.CheckoutDeadline != nil && b.CheckoutDeadline.Before(q.Now) {
					out = append(out, b)
				}
			case models.BookingStatusDraft:
				if b.CreatedAt.Before(q.DraftCutoff) {
					out = append(out, b)
				}
			}
		}
	})
	sort.Slice(out, func(i, j int) bool {
		return bookingAfter(out[j], models.BookingCursor{CreatedAt: out[i].CreatedAt, ID: out[i].ID})
	})
	if len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func bookingAfter(b models.Booking, c models.BookingCursor) bool {
	if !b.CreatedAt.Equal(c.CreatedAt) {
		return b.CreatedAt.After(c.CreatedAt)
	}
	return bytes.Compare(b.ID[:], c.ID[:]) > 0
}

func (m memoryBookings) get(id uuid.UUID) models.Booking {
	var b models.Booking
	m.read(func() { b = m.bookings[id] })
	return b
}

// ---- payment attempts ----

type memoryAttempts struct{ *memoryDB }

func (m memoryAttempts) Create(ctx context.Context, attempt *models.PaymentAttempt) error {
	return m.write(ctx, func() error {
		for _, a := range m.attempts {
			if a.BookingID == attempt.BookingID || a.IdempotencyKey == attempt.IdempotencyKey ||
				a.GatewayTransactionID == attempt.GatewayTransactionID {
				return database.ErrConflict
			}
		}
		m.attempts[attempt.ID] = *attempt
		return nil
	})
}

func (m memoryAttempts) find(match func(models.PaymentAttempt) bool) (*models.PaymentAttempt, error) {
	var (
		found models.PaymentAttempt
		ok    bool
	)
	m.read(func() {
		for _, a := range m.attempts {
			if match(a) {
				found, ok = a, true
				return
			}
		}
	})
	if !ok {
		return nil, database.ErrNotFound
	}
	return &found, nil
}

func (m memoryAttempts) GetByIdempotencyKey(_ context.Context, key string) (*models.PaymentAttempt, error) {
	return m.find(func(a models.PaymentAttempt) bool { return a.IdempotencyKey == key })
}

func (m memoryAttempts) GetByTransactionID(_ context.Context, transactionID string) (*models.PaymentAttempt, error) {
	return m.find(func(a models.PaymentAttempt) bool { return a.GatewayTransactionID == transactionID })
}

func (m memoryAttempts) GetByBookingID(_ context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error) {
	return m.find(func(a models.PaymentAttempt) bool { return a.BookingID == bookingID })
}

func (m memoryAttempts) Complete(ctx context.Context, id uuid.UUID, status models.PaymentAttemptStatus, reason *string, at time.Time) (*models.PaymentAttempt, error) {
	var updated models.PaymentAttempt
	err := m.write(ctx, func() error {
		a, ok := m.attempts[id]
		if !ok || a.Status != models.PaymentAttemptCreated {
			return database.ErrNotFound
		}
		a.Status = status
		a.FailureReason = reason
		a.CompletedAt = &at
		m.attempts[id] = a
		updated = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}
