package models

import (
	"time"

	"github.com/google/uuid"
)

// HoldStatus represents the status of a capacity hold
type HoldStatus string

const (
	HoldStatusTentative HoldStatus = "tentative" // Reserved, waiting for payment
	HoldStatusCommitted HoldStatus = "committed" // Paid, permanent
	HoldStatusReleased  HoldStatus = "released"  // Returned to the pool
)

// CapacityHold is a claim against an inventory resource (capacity_holds table)
type CapacityHold struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	ResourceID  uuid.UUID  `json:"resource_id" db:"resource_id"`
	BookingID   uuid.UUID  `json:"booking_id" db:"booking_id"`
	StartDate   Date       `json:"start_date" db:"start_date"`
	EndDate     Date       `json:"end_date" db:"end_date"`
	Quantity    int        `json:"quantity" db:"quantity"`
	Status      HoldStatus `json:"status" db:"status"`
	ExpiresAt   time.Time  `json:"expires_at" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	CommittedAt *time.Time `json:"committed_at,omitempty" db:"committed_at"`
	ReleasedAt  *time.Time `json:"released_at,omitempty" db:"released_at"`
}

// Range returns the dates the hold covers
func (h *CapacityHold) Range() DateRange {
	return DateRange{Start: h.StartDate, End: h.EndDate}
}

// IsActive reports whether the hold still counts against capacity
func (h *CapacityHold) IsActive() bool {
	return h.Status != HoldStatusReleased
}

// HoldRequest asks the ledger for a tentative claim
type HoldRequest struct {
	ResourceID uuid.UUID
	BookingID  uuid.UUID
	Range      DateRange
	Quantity   int
}
