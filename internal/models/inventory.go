package models

import (
	"time"

	"github.com/google/uuid"
)

// ResourceKind distinguishes the two orderable inventory shapes
type ResourceKind string

const (
	ResourceKindRoomType      ResourceKind = "room_type"
	ResourceKindTourDeparture ResourceKind = "tour_departure"
)

// Granularity is the unit a resource's capacity is counted in
type Granularity string

const (
	GranularityPerNight Granularity = "per_night" // rooms: capacity applies to every night of the stay
	GranularityPerSlot  Granularity = "per_slot"  // tours: capacity applies to the fixed departure
)

// InventoryResource is an orderable unit of finite capacity (inventory_resources table).
// Read-only to the booking core.
type InventoryResource struct {
	ID            uuid.UUID    `json:"id" db:"id"`
	Name          string       `json:"name" db:"name"`
	Kind          ResourceKind `json:"kind" db:"kind"`
	TotalCapacity int          `json:"total_capacity" db:"total_capacity"`
	Granularity   Granularity  `json:"granularity" db:"granularity"`
	ValidFrom     Date         `json:"valid_from" db:"valid_from"`
	ValidTo       Date         `json:"valid_to" db:"valid_to"`
	CreatedAt     time.Time    `json:"created_at" db:"created_at"`
}

// Window returns the resource's validity window
func (r *InventoryResource) Window() DateRange {
	return DateRange{Start: r.ValidFrom, End: r.ValidTo}
}

// IsSlot reports whether holds on this resource always cover its fixed window
func (r *InventoryResource) IsSlot() bool {
	return r.Granularity == GranularityPerSlot
}

// Availability is a display snapshot of a resource's free capacity for a range
type Availability struct {
	ResourceID    uuid.UUID `json:"resource_id"`
	Range         DateRange `json:"range"`
	TotalCapacity int       `json:"total_capacity"`
	Held          int       `json:"held"`
	Available     int       `json:"available"`
}
