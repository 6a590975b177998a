package models

import (
	"time"

	"github.com/google/uuid"
)

// Booking life-cycle topics
const (
	TopicBookingConfirmed = "booking.confirmed"
	TopicBookingFailed    = "booking.failed"
	TopicBookingCancelled = "booking.cancelled"
)

// BookingEvent announces a terminal booking transition to downstream consumers
type BookingEvent struct {
	EventID           uuid.UUID     `json:"event_id"`
	Topic             string        `json:"topic"`
	BookingID         uuid.UUID     `json:"booking_id"`
	Status            BookingStatus `json:"status"`
	ContactIdentifier string        `json:"contact_identifier"`
	GuestName         string        `json:"guest_name"`
	TotalAmount       float64       `json:"total_amount"`
	Currency          string        `json:"currency"`
	LineItems         LineItems     `json:"line_items"`
	FailureReason     *string       `json:"failure_reason,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

// NewBookingEvent snapshots a booking for the given topic
func NewBookingEvent(topic string, b *Booking, at time.Time) BookingEvent {
	return BookingEvent{
		EventID:           uuid.New(),
		Topic:             topic,
		BookingID:         b.ID,
		Status:            b.Status,
		ContactIdentifier: b.ContactIdentifier,
		GuestName:         b.GuestName,
		TotalAmount:       b.TotalAmount,
		Currency:          b.Currency,
		LineItems:         b.LineItems,
		FailureReason:     b.FailureReason,
		OccurredAt:        at,
	}
}
