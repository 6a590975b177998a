package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookingStatus represents the life-cycle state of a booking
type BookingStatus string

const (
	BookingStatusDraft             BookingStatus = "draft"              // Created, capacity not reserved
	BookingStatusPendingPayment    BookingStatus = "pending_payment"    // Guest verified, holds tentative
	BookingStatusPaymentProcessing BookingStatus = "payment_processing" // Gateway transaction open
	BookingStatusConfirmed         BookingStatus = "confirmed"          // Paid, holds committed
	BookingStatusFailed            BookingStatus = "failed"             // Payment failed, holds released
	BookingStatusCancelled         BookingStatus = "cancelled"          // Abandoned or expired, holds released
)

// IsTerminal reports whether no further transition is possible
func (s BookingStatus) IsTerminal() bool {
	switch s {
	case BookingStatusConfirmed, BookingStatusFailed, BookingStatusCancelled:
		return true
	}
	return false
}

// ContactChannel is the channel the guest verifies through
type ContactChannel string

const (
	ContactChannelSMS   ContactChannel = "sms"
	ContactChannelEmail ContactChannel = "email"
)

// GuestInfo holds the guest's contact details
type GuestInfo struct {
	Name      string         `json:"name" binding:"required"`
	Email     string         `json:"email"`
	Phone     string         `json:"phone"`
	VerifyVia ContactChannel `json:"verify_via"`
}

// ContactIdentifier returns the identifier the guest must prove control of
func (g GuestInfo) ContactIdentifier() string {
	if g.VerifyVia == ContactChannelSMS {
		return g.Phone
	}
	return g.Email
}

// LineItem is one resource/quantity/range entry of a booking
type LineItem struct {
	ResourceID uuid.UUID  `json:"resource_id"`
	Quantity   int        `json:"quantity"`
	StartDate  Date       `json:"start_date"`
	EndDate    Date       `json:"end_date"`
	HoldID     *uuid.UUID `json:"hold_id,omitempty"`
}

// Range returns the dates requested by the line item
func (li LineItem) Range() DateRange {
	return DateRange{Start: li.StartDate, End: li.EndDate}
}

// LineItems is stored as JSONB
type LineItems []LineItem

func (l LineItems) Value() (driver.Value, error) {
	return json.Marshal(l)
}

func (l *LineItems) Scan(value interface{}) error {
	if value == nil {
		*l = LineItems{}
		return nil
	}
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("type assertion to []byte failed for LineItems")
	}
	return json.Unmarshal(bytes, l)
}

// HoldIDs returns the hold references of all reserved line items
func (l LineItems) HoldIDs() []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(l))
	for _, item := range l {
		if item.HoldID != nil {
			ids = append(ids, *item.HoldID)
		}
	}
	return ids
}

// Booking is one guest's purchase intent (bookings table)
type Booking struct {
	ID                uuid.UUID     `json:"id" db:"id"`
	GuestName         string        `json:"guest_name" db:"guest_name"`
	GuestEmail        *string       `json:"guest_email,omitempty" db:"guest_email"`
	GuestPhone        *string       `json:"guest_phone,omitempty" db:"guest_phone"`
	ContactIdentifier string        `json:"contact_identifier" db:"contact_identifier"`
	ContactChannel    string        `json:"contact_channel" db:"contact_channel"`
	LineItems         LineItems     `json:"line_items" db:"line_items"`
	TotalAmount       float64       `json:"total_amount" db:"total_amount"`
	Currency          string        `json:"currency" db:"currency"`
	Status            BookingStatus `json:"status" db:"status"`
	FailureReason     *string       `json:"failure_reason,omitempty" db:"failure_reason"`
	IdentityTokenID   *string       `json:"-" db:"identity_token_id"`
	CheckoutDeadline  *time.Time    `json:"checkout_deadline,omitempty" db:"checkout_deadline"`
	SubmittedAt       *time.Time    `json:"submitted_at,omitempty" db:"submitted_at"`
	ConfirmedAt       *time.Time    `json:"confirmed_at,omitempty" db:"confirmed_at"`
	CreatedAt         time.Time     `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at" db:"updated_at"`
}

// HoldIDs returns the capacity holds this booking owns
func (b *Booking) HoldIDs() []uuid.UUID {
	return b.LineItems.HoldIDs()
}

// IsPastDeadline reports whether the checkout window has elapsed at now
func (b *Booking) IsPastDeadline(now time.Time, draftTTL time.Duration) bool {
	if b.Status == BookingStatusDraft {
		return now.After(b.CreatedAt.Add(draftTTL))
	}
	return b.CheckoutDeadline != nil && now.After(*b.CheckoutDeadline)
}

// BookingTransition describes a conditional status change
type BookingTransition struct {
	From            []BookingStatus
	To              BookingStatus
	LineItems       LineItems // replaces line items when non-nil
	FailureReason   *string
	IdentityTokenID *string
	Deadline        *time.Time
	At              time.Time
}

// BookingCursor marks a position in created_at, id order
type BookingCursor struct {
	CreatedAt time.Time
	ID        uuid.UUID
}

// StaleQuery selects bookings whose checkout window has elapsed
type StaleQuery struct {
	Now         time.Time
	DraftCutoff time.Time      // drafts created before this are stale
	After       *BookingCursor // resume after this booking
	Limit       int
}

// ============================================================================
// REQUEST/RESPONSE DTOs
// ============================================================================

// CreateBookingRequest is the request body for creating a draft booking
type CreateBookingRequest struct {
	Guest       GuestInfo  `json:"guest" binding:"required"`
	LineItems   []LineItem `json:"line_items" binding:"required,min=1"`
	TotalAmount float64    `json:"total_amount"`
}

// Normalize trims guest fields and infers the verification channel
func (r *CreateBookingRequest) Normalize() {
	r.Guest.Name = strings.TrimSpace(r.Guest.Name)
	r.Guest.Email = strings.ToLower(strings.TrimSpace(r.Guest.Email))
	r.Guest.Phone = strings.TrimSpace(r.Guest.Phone)
	if r.Guest.VerifyVia == "" {
		if r.Guest.Email != "" {
			r.Guest.VerifyVia = ContactChannelEmail
		} else {
			r.Guest.VerifyVia = ContactChannelSMS
		}
	}
}

// BookingResponse is returned for every booking read
type BookingResponse struct {
	Booking *Booking        `json:"booking"`
	Payment *PaymentAttempt `json:"payment,omitempty"`
}
