package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/travelcore/booking-core/internal/models"
)

var (
	// ErrInvalidIdentifier indicates the phone number or email cannot be normalised
	ErrInvalidIdentifier = errors.New("invalid contact identifier")

	// ErrNoActiveSession indicates there is no unexpired code for the identifier
	ErrNoActiveSession = errors.New("no active verification session")

	// ErrTooManyAttempts indicates the session was discarded after too many wrong codes
	ErrTooManyAttempts = errors.New("too many verification attempts")

	// ErrUnverifiedGuest indicates the identity token is missing, invalid, expired,
	// issued for another identifier or already used
	ErrUnverifiedGuest = errors.New("guest identity not verified")

	// ErrInvalidBooking indicates a malformed booking request
	ErrInvalidBooking = errors.New("invalid booking")

	// ErrBookingNotFound indicates the booking does not exist
	ErrBookingNotFound = errors.New("booking not found")

	// ErrCheckoutExpired indicates the checkout window closed before payment started
	ErrCheckoutExpired = errors.New("checkout window expired")

	// ErrResourceNotFound indicates the inventory resource does not exist
	ErrResourceNotFound = errors.New("inventory resource not found")

	// ErrHoldReleased indicates a commit targeted a hold that was already released
	ErrHoldReleased = errors.New("capacity hold already released")

	// ErrInvalidSignature indicates a gateway notification failed signature verification
	ErrInvalidSignature = errors.New("invalid payment notification signature")

	// ErrUnknownOutcome indicates a notification whose outcome is neither SUCCESS nor FAILED
	ErrUnknownOutcome = errors.New("unknown payment outcome")

	// ErrAmountMismatch indicates the notified amount differs from the attempt amount
	ErrAmountMismatch = errors.New("payment amount mismatch")

	// ErrPaymentAttemptNotFound indicates no attempt matches the transaction or booking
	ErrPaymentAttemptNotFound = errors.New("payment attempt not found")
)

// ThrottledError is returned when verification requests exceed a rate limit
type ThrottledError struct {
	RetryAfter time.Duration
	Scope      string // "identifier" or "ip"
}

func (e *ThrottledError) Error() string {
	return fmt.Sprintf("too many verification requests for this %s, retry in %s", e.Scope, e.RetryAfter.Round(time.Second))
}

// CodeMismatchError is returned for a wrong code while attempts remain
type CodeMismatchError struct {
	RemainingAttempts int
}

func (e *CodeMismatchError) Error() string {
	return fmt.Sprintf("verification code does not match, %d attempts remaining", e.RemainingAttempts)
}

// CapacityExceededError is returned when a reservation does not fit
type CapacityExceededError struct {
	ResourceID uuid.UUID
	Requested  int
	Available  int
}

func (e *CapacityExceededError) Error() string {
	return fmt.Sprintf("capacity exceeded for resource %s: requested %d, available %d", e.ResourceID, e.Requested, e.Available)
}

// InvalidLineItemError is returned when a line item fails validation
type InvalidLineItemError struct {
	Index  int
	Reason string
}

func (e *InvalidLineItemError) Error() string {
	return fmt.Sprintf("line item %d: %s", e.Index, e.Reason)
}

// GatewayUnavailableError wraps a retryable payment gateway failure
type GatewayUnavailableError struct {
	Err error
}

func (e *GatewayUnavailableError) Error() string {
	return fmt.Sprintf("payment gateway unavailable: %v", e.Err)
}

func (e *GatewayUnavailableError) Unwrap() error {
	return e.Err
}

// InvalidTransitionError is returned for a booking status change the state machine forbids
type InvalidTransitionError struct {
	From models.BookingStatus
	To   models.BookingStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid booking transition from %s to %s", e.From, e.To)
}
