package models

import (
	"time"

	"github.com/google/uuid"
)

// PaymentAttemptStatus represents the status of a gateway transaction
type PaymentAttemptStatus string

const (
	PaymentAttemptCreated   PaymentAttemptStatus = "created"
	PaymentAttemptSucceeded PaymentAttemptStatus = "succeeded"
	PaymentAttemptFailed    PaymentAttemptStatus = "failed"
)

// IsTerminal reports whether the attempt has a final outcome
func (s PaymentAttemptStatus) IsTerminal() bool {
	return s == PaymentAttemptSucceeded || s == PaymentAttemptFailed
}

// PaymentAttempt is one gateway transaction tied to a booking (payment_attempts table)
type PaymentAttempt struct {
	ID                   uuid.UUID            `json:"id" db:"id"`
	BookingID            uuid.UUID            `json:"booking_id" db:"booking_id"`
	IdempotencyKey       string               `json:"idempotency_key" db:"idempotency_key"`
	GatewayTransactionID string               `json:"transaction_id" db:"gateway_transaction_id"`
	CheckoutURL          string               `json:"checkout_url" db:"checkout_url"`
	Amount               float64              `json:"amount" db:"amount"`
	Currency             string               `json:"currency" db:"currency"`
	Status               PaymentAttemptStatus `json:"status" db:"status"`
	FailureReason        *string              `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt            time.Time            `json:"created_at" db:"created_at"`
	CompletedAt          *time.Time           `json:"completed_at,omitempty" db:"completed_at"`
}

// PaymentOutcome is the gateway's reported result of a transaction
type PaymentOutcome string

const (
	PaymentOutcomeSuccess PaymentOutcome = "SUCCESS"
	PaymentOutcomeFailed  PaymentOutcome = "FAILED"
)

// IsFinal reports whether the outcome settles the transaction
func (o PaymentOutcome) IsFinal() bool {
	return o == PaymentOutcomeSuccess || o == PaymentOutcomeFailed
}

// NotificationSource identifies who delivered a gateway notification
type NotificationSource string

const (
	NotificationSourceWebhook  NotificationSource = "webhook"
	NotificationSourceCallback NotificationSource = "client_callback"
)

// GatewayNotification is a completion signal for a gateway transaction
type GatewayNotification struct {
	TransactionID string             `json:"transaction_id" form:"transaction_id" binding:"required"`
	InvoiceID     string             `json:"invoice_id" form:"invoice_id"`
	Outcome       PaymentOutcome     `json:"outcome" form:"outcome" binding:"required,oneof=SUCCESS FAILED"`
	Amount        string             `json:"amount" form:"amount" binding:"required"`
	Reason        string             `json:"reason,omitempty" form:"reason"`
	Signature     string             `json:"signature" form:"signature" binding:"required"`
	Source        NotificationSource `json:"-" form:"-"`
}

// Succeeded reports whether the notification carries a successful outcome
func (n GatewayNotification) Succeeded() bool {
	return n.Outcome == PaymentOutcomeSuccess
}
