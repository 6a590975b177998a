package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
)

// AuditAction is the kind of event recorded in the audit trail
type AuditAction string

const (
	AuditCodeRequested         AuditAction = "verification_code_requested"
	AuditCodeThrottled         AuditAction = "verification_throttled"
	AuditCodeVerified          AuditAction = "verification_succeeded"
	AuditCodeRejected          AuditAction = "verification_failed"
	AuditBookingCreated        AuditAction = "booking_created"
	AuditBookingSubmitted      AuditAction = "booking_submitted"
	AuditBookingConfirmed      AuditAction = "booking_confirmed"
	AuditBookingFailed         AuditAction = "booking_failed"
	AuditBookingCancelled      AuditAction = "booking_cancelled"
	AuditPaymentInitiated      AuditAction = "payment_initiated"
	AuditNotificationReceived  AuditAction = "payment_notification_received"
	AuditNotificationDuplicate AuditAction = "payment_notification_duplicate"
	AuditNotificationRejected  AuditAction = "payment_notification_rejected"
	AuditAmountMismatch        AuditAction = "payment_amount_mismatch"
	AuditLatePaymentSuccess    AuditAction = "payment_succeeded_after_cancel"
)

// JSONB is a generic JSON object column
type JSONB map[string]interface{}

func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return errors.New("type assertion to []byte failed for JSONB")
	}
	return json.Unmarshal(bytes, j)
}

// AuditEvent is an immutable audit trail entry (audit_events table)
type AuditEvent struct {
	ID         uuid.UUID   `json:"id" db:"id"`
	Action     AuditAction `json:"action" db:"action"`
	EntityType string      `json:"entity_type" db:"entity_type"`
	EntityID   *uuid.UUID  `json:"entity_id,omitempty" db:"entity_id"`
	IPAddress  *string     `json:"ip_address,omitempty" db:"ip_address"`
	UserAgent  *string     `json:"user_agent,omitempty" db:"user_agent"`
	Details    JSONB       `json:"details,omitempty" db:"details"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
}

// NewAuditEvent creates an audit entry for the given action and entity type
func NewAuditEvent(action AuditAction, entityType string) *AuditEvent {
	return &AuditEvent{
		ID:         uuid.New(),
		Action:     action,
		EntityType: entityType,
		Details:    JSONB{},
		CreatedAt:  time.Now(),
	}
}

// SetEntity sets the affected entity
func (e *AuditEvent) SetEntity(id uuid.UUID) *AuditEvent {
	e.EntityID = &id
	return e
}

// SetClient records the caller's network details
func (e *AuditEvent) SetClient(ip, userAgent string) *AuditEvent {
	if ip != "" {
		e.IPAddress = &ip
	}
	if userAgent != "" {
		e.UserAgent = &userAgent
	}
	return e
}

// With adds a detail field
func (e *AuditEvent) With(key string, value interface{}) *AuditEvent {
	e.Details[key] = value
	return e
}

// SetAmounts records expected vs received amounts and reports whether they match
func (e *AuditEvent) SetAmounts(expected, received float64, currency string) bool {
	diff := expected - received
	match := diff >= -0.01 && diff <= 0.01
	e.Details["expected_amount"] = expected
	e.Details["received_amount"] = received
	e.Details["currency"] = currency
	e.Details["amounts_match"] = match
	return match
}
