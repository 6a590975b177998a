package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/models"
	"github.com/travelcore/booking-core/pkg/gateway"
	"golang.org/x/sync/singleflight"
)

// PaymentAttemptStore is the persistence the payment orchestrator needs
type PaymentAttemptStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, attempt *models.PaymentAttempt) error
	GetByIdempotencyKey(ctx context.Context, key string) (*models.PaymentAttempt, error)
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PaymentAttempt, error)
	GetByBookingID(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error)
	Complete(ctx context.Context, id uuid.UUID, status models.PaymentAttemptStatus, reason *string, at time.Time) (*models.PaymentAttempt, error)
}

// PaymentGateway opens hosted checkouts and authenticates their notifications
type PaymentGateway interface {
	CreateTransaction(ctx context.Context, req gateway.TransactionRequest) (*gateway.Transaction, error)
	VerifyNotification(n gateway.Notification) error
}

// PaymentSettler applies a payment outcome to its booking
type PaymentSettler interface {
	ConfirmPayment(ctx context.Context, bookingID uuid.UUID, attempt *models.PaymentAttempt) (*models.Booking, error)
	FailPayment(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error)
}

// PaymentOrchestrator opens gateway transactions and reconciles their outcomes
type PaymentOrchestrator struct {
	attempts PaymentAttemptStore
	gateway  PaymentGateway
	settler  PaymentSettler
	audit    *AuditService
	timeout  time.Duration
	logger   *logrus.Logger
	clock    clock.Clock

	reconcileGroup singleflight.Group
}

// NewPaymentOrchestrator creates a new payment orchestrator. The settler is
// attached with SetSettler once the booking service exists.
func NewPaymentOrchestrator(attempts PaymentAttemptStore, gw PaymentGateway, audit *AuditService, timeout time.Duration, logger *logrus.Logger, clk clock.Clock) *PaymentOrchestrator {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &PaymentOrchestrator{
		attempts: attempts,
		gateway:  gw,
		audit:    audit,
		timeout:  timeout,
		logger:   logger,
		clock:    clk,
	}
}

// SetSettler attaches the service that applies outcomes to bookings
func (o *PaymentOrchestrator) SetSettler(settler PaymentSettler) {
	o.settler = settler
}

// IdempotencyKey derives the gateway idempotency key for a booking
func IdempotencyKey(bookingID uuid.UUID) string {
	return "booking:" + bookingID.String()
}

// CreateAttempt opens a gateway transaction for the booking, or returns the one
// already opened for it
func (o *PaymentOrchestrator) CreateAttempt(ctx context.Context, booking *models.Booking) (*models.PaymentAttempt, error) {
	key := IdempotencyKey(booking.ID)

	existing, err := o.attempts.GetByIdempotencyKey(ctx, key)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up payment attempt: %w", err)
	}

	gwCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	txn, err := o.gateway.CreateTransaction(gwCtx, gateway.TransactionRequest{
		IdempotencyKey: key,
		InvoiceID:      booking.ID.String(),
		Amount:         booking.TotalAmount,
		Currency:       booking.Currency,
		CustomerName:   booking.GuestName,
		CustomerEmail:  derefString(booking.GuestEmail),
		CustomerPhone:  derefString(booking.GuestPhone),
		Description:    fmt.Sprintf("Booking %s", booking.ID),
	})
	if err != nil {
		if errors.Is(err, gateway.ErrUnavailable) || errors.Is(err, context.DeadlineExceeded) {
			return nil, &GatewayUnavailableError{Err: err}
		}
		return nil, fmt.Errorf("payment gateway rejected transaction: %w", err)
	}

	attempt := &models.PaymentAttempt{
		ID:                   uuid.New(),
		BookingID:            booking.ID,
		IdempotencyKey:       key,
		GatewayTransactionID: txn.TransactionID,
		CheckoutURL:          txn.CheckoutURL,
		Amount:               booking.TotalAmount,
		Currency:             booking.Currency,
		Status:               models.PaymentAttemptCreated,
		CreatedAt:            o.clock.Now(),
	}

	if err := o.attempts.Create(ctx, attempt); err != nil {
		if errors.Is(err, database.ErrConflict) {
			// Lost the insert race; the gateway deduplicated on the same key
			return o.attempts.GetByIdempotencyKey(ctx, key)
		}
		return nil, err
	}

	o.logger.WithFields(logrus.Fields{
		"booking_id":     booking.ID,
		"transaction_id": attempt.GatewayTransactionID,
		"amount":         attempt.Amount,
	}).Info("Payment attempt created")

	return attempt, nil
}

// Reconcile applies a gateway notification. Replays of an already applied
// outcome return the attempt unchanged.
func (o *PaymentOrchestrator) Reconcile(ctx context.Context, n models.GatewayNotification) (*models.PaymentAttempt, error) {
	// Only identical deliveries share a result
	key := n.TransactionID + "|" + string(n.Outcome) + "|" + n.Signature
	v, err, _ := o.reconcileGroup.Do(key, func() (interface{}, error) {
		return o.reconcile(ctx, n)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PaymentAttempt), nil
}

func (o *PaymentOrchestrator) reconcile(ctx context.Context, n models.GatewayNotification) (*models.PaymentAttempt, error) {
	err := o.gateway.VerifyNotification(gateway.Notification{
		TransactionID: n.TransactionID,
		InvoiceID:     n.InvoiceID,
		Outcome:       string(n.Outcome),
		Amount:        n.Amount,
		Signature:     n.Signature,
	})
	if err != nil {
		o.audit.Record(ctx, models.NewAuditEvent(models.AuditNotificationRejected, "payment_attempt").
			With("transaction_id", n.TransactionID).
			With("source", n.Source).
			With("reason", err.Error()))
		o.logger.WithFields(logrus.Fields{
			"transaction_id": n.TransactionID,
			"source":         n.Source,
		}).Warn("Rejected payment notification with invalid signature")
		return nil, ErrInvalidSignature
	}

	// Only a final outcome may settle the attempt
	if !n.Outcome.IsFinal() {
		o.audit.Record(ctx, models.NewAuditEvent(models.AuditNotificationRejected, "payment_attempt").
			With("transaction_id", n.TransactionID).
			With("source", n.Source).
			With("outcome", n.Outcome).
			With("reason", "unknown_outcome"))
		o.logger.WithFields(logrus.Fields{
			"transaction_id": n.TransactionID,
			"outcome":        n.Outcome,
		}).Warn("Ignored payment notification with non-final outcome")
		return nil, fmt.Errorf("%w: %q", ErrUnknownOutcome, n.Outcome)
	}

	attempt, err := o.attempts.GetByTransactionID(ctx, n.TransactionID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPaymentAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}

	if attempt.Status.IsTerminal() {
		o.audit.Record(ctx, models.NewAuditEvent(models.AuditNotificationDuplicate, "payment_attempt").
			SetEntity(attempt.ID).
			With("transaction_id", n.TransactionID).
			With("source", n.Source).
			With("status", attempt.Status))
		return attempt, nil
	}

	amount, err := strconv.ParseFloat(n.Amount, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: unparseable amount %q", ErrAmountMismatch, n.Amount)
	}
	amountEvent := models.NewAuditEvent(models.AuditAmountMismatch, "payment_attempt").
		SetEntity(attempt.ID).
		With("transaction_id", n.TransactionID).
		With("source", n.Source)
	if !amountEvent.SetAmounts(attempt.Amount, amount, attempt.Currency) {
		o.audit.Record(ctx, amountEvent)
		o.logger.WithFields(logrus.Fields{
			"transaction_id": n.TransactionID,
			"expected":       attempt.Amount,
			"received":       amount,
		}).Error("Payment amount mismatch")
		return nil, ErrAmountMismatch
	}

	status := models.PaymentAttemptFailed
	var reason *string
	if n.Succeeded() {
		status = models.PaymentAttemptSucceeded
	} else {
		r := n.Reason
		if r == "" {
			r = "payment_failed"
		}
		reason = &r
	}

	var completed *models.PaymentAttempt
	lateSuccess := false
	err = o.attempts.WithTx(ctx, func(txCtx context.Context) error {
		var err error
		completed, err = o.attempts.Complete(txCtx, attempt.ID, status, reason, o.clock.Now())
		if err != nil {
			return err
		}

		if status == models.PaymentAttemptSucceeded {
			_, err = o.settler.ConfirmPayment(txCtx, completed.BookingID, completed)
		} else {
			_, err = o.settler.FailPayment(txCtx, completed.BookingID, *reason)
		}

		// The booking closed before the outcome arrived: keep the outcome on the attempt
		var invalid *InvalidTransitionError
		if errors.As(err, &invalid) && (invalid.From == models.BookingStatusCancelled || invalid.From == models.BookingStatusFailed) {
			lateSuccess = status == models.PaymentAttemptSucceeded
			return nil
		}
		return err
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			// A concurrent reconcile completed the attempt first
			return o.attempts.GetByTransactionID(ctx, n.TransactionID)
		}
		return nil, err
	}

	o.audit.Record(ctx, models.NewAuditEvent(models.AuditNotificationReceived, "payment_attempt").
		SetEntity(completed.ID).
		With("transaction_id", n.TransactionID).
		With("source", n.Source).
		With("outcome", n.Outcome).
		With("booking_id", completed.BookingID))

	if lateSuccess {
		o.audit.Record(ctx, models.NewAuditEvent(models.AuditLatePaymentSuccess, "payment_attempt").
			SetEntity(completed.ID).
			With("transaction_id", n.TransactionID).
			With("booking_id", completed.BookingID).
			With("amount", completed.Amount))
		o.logger.WithFields(logrus.Fields{
			"transaction_id": n.TransactionID,
			"booking_id":     completed.BookingID,
		}).Warn("Payment succeeded after the booking was closed; manual refund required")
	}

	return completed, nil
}

// Get returns the payment attempt of a booking
func (o *PaymentOrchestrator) Get(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error) {
	attempt, err := o.attempts.GetByBookingID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrPaymentAttemptNotFound
		}
		return nil, fmt.Errorf("failed to get payment attempt: %w", err)
	}
	return attempt, nil
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
