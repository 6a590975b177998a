package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/travelcore/booking-core/internal/models"
)

func processingBooking(t *testing.T, f *bookingFixture) (*models.Booking, *models.PaymentAttempt, models.InventoryResource, models.DateRange) {
	t.Helper()
	room := roomResource(t, 2)
	f.db.addResource(room)
	stay := dateRange(t, "2026-03-10", "2026-03-12")

	booking := f.submitted(t, room, stay, 1)
	attempt, err := f.bookings.BeginPayment(context.Background(), booking.ID)
	require.NoError(t, err)
	return booking, attempt, room, stay
}

func TestCreateAttemptIsIdempotent(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, _, _ := processingBooking(t, f)

	again, err := f.payments.CreateAttempt(context.Background(), &models.Booking{
		ID:          booking.ID,
		TotalAmount: booking.TotalAmount,
		Currency:    booking.Currency,
	})
	require.NoError(t, err)
	assert.Equal(t, attempt.ID, again.ID)
	assert.Equal(t, 1, f.gateway.callCount())

	got, err := f.payments.Get(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, attempt.GatewayTransactionID, got.GatewayTransactionID)

	_, err = f.payments.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrPaymentAttemptNotFound)
}

func TestReconcileSuccessIsIdempotent(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, _, _ := processingBooking(t, f)
	ctx := context.Background()

	notification := f.notification(attempt, models.PaymentOutcomeSuccess, attempt.Amount)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, err := f.payments.Reconcile(ctx, notification)
			if assert.NoError(t, err) {
				assert.Equal(t, models.PaymentAttemptSucceeded, result.Status)
			}
		}()
	}
	wg.Wait()

	callback := notification
	callback.Source = models.NotificationSourceCallback
	replayed, err := f.payments.Reconcile(ctx, callback)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptSucceeded, replayed.Status)

	assert.Equal(t, models.BookingStatusConfirmed, memoryBookings{f.db}.get(booking.ID).Status)
	assert.Equal(t, 1, f.db.holdsByStatus(models.HoldStatusCommitted))
	assert.Equal(t, []string{models.TopicBookingConfirmed}, f.events.topics(), "one confirmed transition")
	assert.NotNil(t, f.audit.last(models.AuditNotificationDuplicate))
}

func TestReconcileFailure(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, room, stay := processingBooking(t, f)
	ctx := context.Background()

	n := f.notification(attempt, models.PaymentOutcomeFailed, attempt.Amount)
	n.Reason = "insufficient_funds"
	n.Signature = f.gateway.SignNotification(gatewayNotification(n))

	result, err := f.payments.Reconcile(ctx, n)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptFailed, result.Status)
	require.NotNil(t, result.FailureReason)
	assert.Equal(t, "insufficient_funds", *result.FailureReason)

	failed := memoryBookings{f.db}.get(booking.ID)
	assert.Equal(t, models.BookingStatusFailed, failed.Status)
	assert.Equal(t, 2, f.available(t, room, stay))
	assert.Equal(t, []string{models.TopicBookingFailed}, f.events.topics())
}

func TestReconcileRejectsForgedNotification(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, _, _ := processingBooking(t, f)

	n := f.notification(attempt, models.PaymentOutcomeSuccess, attempt.Amount)
	n.Signature = "FORGED"

	_, err := f.payments.Reconcile(context.Background(), n)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, models.BookingStatusPaymentProcessing, memoryBookings{f.db}.get(booking.ID).Status)
	assert.NotNil(t, f.audit.last(models.AuditNotificationRejected))

	tampered := f.notification(attempt, models.PaymentOutcomeSuccess, attempt.Amount)
	tampered.Outcome = models.PaymentOutcomeFailed
	_, err = f.payments.Reconcile(context.Background(), tampered)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestReconcileAmountMismatch(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, _, _ := processingBooking(t, f)

	_, err := f.payments.Reconcile(context.Background(), f.notification(attempt, models.PaymentOutcomeSuccess, 1.00))
	assert.ErrorIs(t, err, ErrAmountMismatch)

	assert.Equal(t, models.BookingStatusPaymentProcessing, memoryBookings{f.db}.get(booking.ID).Status)
	stored, err := f.payments.Get(context.Background(), booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptCreated, stored.Status)

	event := f.audit.last(models.AuditAmountMismatch)
	require.NotNil(t, event)
	assert.Equal(t, false, event.Details["amounts_match"])
}

func TestReconcileUnknownTransaction(t *testing.T) {
	f := setupBookingTest(t)

	ghost := &models.PaymentAttempt{GatewayTransactionID: "txn-unknown", BookingID: uuid.New()}
	_, err := f.payments.Reconcile(context.Background(), f.notification(ghost, models.PaymentOutcomeSuccess, 10))
	assert.ErrorIs(t, err, ErrPaymentAttemptNotFound)
}

func TestReconcileSuccessAfterExpiry(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, room, stay := processingBooking(t, f)
	ctx := context.Background()

	f.clock.Advance(16 * time.Minute)
	_, err := f.bookings.Expire(ctx, booking.ID)
	require.NoError(t, err)

	result, err := f.payments.Reconcile(ctx, f.notification(attempt, models.PaymentOutcomeSuccess, attempt.Amount))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptSucceeded, result.Status)

	assert.Equal(t, models.BookingStatusCancelled, memoryBookings{f.db}.get(booking.ID).Status)
	assert.Equal(t, 2, f.available(t, room, stay), "released capacity is not taken back")
	assert.NotNil(t, f.audit.last(models.AuditLatePaymentSuccess))
}

func TestReconcileIgnoresNonFinalOutcome(t *testing.T) {
	f := setupBookingTest(t)
	booking, attempt, room, stay := processingBooking(t, f)
	ctx := context.Background()

	for _, outcome := range []models.PaymentOutcome{"PENDING", "success", ""} {
		_, err := f.payments.Reconcile(ctx, f.notification(attempt, outcome, attempt.Amount))
		assert.ErrorIs(t, err, ErrUnknownOutcome, "outcome %q", outcome)
	}

	stored, err := f.payments.Get(ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptCreated, stored.Status)
	assert.Equal(t, models.BookingStatusPaymentProcessing, memoryBookings{f.db}.get(booking.ID).Status)
	assert.Equal(t, 1, f.available(t, room, stay), "hold is kept")
	assert.Empty(t, f.events.topics())

	event := f.audit.last(models.AuditNotificationRejected)
	require.NotNil(t, event)
	assert.Equal(t, "unknown_outcome", event.Details["reason"])

	// The real outcome still settles the booking afterwards
	result, err := f.payments.Reconcile(ctx, f.notification(attempt, models.PaymentOutcomeSuccess, attempt.Amount))
	require.NoError(t, err)
	assert.Equal(t, models.PaymentAttemptSucceeded, result.Status)
	assert.Equal(t, models.BookingStatusConfirmed, memoryBookings{f.db}.get(booking.ID).Status)
}
