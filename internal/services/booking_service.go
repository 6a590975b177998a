package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/clock"
	"github.com/travelcore/booking-core/internal/config"
	"github.com/travelcore/booking-core/internal/database"
	"github.com/travelcore/booking-core/internal/models"
	"github.com/travelcore/booking-core/pkg/jwt"
	"github.com/travelcore/booking-core/pkg/validator"
	"golang.org/x/sync/singleflight"
)

// BookingStore is the persistence the booking service needs
type BookingStore interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
	Create(ctx context.Context, booking *models.Booking) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	GetForUpdate(ctx context.Context, id uuid.UUID) (*models.Booking, error)
	Transition(ctx context.Context, id uuid.UUID, t models.BookingTransition) (*models.Booking, error)
	ListStale(ctx context.Context, q models.StaleQuery) ([]models.Booking, error)
}

// IdentityTokenValidator checks identity tokens presented at submit
type IdentityTokenValidator interface {
	ValidateIdentityToken(token string) (*jwt.Claims, error)
}

// PaymentStarter opens and looks up gateway transactions for bookings
type PaymentStarter interface {
	CreateAttempt(ctx context.Context, booking *models.Booking) (*models.PaymentAttempt, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error)
}

// EventPublisher announces booking life-cycle events
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, event models.BookingEvent) error
}

// CreateBookingInput is a guest's checkout request
type CreateBookingInput struct {
	Guest       models.GuestInfo
	LineItems   []models.LineItem
	TotalAmount float64
}

// BookingService drives bookings through their life cycle
type BookingService struct {
	bookings    BookingStore
	ledger      *CapacityLedger
	payments    PaymentStarter
	tokens      IdentityTokenValidator
	identifiers *validator.IdentifierValidator
	events      EventPublisher
	audit       *AuditService
	config      config.BookingConfig
	logger      *logrus.Logger
	clock       clock.Clock

	paymentGroup singleflight.Group
}

// BookingDeps groups the collaborators of the booking service
type BookingDeps struct {
	Bookings    BookingStore
	Ledger      *CapacityLedger
	Payments    PaymentStarter
	Tokens      IdentityTokenValidator
	Identifiers *validator.IdentifierValidator
	Events      EventPublisher
	Audit       *AuditService
	Logger      *logrus.Logger
	Clock       clock.Clock
}

// NewBookingService creates a new booking service
func NewBookingService(deps BookingDeps, cfg config.BookingConfig) *BookingService {
	return &BookingService{
		bookings:    deps.Bookings,
		ledger:      deps.Ledger,
		payments:    deps.Payments,
		tokens:      deps.Tokens,
		identifiers: deps.Identifiers,
		events:      deps.Events,
		audit:       deps.Audit,
		config:      cfg,
		logger:      deps.Logger,
		clock:       deps.Clock,
	}
}

// Create validates the request and stores a draft booking. No capacity is reserved.
func (s *BookingService) Create(ctx context.Context, in CreateBookingInput) (*models.Booking, error) {
	if in.Guest.Name == "" {
		return nil, fmt.Errorf("%w: guest name is required", ErrInvalidBooking)
	}
	if in.TotalAmount <= 0 {
		return nil, fmt.Errorf("%w: total amount must be positive", ErrInvalidBooking)
	}
	if len(in.LineItems) == 0 {
		return nil, fmt.Errorf("%w: at least one line item is required", ErrInvalidBooking)
	}

	guest, identifier, err := s.normalizeGuest(in.Guest)
	if err != nil {
		return nil, err
	}

	reqs := make([]models.HoldRequest, len(in.LineItems))
	for i, item := range in.LineItems {
		reqs[i] = models.HoldRequest{ResourceID: item.ResourceID, Range: item.Range(), Quantity: item.Quantity}
	}
	reqs, err = s.ledger.Normalize(ctx, reqs)
	if err != nil {
		return nil, err
	}

	lineItems := make(models.LineItems, len(reqs))
	for i, req := range reqs {
		lineItems[i] = models.LineItem{
			ResourceID: req.ResourceID,
			Quantity:   req.Quantity,
			StartDate:  req.Range.Start,
			EndDate:    req.Range.End,
		}
	}

	now := s.clock.Now()
	booking := &models.Booking{
		ID:                uuid.New(),
		GuestName:         guest.Name,
		GuestEmail:        optionalString(guest.Email),
		GuestPhone:        optionalString(guest.Phone),
		ContactIdentifier: identifier,
		ContactChannel:    string(guest.VerifyVia),
		LineItems:         lineItems,
		TotalAmount:       in.TotalAmount,
		Currency:          s.config.Currency,
		Status:            models.BookingStatusDraft,
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	if err := s.bookings.Create(ctx, booking); err != nil {
		return nil, fmt.Errorf("failed to create booking: %w", err)
	}

	s.audit.Record(ctx, models.NewAuditEvent(models.AuditBookingCreated, "booking").
		SetEntity(booking.ID).
		With("line_items", len(lineItems)).
		With("total_amount", booking.TotalAmount))

	return booking, nil
}

// Submit reserves capacity for every line item and moves the booking to
// pending_payment. The identity token must belong to the booking's contact and
// can be consumed once. On any failure the booking stays in draft with no holds.
func (s *BookingService) Submit(ctx context.Context, bookingID uuid.UUID, identityToken string) (*models.Booking, error) {
	claims, err := s.tokens.ValidateIdentityToken(identityToken)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnverifiedGuest, err)
	}

	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	if booking.Status != models.BookingStatusDraft {
		// A retried submit with the same token gets the booking it produced
		if booking.IdentityTokenID != nil && *booking.IdentityTokenID == claims.ID {
			return booking, nil
		}
		return nil, &InvalidTransitionError{From: booking.Status, To: models.BookingStatusPendingPayment}
	}
	if claims.Identifier != booking.ContactIdentifier {
		return nil, fmt.Errorf("%w: token issued for another identifier", ErrUnverifiedGuest)
	}

	reqs := make([]models.HoldRequest, len(booking.LineItems))
	for i, item := range booking.LineItems {
		reqs[i] = models.HoldRequest{
			ResourceID: item.ResourceID,
			BookingID:  booking.ID,
			Range:      item.Range(),
			Quantity:   item.Quantity,
		}
	}

	now := s.clock.Now()
	deadline := now.Add(s.config.CheckoutTimeout)
	tokenID := claims.ID

	var submitted *models.Booking
	err = s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		holds, err := s.ledger.ReserveBatch(txCtx, booking.ID, reqs)
		if err != nil {
			return err
		}

		lineItems := make(models.LineItems, len(booking.LineItems))
		for i, item := range booking.LineItems {
			holdID := holds[i].ID
			item.HoldID = &holdID
			lineItems[i] = item
		}

		submitted, err = s.bookings.Transition(txCtx, booking.ID, models.BookingTransition{
			From:            []models.BookingStatus{models.BookingStatusDraft},
			To:              models.BookingStatusPendingPayment,
			LineItems:       lineItems,
			IdentityTokenID: &tokenID,
			Deadline:        &deadline,
			At:              now,
		})
		return err
	})
	if err != nil {
		switch {
		case errors.Is(err, database.ErrConflict):
			return nil, fmt.Errorf("%w: identity token already used", ErrUnverifiedGuest)
		case errors.Is(err, database.ErrNotFound):
			return nil, s.transitionLost(ctx, bookingID, models.BookingStatusPendingPayment)
		}
		return nil, err
	}

	s.audit.Record(ctx, models.NewAuditEvent(models.AuditBookingSubmitted, "booking").
		SetEntity(submitted.ID).
		With("token_id", tokenID).
		With("hold_ids", submitted.HoldIDs()).
		With("checkout_deadline", deadline))

	return submitted, nil
}

// BeginPayment opens the gateway transaction for a submitted booking. Calling it
// again while payment is in progress returns the same attempt.
func (s *BookingService) BeginPayment(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error) {
	v, err, _ := s.paymentGroup.Do(bookingID.String(), func() (interface{}, error) {
		return s.beginPayment(ctx, bookingID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.PaymentAttempt), nil
}

func (s *BookingService) beginPayment(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error) {
	booking, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}

	switch booking.Status {
	case models.BookingStatusPaymentProcessing:
		return s.payments.Get(ctx, booking.ID)
	case models.BookingStatusPendingPayment:
		if booking.IsPastDeadline(s.clock.Now(), s.config.CheckoutTimeout) {
			return nil, ErrCheckoutExpired
		}
	default:
		return nil, &InvalidTransitionError{From: booking.Status, To: models.BookingStatusPaymentProcessing}
	}

	attempt, err := s.payments.CreateAttempt(ctx, booking)
	if err != nil {
		return nil, err
	}

	_, err = s.bookings.Transition(ctx, booking.ID, models.BookingTransition{
		From: []models.BookingStatus{models.BookingStatusPendingPayment},
		To:   models.BookingStatusPaymentProcessing,
		At:   s.clock.Now(),
	})
	if err != nil {
		if !errors.Is(err, database.ErrNotFound) {
			return nil, err
		}
		// Another process moved it first; only processing means our attempt is live
		current, getErr := s.Get(ctx, booking.ID)
		if getErr != nil {
			return nil, getErr
		}
		if current.Status != models.BookingStatusPaymentProcessing {
			return nil, &InvalidTransitionError{From: current.Status, To: models.BookingStatusPaymentProcessing}
		}
	}

	s.audit.Record(ctx, models.NewAuditEvent(models.AuditPaymentInitiated, "booking").
		SetEntity(booking.ID).
		With("transaction_id", attempt.GatewayTransactionID).
		With("amount", attempt.Amount).
		With("currency", attempt.Currency))

	return attempt, nil
}

// ConfirmPayment commits the booking's holds and confirms it. Confirming twice is a no-op.
func (s *BookingService) ConfirmPayment(ctx context.Context, bookingID uuid.UUID, attempt *models.PaymentAttempt) (*models.Booking, error) {
	if attempt == nil || attempt.Status != models.PaymentAttemptSucceeded {
		return nil, fmt.Errorf("%w: payment has not succeeded", ErrInvalidBooking)
	}

	var confirmed *models.Booking
	changed := false
	err := s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		booking, err := s.lock(txCtx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status == models.BookingStatusConfirmed {
			confirmed = booking
			return nil
		}
		if booking.Status != models.BookingStatusPaymentProcessing {
			return &InvalidTransitionError{From: booking.Status, To: models.BookingStatusConfirmed}
		}

		if _, err := s.ledger.Commit(txCtx, booking.HoldIDs()); err != nil {
			return err
		}

		confirmed, err = s.bookings.Transition(txCtx, booking.ID, models.BookingTransition{
			From: []models.BookingStatus{models.BookingStatusPaymentProcessing},
			To:   models.BookingStatusConfirmed,
			At:   s.clock.Now(),
		})
		if err != nil {
			return err
		}

		changed = true
		s.announce(txCtx, models.TopicBookingConfirmed, models.AuditBookingConfirmed, confirmed)
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return s.settledElsewhere(ctx, bookingID, models.BookingStatusConfirmed)
		}
		return nil, err
	}

	if changed {
		s.logger.WithFields(logrus.Fields{
			"booking_id":     confirmed.ID,
			"transaction_id": attempt.GatewayTransactionID,
		}).Info("Booking confirmed")
	}
	return confirmed, nil
}

// FailPayment releases the booking's holds and marks it failed. Failing twice is a no-op.
func (s *BookingService) FailPayment(ctx context.Context, bookingID uuid.UUID, reason string) (*models.Booking, error) {
	return s.releaseAndClose(ctx, bookingID,
		[]models.BookingStatus{models.BookingStatusPaymentProcessing},
		models.BookingStatusFailed, reason, false)
}

// Expire cancels a booking whose checkout window elapsed and releases its holds
func (s *BookingService) Expire(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	return s.releaseAndClose(ctx, bookingID,
		[]models.BookingStatus{
			models.BookingStatusDraft,
			models.BookingStatusPendingPayment,
			models.BookingStatusPaymentProcessing,
		},
		models.BookingStatusCancelled, "checkout_timeout", true)
}

// ExpireStale cancels up to limit bookings past their checkout deadline.
// Bookings that fail to expire are skipped so they do not hold back newer ones.
func (s *BookingService) ExpireStale(ctx context.Context, limit int) (int, error) {
	now := s.clock.Now()
	q := models.StaleQuery{
		Now:         now,
		DraftCutoff: now.Add(-s.config.CheckoutTimeout),
		Limit:       limit,
	}

	expired := 0
	for expired < limit {
		stale, err := s.bookings.ListStale(ctx, q)
		if err != nil {
			return expired, err
		}

		for _, booking := range stale {
			if ctx.Err() != nil {
				return expired, ctx.Err()
			}
			q.After = &models.BookingCursor{CreatedAt: booking.CreatedAt, ID: booking.ID}

			if _, err := s.Expire(ctx, booking.ID); err != nil {
				var invalid *InvalidTransitionError
				if !errors.As(err, &invalid) {
					s.logger.WithError(err).WithField("booking_id", booking.ID).Error("Failed to expire booking")
				}
				continue
			}
			expired++
			if expired == limit {
				break
			}
		}

		if len(stale) < limit {
			break
		}
	}

	return expired, nil
}

// Get returns a booking
func (s *BookingService) Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetByID(ctx, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

func (s *BookingService) releaseAndClose(ctx context.Context, bookingID uuid.UUID, from []models.BookingStatus, to models.BookingStatus, reason string, requireDeadline bool) (*models.Booking, error) {
	topic, action := models.TopicBookingFailed, models.AuditBookingFailed
	if to == models.BookingStatusCancelled {
		topic, action = models.TopicBookingCancelled, models.AuditBookingCancelled
	}

	var closed *models.Booking
	err := s.bookings.WithTx(ctx, func(txCtx context.Context) error {
		booking, err := s.lock(txCtx, bookingID)
		if err != nil {
			return err
		}
		if booking.Status == to {
			closed = booking
			return nil
		}
		if !containsStatus(from, booking.Status) {
			return &InvalidTransitionError{From: booking.Status, To: to}
		}
		now := s.clock.Now()
		if requireDeadline && !booking.IsPastDeadline(now, s.config.CheckoutTimeout) {
			return &InvalidTransitionError{From: booking.Status, To: to}
		}

		if _, err := s.ledger.Release(txCtx, booking.HoldIDs()); err != nil {
			return err
		}

		closed, err = s.bookings.Transition(txCtx, booking.ID, models.BookingTransition{
			From:          []models.BookingStatus{booking.Status},
			To:            to,
			FailureReason: &reason,
			At:            now,
		})
		if err != nil {
			return err
		}

		s.announce(txCtx, topic, action, closed)
		return nil
	})
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return s.settledElsewhere(ctx, bookingID, to)
		}
		return nil, err
	}
	return closed, nil
}

// announce audits a terminal transition and publishes its event once the transaction commits
func (s *BookingService) announce(ctx context.Context, topic string, action models.AuditAction, booking *models.Booking) {
	event := models.NewBookingEvent(topic, booking, s.clock.Now())

	database.AfterCommit(ctx, func() {
		s.audit.Record(ctx, models.NewAuditEvent(action, "booking").
			SetEntity(booking.ID).
			With("status", booking.Status).
			With("hold_ids", booking.HoldIDs()))

		if s.events == nil {
			return
		}
		if err := s.events.PublishBookingEvent(context.WithoutCancel(ctx), event); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"booking_id": booking.ID,
				"topic":      topic,
			}).Error("Failed to publish booking event")
		}
	})
}

// transitionLost reports a conditional update that matched no row because
// another caller changed the booking first
func (s *BookingService) transitionLost(ctx context.Context, bookingID uuid.UUID, to models.BookingStatus) error {
	current, err := s.Get(ctx, bookingID)
	if err != nil {
		return err
	}
	return &InvalidTransitionError{From: current.Status, To: to}
}

// lock reads a booking inside a transaction and holds its row until commit
func (s *BookingService) lock(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error) {
	booking, err := s.bookings.GetForUpdate(ctx, bookingID)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			return nil, ErrBookingNotFound
		}
		return nil, fmt.Errorf("failed to lock booking: %w", err)
	}
	return booking, nil
}

// settledElsewhere resolves a lost conditional update. A booking another
// caller already moved to the same status is returned unchanged.
func (s *BookingService) settledElsewhere(ctx context.Context, bookingID uuid.UUID, to models.BookingStatus) (*models.Booking, error) {
	current, err := s.Get(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if current.Status == to {
		return current, nil
	}
	return nil, &InvalidTransitionError{From: current.Status, To: to}
}

func (s *BookingService) normalizeGuest(guest models.GuestInfo) (models.GuestInfo, string, error) {
	if guest.Email != "" {
		email, err := s.identifiers.NormalizeEmail(guest.Email)
		if err != nil {
			return guest, "", fmt.Errorf("%w: %v", ErrInvalidBooking, err)
		}
		guest.Email = email
	}
	if guest.Phone != "" {
		phone, err := s.identifiers.NormalizePhone(guest.Phone)
		if err != nil {
			return guest, "", fmt.Errorf("%w: %v", ErrInvalidBooking, err)
		}
		guest.Phone = phone
	}

	switch guest.VerifyVia {
	case models.ContactChannelEmail, models.ContactChannelSMS:
	default:
		return guest, "", fmt.Errorf("%w: verify_via must be sms or email", ErrInvalidBooking)
	}

	identifier := guest.ContactIdentifier()
	if identifier == "" {
		return guest, "", fmt.Errorf("%w: %s contact is required for verification", ErrInvalidBooking, guest.VerifyVia)
	}
	return guest, identifier, nil
}

func containsStatus(statuses []models.BookingStatus, status models.BookingStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}
