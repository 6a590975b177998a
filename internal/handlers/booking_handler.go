package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/middleware"
	"github.com/travelcore/booking-core/internal/models"
	"github.com/travelcore/booking-core/internal/services"
)

// BookingManager drives bookings through checkout
type BookingManager interface {
	Create(ctx context.Context, in services.CreateBookingInput) (*models.Booking, error)
	Get(ctx context.Context, bookingID uuid.UUID) (*models.Booking, error)
	Submit(ctx context.Context, bookingID uuid.UUID, identityToken string) (*models.Booking, error)
	BeginPayment(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error)
}

// PaymentLookup reads the payment attempt of a booking
type PaymentLookup interface {
	Get(ctx context.Context, bookingID uuid.UUID) (*models.PaymentAttempt, error)
}

// BookingHandler handles guest booking endpoints
type BookingHandler struct {
	bookings BookingManager
	payments PaymentLookup
	logger   *logrus.Logger
}

// NewBookingHandler creates a new booking handler
func NewBookingHandler(bookings BookingManager, payments PaymentLookup, logger *logrus.Logger) *BookingHandler {
	return &BookingHandler{bookings: bookings, payments: payments, logger: logger}
}

// PaymentResponse tells the checkout UI where to send the guest
type PaymentResponse struct {
	BookingID     uuid.UUID                   `json:"booking_id"`
	TransactionID string                      `json:"transaction_id"`
	CheckoutURL   string                      `json:"checkout_url"`
	Amount        float64                     `json:"amount"`
	Currency      string                      `json:"currency"`
	Status        models.PaymentAttemptStatus `json:"status"`
}

// CreateBooking handles POST /api/v1/bookings
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	var req models.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindingError(c, err)
		return
	}
	req.Normalize()

	booking, err := h.bookings.Create(c.Request.Context(), services.CreateBookingInput{
		Guest:       req.Guest,
		LineItems:   req.LineItems,
		TotalAmount: req.TotalAmount,
	})
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, models.BookingResponse{Booking: booking})
}

// GetBooking handles GET /api/v1/bookings/:id
func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.bookings.Get(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	resp := models.BookingResponse{Booking: booking}
	attempt, err := h.payments.Get(c.Request.Context(), bookingID)
	switch {
	case err == nil:
		resp.Payment = attempt
	case !errors.Is(err, services.ErrPaymentAttemptNotFound):
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// SubmitBooking handles POST /api/v1/bookings/:id/submit
func (h *BookingHandler) SubmitBooking(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	booking, err := h.bookings.Submit(c.Request.Context(), bookingID, middleware.GetIdentityToken(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, models.BookingResponse{Booking: booking})
}

// BeginPayment handles POST /api/v1/bookings/:id/payment
func (h *BookingHandler) BeginPayment(c *gin.Context) {
	bookingID, ok := bookingIDParam(c)
	if !ok {
		return
	}

	attempt, err := h.bookings.BeginPayment(c.Request.Context(), bookingID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, PaymentResponse{
		BookingID:     attempt.BookingID,
		TransactionID: attempt.GatewayTransactionID,
		CheckoutURL:   attempt.CheckoutURL,
		Amount:        attempt.Amount,
		Currency:      attempt.Currency,
		Status:        attempt.Status,
	})
}

func bookingIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Booking ID must be a UUID",
		})
		return uuid.Nil, false
	}
	return id, true
}
