package handlers

import (
	"errors"
	"math"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	playvalidator "github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/services"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error             string `json:"error"`
	Message           string `json:"message"`
	Code              string `json:"code,omitempty"`
	RetryAfter        int    `json:"retry_after,omitempty"` // seconds
	RemainingAttempts *int   `json:"remaining_attempts,omitempty"`
	Details           gin.H  `json:"details,omitempty"`
}

// bindingError reports a request body that failed to bind or validate
func bindingError(c *gin.Context, err error) {
	resp := ErrorResponse{
		Error:   "validation_error",
		Message: "Invalid request body",
	}

	var verrs playvalidator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, strings.ToLower(fe.Field())+" ("+fe.Tag()+")")
		}
		resp.Message = "Invalid fields: " + strings.Join(fields, ", ")
	}

	c.JSON(http.StatusBadRequest, resp)
}

// respondError translates a service error into the JSON error envelope
func respondError(c *gin.Context, logger *logrus.Logger, err error) {
	var (
		throttled   *services.ThrottledError
		mismatch    *services.CodeMismatchError
		capacity    *services.CapacityExceededError
		lineItem    *services.InvalidLineItemError
		transition  *services.InvalidTransitionError
		unavailable *services.GatewayUnavailableError
	)

	switch {
	case errors.As(err, &throttled):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:      "rate_limit_exceeded",
			Message:    throttled.Error(),
			Code:       "THROTTLED_" + strings.ToUpper(throttled.Scope),
			RetryAfter: int(math.Ceil(throttled.RetryAfter.Seconds())),
		})
	case errors.Is(err, services.ErrTooManyAttempts):
		c.JSON(http.StatusTooManyRequests, ErrorResponse{
			Error:   "too_many_attempts",
			Message: "Too many incorrect codes. Please request a new code.",
			Code:    "TOO_MANY_ATTEMPTS",
		})
	case errors.As(err, &mismatch):
		remaining := mismatch.RemainingAttempts
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:             "invalid_code",
			Message:           "Verification code does not match",
			Code:              "CODE_MISMATCH",
			RemainingAttempts: &remaining,
		})
	case errors.Is(err, services.ErrNoActiveSession):
		c.JSON(http.StatusGone, ErrorResponse{
			Error:   "no_active_session",
			Message: "No active verification code. Please request a new code.",
			Code:    "NO_ACTIVE_SESSION",
		})
	case errors.Is(err, services.ErrUnverifiedGuest):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "unverified_guest",
			Message: "Guest identity could not be verified",
			Code:    "UNVERIFIED_GUEST",
		})
	case errors.Is(err, services.ErrInvalidIdentifier):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_identifier",
			Message: err.Error(),
		})
	case errors.As(err, &lineItem):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_line_item",
			Message: lineItem.Error(),
			Code:    "INVALID_LINE_ITEM",
			Details: gin.H{"index": lineItem.Index, "reason": lineItem.Reason},
		})
	case errors.Is(err, services.ErrInvalidBooking):
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_booking",
			Message: err.Error(),
		})
	case errors.As(err, &capacity):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "capacity_exceeded",
			Message: "Not enough capacity for the requested dates",
			Code:    "CAPACITY_EXCEEDED",
			Details: gin.H{
				"resource_id": capacity.ResourceID,
				"requested":   capacity.Requested,
				"available":   capacity.Available,
			},
		})
	case errors.As(err, &transition):
		c.JSON(http.StatusConflict, ErrorResponse{
			Error:   "invalid_transition",
			Message: transition.Error(),
			Code:    "INVALID_TRANSITION",
			Details: gin.H{"from": transition.From, "to": transition.To},
		})
	case errors.Is(err, services.ErrCheckoutExpired):
		c.JSON(http.StatusGone, ErrorResponse{
			Error:   "checkout_expired",
			Message: "The checkout window has closed. Please start a new booking.",
			Code:    "CHECKOUT_EXPIRED",
		})
	case errors.Is(err, services.ErrBookingNotFound),
		errors.Is(err, services.ErrResourceNotFound),
		errors.Is(err, services.ErrPaymentAttemptNotFound):
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error:   "not_found",
			Message: err.Error(),
		})
	case errors.Is(err, services.ErrInvalidSignature):
		c.JSON(http.StatusUnauthorized, ErrorResponse{
			Error:   "invalid_signature",
			Message: "Notification signature is invalid",
			Code:    "INVALID_SIGNATURE",
		})
	case errors.Is(err, services.ErrUnknownOutcome):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "unknown_outcome",
			Message: "Notification outcome must be SUCCESS or FAILED",
			Code:    "UNKNOWN_OUTCOME",
		})
	case errors.Is(err, services.ErrAmountMismatch):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error:   "amount_mismatch",
			Message: "Notified amount does not match the payment attempt",
			Code:    "AMOUNT_MISMATCH",
		})
	case errors.As(err, &unavailable):
		c.Header("Retry-After", "5")
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error:   "gateway_unavailable",
			Message: "Payment gateway is temporarily unavailable. Please retry.",
			Code:    "GATEWAY_UNAVAILABLE",
		})
	default:
		logger.WithError(err).WithField("path", c.FullPath()).Error("Unhandled request error")
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "internal_error",
			Message: "An unexpected error occurred",
		})
	}
}
