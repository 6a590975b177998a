package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/models"
)

// NotificationReconciler applies gateway notifications
type NotificationReconciler interface {
	Reconcile(ctx context.Context, n models.GatewayNotification) (*models.PaymentAttempt, error)
}

// PaymentHandler receives gateway completion signals
type PaymentHandler struct {
	reconciler NotificationReconciler
	logger     *logrus.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(reconciler NotificationReconciler, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{reconciler: reconciler, logger: logger}
}

// NotificationResponse acknowledges a reconciled notification
type NotificationResponse struct {
	BookingID     string                      `json:"booking_id"`
	TransactionID string                      `json:"transaction_id"`
	Status        models.PaymentAttemptStatus `json:"status"`
}

// Webhook handles POST /api/v1/payments/webhook (server to server)
func (h *PaymentHandler) Webhook(c *gin.Context) {
	h.reconcile(c, models.NotificationSourceWebhook)
}

// Callback handles POST /api/v1/payments/callback (reported by the guest's browser)
func (h *PaymentHandler) Callback(c *gin.Context) {
	h.reconcile(c, models.NotificationSourceCallback)
}

func (h *PaymentHandler) reconcile(c *gin.Context, source models.NotificationSource) {
	var n models.GatewayNotification
	// Gateways post form data, the checkout UI posts JSON
	if err := c.ShouldBind(&n); err != nil {
		bindingError(c, err)
		return
	}
	n.Source = source

	attempt, err := h.reconciler.Reconcile(c.Request.Context(), n)
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"transaction_id": n.TransactionID,
			"source":         source,
		}).Warn("Payment notification not applied")
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, NotificationResponse{
		BookingID:     attempt.BookingID.String(),
		TransactionID: attempt.GatewayTransactionID,
		Status:        attempt.Status,
	})
}
