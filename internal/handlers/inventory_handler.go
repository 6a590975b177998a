package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/models"
)

// AvailabilityReader reports free capacity
type AvailabilityReader interface {
	Availability(ctx context.Context, resourceID uuid.UUID, rng models.DateRange) (*models.Availability, error)
}

// InventoryHandler serves capacity lookups for the booking UI
type InventoryHandler struct {
	ledger AvailabilityReader
	logger *logrus.Logger
}

// NewInventoryHandler creates a new inventory handler
func NewInventoryHandler(ledger AvailabilityReader, logger *logrus.Logger) *InventoryHandler {
	return &InventoryHandler{ledger: ledger, logger: logger}
}

// AvailabilityQuery holds the requested date range
type AvailabilityQuery struct {
	Start string `form:"start" binding:"required,datetime=2006-01-02"`
	End   string `form:"end" binding:"required,datetime=2006-01-02"`
}

// GetAvailability handles GET /api/v1/inventory/:id/availability
func (h *InventoryHandler) GetAvailability(c *gin.Context) {
	resourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_id",
			Message: "Resource ID must be a UUID",
		})
		return
	}

	var q AvailabilityQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		bindingError(c, err)
		return
	}

	start, _ := models.ParseDate(q.Start)
	end, _ := models.ParseDate(q.End)
	rng := models.DateRange{Start: start, End: end}
	if !rng.Valid() {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "invalid_range",
			Message: "end must be after start",
		})
		return
	}

	availability, err := h.ledger.Availability(c.Request.Context(), resourceID, rng)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, availability)
}
