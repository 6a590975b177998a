package events

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/travelcore/booking-core/internal/models"
)

// ConfirmedBookingHandler hands confirmed bookings to downstream ticketing
func ConfirmedBookingHandler(logger *logrus.Logger) Handler {
	return Handler{
		Name:  "confirmed_booking_handler",
		Topic: models.TopicBookingConfirmed,
		Handle: func(ctx context.Context, event models.BookingEvent) error {
			logger.WithFields(logrus.Fields{
				"booking_id": event.BookingID,
				"contact":    event.ContactIdentifier,
				"items":      len(event.LineItems),
				"amount":     event.TotalAmount,
				"currency":   event.Currency,
			}).Info("Booking confirmed, ready for ticketing")
			return nil
		},
	}
}

// ClosedBookingHandler records bookings that ended without payment
func ClosedBookingHandler(name, topic string, logger *logrus.Logger) Handler {
	return Handler{
		Name:  name,
		Topic: topic,
		Handle: func(ctx context.Context, event models.BookingEvent) error {
			entry := logger.WithFields(logrus.Fields{
				"booking_id": event.BookingID,
				"status":     event.Status,
			})
			if event.FailureReason != nil {
				entry = entry.WithField("reason", *event.FailureReason)
			}
			entry.Info("Booking closed without payment")
			return nil
		},
	}
}

// DefaultHandlers returns the handlers the server attaches to the router
func DefaultHandlers(logger *logrus.Logger) []Handler {
	return []Handler{
		ConfirmedBookingHandler(logger),
		ClosedBookingHandler("failed_booking_handler", models.TopicBookingFailed, logger),
		ClosedBookingHandler("cancelled_booking_handler", models.TopicBookingCancelled, logger),
	}
}
