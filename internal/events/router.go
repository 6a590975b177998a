package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/travelcore/booking-core/internal/models"
)

// Handler consumes one booking topic
type Handler struct {
	Name   string
	Topic  string
	Handle func(ctx context.Context, event models.BookingEvent) error
}

// NewRouter builds a message router with the given handlers attached
func NewRouter(transport *Transport, topicPrefix string, logger watermill.LoggerAdapter, handlers ...Handler) (*message.Router, error) {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: 10 * time.Second}, logger)
	if err != nil {
		return nil, err
	}

	router.AddMiddleware(middleware.Recoverer)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      5,
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}.Middleware)

	for _, h := range handlers {
		sub, err := transport.Subscriber(h.Name)
		if err != nil {
			return nil, fmt.Errorf("failed to create subscriber for %s: %w", h.Name, err)
		}
		router.AddNoPublisherHandler(h.Name, TopicName(topicPrefix, h.Topic), sub, decode(h, logger))
	}

	return router, nil
}

func decode(h Handler, logger watermill.LoggerAdapter) message.NoPublishHandlerFunc {
	return func(msg *message.Message) error {
		var event models.BookingEvent
		if err := json.Unmarshal(msg.Payload, &event); err != nil {
			// Malformed payloads cannot succeed on retry
			logger.Error("Dropping malformed booking event", err, watermill.LogFields{
				"handler":      h.Name,
				"message_uuid": msg.UUID,
			})
			return nil
		}
		return h.Handle(msg.Context(), event)
	}
}
