package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/travelcore/booking-core/internal/models"
)

// Publisher publishes booking life-cycle events as JSON messages
type Publisher struct {
	publisher   message.Publisher
	topicPrefix string
}

// NewPublisher creates a booking event publisher
func NewPublisher(publisher message.Publisher, topicPrefix string) *Publisher {
	return &Publisher{publisher: publisher, topicPrefix: topicPrefix}
}

// PublishBookingEvent sends the event to its topic
func (p *Publisher) PublishBookingEvent(ctx context.Context, event models.BookingEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal booking event: %w", err)
	}

	msg := message.NewMessage(event.EventID.String(), payload)
	msg.Metadata.Set("type", event.Topic)
	msg.Metadata.Set("booking_id", event.BookingID.String())
	msg.SetContext(ctx)

	if err := p.publisher.Publish(TopicName(p.topicPrefix, event.Topic), msg); err != nil {
		return fmt.Errorf("failed to publish %s: %w", event.Topic, err)
	}
	return nil
}

// TopicName returns the stream name for a booking topic
func TopicName(prefix, topic string) string {
	if prefix == "" {
		return topic
	}
	return prefix + "." + topic
}
