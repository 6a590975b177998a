package events

import (
	"context"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/redis/go-redis/v9"
	"github.com/travelcore/booking-core/internal/config"
)

// Transport bundles the publisher and the subscriber factory of one backend
type Transport struct {
	Publisher message.Publisher

	newSubscriber func(handlerName string) (message.Subscriber, error)
	close         func() error
}

// NewTransport returns a Redis Streams transport when RedisAddr is set, and
// an in-process channel otherwise
func NewTransport(ctx context.Context, cfg config.EventsConfig, logger watermill.LoggerAdapter) (*Transport, error) {
	if cfg.RedisAddr == "" {
		return NewInProcessTransport(logger), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	publisher, err := redisstream.NewPublisher(redisstream.PublisherConfig{
		Client: rdb,
	}, logger)
	if err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to create redis publisher: %w", err)
	}

	return &Transport{
		Publisher: publisher,
		newSubscriber: func(handlerName string) (message.Subscriber, error) {
			return redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        rdb,
				ConsumerGroup: cfg.ConsumerGroup + "." + handlerName,
			}, logger)
		},
		close: func() error {
			if err := publisher.Close(); err != nil {
				return err
			}
			return rdb.Close()
		},
	}, nil
}

// NewInProcessTransport delivers events to subscribers of the same process.
// Events published while no handler is subscribed are dropped.
func NewInProcessTransport(logger watermill.LoggerAdapter) *Transport {
	pubSub := gochannel.NewGoChannel(gochannel.Config{
		OutputChannelBuffer: 64,
	}, logger)

	return &Transport{
		Publisher: pubSub,
		newSubscriber: func(string) (message.Subscriber, error) {
			return pubSub, nil
		},
		close: pubSub.Close,
	}
}

// Subscriber returns a subscriber for the named handler
func (t *Transport) Subscriber(handlerName string) (message.Subscriber, error) {
	return t.newSubscriber(handlerName)
}

// Close releases the backend connections
func (t *Transport) Close() error {
	return t.close()
}
