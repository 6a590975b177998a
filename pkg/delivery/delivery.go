package delivery

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Channel is the medium a code is delivered through
type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
)

// ErrUnsupportedChannel indicates no sender is registered for the channel
var ErrUnsupportedChannel = errors.New("unsupported delivery channel")

// Message is a one-time code addressed to a normalised identifier
type Message struct {
	Identifier string
	Channel    Channel
	Code       string
	TTL        time.Duration
}

// Body renders the human-readable text sent to the guest
func (m Message) Body() string {
	minutes := int(m.TTL.Minutes())
	if minutes < 1 {
		minutes = 1
	}
	return fmt.Sprintf("Your booking verification code is %s. It expires in %d minutes. Do not share this code.", m.Code, minutes)
}

// Sender delivers verification codes
type Sender interface {
	Send(ctx context.Context, msg Message) error
	Name() string
}

// Router dispatches a message to the sender registered for its channel
type Router struct {
	senders map[Channel]Sender
}

// NewRouter creates a router with the given channel senders
func NewRouter(senders map[Channel]Sender) *Router {
	return &Router{senders: senders}
}

// Send implements Sender
func (r *Router) Send(ctx context.Context, msg Message) error {
	sender, ok := r.senders[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnsupportedChannel, msg.Channel)
	}
	return sender.Send(ctx, msg)
}

// Name implements Sender
func (r *Router) Name() string {
	return "router"
}
