// Package delivery sends verification messages over email and SMS.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"gardenhub/internal/config"
)

type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

func ParseChannel(s string) (Channel, bool) {
	switch Channel(strings.ToLower(strings.TrimSpace(s))) {
	case ChannelEmail:
		return ChannelEmail, true
	case ChannelSMS:
		return ChannelSMS, true
	}
	return "", false
}

var (
	ErrNotConfigured      = errors.New("delivery channel is not configured")
	ErrUnsupportedChannel = errors.New("unsupported delivery channel")
	ErrCircuitOpen        = errors.New("delivery provider unavailable")
)

// Message is a single outbound notification. Subject and HTML are ignored for SMS.
type Message struct {
	Channel Channel
	To      string
	Subject string
	Text    string
	HTML    string
}

type Gateway interface {
	Send(ctx context.Context, msg Message) error
}

// Router dispatches a message to the gateway registered for its channel.
type Router struct {
	routes map[Channel]Gateway
}

func NewRouter() *Router {
	return &Router{routes: make(map[Channel]Gateway)}
}

func (r *Router) Handle(ch Channel, g Gateway) *Router {
	r.routes[ch] = g
	return r
}

func (r *Router) Send(ctx context.Context, msg Message) error {
	g, ok := r.routes[msg.Channel]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnsupportedChannel, msg.Channel)
	}
	return g.Send(ctx, msg)
}

// New wires the gateway used by the service. In development, or when a
// provider has no credentials, the channel logs instead of transmitting.
func New(cfg config.Config, logger *zap.Logger) Gateway {
	dev := NewLogGateway(logger)
	router := NewRouter()

	if cfg.Email.Enabled() && !cfg.Development() {
		router.Handle(ChannelEmail, NewSMTPSender(cfg.Email))
	} else {
		logger.Warn("email delivery disabled, codes will be logged")
		router.Handle(ChannelEmail, dev)
	}

	if cfg.Twilio.Enabled() && !cfg.Development() {
		router.Handle(ChannelSMS, NewTwilioSender(cfg.Twilio))
	} else {
		logger.Warn("sms delivery disabled, codes will be logged")
		router.Handle(ChannelSMS, dev)
	}

	return NewBreakerGateway(router, logger)
}
