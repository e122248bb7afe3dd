package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// BreakerGateway trips a per-channel circuit after consecutive provider
// failures so callers get an immediate error instead of waiting on timeouts.
type BreakerGateway struct {
	next   Gateway
	logger *zap.Logger

	mu       sync.Mutex
	breakers map[Channel]*gobreaker.CircuitBreaker

	failureThreshold uint32
	openTimeout      time.Duration
}

func NewBreakerGateway(next Gateway, logger *zap.Logger) *BreakerGateway {
	return &BreakerGateway{
		next:             next,
		logger:           logger.Named("delivery.breaker"),
		breakers:         make(map[Channel]*gobreaker.CircuitBreaker),
		failureThreshold: 5,
		openTimeout:      30 * time.Second,
	}
}

func (b *BreakerGateway) Send(ctx context.Context, msg Message) error {
	cb := b.breaker(msg.Channel)
	_, err := cb.Execute(func() (interface{}, error) {
		return nil, b.next.Send(ctx, msg)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%w: %s circuit open", ErrCircuitOpen, msg.Channel)
	}
	return err
}

func (b *BreakerGateway) breaker(ch Channel) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cb, ok := b.breakers[ch]; ok {
		return cb
	}
	threshold := b.failureThreshold
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "delivery-" + string(ch),
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     b.openTimeout,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("circuit state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})
	b.breakers[ch] = cb
	return cb
}
