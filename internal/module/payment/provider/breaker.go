package provider

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
)

// BreakerGateway wraps a Gateway with a circuit breaker. Unknown-outcome
// errors count as failures so a degraded gateway stops receiving new
// money-moving calls quickly.
type BreakerGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker[any]
}

// NewBreakerGateway wraps the gateway with circuit breaking.
func NewBreakerGateway(inner Gateway) *BreakerGateway {
	settings := gobreaker.Settings{
		Name:        inner.Name(),
		MaxRequests: 1,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &BreakerGateway{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// Name returns the wrapped gateway's name.
func (g *BreakerGateway) Name() string {
	return g.inner.Name()
}

func (g *BreakerGateway) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Intent, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.inner.CreateIntent(ctx, req)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return result.(*Intent), nil
}

func (g *BreakerGateway) GetIntent(ctx context.Context, intentID string) (*Intent, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.inner.GetIntent(ctx, intentID)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return result.(*Intent), nil
}

func (g *BreakerGateway) CancelIntent(ctx context.Context, intentID string) error {
	_, err := g.breaker.Execute(func() (any, error) {
		return nil, g.inner.CancelIntent(ctx, intentID)
	})
	return mapBreakerErr(err)
}

func (g *BreakerGateway) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	result, err := g.breaker.Execute(func() (any, error) {
		return g.inner.CreateRefund(ctx, req)
	})
	if err != nil {
		return nil, mapBreakerErr(err)
	}
	return result.(*Refund), nil
}

// ErrGatewayUnavailable reports a short-circuited call: the request never
// reached the gateway, so its outcome is known-failed.
var ErrGatewayUnavailable = errors.New("payment gateway unavailable")

func mapBreakerErr(err error) error {
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrGatewayUnavailable
	}
	return err
}
