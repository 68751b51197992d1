package llm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Acquirer reserves budget for a model before a call is made.
type Acquirer interface {
	Acquire(ctx context.Context, key string, units int) error
}

// Limited makes every call wait on the limiter for the request's model first.
type Limited struct {
	next    Client
	limiter Acquirer
}

// WithRateLimit wraps next so each call acquires its estimated tokens up front.
func WithRateLimit(next Client, limiter Acquirer) *Limited {
	return &Limited{next: next, limiter: limiter}
}

func (l *Limited) Complete(ctx context.Context, req Request) (Response, error) {
	if err := l.limiter.Acquire(ctx, req.Model, EstimateTokens(req)); err != nil {
		return Response{}, err
	}
	return l.next.Complete(ctx, req)
}

// Breaker keeps one circuit breaker per model so a provider outage fails
// calls fast instead of letting each job wait out its timeouts.
type Breaker struct {
	next     Client
	failures uint32
	cooldown time.Duration

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// WithBreaker opens a model's breaker after failures consecutive errors and
// retries again after cooldown.
func WithBreaker(next Client, failures uint32, cooldown time.Duration) *Breaker {
	if failures == 0 {
		failures = 5
	}
	return &Breaker{
		next:     next,
		failures: failures,
		cooldown: cooldown,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *Breaker) Complete(ctx context.Context, req Request) (Response, error) {
	out, err := b.breakerFor(req.Model).Execute(func() (interface{}, error) {
		return b.next.Complete(ctx, req)
	})
	if err != nil {
		return Response{}, err
	}
	return out.(Response), nil
}

func (b *Breaker) breakerFor(model string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.breakers[model]
	if !ok {
		cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    model,
			Timeout: b.cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.failures
			},
			// A cancelled job says nothing about the provider's health.
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
		})
		b.breakers[model] = cb
	}
	return cb
}
