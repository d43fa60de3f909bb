package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Guard protects one backend. Transient errors are retried under a policy,
// and failures that outlast the retries count against a breaker.
type Guard struct {
	name    string
	policy  RetryPolicy
	breaker *Breaker
}

// NewGuard creates a Guard named after the backend it protects. isFailure
// narrows which errors count against the breaker; context cancellation never
// counts.
func NewGuard(name string, policy RetryPolicy, bc BreakerConfig, isFailure func(error) bool) *Guard {
	bc.Counts = func(err error) bool {
		if errors.Is(err, context.Canceled) {
			return false
		}
		return isFailure == nil || isFailure(err)
	}
	bc.OnTransition = func(from, to BreakerState) {
		zap.L().Warn("breaker state change",
			zap.String("component", "resilience"),
			zap.String("backend", name),
			zap.Stringer("from", from),
			zap.Stringer("to", to),
		)
	}
	return &Guard{name: name, policy: policy, breaker: NewBreaker(name, bc)}
}

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	_, err := Call(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Call runs fn under g and returns its value. Calls rejected by the breaker
// wrap ErrBreakerOpen.
func Call[T any](ctx context.Context, g *Guard, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	if err := g.breaker.Allow(); err != nil {
		var zero T
		return zero, eris.Wrapf(err, "%s: %s", g.name, op)
	}

	p := g.policy
	if p.Notify == nil {
		p.Notify = func(retry int, wait time.Duration, err error) {
			zap.L().Warn("retrying storage call",
				zap.String("component", "resilience"),
				zap.String("backend", g.name),
				zap.String("operation", op),
				zap.Int("retry", retry),
				zap.Duration("wait", wait),
				zap.Error(err),
			)
		}
	}

	v, err := RetryValue(ctx, p, fn)
	g.breaker.Record(err)
	return v, err
}

// Open reports whether the breaker currently rejects calls.
func (g *Guard) Open() bool {
	return g.breaker.Snapshot().State == BreakerOpen
}

// Breaker exposes the underlying breaker.
func (g *Guard) Breaker() *Breaker {
	return g.breaker
}
