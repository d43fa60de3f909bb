package resilience

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy describes how often and how patiently a call is retried.
// Zero fields take the defaults.
type RetryPolicy struct {
	// Attempts is the total number of tries, the first included.
	Attempts int
	// BaseDelay is the wait before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps any single wait.
	MaxDelay time.Duration
	// Factor grows the wait between consecutive retries.
	Factor float64
	// Jitter spreads each wait by up to this fraction in either direction.
	Jitter float64
	// Retryable reports whether an error is worth another try. Defaults to
	// IsTransient.
	Retryable func(error) bool
	// Notify is called before each wait.
	Notify func(retry int, wait time.Duration, err error)
}

// DefaultRetryPolicy tries 3 times, waiting 100ms then doubling up to 5s.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		Attempts:  3,
		BaseDelay: 100 * time.Millisecond,
		MaxDelay:  5 * time.Second,
		Factor:    2,
		Jitter:    0.2,
	}
}

// NewRetryPolicy builds a policy from configured values, keeping the
// defaults for non-positive inputs.
func NewRetryPolicy(attempts int, baseDelay, maxDelay time.Duration) RetryPolicy {
	p := DefaultRetryPolicy()
	if attempts > 0 {
		p.Attempts = attempts
	}
	if baseDelay > 0 {
		p.BaseDelay = baseDelay
	}
	if maxDelay > 0 {
		p.MaxDelay = maxDelay
	}
	return p
}

func (p RetryPolicy) normalized() RetryPolicy {
	def := DefaultRetryPolicy()
	if p.Attempts <= 0 {
		p.Attempts = def.Attempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = def.BaseDelay
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = def.MaxDelay
	}
	if p.Factor < 1 {
		p.Factor = def.Factor
	}
	if p.Jitter < 0 {
		p.Jitter = 0
	}
	if p.Retryable == nil {
		p.Retryable = IsTransient
	}
	return p
}

// Wait returns the delay before the nth retry (n starts at 1), before jitter.
func (p RetryPolicy) Wait(n int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 1; i < n && d < float64(p.MaxDelay); i++ {
		d *= p.Factor
	}
	if d > float64(p.MaxDelay) {
		d = float64(p.MaxDelay)
	}
	return time.Duration(d)
}

func (p RetryPolicy) jittered(n int) time.Duration {
	w := p.Wait(n)
	if p.Jitter == 0 || w == 0 {
		return w
	}
	spread := float64(w) * p.Jitter
	w += time.Duration((rand.Float64()*2 - 1) * spread)
	if w < 0 {
		return 0
	}
	return w
}

// Retry runs fn until it succeeds, returns a non-retryable error, the policy
// runs out of attempts, or ctx is done. The last error is returned.
func Retry(ctx context.Context, p RetryPolicy, fn func(ctx context.Context) error) error {
	_, err := RetryValue(ctx, p, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// RetryValue is Retry for calls that produce a value.
func RetryValue[T any](ctx context.Context, p RetryPolicy, fn func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	var zero T
	for try := 1; ; try++ {
		v, err := fn(ctx)
		if err == nil {
			return v, nil
		}
		if try >= p.Attempts || ctx.Err() != nil || !p.Retryable(err) {
			return zero, err
		}

		wait := p.jittered(try)
		if p.Notify != nil {
			p.Notify(try, wait, err)
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return zero, err
		case <-t.C:
		}
	}
}
