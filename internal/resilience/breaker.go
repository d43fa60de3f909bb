// Package resilience guards storage calls with retries and a circuit breaker
// so a failing backend aborts a scan instead of failing every group.
package resilience

import (
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/contact-match/internal/metrics"
)

// BreakerState is the position of a Breaker.
type BreakerState uint8

const (
	// BreakerClosed admits every call.
	BreakerClosed BreakerState = iota
	// BreakerOpen rejects calls until the cooldown has passed.
	BreakerOpen
	// BreakerProbing admits calls to test whether the backend recovered.
	BreakerProbing
)

var breakerStateNames = [...]string{"closed", "open", "probing"}

func (s BreakerState) String() string {
	if int(s) < len(breakerStateNames) {
		return breakerStateNames[s]
	}
	return "unknown"
}

// ErrBreakerOpen is returned for calls rejected by an open breaker.
var ErrBreakerOpen = eris.New("resilience: breaker open")

// BreakerConfig tunes a Breaker. Zero fields take the defaults.
type BreakerConfig struct {
	// Threshold is the run of counted failures that opens the breaker.
	Threshold int
	// Cooldown is how long an open breaker rejects calls.
	Cooldown time.Duration
	// Probes is the number of successes needed to close a probing breaker.
	Probes int
	// Counts reports whether an error counts as a backend failure.
	Counts func(error) bool
	// OnTransition observes state changes. It runs under the breaker lock.
	OnTransition func(from, to BreakerState)
}

// DefaultBreakerConfig opens after 5 failures and cools down for 30s.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Threshold: 5, Cooldown: 30 * time.Second, Probes: 1}
}

// NewBreakerConfig builds a BreakerConfig from configured values, keeping the
// defaults for non-positive inputs.
func NewBreakerConfig(threshold int, cooldown time.Duration) BreakerConfig {
	c := DefaultBreakerConfig()
	if threshold > 0 {
		c.Threshold = threshold
	}
	if cooldown > 0 {
		c.Cooldown = cooldown
	}
	return c
}

// BreakerSnapshot is a consistent read of a breaker.
type BreakerSnapshot struct {
	State    BreakerState
	Failures int
	OpenedAt time.Time
}

// Breaker trips after a run of failures against one backend.
type Breaker struct {
	name string
	cfg  BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probeOK  int

	clock func() time.Time
}

// NewBreaker creates a closed breaker. name labels its metrics.
func NewBreaker(name string, cfg BreakerConfig) *Breaker {
	def := DefaultBreakerConfig()
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = def.Cooldown
	}
	if cfg.Probes <= 0 {
		cfg.Probes = def.Probes
	}
	if cfg.Counts == nil {
		cfg.Counts = func(err error) bool { return err != nil }
	}
	return &Breaker{name: name, cfg: cfg, clock: time.Now}
}

// Allow reports whether a call may proceed. An open breaker whose cooldown
// has passed moves to probing and admits the call.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == BreakerOpen {
		if b.clock().Sub(b.openedAt) < b.cfg.Cooldown {
			return ErrBreakerOpen
		}
		b.moveTo(BreakerProbing)
	}
	return nil
}

// Record feeds the outcome of an admitted call back into the breaker.
func (b *Breaker) Record(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if err != nil && b.cfg.Counts(err) {
		b.failures++
		switch {
		case b.state == BreakerProbing:
			b.trip()
		case b.state == BreakerClosed && b.failures >= b.cfg.Threshold:
			b.trip()
		}
		return
	}

	if b.state == BreakerProbing {
		b.probeOK++
		if b.probeOK < b.cfg.Probes {
			return
		}
		b.moveTo(BreakerClosed)
	}
	b.failures = 0
	b.probeOK = 0
}

// Snapshot returns the current state. An open breaker past its cooldown
// reads as probing.
func (b *Breaker) Snapshot() BreakerSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := BreakerSnapshot{State: b.state, Failures: b.failures, OpenedAt: b.openedAt}
	if s.State == BreakerOpen && b.clock().Sub(b.openedAt) >= b.cfg.Cooldown {
		s.State = BreakerProbing
	}
	return s
}

// Reset closes the breaker and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failures = 0
	b.probeOK = 0
	b.openedAt = time.Time{}
	if b.state != BreakerClosed {
		b.moveTo(BreakerClosed)
	}
}

func (b *Breaker) trip() {
	b.openedAt = b.clock()
	b.probeOK = 0
	b.moveTo(BreakerOpen)
}

func (b *Breaker) moveTo(to BreakerState) {
	from := b.state
	b.state = to
	metrics.BreakerTransitions.WithLabelValues(b.name, to.String()).Inc()
	if b.cfg.OnTransition != nil {
		b.cfg.OnTransition(from, to)
	}
}
