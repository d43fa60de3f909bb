package resilience

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("postgres: connection refused")

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	clock := &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	b := NewBreaker("test", cfg)
	b.clock = clock.Now
	return b, clock
}

func fail(b *Breaker, n int) {
	for i := 0; i < n; i++ {
		if b.Allow() == nil {
			b.Record(errStoreDown)
		}
	}
}

func TestBreaker_Defaults(t *testing.T) {
	b := NewBreaker("store", BreakerConfig{})
	assert.Equal(t, 5, b.cfg.Threshold)
	assert.Equal(t, 30*time.Second, b.cfg.Cooldown)
	assert.Equal(t, 1, b.cfg.Probes)
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Minute})

	fail(b, 2)
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
	assert.Equal(t, 2, b.Snapshot().Failures)

	fail(b, 1)
	assert.Equal(t, BreakerOpen, b.Snapshot().State)
	assert.ErrorIs(t, b.Allow(), ErrBreakerOpen)
}

func TestBreaker_SuccessClearsRun(t *testing.T) {
	b, _ := newTestBreaker(BreakerConfig{Threshold: 3})

	fail(b, 2)
	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Zero(t, b.Snapshot().Failures)

	fail(b, 2)
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
}

func TestBreaker_ProbeCloses(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{Threshold: 1, Cooldown: time.Second, Probes: 2})
	fail(b, 1)
	require.Equal(t, BreakerOpen, b.Snapshot().State)

	clock.Advance(2 * time.Second)
	assert.Equal(t, BreakerProbing, b.Snapshot().State)

	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, BreakerProbing, b.Snapshot().State, "one probe is not enough")

	require.NoError(t, b.Allow())
	b.Record(nil)
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(BreakerConfig{Threshold: 3, Cooldown: time.Second})
	fail(b, 3)

	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Record(errStoreDown)

	snap := b.Snapshot()
	assert.Equal(t, BreakerOpen, snap.State)
	assert.Equal(t, clock.Now(), snap.OpenedAt)
}

func TestBreaker_CountsFilter(t *testing.T) {
	notFound := errors.New("store: not found")
	b, _ := newTestBreaker(BreakerConfig{
		Threshold: 2,
		Counts:    func(err error) bool { return !errors.Is(err, notFound) },
	})

	for i := 0; i < 5; i++ {
		b.Record(notFound)
	}
	assert.Equal(t, BreakerClosed, b.Snapshot().State)

	fail(b, 2)
	assert.Equal(t, BreakerOpen, b.Snapshot().State)
}

func TestBreaker_TransitionsAndReset(t *testing.T) {
	var seen []string
	b, clock := newTestBreaker(BreakerConfig{
		Threshold: 1,
		Cooldown:  time.Second,
		OnTransition: func(from, to BreakerState) {
			seen = append(seen, from.String()+">"+to.String())
		},
	})

	fail(b, 1)
	clock.Advance(time.Second)
	require.NoError(t, b.Allow())
	b.Reset()

	assert.Equal(t, []string{"closed>open", "open>probing", "probing>closed"}, seen)
	assert.Equal(t, BreakerSnapshot{State: BreakerClosed}, b.Snapshot())

	b.Reset()
	assert.Len(t, seen, 3, "resetting a closed breaker is silent")
}

func TestBreaker_Concurrent(t *testing.T) {
	b := NewBreaker("store", BreakerConfig{Threshold: 1000})
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if b.Allow() == nil {
					b.Record(nil)
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, BreakerClosed, b.Snapshot().State)
}

func TestBreakerState_String(t *testing.T) {
	assert.Equal(t, "closed", BreakerClosed.String())
	assert.Equal(t, "open", BreakerOpen.String())
	assert.Equal(t, "probing", BreakerProbing.String())
	assert.Equal(t, "unknown", BreakerState(9).String())
}

func TestNewBreakerConfig(t *testing.T) {
	c := NewBreakerConfig(0, time.Second)
	assert.Equal(t, 5, c.Threshold)
	assert.Equal(t, time.Second, c.Cooldown)

	c = NewBreakerConfig(8, 0)
	assert.Equal(t, 8, c.Threshold)
	assert.Equal(t, 30*time.Second, c.Cooldown)
}
