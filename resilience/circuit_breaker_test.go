package resilience

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTest = errors.New("test error")

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type transition struct{ from, to CircuitBreakerState }

// newTestBreaker opens after 3 failures, probes after a second and closes
// after 2 successful probes.
func newTestBreaker() (*CircuitBreaker, *fakeClock, *[]transition) {
	clock := newFakeClock()
	var seen []transition
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures:           3,
		Timeout:               time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      2,
		Now:                   clock.Now,
		OnStateChange: func(from, to CircuitBreakerState) {
			seen = append(seen, transition{from, to})
		},
	})
	return cb, clock, &seen
}

func fail(context.Context) error    { return errTest }
func succeed(context.Context) error { return nil }

func trip(t *testing.T, cb *CircuitBreaker) {
	t.Helper()
	for range 3 {
		assert.ErrorIs(t, cb.Execute(context.Background(), fail), errTest)
	}
	require.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerInitialState(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, CircuitBreakerStats{State: StateClosed}, cb.Stats())
	assert.NoError(t, cb.Execute(context.Background(), succeed))
}

func TestCircuitBreakerSuccessResetsFailures(t *testing.T) {
	cb, _, _ := newTestBreaker()
	ctx := context.Background()
	cb.Execute(ctx, fail)
	cb.Execute(ctx, fail)
	assert.Equal(t, 2, cb.Stats().Failures)
	require.NoError(t, cb.Execute(ctx, succeed))
	assert.Zero(t, cb.Stats().Failures)
	cb.Execute(ctx, fail)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerOpensAndRejects(t *testing.T) {
	cb, clock, seen := newTestBreaker()
	trip(t, cb)
	assert.Equal(t, []transition{{StateClosed, StateOpen}}, *seen)

	called := false
	err := cb.Execute(context.Background(), func(context.Context) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.False(t, called)

	clock.Advance(999 * time.Millisecond)
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen)
}

func TestCircuitBreakerHalfOpenToClosed(t *testing.T) {
	cb, clock, seen := newTestBreaker()
	trip(t, cb)
	clock.Advance(time.Second)

	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateHalfOpen, cb.State())
	require.NoError(t, cb.Execute(context.Background(), succeed))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, []transition{
		{StateClosed, StateOpen},
		{StateOpen, StateHalfOpen},
		{StateHalfOpen, StateClosed},
	}, *seen)
}

func TestCircuitBreakerHalfOpenToOpen(t *testing.T) {
	cb, clock, _ := newTestBreaker()
	trip(t, cb)
	clock.Advance(time.Second)

	assert.ErrorIs(t, cb.Execute(context.Background(), fail), errTest)
	assert.Equal(t, StateOpen, cb.State())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen, "timeout restarts")

	clock.Advance(time.Second)
	assert.NoError(t, cb.Allow())
	cb.Done(nil)
}

func TestCircuitBreakerHalfOpenLimitsProbes(t *testing.T) {
	cb, _, _ := newTestBreaker()
	cb.TransitionToHalfOpen()

	require.NoError(t, cb.Allow())
	assert.ErrorIs(t, cb.Allow(), ErrCircuitBreakerOpen, "one probe at a time")
	assert.Equal(t, 1, cb.Stats().Requests)

	cb.Done(nil)
	require.NoError(t, cb.Allow())
	cb.Done(nil)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerIgnoredErrorsDoNotTrip(t *testing.T) {
	ignored := errors.New("conflict")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		MaxFailures: 1,
		Timeout:     time.Minute,
		IsFailure:   func(err error) bool { return err != nil && !errors.Is(err, ignored) },
	})
	for range 5 {
		assert.ErrorIs(t, cb.Execute(context.Background(), func(context.Context) error {
			return errors.Wrap(ignored, "write")
		}), ignored)
	}
	assert.Equal(t, StateClosed, cb.State())

	cb.Execute(context.Background(), fail)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreakerReset(t *testing.T) {
	cb, _, seen := newTestBreaker()
	trip(t, cb)
	cb.Reset()
	assert.Equal(t, CircuitBreakerStats{State: StateClosed}, cb.Stats())
	assert.Equal(t, transition{StateOpen, StateClosed}, (*seen)[len(*seen)-1])

	cb.Reset()
	assert.Len(t, *seen, 2, "no transition, no callback")
}

func TestCircuitBreakerConcurrentUse(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1000, Timeout: time.Minute})
	var wg sync.WaitGroup
	for i := range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 50 {
				cb.Execute(context.Background(), func(context.Context) error {
					if (i+j)%2 == 0 {
						return errTest
					}
					return nil
				})
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryWithCircuitBreaker(t *testing.T) {
	cb, _, _ := newTestBreaker()
	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), fastConfig(2), cb, func() error {
		attempts++
		if attempts < 2 {
			return errTest
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, attempts)
	assert.Equal(t, StateClosed, cb.State())
}

func TestRetryWithCircuitBreakerOpen(t *testing.T) {
	cb, _, _ := newTestBreaker()
	trip(t, cb)

	attempts := 0
	err := RetryWithCircuitBreaker(context.Background(), fastConfig(5), cb, func() error {
		attempts++
		return errTest
	})
	assert.ErrorIs(t, err, ErrCircuitBreakerOpen)
	assert.Zero(t, attempts)
}
