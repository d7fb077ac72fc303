package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
)

// ErrCircuitBreakerOpen is returned by Allow while calls are being rejected.
var ErrCircuitBreakerOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of a circuit breaker
type CircuitBreakerState int32

const (
	StateClosed CircuitBreakerState = iota
	StateHalfOpen
	StateOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateHalfOpen:
		return "HALF_OPEN"
	case StateOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig defines configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// MaxFailures is the number of consecutive failures that opens the circuit
	MaxFailures int

	// Timeout is how long the circuit stays open before probing again
	Timeout time.Duration

	// MaxConcurrentRequests is the max requests allowed in Half-Open state
	MaxConcurrentRequests int

	// SuccessThreshold is the number of consecutive successes needed in Half-Open to go to Closed
	SuccessThreshold int

	// IsFailure decides which errors count against the circuit. Errors it
	// rejects count as successes. Defaults to any non-nil error.
	IsFailure func(error) bool

	// OnStateChange is called after each transition, outside the breaker's lock.
	OnStateChange func(from, to CircuitBreakerState)

	// Now defaults to time.Now.
	Now func() time.Time
}

// DefaultCircuitBreakerConfig returns a default configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxFailures:           5,
		Timeout:               30 * time.Second,
		MaxConcurrentRequests: 1,
		SuccessThreshold:      3,
	}
}

// CircuitBreaker stops calls to a failing dependency for a cool-down period.
// Calls run on the caller's goroutine; the breaker only admits and records them.
type CircuitBreaker struct {
	config CircuitBreakerConfig

	mu        sync.Mutex
	state     CircuitBreakerState
	failures  int
	successes int
	inflight  int
	openedAt  time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.IsFailure == nil {
		config.IsFailure = func(err error) bool { return err != nil }
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.MaxConcurrentRequests < 1 {
		config.MaxConcurrentRequests = 1
	}
	return &CircuitBreaker{config: config}
}

// Execute runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.Done(err)
	return err
}

// Allow reserves a call. Every successful Allow must be paired with Done.
// An open circuit whose timeout has passed moves to half-open and admits up
// to MaxConcurrentRequests probes.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateOpen && cb.config.Now().Sub(cb.openedAt) >= cb.config.Timeout {
		cb.setStateLocked(StateHalfOpen)
	}
	err := cb.admitLocked()
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) admitLocked() error {
	switch cb.state {
	case StateClosed:
		return nil
	case StateHalfOpen:
		if cb.inflight >= cb.config.MaxConcurrentRequests {
			return ErrCircuitBreakerOpen
		}
		cb.inflight++
		return nil
	}
	return ErrCircuitBreakerOpen
}

// Done records the outcome of a call reserved with Allow.
func (cb *CircuitBreaker) Done(err error) {
	cb.mu.Lock()
	from := cb.state
	if cb.state == StateHalfOpen && cb.inflight > 0 {
		cb.inflight--
	}
	if cb.config.IsFailure(err) {
		cb.onFailureLocked()
	} else {
		cb.onSuccessLocked()
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

func (cb *CircuitBreaker) onSuccessLocked() {
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.setStateLocked(StateClosed)
		}
	}
}

func (cb *CircuitBreaker) onFailureLocked() {
	cb.failures++
	switch cb.state {
	case StateClosed:
		if cb.failures >= cb.config.MaxFailures {
			cb.setStateLocked(StateOpen)
		}
	case StateHalfOpen:
		cb.setStateLocked(StateOpen)
	}
}

func (cb *CircuitBreaker) setStateLocked(state CircuitBreakerState) {
	cb.state = state
	cb.successes = 0
	cb.inflight = 0
	switch state {
	case StateClosed:
		cb.failures = 0
	case StateOpen:
		cb.openedAt = cb.config.Now()
	}
}

func (cb *CircuitBreaker) notify(from, to CircuitBreakerState) {
	if from != to && cb.config.OnStateChange != nil {
		cb.config.OnStateChange(from, to)
	}
}

func (cb *CircuitBreaker) transition(state CircuitBreakerState) {
	cb.mu.Lock()
	from := cb.state
	cb.setStateLocked(state)
	cb.mu.Unlock()
	cb.notify(from, state)
}

// TransitionToHalfOpen lets the next call probe the dependency now.
func (cb *CircuitBreaker) TransitionToHalfOpen() {
	cb.transition(StateHalfOpen)
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.transition(StateClosed)
}

// State returns the current state of the circuit breaker
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// CircuitBreakerStats is a snapshot of the breaker's counters
type CircuitBreakerStats struct {
	State     CircuitBreakerState
	Failures  int
	Successes int
	Requests  int
}

// Stats returns current statistics
func (cb *CircuitBreaker) Stats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return CircuitBreakerStats{
		State:     cb.state,
		Failures:  cb.failures,
		Successes: cb.successes,
		Requests:  cb.inflight,
	}
}
