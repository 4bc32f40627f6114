package concurrency

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Allow-gated operations while the breaker is open.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreakerState represents the state of the circuit breaker.
type CircuitBreakerState int32

const (
	// StateClosed lets every operation through.
	StateClosed CircuitBreakerState = iota
	// StateOpen blocks operations until the reset timeout elapses.
	StateOpen
	// StateHalfOpen lets operations through on probation.
	StateHalfOpen
)

func (s CircuitBreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	}
	return "unknown"
}

// DefaultHalfOpenSuccesses is the number of successes that close a half-open breaker.
const DefaultHalfOpenSuccesses = 5

// CircuitBreaker opens after a run of consecutive failures and probes again
// once resetTimeout has passed since the last failure.
type CircuitBreaker struct {
	mu                   sync.Mutex
	state                CircuitBreakerState
	consecutiveFailures  int
	consecutiveSuccesses int
	lastFailure          time.Time

	failureThreshold  int
	halfOpenSuccesses int
	resetTimeout      time.Duration
	now               func() time.Time
	onStateChange     func(from, to CircuitBreakerState)
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithStateChange registers fn to be called on every transition. fn runs
// with the breaker locked and must not call back into it.
func WithStateChange(fn func(from, to CircuitBreakerState)) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.onStateChange = fn }
}

// WithHalfOpenSuccesses sets the successes needed to close a half-open breaker.
func WithHalfOpenSuccesses(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) {
		if n > 0 {
			cb.halfOpenSuccesses = n
		}
	}
}

func withClock(now func() time.Time) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.now = now }
}

// NewCircuitBreaker creates a closed breaker. Non-positive arguments fall
// back to DefaultBreakerThreshold and DefaultBreakerReset.
func NewCircuitBreaker(failureThreshold int, resetTimeout time.Duration, opts ...CircuitBreakerOption) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultBreakerThreshold
	}
	if resetTimeout <= 0 {
		resetTimeout = DefaultBreakerReset
	}
	cb := &CircuitBreaker{
		failureThreshold:  failureThreshold,
		halfOpenSuccesses: DefaultHalfOpenSuccesses,
		resetTimeout:      resetTimeout,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Allow reports whether an operation may proceed. An open breaker whose
// reset timeout has passed moves to half-open and allows it.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != StateOpen {
		return true
	}
	if cb.now().Sub(cb.lastFailure) > cb.resetTimeout {
		cb.transitionTo(StateHalfOpen)
		return true
	}
	return false
}

// RemainingOpen returns how long an open breaker stays open, or zero.
func (cb *CircuitBreaker) RemainingOpen() time.Duration {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state != StateOpen {
		return 0
	}
	if left := cb.resetTimeout - cb.now().Sub(cb.lastFailure); left > 0 {
		return left
	}
	return 0
}

// RecordSuccess records a successful operation.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveFailures = 0
	if cb.state != StateHalfOpen {
		return
	}
	cb.consecutiveSuccesses++
	if cb.consecutiveSuccesses >= cb.halfOpenSuccesses {
		cb.transitionTo(StateClosed)
	}
}

// RecordFailure records a failed operation. Any failure while half-open
// reopens the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.consecutiveSuccesses = 0
	cb.consecutiveFailures++
	cb.lastFailure = cb.now()

	switch {
	case cb.state == StateHalfOpen:
		cb.transitionTo(StateOpen)
	case cb.state == StateClosed && cb.consecutiveFailures >= cb.failureThreshold:
		cb.transitionTo(StateOpen)
	}
}

// State returns the current state without advancing it.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// ConsecutiveFailures returns the current failure run length.
func (cb *CircuitBreaker) ConsecutiveFailures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.consecutiveFailures
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.transitionTo(StateClosed)
	cb.consecutiveFailures = 0
	cb.lastFailure = time.Time{}
}

func (cb *CircuitBreaker) transitionTo(next CircuitBreakerState) {
	prev := cb.state
	if prev == next {
		return
	}
	cb.state = next
	cb.consecutiveSuccesses = 0
	if next == StateClosed {
		cb.consecutiveFailures = 0
	}
	if cb.onStateChange != nil {
		cb.onStateChange(prev, next)
	}
}
