package api

import (
	"math"
	"sync"
	"time"
)

// RetryPolicy is how often and how patiently a failed request is repeated.
// MaxAttempts counts the first try.
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

// DefaultRetryPolicy tries three times, waiting 1s then 2s
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
		Multiplier:  2.0,
	}
}

// Delay returns the wait before retry number n (1-based), growing
// geometrically from BaseDelay and capped at MaxDelay
func (p *RetryPolicy) Delay(n int) time.Duration {
	if n < 1 {
		n = 1
	}
	d := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(n-1))
	if d > float64(p.MaxDelay) || math.IsInf(d, 1) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// CircuitBreakerState is the state of a CircuitBreaker
type CircuitBreakerState int

const (
	// StateClosed lets every request through
	StateClosed CircuitBreakerState = iota
	// StateOpen refuses requests until the reset timeout has passed
	StateOpen
	// StateHalfOpen lets one probe through; its result closes or reopens the circuit
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

// CircuitBreaker stops a batch from hammering a server that keeps failing.
// It opens after maxFailures consecutive failed requests.
type CircuitBreaker struct {
	mu           sync.Mutex
	maxFailures  int
	resetTimeout time.Duration
	failures     int
	openedAt     time.Time
	state        CircuitBreakerState
}

// NewCircuitBreaker creates a closed circuit breaker
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{maxFailures: maxFailures, resetTimeout: resetTimeout}
}

// CanExecute reports whether a request may be sent now
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.resetTimeout {
		cb.state = StateHalfOpen
	}
	return cb.state != StateOpen
}

// RecordSuccess closes the circuit
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.failures = 0
	cb.state = StateClosed
}

// RecordFailure counts a failure, opening the circuit when the limit is
// reached or a half-open probe failed
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
		cb.state = StateOpen
		cb.openedAt = time.Now()
	}
}

// State returns the current state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
