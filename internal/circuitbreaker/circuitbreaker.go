// Package circuitbreaker shields the transaction pipeline from an unhealthy
// RPC node: after a run of transport failures the breaker opens and network
// calls fail fast instead of stalling approval flows and tracker sweeps.
package circuitbreaker

import (
	"sync"
	"time"
)

// State of the breaker.
type State int

const (
	StateClosed   State = iota // requests pass through
	StateOpen                  // requests fail fast
	StateHalfOpen              // probing whether the node recovered
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// Config tunes the breaker thresholds.
type Config struct {
	// FailureThreshold is the run of consecutive failures that opens the
	// breaker.
	FailureThreshold int

	// SuccessThreshold is the run of consecutive half-open successes that
	// closes it again.
	SuccessThreshold int

	// CoolDown is how long the breaker stays open before probing.
	CoolDown time.Duration
}

// DefaultConfig matches the behavior expected by the manager: five straight
// failures open the breaker for thirty seconds.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		CoolDown:         30 * time.Second,
	}
}

// CircuitBreaker tracks consecutive outcomes of network calls.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg Config

	state     State
	failures  int
	successes int
	openedAt  time.Time
}

// New builds a breaker, applying defaults for unset config fields.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.CoolDown <= 0 {
		cfg.CoolDown = 30 * time.Second
	}
	return &CircuitBreaker{cfg: cfg, state: StateClosed}
}

// effectiveState folds the cool-down expiry into the stored state.
// Callers must hold the mutex.
func (cb *CircuitBreaker) effectiveState() State {
	if cb.state == StateOpen && time.Since(cb.openedAt) >= cb.cfg.CoolDown {
		return StateHalfOpen
	}
	return cb.state
}

// Allow reports whether a call may proceed. A half-open breaker lets probes
// through.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState() != StateOpen
}

// RecordSuccess notes a healthy call and may close a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.successes++
	if cb.effectiveState() == StateHalfOpen && cb.successes >= cb.cfg.SuccessThreshold {
		cb.state = StateClosed
		cb.successes = 0
	}
}

// RecordFailure notes a failed call. A failing probe reopens immediately; a
// run of failures while closed trips the breaker.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.successes = 0
	cb.failures++

	switch cb.effectiveState() {
	case StateHalfOpen:
		cb.state = StateOpen
		cb.openedAt = time.Now()
	case StateClosed:
		if cb.failures >= cb.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = time.Now()
		}
	}
}

// Reset forces the breaker closed and clears all counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

// Stats is a point-in-time view of the breaker.
type Stats struct {
	State                State
	ConsecutiveFailures  int
	ConsecutiveSuccesses int
	OpenedAt             time.Time
}

// Stats returns the current counters.
func (cb *CircuitBreaker) Stats() Stats {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return Stats{
		State:                cb.effectiveState(),
		ConsecutiveFailures:  cb.failures,
		ConsecutiveSuccesses: cb.successes,
		OpenedAt:             cb.openedAt,
	}
}

// State returns the effective state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.effectiveState()
}
