// Package breaker implements a three-state circuit breaker (closed, open,
// half-open) guarding calls to the LLM client, in the style of the failover
// engine's per-provider breaker but serialized through a single mutex rather
// than tracked per named backend, since there is exactly one LLM provider
// here.
package breaker

import (
	"sync"
	"time"
)

// State is one of the three circuit breaker states.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

// Breaker trips to open after a configured number of consecutive failures,
// and moves to half-open once the cooldown elapses. Half-open permits calls
// until the next recorded outcome closes or reopens it; it does not limit
// them to a single probe.
type Breaker struct {
	mu sync.Mutex

	failureThreshold int
	cooldown         time.Duration

	state       State
	failures    int
	lastFailure time.Time
}

// New creates a Breaker starting in the closed state.
func New(failureThreshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		state:            StateClosed,
	}
}

// CanCall reports whether a call is currently permitted, transitioning open
// to half-open if the cooldown has elapsed since the last recorded failure.
func (b *Breaker) CanCall() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed, StateHalfOpen:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count. In
// half-open state a single success is enough to close; in closed state it
// is a no-op beyond the reset.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = StateClosed
	b.failures = 0
}

// RecordFailure increments the failure count and opens the breaker once the
// threshold is reached. A failure while half-open reopens immediately
// regardless of the threshold, matching the Python reference's
// half_open+failure -> open transition.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	if b.state == StateHalfOpen {
		b.state = StateOpen
		return
	}

	b.failures++
	if b.failures >= b.failureThreshold {
		b.state = StateOpen
	}
}

// CurrentState returns the breaker's present state without mutating it.
func (b *Breaker) CurrentState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
