package resilience

import (
	"sync"
	"time"
)

// BreakerState is the position of a circuit breaker in its lifecycle.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Breaker guards one logical dependency. It is owned exclusively by the
// Client bound to that dependency key and never shared across keys. Counters
// are mutex-protected because many conversation threads share the same
// dependency and thus the same breaker.
type Breaker struct {
	mu sync.Mutex

	state               BreakerState
	consecutiveFailures int
	openedAt            time.Time
	halfOpenInFlight    bool

	failureThreshold int
	cooldown         time.Duration

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(failureThreshold int, cooldown time.Duration) *Breaker {
	if failureThreshold <= 0 {
		failureThreshold = 1
	}

	return &Breaker{
		state:            BreakerClosed,
		failureThreshold: failureThreshold,
		cooldown:         cooldown,
		now:              time.Now,
	}
}

// Allow reports whether a call may proceed. While open and cooling down it
// returns the remaining cooldown and false. Once the cooldown elapses the
// breaker moves to half-open and admits exactly one trial call until that
// trial's outcome is recorded.
func (b *Breaker) Allow() (time.Duration, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return 0, true
	case BreakerOpen:
		elapsed := b.now().Sub(b.openedAt)
		if elapsed < b.cooldown {
			return b.cooldown - elapsed, false
		}

		b.state = BreakerHalfOpen
		b.halfOpenInFlight = true

		return 0, true
	case BreakerHalfOpen:
		if b.halfOpenInFlight {
			return b.cooldown, false
		}

		b.halfOpenInFlight = true

		return 0, true
	}

	return 0, true
}

// RecordSuccess resets the failure count and closes a half-open breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures = 0
	b.halfOpenInFlight = false
	b.state = BreakerClosed
}

// RecordFailure counts a dependency-health failure. A half-open trial failure
// reopens the circuit immediately; a closed breaker opens once the threshold
// is reached.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.consecutiveFailures++

	switch b.state {
	case BreakerHalfOpen:
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.halfOpenInFlight = false
	case BreakerClosed:
		if b.consecutiveFailures >= b.failureThreshold {
			b.state = BreakerOpen
			b.openedAt = b.now()
		}
	case BreakerOpen:
	}
}

// State returns the current breaker state.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.state
}

// ConsecutiveFailures returns the current failure streak.
func (b *Breaker) ConsecutiveFailures() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.consecutiveFailures
}
