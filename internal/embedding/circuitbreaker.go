package embedding

import (
	"sync"
	"time"

	"github.com/docserver-mcp/docserver/internal/metrics"
)

// Default circuit breaker thresholds from §4.5.
const (
	DefaultFailureThreshold = 5
	DefaultCooldown         = 5 * time.Minute
)

type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

// CircuitBreaker fails fast after consecutive provider failures, matching
// §4.5: open after threshold consecutive failures, half-open after
// cooldown, any success closes it.
type CircuitBreaker struct {
	mu                  sync.Mutex
	state               breakerState
	consecutiveFailures int
	threshold           int
	cooldown            time.Duration
	openedAt            time.Time
}

// NewCircuitBreaker builds a breaker with the given threshold and cooldown.
func NewCircuitBreaker(threshold int, cooldown time.Duration) *CircuitBreaker {
	return &CircuitBreaker{threshold: threshold, cooldown: cooldown}
}

// Allow reports whether a call may proceed. While open and within the
// cooldown window, it returns false; once the cooldown elapses it
// transitions to half-open and allows exactly one probe through.
func (b *CircuitBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.openedAt) >= b.cooldown {
			b.state = stateHalfOpen
			return true
		}
		return false
	case stateHalfOpen:
		// The transition above already let exactly one probe through;
		// further calls block until RecordSuccess/RecordFailure resolves
		// the probe back to closed or open.
		return false
	default:
		return true
	}
}

// RecordSuccess closes the breaker and resets the failure count.
func (b *CircuitBreaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = stateClosed
	b.consecutiveFailures = 0
	metrics.CircuitBreakerState.Set(0)
}

// RecordFailure increments the consecutive-failure count and opens the
// breaker once the threshold is reached (or immediately on a half-open
// probe's failure).
func (b *CircuitBreaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == stateHalfOpen {
		b.state = stateOpen
		b.openedAt = time.Now()
		metrics.CircuitBreakerState.Set(1)
		return
	}

	b.consecutiveFailures++
	if b.consecutiveFailures >= b.threshold {
		b.state = stateOpen
		b.openedAt = time.Now()
		metrics.CircuitBreakerState.Set(1)
	}
}
