package embedding

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Default rate limits from §4.5.
const (
	DefaultRPM = 3000
	DefaultTPM = 1_000_000
)

// RateLimiter is a dual token bucket (requests-per-minute and
// tokens-per-minute), each refilled continuously at its per-minute capacity
// (pro rata to the time elapsed, capped at capacity), each guarded by its own
// mutex per §5's "single mutex per bucket" sharing rule.
type RateLimiter struct {
	rpmMu       sync.Mutex
	rpmCapacity int
	rpmTokens   float64
	rpmRefilled time.Time

	tpmMu       sync.Mutex
	tpmCapacity int
	tpmTokens   float64
	tpmRefilled time.Time
}

// NewRateLimiter builds a limiter with the given per-minute capacities.
func NewRateLimiter(rpm, tpm int) *RateLimiter {
	now := time.Now()
	return &RateLimiter{
		rpmCapacity: rpm,
		rpmTokens:   float64(rpm),
		rpmRefilled: now,
		tpmCapacity: tpm,
		tpmTokens:   float64(tpm),
		tpmRefilled: now,
	}
}

// Wait blocks until both one request-slot and estimatedTokens token-budget
// are available, or ctx is cancelled. Both buckets are only ever debited
// together: a call that can satisfy one bucket but not the other leaves
// both untouched, so a retry never drains a bucket for a request that
// still hasn't been allowed to proceed.
func (r *RateLimiter) Wait(ctx context.Context, estimatedTokens int) error {
	for {
		wait, ok := r.tryTake(estimatedTokens)
		if ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("rate limiter wait cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// tryTake attempts to debit one request slot and estimatedTokens from the
// token bucket atomically: both buckets are locked (always rpm before tpm,
// a fixed order to avoid deadlocking against a concurrent caller) and only
// decremented if both already have sufficient headroom. On failure it
// returns the longer of the two buckets' refill waits and leaves both
// buckets unchanged.
func (r *RateLimiter) tryTake(tokens int) (time.Duration, bool) {
	r.rpmMu.Lock()
	defer r.rpmMu.Unlock()
	r.refillRPM()

	r.tpmMu.Lock()
	defer r.tpmMu.Unlock()
	r.refillTPM()

	rpmReady := r.rpmTokens >= 1
	tpmReady := r.tpmTokens >= float64(tokens)
	if rpmReady && tpmReady {
		r.rpmTokens--
		r.tpmTokens -= float64(tokens)
		return 0, true
	}

	wait := time.Minute / time.Duration(r.rpmCapacity)
	if !tpmReady {
		perToken := time.Minute / time.Duration(r.tpmCapacity)
		deficit := float64(tokens) - r.tpmTokens
		tpmWait := time.Duration(deficit) * perToken
		if tpmWait > wait {
			wait = tpmWait
		}
	}
	return wait, false
}

func (r *RateLimiter) refillRPM() {
	now := time.Now()
	elapsed := now.Sub(r.rpmRefilled)
	if elapsed <= 0 {
		return
	}
	refill := elapsed.Seconds() / 60.0 * float64(r.rpmCapacity)
	r.rpmTokens += refill
	if r.rpmTokens > float64(r.rpmCapacity) {
		r.rpmTokens = float64(r.rpmCapacity)
	}
	r.rpmRefilled = now
}

func (r *RateLimiter) refillTPM() {
	now := time.Now()
	elapsed := now.Sub(r.tpmRefilled)
	if elapsed <= 0 {
		return
	}
	refill := elapsed.Seconds() / 60.0 * float64(r.tpmCapacity)
	r.tpmTokens += refill
	if r.tpmTokens > float64(r.tpmCapacity) {
		r.tpmTokens = float64(r.tpmCapacity)
	}
	r.tpmRefilled = now
}
