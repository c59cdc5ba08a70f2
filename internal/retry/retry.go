// Package retry provides a reusable exponential-backoff executor with
// pluggable error classification, generalized from the retry loop the
// teacher used for its single external collaborator (withRetry/shouldRetry
// in its Emergent client) into a shared wrapper usable by both the storage
// layer (§4.8) and the embedding client (§4.5).
package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"time"
)

// Class categorizes an error for retry purposes.
type Class int

const (
	// ClassOther covers non-retryable errors not otherwise classified.
	ClassOther Class = iota
	ClassConnectionFailed
	ClassAuthenticationFailed
	ClassTemporarilyUnavailable
	ClassTooManyConnections
	ClassDatabaseNotFound
)

// Retryable reports whether a class should trigger another attempt.
func (c Class) Retryable() bool {
	switch c {
	case ClassConnectionFailed, ClassTemporarilyUnavailable, ClassTooManyConnections:
		return true
	default:
		return false
	}
}

func (c Class) String() string {
	switch c {
	case ClassConnectionFailed:
		return "connection-failed"
	case ClassAuthenticationFailed:
		return "authentication-failed"
	case ClassTemporarilyUnavailable:
		return "temporarily-unavailable"
	case ClassTooManyConnections:
		return "too-many-connections"
	case ClassDatabaseNotFound:
		return "database-not-found"
	default:
		return "other"
	}
}

// Classifier maps an error to a Class. Callers supply a domain-specific
// classifier (storage error codes differ from HTTP status codes).
type Classifier func(err error) Class

// Config controls backoff timing and attempt budget.
type Config struct {
	MaxAttempts    int
	InitialDelay   time.Duration
	MaxDelay       time.Duration
	Multiplier     float64
	Jitter         bool
	Classify       Classifier
}

// DefaultStorageConfig matches §4.8's defaults.
func DefaultStorageConfig(classify Classifier) Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Classify:     classify,
	}
}

// DefaultEmbeddingConfig matches §4.5's defaults.
func DefaultEmbeddingConfig(classify Classifier) Config {
	return Config{
		MaxAttempts:  5,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		Classify:     classify,
	}
}

// Do runs fn, retrying on retryable errors per cfg until MaxAttempts is
// exhausted, the context is cancelled, or fn succeeds. It returns the last
// error, wrapped with attempt context, on terminal failure.
func Do(ctx context.Context, cfg Config, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		class := ClassOther
		if cfg.Classify != nil {
			class = cfg.Classify(err)
		}
		if !class.Retryable() || attempt == cfg.MaxAttempts {
			return fmt.Errorf("attempt %d/%d (%s): %w", attempt, cfg.MaxAttempts, class, err)
		}

		sleep := delay
		if cfg.Jitter {
			jitter := time.Duration(rand.Int63n(int64(sleep) / 5)) // +/-10% of sleep, centered below
			sleep = sleep - sleep/10 + jitter
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled during backoff after attempt %d: %w", attempt, ctx.Err())
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return fmt.Errorf("exhausted retries: %w", lastErr)
}

// ClassifyNetworkError is a general-purpose classifier for network-level
// errors shared by storage and embedding callers; domain-specific
// classifiers (e.g. Postgres SQLSTATE codes, HTTP status codes) should
// delegate to this as a fallback for the connectivity cases it recognizes.
func ClassifyNetworkError(err error) Class {
	if err == nil {
		return ClassOther
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTemporarilyUnavailable
		}
		return ClassConnectionFailed
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return ClassConnectionFailed
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTemporarilyUnavailable
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection refused"), strings.Contains(msg, "connection reset"), strings.Contains(msg, "broken pipe"):
		return ClassConnectionFailed
	case strings.Contains(msg, "too many connections"), strings.Contains(msg, "too many clients"):
		return ClassTooManyConnections
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "unavailable"), strings.Contains(msg, "eof"):
		return ClassTemporarilyUnavailable
	case strings.Contains(msg, "password authentication"), strings.Contains(msg, "authentication failed"), strings.Contains(msg, "permission denied"):
		return ClassAuthenticationFailed
	case strings.Contains(msg, "database") && strings.Contains(msg, "does not exist"):
		return ClassDatabaseNotFound
	default:
		return ClassOther
	}
}
