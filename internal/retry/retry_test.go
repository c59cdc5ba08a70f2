package retry

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassRetryable(t *testing.T) {
	tests := []struct {
		name string
		c    Class
		want bool
	}{
		{"connection-failed", ClassConnectionFailed, true},
		{"temporarily-unavailable", ClassTemporarilyUnavailable, true},
		{"too-many-connections", ClassTooManyConnections, true},
		{"authentication-failed", ClassAuthenticationFailed, false},
		{"database-not-found", ClassDatabaseNotFound, false},
		{"other", ClassOther, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.c.Retryable())
		})
	}
}

func TestDoSucceedsWithoutRetry(t *testing.T) {
	calls := 0
	cfg := DefaultStorageConfig(ClassifyNetworkError)
	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoRetriesRetryableErrors(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Jitter:       false,
		Classify:     func(error) Class { return ClassConnectionFailed },
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("connection refused")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryableError(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Classify:     func(error) Class { return ClassAuthenticationFailed },
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("password authentication failed")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestDoExhaustsAttempts(t *testing.T) {
	calls := 0
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
		Classify:     func(error) Class { return ClassConnectionFailed },
	}

	err := Do(context.Background(), cfg, func(ctx context.Context) error {
		calls++
		return errors.New("connection refused")
	})
	require.Error(t, err)
	assert.Equal(t, 3, calls)
}

func TestDoRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	cfg := DefaultStorageConfig(ClassifyNetworkError)
	err := Do(ctx, cfg, func(ctx context.Context) error {
		t.Fatal("fn should not be invoked when context is already cancelled")
		return nil
	})
	require.Error(t, err)
}

func TestClassifyNetworkError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Class
	}{
		{"nil", nil, ClassOther},
		{"connection refused", errors.New("dial tcp: connection refused"), ClassConnectionFailed},
		{"connection reset", errors.New("read: connection reset by peer"), ClassConnectionFailed},
		{"too many connections", errors.New("sorry, too many connections already"), ClassTooManyConnections},
		{"too many clients", fmt.Errorf("FATAL: too many clients already"), ClassTooManyConnections},
		{"timeout", errors.New("context deadline exceeded: timeout"), ClassTemporarilyUnavailable},
		{"password auth", errors.New("password authentication failed for user"), ClassAuthenticationFailed},
		{"permission denied", errors.New("permission denied"), ClassAuthenticationFailed},
		{"database missing", errors.New(`database "foo" does not exist`), ClassDatabaseNotFound},
		{"unrecognized", errors.New("something else entirely"), ClassOther},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyNetworkError(tt.err))
		})
	}
}

func TestClassString(t *testing.T) {
	assert.Equal(t, "connection-failed", ClassConnectionFailed.String())
	assert.Equal(t, "other", ClassOther.String())
}
