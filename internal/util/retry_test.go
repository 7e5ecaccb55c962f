package util

import (
	"context"
	"errors"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Millisecond,
		MaxWait:     5 * time.Millisecond,
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"ETIMEDOUT", syscall.ETIMEDOUT, true},
		{"ECONNRESET", syscall.ECONNRESET, true},
		{"ENOENT", syscall.ENOENT, false},
		{"PathError with EIO", &os.PathError{Op: "open", Path: "/x", Err: syscall.EIO}, true},
		{"PathError with ENOENT", &os.PathError{Op: "open", Path: "/x", Err: syscall.ENOENT}, false},
		{"mysql bad connection", errors.New("driver: bad connection"), true},
		{"sqlite locked", errors.New("database is locked (5) (SQLITE_BUSY)"), true},
		{"s3 throttling", errors.New("api error SlowDown: please reduce your request rate"), true},
		{"wrapped timeout", errors.New("get object: i/o timeout"), true},
		{"canceled", context.Canceled, false},
		{"generic", errors.New("invalid argument"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRetryableError(tt.err))
		})
	}
}

func TestRetryWithBackoff_SuccessAfterRetries(t *testing.T) {
	attempts := 0
	result, err := RetryWithBackoff(context.Background(), fastRetry(), func() (string, error) {
		attempts++
		if attempts < 3 {
			return "", syscall.ETIMEDOUT
		}
		return "ok", nil
	}, "test")

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_Exhausted(t *testing.T) {
	attempts := 0
	_, err := RetryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		return 0, syscall.ECONNREFUSED
	}, "test")

	require.Error(t, err)
	assert.ErrorIs(t, err, syscall.ECONNREFUSED)
	assert.Equal(t, 3, attempts)
}

func TestRetryWithBackoff_NonRetryable(t *testing.T) {
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return ErrInvalidConfig
	}, "test")

	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Equal(t, 1, attempts)
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := &RetryConfig{MaxAttempts: 5, InitialWait: time.Hour, MaxWait: time.Hour}

	attempts := 0
	err := Retry(ctx, cfg, func() error {
		attempts++
		cancel()
		return syscall.ETIMEDOUT
	}, "test")

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
}
