package providers

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"time"
)

// RetryConfig bounds transient-failure retries for provider HTTP calls.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig retries twice with jittered exponential backoff.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    8 * time.Second,
	}
}

// retryableError wraps an error that is safe to retry (429, 5xx, network).
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

// Retryable marks err as transient so RetryDo will attempt again.
func Retryable(err error) error {
	return &retryableError{err: err}
}

// RetryDo runs fn, retrying transient failures with backoff.
// Non-retryable errors (including ErrContextOverflow) surface immediately.
func RetryDo[T any](ctx context.Context, cfg RetryConfig, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		v, err := fn()
		if err == nil {
			return v, nil
		}
		lastErr = err

		var re *retryableError
		var netErr net.Error
		transient := errors.As(err, &re) || (errors.As(err, &netErr) && netErr.Timeout())
		if !transient || attempt == cfg.MaxAttempts {
			return zero, err
		}

		delay := cfg.BaseDelay << (attempt - 1)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
		// Full jitter keeps concurrent sessions from thundering.
		delay = time.Duration(rand.Int63n(int64(delay)) + int64(cfg.BaseDelay)/2)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return zero, fmt.Errorf("retry aborted: %w", ctx.Err())
		}
	}
	return zero, lastErr
}
