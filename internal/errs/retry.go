// internal/errs/retry.go
package errs

import (
	"context"
	"time"
)

type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetry is one retry after a short backoff.
var DefaultRetry = RetryConfig{MaxAttempts: 2, BaseDelay: 500 * time.Millisecond}

// Retry runs fn until it succeeds, returns a non-transient error, or the
// attempts are exhausted. The delay doubles after every failed attempt.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) error {
	return RetryWhen(ctx, cfg, IsTransient, fn)
}

// RetryWhen is Retry with the caller deciding which errors are worth another
// attempt.
func RetryWhen(ctx context.Context, cfg RetryConfig, retryable func(error) bool, fn func(context.Context) error) error {
	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	delay := cfg.BaseDelay

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		err = fn(ctx)
		if err == nil || !retryable(err) || attempt == attempts {
			return err
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return err
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
