package errs

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestKindOfWrappedError(t *testing.T) {
	base := New(KindGatewayUnavailable, "payout", "503 from rail")
	wrapped := fmt.Errorf("settle: %w", base)

	assert.Equal(t, KindGatewayUnavailable, KindOf(wrapped))
	assert.True(t, IsTransient(wrapped))
	assert.Equal(t, "503 from rail", Detail(wrapped))
	assert.Equal(t, KindInternal, KindOf(errors.New("plain")))
	assert.Nil(t, Wrap(KindInternal, "op", nil))
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return New(KindAuthFailure, "token", "bad credentials")
	})

	assert.Equal(t, 1, calls)
	assert.True(t, Is(err, KindAuthFailure))
}

func TestRetryRetriesTransientOnce(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		return New(KindLedgerUnavailable, "submit", "timeout")
	})

	assert.Equal(t, 2, calls)
	assert.True(t, Is(err, KindLedgerUnavailable))
}

func TestRetrySucceedsOnSecondAttempt(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryConfig{MaxAttempts: 2, BaseDelay: time.Millisecond}, func(context.Context) error {
		calls++
		if calls == 1 {
			return New(KindGatewayUnavailable, "payout", "502")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestRetryWhenRetriesChosenErrors(t *testing.T) {
	calls := 0
	always := func(error) bool { return true }
	err := RetryWhen(context.Background(), RetryConfig{MaxAttempts: 3, BaseDelay: time.Millisecond}, always, func(context.Context) error {
		calls++
		if calls < 3 {
			return New(KindInternal, "write", "connection reset")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}
