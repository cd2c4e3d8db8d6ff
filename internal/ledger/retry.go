// internal/ledger/retry.go
package ledger

import (
	"context"

	"github.com/javajoker/farmtrace-backend/internal/errs"
)

// RetryingClient gives every call one bounded retry on LedgerUnavailable.
// Rejections are returned immediately.
type RetryingClient struct {
	next  Client
	retry errs.RetryConfig
}

func NewRetryingClient(next Client, cfg errs.RetryConfig) *RetryingClient {
	return &RetryingClient{next: next, retry: cfg}
}

func (c *RetryingClient) Submit(ctx context.Context, msg Message) (Receipt, error) {
	var receipt Receipt
	err := errs.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		receipt, err = c.next.Submit(ctx, msg)
		return err
	})
	return receipt, err
}

func (c *RetryingClient) QueryHistory(ctx context.Context, produceID string) ([]Event, error) {
	var events []Event
	err := errs.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		events, err = c.next.QueryHistory(ctx, produceID)
		return err
	})
	return events, err
}

func (c *RetryingClient) OpenAccount(ctx context.Context, farmerID string) (string, error) {
	var account string
	err := errs.Retry(ctx, c.retry, func(ctx context.Context) error {
		var err error
		account, err = c.next.OpenAccount(ctx, farmerID)
		return err
	})
	return account, err
}
