// internal/payment/token.go
package payment

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// AccessToken is a bearer credential with an absolute expiry.
type AccessToken struct {
	Value     string
	ExpiresAt time.Time
}

type TokenFetcher func(ctx context.Context) (AccessToken, error)

// TokenCache holds one bearer token and refreshes it shortly before expiry.
// Concurrent callers that miss the cache share a single fetch.
type TokenCache struct {
	fetch TokenFetcher
	skew  time.Duration
	now   func() time.Time

	mu    sync.Mutex
	token AccessToken
	group singleflight.Group
}

func NewTokenCache(fetch TokenFetcher, skew time.Duration, now func() time.Time) *TokenCache {
	if now == nil {
		now = time.Now
	}
	return &TokenCache{fetch: fetch, skew: skew, now: now}
}

func (c *TokenCache) cached() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.token.Value == "" || !c.now().Before(c.token.ExpiresAt.Add(-c.skew)) {
		return "", false
	}
	return c.token.Value, true
}

// Token returns a token valid for at least the configured skew.
func (c *TokenCache) Token(ctx context.Context) (string, error) {
	if tok, ok := c.cached(); ok {
		return tok, nil
	}

	// the shared fetch is detached from any one caller's cancellation
	ch := c.group.DoChan("token", func() (any, error) {
		if tok, ok := c.cached(); ok {
			return tok, nil
		}
		fresh, err := c.fetch(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		c.mu.Lock()
		c.token = fresh
		c.mu.Unlock()
		return fresh.Value, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate drops the cached token after the rail rejects it.
func (c *TokenCache) Invalidate() {
	c.mu.Lock()
	c.token = AccessToken{}
	c.mu.Unlock()
}

// ExpiresAt reports the current token's expiry, zero when none is held.
func (c *TokenCache) ExpiresAt() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.token.ExpiresAt
}
