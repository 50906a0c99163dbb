package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// FailSoft wraps a Cache so that backend failures never reach the caller:
// Get degrades to a miss, Set and Delete to no-ops. Each kind of failure is
// logged once, then suppressed until the backend recovers.
type FailSoft struct {
	inner Cache

	mu     sync.Mutex
	logged map[string]bool
}

// NewFailSoft wraps inner in best-effort semantics.
func NewFailSoft(inner Cache) *FailSoft {
	return &FailSoft{inner: inner, logged: make(map[string]bool)}
}

func (c *FailSoft) Ping(ctx context.Context) error {
	return c.inner.Ping(ctx)
}

func (c *FailSoft) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, found, err := c.inner.Get(ctx, key)
	if err != nil {
		c.report("get", err)
		return nil, false, nil
	}
	c.recover("get")
	return val, found, nil
}

func (c *FailSoft) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.inner.Set(ctx, key, value, ttl); err != nil {
		c.report("set", err)
		return nil
	}
	c.recover("set")
	return nil
}

func (c *FailSoft) Delete(ctx context.Context, key string) error {
	if err := c.inner.Delete(ctx, key); err != nil {
		c.report("delete", err)
		return nil
	}
	c.recover("delete")
	return nil
}

func (c *FailSoft) report(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logged[op] {
		return
	}
	c.logged[op] = true
	slog.Warn("cache degraded, continuing without it", "op", op, "error", err)
}

func (c *FailSoft) recover(op string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logged[op] {
		delete(c.logged, op)
		slog.Info("cache recovered", "op", op)
	}
}

// Noop is a Cache that stores nothing. It keeps the coordinator's logic
// identical when caching is disabled.
type Noop struct{}

func (Noop) Ping(ctx context.Context) error { return nil }

func (Noop) Get(ctx context.Context, key string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error { return nil }

func (Noop) Delete(ctx context.Context, key string) error { return nil }
