package cache_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/haakonsb/carcounter/internal/cache"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// brokenCache fails every operation, simulating an unreachable backend.
type brokenCache struct {
	calls int
}

var errBackendDown = errors.New("connection refused")

func (b *brokenCache) Ping(context.Context) error { return errBackendDown }

func (b *brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	b.calls++
	return nil, false, errBackendDown
}

func (b *brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	b.calls++
	return errBackendDown
}

func (b *brokenCache) Delete(context.Context, string) error {
	b.calls++
	return errBackendDown
}

func TestFailSoft_GetDegradesToMiss(t *testing.T) {
	fs := cache.NewFailSoft(&brokenCache{})

	val, found, err := fs.Get(context.Background(), "any:key")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)
}

func TestFailSoft_SetAndDeleteDegradeToNoop(t *testing.T) {
	fs := cache.NewFailSoft(&brokenCache{})
	ctx := context.Background()

	assert.NoError(t, fs.Set(ctx, "k", []byte("v"), time.Second))
	assert.NoError(t, fs.Delete(ctx, "k"))
}

func TestFailSoft_StillCallsBackend(t *testing.T) {
	broken := &brokenCache{}
	fs := cache.NewFailSoft(broken)
	ctx := context.Background()

	fs.Get(ctx, "k")
	fs.Set(ctx, "k", nil, time.Second)
	fs.Delete(ctx, "k")
	assert.Equal(t, 3, broken.calls)
}

func TestNoop(t *testing.T) {
	var c cache.Cache = cache.Noop{}
	ctx := context.Background()

	assert.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))

	val, found, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Nil(t, val)

	assert.NoError(t, c.Delete(ctx, "k"))
	assert.NoError(t, c.Ping(ctx))
}
