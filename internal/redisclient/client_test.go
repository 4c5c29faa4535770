package redisclient

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return Wrap(rdb), mr
}

func TestIdempotencyKey(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	seen, err := c.CheckIdempotencyKey(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, c.SetIdempotencyKey(ctx, "txn-1", "matched", time.Hour))

	seen, err = c.CheckIdempotencyKey(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, seen)

	val, ok, err := c.GetIdempotencyKey(ctx, "txn-1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "matched", val)

	mr.FastForward(2 * time.Hour)
	_, ok, err = c.GetIdempotencyKey(ctx, "txn-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLockIsExclusiveAndOwned(t *testing.T) {
	c, mr := newTestClient(t)
	ctx := context.Background()

	first, err := c.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, first)

	second, err := c.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	assert.Nil(t, second)

	// a stale owner must not release a lock taken over by someone else
	mr.FastForward(2 * time.Minute)
	third, err := c.AcquireLock(ctx, "sweep", time.Minute)
	require.NoError(t, err)
	require.NotNil(t, third)

	require.NoError(t, c.ReleaseLock(ctx, first))
	assert.True(t, mr.Exists("lock:sweep"))

	require.NoError(t, c.ReleaseLock(ctx, third))
	assert.False(t, mr.Exists("lock:sweep"))
	assert.NoError(t, c.ReleaseLock(ctx, nil))
}
