package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRedisLimiter(t *testing.T, window time.Duration, max int) (*RedisLimiter, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	t.Cleanup(func() { _ = rdb.Close() })

	return NewRedisLimiter(rdb, Static(window, max), zap.NewNop()), mr
}

func TestRedisLimiterFixedWindow(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Check(ctx, "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.Equal(t, 2-i, d.Remaining)
	}

	d, err := l.Check(ctx, "user-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Greater(t, d.RetryAfter, time.Duration(0))
	require.LessOrEqual(t, d.RetryAfter, time.Minute)

	require.True(t, mr.Exists("ratelimit:user-1"))
	require.Greater(t, mr.TTL("ratelimit:user-1"), time.Duration(0))

	mr.FastForward(time.Minute + time.Second)

	d, err = l.Check(ctx, "user-1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	require.Equal(t, 2, d.Remaining)
}

func TestRedisLimiterKeysAreIndependent(t *testing.T) {
	l, _ := newRedisLimiter(t, time.Minute, 1)
	ctx := context.Background()

	d, _ := l.Check(ctx, "a")
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "a")
	require.False(t, d.Allowed)
	d, _ = l.Check(ctx, "b")
	require.True(t, d.Allowed)
}

func TestRedisLimiterFailsOpen(t *testing.T) {
	l, mr := newRedisLimiter(t, time.Minute, 1)
	mr.Close()

	for i := 0; i < 3; i++ {
		d, err := l.Check(context.Background(), "user-1")
		require.NoError(t, err)
		require.True(t, d.Allowed)
	}
}
