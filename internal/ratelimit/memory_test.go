package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/railzwaylabs/insightpass/internal/config"
	"github.com/stretchr/testify/require"
)

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now(context.Context) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func TestMemoryLimiterFixedWindow(t *testing.T) {
	clk := newManualClock()
	l := NewMemoryLimiter(Static(time.Minute, 5), clk)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d, err := l.Check(ctx, "dev-1")
		require.NoError(t, err)
		require.True(t, d.Allowed, "request %d", i)
		require.Equal(t, 4-i, d.Remaining)
	}

	clk.Advance(20 * time.Second)
	d, err := l.Check(ctx, "dev-1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, 40*time.Second, d.RetryAfter)
	require.Equal(t, 40, d.RetryAfterSeconds())

	other, err := l.Check(ctx, "dev-2")
	require.NoError(t, err)
	require.True(t, other.Allowed)

	clk.Advance(40 * time.Second)
	d, err = l.Check(ctx, "dev-1")
	require.NoError(t, err)
	require.True(t, d.Allowed, "window resets once its reset time has passed")
	require.Equal(t, 4, d.Remaining)
}

func TestMemoryLimiterReadsReloadedSettings(t *testing.T) {
	clk := newManualClock()
	holder := config.NewRateLimitHolder(config.Config{RateLimit: config.RateLimitConfig{Window: time.Minute, MaxRequests: 1}})
	l := NewMemoryLimiter(holder, clk)
	ctx := context.Background()

	d, _ := l.Check(ctx, "dev-1")
	require.True(t, d.Allowed)
	d, _ = l.Check(ctx, "dev-1")
	require.False(t, d.Allowed)

	holder.Set(config.RateLimitConfig{Window: time.Minute, MaxRequests: 3})
	d, _ = l.Check(ctx, "dev-1")
	require.True(t, d.Allowed)
}

func TestMemoryLimiterCleanup(t *testing.T) {
	clk := newManualClock()
	l := NewMemoryLimiter(Static(time.Minute, 5), clk)
	ctx := context.Background()

	_, _ = l.Check(ctx, "a")
	clk.Advance(30 * time.Second)
	_, _ = l.Check(ctx, "b")
	require.Equal(t, 2, l.size())

	require.Equal(t, 1, l.Cleanup(clk.Now(ctx).Add(30*time.Second)))
	require.Equal(t, 1, l.size())
	require.Equal(t, 1, l.Cleanup(clk.Now(ctx).Add(time.Hour)))
	require.Zero(t, l.size())
}

func TestMemoryLimiterRejectsEmptyIdentifier(t *testing.T) {
	l := NewMemoryLimiter(Static(time.Minute, 5), newManualClock())
	_, err := l.Check(context.Background(), "  ")
	require.ErrorIs(t, err, ErrMissingIdentifier)
}

func TestMemoryLimiterConcurrentChecksNeverOveradmit(t *testing.T) {
	l := NewMemoryLimiter(Static(time.Minute, 5), newManualClock())
	ctx := context.Background()

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d, err := l.Check(ctx, "dev-1")
			if err == nil && d.Allowed {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 5, allowed)
}
