package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/cache"
)

func newRedisLimiter(t *testing.T, limit int, clock clockwork.Clock) *RedisLimiter {
	t.Helper()
	mr := miniredis.RunT(t)
	c := cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = c.Close() })
	return NewRedisLimiter(c, "openai", limit, time.Minute, clock)
}

// limiterCases runs the same behaviour checks against every implementation.
func limiterCases(t *testing.T, build func(t *testing.T, limit int, clock clockwork.Clock) Limiter) {
	ctx := context.Background()

	t.Run("allows up to the limit", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		l := build(t, 3, clock)

		for i := 0; i < 3; i++ {
			d, err := l.Allow(ctx, "user:1")
			require.NoError(t, err)
			assert.True(t, d.Allowed)
			assert.Equal(t, 3, d.Limit)
			assert.Equal(t, 2-i, d.Remaining)
			clock.Advance(time.Second)
		}

		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
		assert.Equal(t, 57*time.Second, d.RetryAfter(clock.Now()))
	})

	t.Run("identifiers are independent", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		l := build(t, 1, clock)

		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = l.Allow(ctx, "session:abc")
		require.NoError(t, err)
		assert.True(t, d.Allowed)

		d, err = l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		clock := clockwork.NewFakeClock()
		l := build(t, 2, clock)

		_, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		clock.Advance(30 * time.Second)
		_, err = l.Allow(ctx, "user:1")
		require.NoError(t, err)

		d, err := l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.False(t, d.Allowed)

		// the first request leaves the window
		clock.Advance(31 * time.Second)
		d, err = l.Allow(ctx, "user:1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 0, d.Remaining)
	})
}

func TestMemoryLimiter(t *testing.T) {
	limiterCases(t, func(t *testing.T, limit int, clock clockwork.Clock) Limiter {
		return NewMemoryLimiter(limit, time.Minute, clock)
	})
}

func TestRedisLimiter(t *testing.T) {
	limiterCases(t, func(t *testing.T, limit int, clock clockwork.Clock) Limiter {
		return newRedisLimiter(t, limit, clock)
	})
}

func TestRedisLimiter_SubMicrosecondClock(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, time.March, 1, 12, 0, 0, 123456789, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	l := newRedisLimiter(t, 1, clock)
	want := start.Truncate(time.Microsecond).Add(time.Minute)

	d, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.True(t, d.Allowed)
	assert.WithinDuration(t, want, d.ResetAt, 0)

	clock.Advance(3 * time.Second)
	d, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	assert.WithinDuration(t, want, d.ResetAt, 0)
	assert.Equal(t, 57*time.Second, d.RetryAfter(clock.Now()))
}

func TestDecisionRetryAfter(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 500, time.UTC)
	reset := time.Date(2026, time.March, 1, 12, 0, 57, 0, time.UTC)

	assert.Equal(t, 57*time.Second, Decision{ResetAt: reset}.RetryAfter(now))
	assert.Zero(t, Decision{Allowed: true, ResetAt: reset}.RetryAfter(now))
	assert.Zero(t, Decision{ResetAt: now}.RetryAfter(now))
}

func TestRedisLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	l := newRedisLimiter(t, 1, clockwork.NewFakeClock())

	_, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	d, err := l.Allow(ctx, "user:1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	require.NoError(t, l.Reset(ctx, "user:1"))
	d, err = l.Allow(ctx, "user:1")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
}

func TestMemoryLimiter_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewMemoryLimiter(5, time.Minute, clock)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "old")
	clock.Advance(45 * time.Second)
	_, _ = l.Allow(ctx, "recent")
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, l.Sweep())
	assert.Equal(t, 1, l.Len())
}

func TestMemoryLimiter_RunSweepsPeriodically(t *testing.T) {
	clock := clockwork.NewFakeClock()
	l := NewMemoryLimiter(5, time.Minute, clock)
	_, _ = l.Allow(context.Background(), "user:1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx, DefaultSweepInterval, zap.NewNop())

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(DefaultSweepInterval)
	assert.Eventually(t, func() bool { return l.Len() == 0 }, time.Second, 5*time.Millisecond)
}
