package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"

	"github.com/BizModelAI/Main12-sub002/internal/cache"
)

// RedisLimiter implements the sliding window algorithm on Redis sorted sets,
// sharing limits across instances. Each request is a member scored by its
// timestamp in microseconds.
type RedisLimiter struct {
	cache  *cache.Redis
	prefix string
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

// NewRedisLimiter creates a Redis-backed limiter. prefix namespaces the keys
// so several endpoints can keep separate windows.
func NewRedisLimiter(c *cache.Redis, prefix string, limit int, window time.Duration, clock clockwork.Clock) *RedisLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &RedisLimiter{
		cache:  c,
		prefix: prefix,
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

func (r *RedisLimiter) key(identifier string) string {
	return cache.Key("ratelimit", r.prefix, identifier)
}

// Allow records a request for identifier if it fits in the window
func (r *RedisLimiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	// scores are whole microseconds
	now := r.clock.Now().Truncate(time.Microsecond)
	nowUnixMicro := now.UnixMicro()
	windowStart := now.Add(-r.window).UnixMicro()
	key := r.key(identifier)

	client := r.cache.Client()
	pipe := client.Pipeline()

	// Remove entries outside the window
	pipe.ZRemRangeByScore(ctx, key, "-inf", strconv.FormatInt(windowStart, 10))
	countCmd := pipe.ZCard(ctx, key)
	oldestCmd := pipe.ZRangeWithScores(ctx, key, 0, 0)

	_, err := pipe.Exec(ctx)
	if err != nil && err != redis.Nil {
		return Decision{}, fmt.Errorf("failed to execute rate limit check: %w", err)
	}

	count := int(countCmd.Val())
	resetAt := now.Add(r.window)
	if oldest := oldestCmd.Val(); len(oldest) > 0 {
		resetAt = time.UnixMicro(int64(oldest[0].Score)).Add(r.window)
	}

	if count >= r.limit {
		return Decision{Allowed: false, Limit: r.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	// The uuid suffix keeps members unique for requests in the same microsecond
	err = client.ZAdd(ctx, key, redis.Z{
		Score:  float64(nowUnixMicro),
		Member: strconv.FormatInt(nowUnixMicro, 10) + "-" + uuid.NewString(),
	}).Err()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to add rate limit entry: %w", err)
	}

	// Best effort
	_ = client.Expire(ctx, key, r.window+time.Second).Err()

	if count == 0 {
		resetAt = now.Add(r.window)
	}
	return Decision{
		Allowed:   true,
		Limit:     r.limit,
		Remaining: r.limit - count - 1,
		ResetAt:   resetAt,
	}, nil
}

// Reset clears the window for an identifier
func (r *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	if err := r.cache.Delete(ctx, r.key(identifier)); err != nil {
		return fmt.Errorf("failed to reset rate limit: %w", err)
	}
	return nil
}
