package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRedis(t *testing.T) (*Redis, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	r := NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = r.Close() })
	return r, mr
}

func TestRedis_JSONRoundTripWithTTL(t *testing.T) {
	r, mr := newTestRedis(t)
	ctx := context.Background()

	type payload struct {
		UserID int64 `json:"userId"`
	}
	require.NoError(t, r.SetJSON(ctx, Key("sess", "abc"), payload{UserID: 42}, time.Minute))

	var got payload
	require.NoError(t, r.GetJSON(ctx, "sess:abc", &got))
	assert.Equal(t, int64(42), got.UserID)

	mr.FastForward(2 * time.Minute)
	err := r.GetJSON(ctx, "sess:abc", &got)
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedis_HealthAndDelete(t *testing.T) {
	r, _ := newTestRedis(t)
	ctx := context.Background()

	require.NoError(t, r.Health(ctx))
	require.NoError(t, r.Set(ctx, "k", "v", 0))
	require.NoError(t, r.Delete(ctx, "k"))
	_, err := r.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
