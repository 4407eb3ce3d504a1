package session

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/auth"
	"github.com/BizModelAI/Main12-sub002/internal/cache"
)

const cookieName = "bizmodel.sid"

type testEnv struct {
	clock   *clockwork.FakeClock
	store   Store
	cache   *Cache
	manager *Manager
}

func newTestEnv(t *testing.T, store Store) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClock()
	if store == nil {
		store = NewMemoryStore(clock)
	}
	c := NewCache(DefaultCacheTTL, clock)
	tokens := auth.NewTokenService("test-secret", clock)
	m := NewManager(Config{
		Store:   store,
		Cache:   c,
		Cookies: NewCookieCodec(cookieName, 7*24*time.Hour, false, tokens),
		TTL:     7 * 24 * time.Hour,
		Clock:   clock,
		Logger:  zap.NewNop(),
	})
	return &testEnv{clock: clock, store: store, cache: c, manager: m}
}

func newRequest(cookies ...*http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:51234"
	req.Header.Set("User-Agent", "test-agent/1.0")
	for _, c := range cookies {
		req.AddCookie(c)
	}
	return req
}

func sessionCookie(rec *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == cookieName {
			return c
		}
	}
	return nil
}

func (e *testEnv) serve(req *http.Request, fn func(rc *RequestContext, w http.ResponseWriter)) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.manager.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fn(FromContext(r.Context()), w)
	})).ServeHTTP(rec, req)
	return rec
}

func TestCache_GetExpiresAfterTTL(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCache(24*time.Hour, clock)

	c.Set("k", 5)
	id, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, int64(5), id)

	clock.Advance(24 * time.Hour)
	_, ok = c.Get("k")
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is deleted on read")
}

func TestCache_Sweep(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCache(24*time.Hour, clock)

	c.Set("old", 1)
	clock.Advance(23 * time.Hour)
	c.Set("fresh", 2)
	clock.Advance(2 * time.Hour)

	assert.Equal(t, 1, c.Sweep())
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestCache_RunSweepsPeriodically(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCache(time.Hour, clock)
	c.Set("k", 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx, 15*time.Minute, zap.NewNop())

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(time.Hour)
	assert.Eventually(t, func() bool { return c.Len() == 0 }, time.Second, 5*time.Millisecond)
}

func TestResolver_CookieWins(t *testing.T) {
	c := NewCache(DefaultCacheTTL, clockwork.NewFakeClock())
	c.Set("key", 99)
	id := int64(7)

	got, ok, healed := NewResolver(c).Resolve(&Data{UserID: &id}, "key")
	assert.True(t, ok)
	assert.False(t, healed)
	assert.Equal(t, int64(7), got)
}

func TestResolver_SelfHealsFromCache(t *testing.T) {
	c := NewCache(DefaultCacheTTL, clockwork.NewFakeClock())
	c.Set("key", 42)
	sess := &Data{}

	got, ok, healed := NewResolver(c).Resolve(sess, "key")
	require.True(t, ok)
	assert.True(t, healed)
	assert.Equal(t, int64(42), got)
	require.NotNil(t, sess.UserID)
	assert.Equal(t, int64(42), *sess.UserID)
}

func TestResolver_ExpiredEntryIsDeleted(t *testing.T) {
	clock := clockwork.NewFakeClock()
	c := NewCache(DefaultCacheTTL, clock)
	c.Set("key", 42)
	clock.Advance(25 * time.Hour)
	sess := &Data{}

	_, ok, _ := NewResolver(c).Resolve(sess, "key")
	assert.False(t, ok)
	assert.Nil(t, sess.UserID)
	assert.Zero(t, c.Len())
}

func TestManager_AnonymousRequestSetsNoCookie(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		_, ok := rc.UserID()
		assert.False(t, ok)
		assert.NotEmpty(t, rc.SessionKey())
	})
	assert.Nil(t, sessionCookie(rec))
}

func TestManager_SetUserIDAndSaveThenCookieResolves(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		require.NoError(t, rc.SetUserIDAndSave(context.Background(), 11))
	})
	ck := sessionCookie(rec)
	require.NotNil(t, ck)
	assert.True(t, ck.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, ck.SameSite)

	// a different client presenting the cookie is identified by it
	req := newRequest(ck)
	req.RemoteAddr = "198.51.100.1:4000"
	env.serve(req, func(rc *RequestContext, w http.ResponseWriter) {
		id, ok := rc.UserID()
		require.True(t, ok)
		assert.Equal(t, int64(11), id)
	})
}

func TestManager_CacheFallbackHealsCookieSession(t *testing.T) {
	env := newTestEnv(t, nil)

	env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		rc.SetUserID(21)
	})

	// cookie lost: same IP and user agent resolve through the cache
	rec := env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		id, ok := rc.UserID()
		require.True(t, ok)
		assert.Equal(t, int64(21), id)
	})
	ck := sessionCookie(rec)
	require.NotNil(t, ck, "healed session is issued a cookie")

	env.cache.Delete(Key(newRequest()))
	env.serve(newRequest(ck), func(rc *RequestContext, w http.ResponseWriter) {
		id, ok := rc.UserID()
		require.True(t, ok, "healed session was persisted")
		assert.Equal(t, int64(21), id)
	})
}

func TestManager_TamperedCookieIgnored(t *testing.T) {
	env := newTestEnv(t, nil)

	env.serve(newRequest(&http.Cookie{Name: cookieName, Value: "not-a-token"}), func(rc *RequestContext, w http.ResponseWriter) {
		_, ok := rc.UserID()
		assert.False(t, ok)
	})
}

type failingStore struct{ *MemoryStore }

func (f *failingStore) Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error {
	return errors.New("store unavailable")
}

func TestManager_SetUserIDAndSaveSurfacesStoreError(t *testing.T) {
	env := newTestEnv(t, &failingStore{MemoryStore: NewMemoryStore(nil)})

	env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		err := rc.SetUserIDAndSave(context.Background(), 3)
		assert.Error(t, err)
	})
}

func TestManager_ClearUser(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.serve(newRequest(), func(rc *RequestContext, w http.ResponseWriter) {
		require.NoError(t, rc.SetUserIDAndSave(context.Background(), 8))
	})
	ck := sessionCookie(rec)
	require.NotNil(t, ck)

	rec = env.serve(newRequest(ck), func(rc *RequestContext, w http.ResponseWriter) {
		require.NoError(t, rc.ClearUser(context.Background()))
	})
	cleared := sessionCookie(rec)
	require.NotNil(t, cleared)
	assert.Less(t, cleared.MaxAge, 0)

	env.serve(newRequest(ck), func(rc *RequestContext, w http.ResponseWriter) {
		_, ok := rc.UserID()
		assert.False(t, ok)
	})
}

func TestCookieCodec_SecureUsesSameSiteNone(t *testing.T) {
	codec := NewCookieCodec(cookieName, time.Hour, true, auth.NewTokenService("s", nil))
	rec := httptest.NewRecorder()
	require.NoError(t, codec.Write(rec, "sid-1"))

	ck := sessionCookie(rec)
	require.NotNil(t, ck)
	assert.True(t, ck.Secure)
	assert.Equal(t, http.SameSiteNoneMode, ck.SameSite)

	sid, ok := codec.Read(newRequest(ck))
	require.True(t, ok)
	assert.Equal(t, "sid-1", sid)
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store := NewRedisStore(cache.NewFromClient(redis.NewClient(&redis.Options{Addr: mr.Addr()})))
	ctx := context.Background()
	id := int64(5)

	require.NoError(t, store.Save(ctx, "sid", &Data{UserID: &id}, time.Minute))
	got, err := store.Load(ctx, "sid")
	require.NoError(t, err)
	require.NotNil(t, got.UserID)
	assert.Equal(t, int64(5), *got.UserID)

	mr.FastForward(2 * time.Minute)
	_, err = store.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	require.NoError(t, store.Save(ctx, "sid", &Data{}, time.Minute))
	require.NoError(t, store.Destroy(ctx, "sid"))
	_, err = store.Load(ctx, "sid")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestKey_UsesForwardedFor(t *testing.T) {
	a := newRequest()
	b := newRequest()
	b.Header.Set("X-Forwarded-For", "192.0.2.1, 10.0.0.1")

	assert.NotEqual(t, Key(a), Key(b))
	assert.Equal(t, "192.0.2.1", ClientIP(b))
	assert.Equal(t, "203.0.113.7", ClientIP(a))
	assert.Len(t, Key(a), 64)
}
