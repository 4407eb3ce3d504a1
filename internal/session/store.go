// Package session implements cookie-backed server-side sessions, the
// in-process session cache used when cookies fail to round-trip, and the
// per-request identity resolution built on both.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/BizModelAI/Main12-sub002/internal/cache"
)

// ErrSessionNotFound is returned when no session exists for an id
var ErrSessionNotFound = errors.New("session not found")

// Data is the server-side state of a cookie session.
type Data struct {
	UserID    *int64    `json:"userId,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// Store persists session data keyed by session id.
type Store interface {
	Load(ctx context.Context, sid string) (*Data, error)
	Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error
	Destroy(ctx context.Context, sid string) error
}

// RedisStore keeps sessions as JSON values with a TTL.
type RedisStore struct {
	redis *cache.Redis
}

// NewRedisStore creates a Redis-backed session store
func NewRedisStore(r *cache.Redis) *RedisStore {
	return &RedisStore{redis: r}
}

func redisKey(sid string) string {
	return cache.Key("sess", sid)
}

func (s *RedisStore) Load(ctx context.Context, sid string) (*Data, error) {
	var d Data
	if err := s.redis.GetJSON(ctx, redisKey(sid), &d); err != nil {
		if errors.Is(err, cache.ErrCacheMiss) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	return &d, nil
}

func (s *RedisStore) Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error {
	if err := s.redis.SetJSON(ctx, redisKey(sid), data, ttl); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

func (s *RedisStore) Destroy(ctx context.Context, sid string) error {
	if err := s.redis.Delete(ctx, redisKey(sid)); err != nil {
		return fmt.Errorf("destroy session: %w", err)
	}
	return nil
}

type memoryEntry struct {
	data      Data
	expiresAt time.Time
}

// MemoryStore is a process-local session store used when Redis is not configured.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]memoryEntry
	clock    clockwork.Clock
}

// NewMemoryStore creates an in-memory session store
func NewMemoryStore(clock clockwork.Clock) *MemoryStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryStore{sessions: make(map[string]memoryEntry), clock: clock}
}

func (s *MemoryStore) Load(ctx context.Context, sid string) (*Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sid]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if !s.clock.Now().Before(e.expiresAt) {
		delete(s.sessions, sid)
		return nil, ErrSessionNotFound
	}
	d := e.data
	return &d, nil
}

func (s *MemoryStore) Save(ctx context.Context, sid string, data *Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sid] = memoryEntry{data: *data, expiresAt: s.clock.Now().Add(ttl)}
	return nil
}

func (s *MemoryStore) Destroy(ctx context.Context, sid string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sid)
	return nil
}
