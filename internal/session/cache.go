package session

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// DefaultCacheTTL is how long a cache entry stays valid
const DefaultCacheTTL = 24 * time.Hour

// DefaultSweepInterval is how often expired cache entries are evicted
const DefaultSweepInterval = 15 * time.Minute

// CacheEntry maps a session key to the user last established for it.
type CacheEntry struct {
	UserID    int64
	Timestamp time.Time
}

// Cache is the fallback mapping from derived session key to user id. It is
// consulted only when the cookie session carries no user.
type Cache struct {
	mu      sync.Mutex
	entries map[string]CacheEntry
	ttl     time.Duration
	clock   clockwork.Clock
}

// NewCache creates a session cache
func NewCache(ttl time.Duration, clock clockwork.Clock) *Cache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Cache{entries: make(map[string]CacheEntry), ttl: ttl, clock: clock}
}

// Get returns the user id cached for key. Expired entries are deleted and
// reported as absent.
func (c *Cache) Get(key string) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return 0, false
	}
	if c.clock.Since(e.Timestamp) >= c.ttl {
		delete(c.entries, key)
		return 0, false
	}
	return e.UserID, true
}

// Set upserts the entry for key with the current time
func (c *Cache) Set(key string, userID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = CacheEntry{UserID: userID, Timestamp: c.clock.Now()}
}

// Delete removes the entry for key
func (c *Cache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Sweep evicts expired entries and returns how many were removed
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if c.clock.Since(e.Timestamp) >= c.ttl {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of entries, expired or not
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Run sweeps every interval until ctx is cancelled.
func (c *Cache) Run(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			c.sweepLogged(log)
		}
	}
}

func (c *Cache) sweepLogged(log *zap.Logger) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("session cache sweep panicked", zap.Any("panic", rec))
		}
	}()
	if n := c.Sweep(); n > 0 {
		log.Debug("session cache swept", zap.Int("removed", n), zap.Int("remaining", c.Len()))
	}
}
