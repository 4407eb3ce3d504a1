// Package ratelimit limits how often a caller may hit an endpoint within a
// sliding time window.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

const (
	// DefaultWindow is the sliding window length
	DefaultWindow = time.Minute
	// DefaultSweepInterval is how often idle identifiers are dropped
	DefaultSweepInterval = 5 * time.Minute
)

// Decision is the outcome of a rate limit check
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the caller should wait before trying again,
// rounded up to whole microseconds since windows are tracked at that precision
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	wait := d.ResetAt.Sub(now)
	if rem := wait % time.Microsecond; rem != 0 {
		wait += time.Microsecond - rem
	}
	return wait
}

// Limiter decides whether a request from an identifier may proceed
type Limiter interface {
	Allow(ctx context.Context, identifier string) (Decision, error)
}

// MemoryLimiter keeps per-identifier request timestamps in process memory.
// It suits single-instance deployments only.
type MemoryLimiter struct {
	mu     sync.Mutex
	hits   map[string][]time.Time
	limit  int
	window time.Duration
	clock  clockwork.Clock
}

// NewMemoryLimiter creates a limiter allowing limit requests per window
func NewMemoryLimiter(limit int, window time.Duration, clock clockwork.Clock) *MemoryLimiter {
	if window <= 0 {
		window = DefaultWindow
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryLimiter{
		hits:   make(map[string][]time.Time),
		limit:  limit,
		window: window,
		clock:  clock,
	}
}

// Allow records a request for identifier if it fits in the window
func (l *MemoryLimiter) Allow(ctx context.Context, identifier string) (Decision, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	hits := prune(l.hits[identifier], now.Add(-l.window))

	if len(hits) >= l.limit {
		l.hits[identifier] = hits
		resetAt := now.Add(l.window)
		if len(hits) > 0 {
			resetAt = hits[0].Add(l.window)
		}
		return Decision{Allowed: false, Limit: l.limit, Remaining: 0, ResetAt: resetAt}, nil
	}

	hits = append(hits, now)
	l.hits[identifier] = hits
	return Decision{
		Allowed:   true,
		Limit:     l.limit,
		Remaining: l.limit - len(hits),
		ResetAt:   hits[0].Add(l.window),
	}, nil
}

// Sweep drops identifiers with no requests left in the window and reports
// how many were removed.
func (l *MemoryLimiter) Sweep() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	cutoff := l.clock.Now().Add(-l.window)
	removed := 0
	for id, hits := range l.hits {
		hits = prune(hits, cutoff)
		if len(hits) == 0 {
			delete(l.hits, id)
			removed++
			continue
		}
		l.hits[id] = hits
	}
	return removed
}

// Len returns the number of tracked identifiers
func (l *MemoryLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.hits)
}

// Run sweeps every interval until ctx is cancelled.
func (l *MemoryLimiter) Run(ctx context.Context, interval time.Duration, log *zap.Logger) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.Chan():
			if n := l.Sweep(); n > 0 {
				log.Debug("rate limiter swept", zap.Int("removed", n))
			}
		}
	}
}

// prune drops timestamps at or before cutoff; hits are in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0:0], hits[i:]...)
}
