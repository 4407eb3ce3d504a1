// Package cleanup removes expired anonymous data: unpaid quiz attempts past
// their expiration and the temporary users that owned them.
package cleanup

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/BizModelAI/Main12-sub002/internal/repository"
)

// DefaultInterval is how often the scheduler sweeps
const DefaultInterval = time.Hour

// Result summarizes one sweep
type Result struct {
	AttemptsDeleted int64         `json:"attemptsDeleted"`
	UsersDeleted    int64         `json:"usersDeleted"`
	Duration        time.Duration `json:"duration"`
}

// Cleaner deletes expired rows
type Cleaner struct {
	store *repository.Store
	clock clockwork.Clock
	log   *zap.Logger
}

// NewCleaner creates a new cleaner
func NewCleaner(store *repository.Store, clock clockwork.Clock, log *zap.Logger) *Cleaner {
	return &Cleaner{store: store, clock: clock, log: log.Named("cleanup")}
}

// RunOnce deletes expired unpaid attempts, then expired temporary users
// without completed payments. Attempts go first so a user's remaining
// attempts cascade with the user row.
func (c *Cleaner) RunOnce(ctx context.Context) (*Result, error) {
	start := c.clock.Now()
	result := &Result{}

	n, err := c.store.QuizAttempts.DeleteExpiredUnpaid(ctx, start)
	if err != nil {
		return nil, fmt.Errorf("failed to delete expired attempts: %w", err)
	}
	result.AttemptsDeleted = n

	n, err = c.store.Users.DeleteExpiredTemporary(ctx, start)
	if err != nil {
		return result, fmt.Errorf("failed to delete expired users: %w", err)
	}
	result.UsersDeleted = n
	result.Duration = c.clock.Since(start)

	c.log.Info("expired data removed",
		zap.Int64("attempts", result.AttemptsDeleted),
		zap.Int64("users", result.UsersDeleted),
		zap.Duration("duration", result.Duration))
	return result, nil
}

// Scheduler runs the cleaner periodically
type Scheduler struct {
	cleaner  *Cleaner
	interval time.Duration
	clock    clockwork.Clock
	log      *zap.Logger
	stopCh   chan struct{}
	doneCh   chan struct{}

	mu         sync.Mutex
	running    bool
	lastRun    time.Time
	lastResult *Result
	runCount   int64
	errorCount int64
}

// NewScheduler creates a new scheduler
func NewScheduler(cleaner *Cleaner, interval time.Duration) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		cleaner:  cleaner,
		interval: interval,
		clock:    cleaner.clock,
		log:      cleaner.log,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then every interval until ctx is
// cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		s.log.Warn("scheduler already running")
		return
	}
	s.running = true
	s.mu.Unlock()

	s.log.Info("scheduler starting", zap.Duration("interval", s.interval))

	s.run(ctx)

	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.markStopped()
			return
		case <-s.stopCh:
			s.markStopped()
			return
		case <-ticker.Chan():
			s.run(ctx)
		}
	}
}

// Stop signals the scheduler to stop and waits for the current sweep
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	close(s.stopCh)

	select {
	case <-s.doneCh:
		s.log.Info("scheduler stopped")
	case <-s.clock.After(30 * time.Second):
		s.log.Warn("scheduler stop timed out")
	}
}

func (s *Scheduler) markStopped() {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	close(s.doneCh)
}

// run executes one sweep. Failures and panics are logged, never propagated.
func (s *Scheduler) run(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			s.log.Error("cleanup panicked", zap.Any("panic", rec))
			s.mu.Lock()
			s.errorCount++
			s.mu.Unlock()
		}
	}()

	start := s.clock.Now()
	result, err := s.cleaner.RunOnce(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastRun = start
	s.runCount++
	if err != nil {
		s.errorCount++
		s.log.Error("cleanup failed", zap.Error(err))
		return
	}
	s.lastResult = result
}

// IsRunning returns whether the scheduler is currently running
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stats contains scheduler statistics
type Stats struct {
	Running    bool          `json:"running"`
	Interval   time.Duration `json:"interval"`
	LastRun    time.Time     `json:"lastRun"`
	RunCount   int64         `json:"runCount"`
	ErrorCount int64         `json:"errorCount"`
	LastResult *Result       `json:"lastResult,omitempty"`
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Stats{
		Running:    s.running,
		Interval:   s.interval,
		LastRun:    s.lastRun,
		RunCount:   s.runCount,
		ErrorCount: s.errorCount,
		LastResult: s.lastResult,
	}
}
