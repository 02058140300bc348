package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bulwark/internal/clock"
)

// AttemptStore is the lockout state the sweeper prunes
type AttemptStore interface {
	Sweep(now time.Time, staleness time.Duration) int
	Len() int
}

// CounterStore is the rate-limit state the sweeper prunes
type CounterStore interface {
	Sweep(now time.Time) int
	Len() int
}

// EventPurger deletes persisted security events older than a cutoff
type EventPurger interface {
	PurgeBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SweepResult reports what one pass removed
type SweepResult struct {
	AttemptsRemoved int   `json:"attempts_removed"`
	CountersRemoved int   `json:"counters_removed"`
	EventsPurged    int64 `json:"events_purged"`
}

// SweeperConfig controls the sweep schedule
type SweeperConfig struct {
	Interval         time.Duration
	Staleness        time.Duration
	EventRetention   time.Duration // zero keeps persisted events forever
	RetentionTimeout time.Duration
}

// Metrics receives per-store sweep outcomes
type Metrics interface {
	ObserveSweep(store string, removed, remaining int)
}

// Sweeper periodically evicts expired lockout records and rate counters
type Sweeper struct {
	attempts AttemptStore
	counters CounterStore
	purger   EventPurger
	metrics  Metrics
	clock    clock.Clock
	config   SweeperConfig
	logger   *slog.Logger

	mu       sync.Mutex // serializes passes
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewSweeper creates a new sweeper. purger and metrics may be nil.
func NewSweeper(attempts AttemptStore, counters CounterStore, purger EventPurger, metrics Metrics, clk clock.Clock, config SweeperConfig, logger *slog.Logger) *Sweeper {
	if config.RetentionTimeout <= 0 {
		config.RetentionTimeout = 30 * time.Second
	}
	return &Sweeper{
		attempts: attempts,
		counters: counters,
		purger:   purger,
		metrics:  metrics,
		clock:    clk,
		config:   config,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then on every tick until Stop or ctx is done
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.run(ctx)

	for {
		select {
		case <-ticker.C:
			s.run(ctx)
		case <-s.stopCh:
			s.logger.Info("sweeper stopped")
			return
		case <-ctx.Done():
			s.logger.Info("sweeper context cancelled")
			return
		}
	}
}

// Stop signals the sweeper to stop. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// RunOnce performs a single pass and returns what it removed
func (s *Sweeper) RunOnce(ctx context.Context) SweepResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	result := SweepResult{
		AttemptsRemoved: s.attempts.Sweep(now, s.config.Staleness),
		CountersRemoved: s.counters.Sweep(now),
	}

	if s.metrics != nil {
		s.metrics.ObserveSweep("attempts", result.AttemptsRemoved, s.attempts.Len())
		s.metrics.ObserveSweep("counters", result.CountersRemoved, s.counters.Len())
	}

	if s.purger != nil && s.config.EventRetention > 0 {
		purgeCtx, cancel := context.WithTimeout(ctx, s.config.RetentionTimeout)
		defer cancel()

		purged, err := s.purger.PurgeBefore(purgeCtx, now.Add(-s.config.EventRetention))
		if err != nil {
			s.logger.Error("failed to purge security events", slog.Any("error", err))
		}
		result.EventsPurged = purged
	}

	return result
}

func (s *Sweeper) run(ctx context.Context) {
	result := s.RunOnce(ctx)
	if result.AttemptsRemoved > 0 || result.CountersRemoved > 0 || result.EventsPurged > 0 {
		s.logger.Info("sweep completed",
			slog.Int("attempts_removed", result.AttemptsRemoved),
			slog.Int("counters_removed", result.CountersRemoved),
			slog.Int64("events_purged", result.EventsPurged))
	}
}
