package cache

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"osmlevels/internal/config"
	repo "osmlevels/internal/domain/repositories/hierarchy"
	"osmlevels/internal/metrics"
)

// Sweeper periodically removes expired entries from a CacheStore.
//
// Lifecycle:
//  1. Start launches the loop; calling it again while running is a no-op
//  2. Each tick runs SweepExpired and re-reads the policy interval
//  3. Shutdown stops the ticker and waits for an in-progress sweep
type Sweeper struct {
	store  repo.CacheStore
	policy *config.PolicyStore
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewSweeper creates a stopped sweeper
func NewSweeper(store repo.CacheStore, policy *config.PolicyStore, logger *slog.Logger) *Sweeper {
	return &Sweeper{
		store:  store,
		policy: policy,
		logger: logger,
	}
}

// Start launches the sweep loop. It returns false when already running.
func (s *Sweeper) Start() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return false
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	s.running = true

	go s.loop(ctx, s.done)
	s.logger.Info("cache sweeper started", "interval", s.policy.Current().SweepInterval.String())
	return true
}

// Running reports whether the loop is active
func (s *Sweeper) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Shutdown stops the loop and waits for it to exit or ctx to end
func (s *Sweeper) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	cancel, done := s.cancel, s.done
	s.mu.Unlock()

	cancel()
	select {
	case <-done:
		s.logger.Info("cache sweeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// SweepOnce runs a single pass immediately
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	start := time.Now()
	removed, err := s.store.SweepExpired(ctx)
	if err != nil {
		s.logger.Warn("cache sweep failed", "error", err)
		return removed, err
	}
	metrics.RecordSweep(removed, time.Since(start))
	if removed > 0 {
		s.logger.Debug("cache sweep complete",
			"removed", removed,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
	return removed, nil
}

func (s *Sweeper) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	interval := s.policy.Current().SweepInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.SweepOnce(ctx)

			if next := s.policy.Current().SweepInterval; next != interval {
				interval = next
				ticker.Reset(interval)
				s.logger.Info("cache sweep interval changed", "interval", interval.String())
			}
		}
	}
}
