package mnemo

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler runs maintenance for every known user on a fixed interval.
type Scheduler struct {
	engine      *Engine
	interval    time.Duration
	concurrency int

	stopCh  chan struct{}
	stopped sync.Once
	wg      sync.WaitGroup
}

// NewScheduler creates a scheduler. interval <= 0 defaults to one hour,
// concurrency <= 0 to 4.
func NewScheduler(engine *Engine, interval time.Duration, concurrency int) *Scheduler {
	if interval <= 0 {
		interval = time.Hour
	}
	if concurrency <= 0 {
		concurrency = 4
	}
	return &Scheduler{
		engine:      engine,
		interval:    interval,
		concurrency: concurrency,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the background loop. The first pass runs after one full
// interval, not immediately.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				s.runOnce(ctx)
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Stop halts the loop and waits for an in-flight pass to finish. Safe to
// call more than once.
func (s *Scheduler) Stop() {
	s.stopped.Do(func() {
		close(s.stopCh)
	})
	s.wg.Wait()
}

// RunOnce performs a single maintenance pass over all users, for callers
// that schedule externally (cron, CLI).
func (s *Scheduler) RunOnce(ctx context.Context) error {
	return s.runOnce(ctx)
}

func (s *Scheduler) runOnce(ctx context.Context) error {
	users, err := s.engine.Users(ctx)
	if err != nil {
		s.engine.logger().Error("maintenance pass failed to list users", "error", err)
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, userID := range users {
		userID := userID
		g.Go(func() error {
			if _, err := s.engine.RunMaintenance(gctx, userID); err != nil {
				// One user's failure must not starve the rest.
				s.engine.logger().Error("maintenance failed",
					"user_id", userID, "error", err)
			}
			return nil
		})
	}

	return g.Wait()
}
