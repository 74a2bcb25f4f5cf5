// Package scheduler drives the periodic processing trigger. It only owns the
// invocation cadence; each tick funnels into the same idempotent pipeline
// entry point the manual trigger uses.
package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler invokes Run once immediately and then on every interval tick
// until the context is cancelled. Run failures are logged and do not stop the
// loop; the next tick retries with a fresh config snapshot.
type Scheduler struct {
	Interval time.Duration
	Run      func(ctx context.Context) error
	Logger   *slog.Logger
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("scheduler started", "interval", s.Interval)

	if err := s.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("processing run failed", "error", err)
	}

	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Run(ctx); err != nil {
				if ctx.Err() != nil {
					logger.Info("scheduler stopped")
					return ctx.Err()
				}
				logger.Error("processing run failed", "error", err)
			}
		}
	}
}
