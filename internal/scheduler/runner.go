package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Runner drives a Cycle on a fixed interval.
type Runner struct {
	cycle    *Cycle
	interval time.Duration
	ownerID  uuid.UUID
	logger   *slog.Logger
}

// NewRunner creates a Runner. interval defaults to 30s when not positive.
func NewRunner(cycle *Cycle, interval time.Duration, ownerID uuid.UUID, logger *slog.Logger) *Runner {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		cycle:    cycle,
		interval: interval,
		ownerID:  ownerID,
		logger:   logger.With("component", "scheduler_runner"),
	}
}

// Run starts one cycle immediately and then one per tick until ctx is
// cancelled. Each cycle runs in its own goroutine on a context that outlives
// ctx, so a slow cycle never delays the next tick and shutdown never aborts
// a cycle halfway. Run returns after the last started cycle has finished.
func (r *Runner) Run(ctx context.Context) error {
	r.logger.Info("starting scheduler runner", "interval", r.interval.String(), "owner_id", r.ownerID)

	cycleCtx := context.WithoutCancel(ctx)
	var wg sync.WaitGroup
	start := func() {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.cycle.Run(cycleCtx, r.ownerID)
		}()
	}

	start()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("scheduler runner stopping, waiting for in-flight cycle", "reason", ctx.Err())
			wg.Wait()
			if errors.Is(ctx.Err(), context.Canceled) {
				return nil
			}
			return ctx.Err()

		case <-ticker.C:
			if r.cycle.Guard().Running() {
				r.logger.Debug("tick skipped, cycle still running")
				continue
			}
			start()
		}
	}
}
