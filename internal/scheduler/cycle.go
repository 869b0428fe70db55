package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"golang.org/x/sync/errgroup"
)

// reclaimLimit bounds how many stalled rows one sweep touches per direction.
const reclaimLimit = 100

// Config tunes a Cycle.
type Config struct {
	BatchSize      int
	JobConcurrency int
	StaleAfter     time.Duration // 0 disables the stalled reclaim
	MaxClaims      int
}

// Report summarizes one cycle.
type Report struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	StartedAt  time.Time `json:"started_at"`
	DurationMS int64     `json:"duration_ms"`
	Skipped    bool      `json:"skipped"`
	Reclaimed  int64     `json:"reclaimed"`
	Stalled    int64     `json:"stalled"`
	Fetched    int       `json:"fetched"`
	Claimed    int       `json:"claimed"`
	Completed  int       `json:"completed"`
	Partial    int       `json:"partial"`
	Failed     int       `json:"failed"`
	Stuck      int       `json:"stuck"`
	FetchErr   string    `json:"fetch_error,omitempty"`
}

// Options holds the dependencies for creating a Cycle.
type Options struct {
	Queue     store.JobQueue
	Publisher models.Publisher
	Cache     cache.Cache // optional status mirror
	Guard     *Guard      // shared with every caller that may start a cycle
	Config    Config
	Logger    *slog.Logger
	Now       func() time.Time
}

// Cycle runs one scan, claim, dispatch and aggregate pass.
type Cycle struct {
	queue      store.JobQueue
	dispatcher *Dispatcher
	cache      cache.Cache
	guard      *Guard
	cfg        Config
	logger     *slog.Logger
	now        func() time.Time
}

func NewCycle(opts Options) *Cycle {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	logger := opts.Logger.With("component", "scheduler")
	if opts.Guard == nil {
		opts.Guard = &Guard{}
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	if opts.Config.BatchSize <= 0 {
		opts.Config.BatchSize = 5
	}
	if opts.Config.JobConcurrency <= 0 {
		opts.Config.JobConcurrency = 1
	}
	if opts.Config.MaxClaims <= 0 {
		opts.Config.MaxClaims = 3
	}

	return &Cycle{
		queue:      opts.Queue,
		dispatcher: NewDispatcher(opts.Publisher, logger),
		cache:      opts.Cache,
		guard:      opts.Guard,
		cfg:        opts.Config,
		logger:     logger,
		now:        opts.Now,
	}
}

// Guard returns the reentrancy guard this cycle admits through.
func (c *Cycle) Guard() *Guard { return c.guard }

// Run executes one cycle for ownerID (uuid.Nil for every owner). If another
// cycle holds the guard it returns immediately with Skipped set. Failures are
// contained per target, per job and per cycle and are reported, never returned.
func (c *Cycle) Run(ctx context.Context, ownerID uuid.UUID) Report {
	rep := Report{OwnerID: ownerID, StartedAt: c.now()}

	if !c.guard.TryAcquire() {
		rep.Skipped = true
		c.logger.Debug("cycle skipped, previous cycle still running", "owner_id", ownerID)
		return rep
	}
	defer c.guard.Release()

	start := time.Now()
	c.run(ctx, ownerID, &rep)
	rep.DurationMS = time.Since(start).Milliseconds()

	c.storeReport(ctx, rep)
	return rep
}

func (c *Cycle) run(ctx context.Context, ownerID uuid.UUID, rep *Report) {
	c.reclaim(ctx, rep)

	jobs, err := c.queue.FetchDue(ctx, ownerID, c.now(), c.cfg.BatchSize)
	if err != nil {
		rep.FetchErr = err.Error()
		c.logger.Error("fetching due jobs failed", "owner_id", ownerID, "error", err)
		return
	}
	rep.Fetched = len(jobs)
	if len(jobs) == 0 {
		return
	}

	outcomes := make([]outcome, len(jobs))
	var g errgroup.Group
	g.SetLimit(c.cfg.JobConcurrency)
	for i, job := range jobs {
		g.Go(func() error {
			outcomes[i] = c.process(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.claimed {
			rep.Claimed++
		}
		switch {
		case o.stuck:
			rep.Stuck++
		case o.status == models.StatusCompleted:
			rep.Completed++
		case o.status == models.StatusPartial:
			rep.Partial++
		case o.status == models.StatusFailed:
			rep.Failed++
		}
	}

	c.logger.Info("cycle finished",
		"owner_id", ownerID,
		"fetched", rep.Fetched,
		"claimed", rep.Claimed,
		"completed", rep.Completed,
		"partial", rep.Partial,
		"failed", rep.Failed,
		"stuck", rep.Stuck,
	)
}

type outcome struct {
	claimed bool
	stuck   bool
	status  models.Status
}

// process claims one job and, only if the claim was won, dispatches it and
// persists the aggregated result.
func (c *Cycle) process(ctx context.Context, job *models.Job) outcome {
	log := c.logger.With("job_id", job.ID, "owner_id", job.OwnerID)

	claimed, err := c.queue.ClaimJob(ctx, job.ID, c.now())
	if err != nil {
		log.Warn("claiming job failed", "error", err)
		if rerr := c.queue.RecordError(ctx, job.ID, fmt.Sprintf("claim failed: %v", err)); rerr != nil {
			log.Warn("recording claim error failed", "error", rerr)
		}
		return outcome{}
	}
	if !claimed {
		log.Debug("job already claimed elsewhere")
		return outcome{}
	}
	c.mirror(ctx, job.ID, models.StatusInFlight)

	start := time.Now()
	results := c.dispatcher.Dispatch(ctx, job)
	status := Aggregate(results)

	if err := c.queue.SetResult(ctx, job.ID, status, results, c.now()); err != nil {
		log.Error("persisting job result failed",
			"alert", "stuck_job",
			"status", status,
			"error", err,
		)
		if rerr := c.queue.RecordError(ctx, job.ID, fmt.Sprintf("persist result: %v", err)); rerr != nil {
			log.Warn("recording result error failed", "error", rerr)
		}
		return outcome{claimed: true, stuck: true}
	}
	c.mirror(ctx, job.ID, status)

	log.Info("job processed",
		"status", status,
		"targets", len(results),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return outcome{claimed: true, status: status}
}

// reclaim resolves in-flight jobs whose claim went stale, before new work is fetched.
func (c *Cycle) reclaim(ctx context.Context, rep *Report) {
	if c.cfg.StaleAfter <= 0 {
		return
	}

	res, err := c.queue.ReclaimStale(ctx, store.ReclaimParams{
		Now:        c.now(),
		StaleAfter: c.cfg.StaleAfter,
		MaxClaims:  c.cfg.MaxClaims,
		Limit:      reclaimLimit,
	})
	if err != nil {
		c.logger.Warn("reclaiming stalled jobs failed", "error", err)
		return
	}
	rep.Reclaimed = res.Requeued
	rep.Stalled = res.Failed

	if res.Requeued > 0 {
		c.logger.Warn("requeued stalled jobs", "count", res.Requeued, "stale_after", c.cfg.StaleAfter.String())
	}
	if res.Failed > 0 {
		c.logger.Error("gave up on stalled jobs",
			"alert", "stuck_job",
			"count", res.Failed,
			"max_claims", c.cfg.MaxClaims,
		)
	}
}

func (c *Cycle) mirror(ctx context.Context, jobID uuid.UUID, status models.Status) {
	if c.cache == nil {
		return
	}
	if err := c.cache.SetJobStatus(ctx, jobID, status, cache.JobStatusTTL); err != nil {
		c.logger.Debug("mirroring job status failed", "job_id", jobID, "error", err)
	}
}

func (c *Cycle) storeReport(ctx context.Context, rep Report) {
	if c.cache == nil {
		return
	}
	data, err := json.Marshal(rep)
	if err != nil {
		return
	}
	if err := c.cache.Set(ctx, cache.CycleReportKey(rep.OwnerID), data, cache.JobStatusTTL); err != nil {
		c.logger.Debug("storing cycle report failed", "error", err)
	}
}
