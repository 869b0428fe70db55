package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/kiranshivaraju/autopost/pkg/models"
)

// Dispatcher publishes a claimed job to every one of its targets.
type Dispatcher struct {
	publisher models.Publisher
	logger    *slog.Logger
}

func NewDispatcher(publisher models.Publisher, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{publisher: publisher, logger: logger}
}

// Dispatch calls the publisher once per distinct target, concurrently, and
// returns one result per target in the job's target order. A failing or
// panicking target never prevents attempts on the others.
func (d *Dispatcher) Dispatch(ctx context.Context, job *models.Job) []models.TargetResult {
	targets := models.NormalizeTargets(job.Targets)
	results := make([]models.TargetResult, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = d.publishOne(ctx, job, target)
		}()
	}
	wg.Wait()

	return results
}

func (d *Dispatcher) publishOne(ctx context.Context, job *models.Job, target string) (res models.TargetResult) {
	res.Target = target

	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("panic in publisher", "job_id", job.ID, "target", target, "error", r)
			res = models.TargetResult{Target: target, Error: fmt.Sprintf("panic: %v", r)}
		}
	}()

	receipt, err := d.publisher.Publish(ctx, models.PublishRequest{
		Target:      target,
		ArtifactRef: job.ArtifactRef,
		Caption:     job.Caption,
	})
	if err != nil {
		res.Error = err.Error()
		return res
	}

	res.Succeeded = true
	res.RemotePostID = receipt.RemotePostID
	return res
}
