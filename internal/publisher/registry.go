package publisher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/kiranshivaraju/autopost/pkg/models"
	"golang.org/x/time/rate"
)

type entry struct {
	publisher models.Publisher
	limiter   *rate.Limiter
}

// Registry routes a publish request to the platform registered for its
// target. Each target gets its own limiter, and every call is bounded by
// the registry timeout.
type Registry struct {
	mu         sync.RWMutex
	entries    map[string]entry
	timeout    time.Duration
	ratePerSec int
	logger     *slog.Logger
}

// New creates an empty Registry. A ratePerSec of zero or less disables throttling.
func New(timeout time.Duration, ratePerSec int, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:    make(map[string]entry),
		timeout:    timeout,
		ratePerSec: ratePerSec,
		logger:     logger.With("component", "publisher"),
	}
}

// Register binds target to p, replacing any earlier binding. Targets are
// matched case-insensitively after models.NormalizeTargets.
func (r *Registry) Register(target string, p models.Publisher) {
	keys := models.NormalizeTargets([]string{target})
	if len(keys) == 0 {
		return
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if r.ratePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(r.ratePerSec), r.ratePerSec)
	}

	r.mu.Lock()
	r.entries[keys[0]] = entry{publisher: p, limiter: limiter}
	r.mu.Unlock()
}

// Get returns the publisher bound to target.
func (r *Registry) Get(target string) (models.Publisher, error) {
	e, err := r.lookup(target)
	if err != nil {
		return nil, err
	}
	return e.publisher, nil
}

// Supports reports whether target has a registered publisher.
func (r *Registry) Supports(target string) bool {
	_, err := r.lookup(target)
	return err == nil
}

// Targets lists registered targets in sorted order.
func (r *Registry) Targets() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.entries))
	for t := range r.entries {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Name() string { return "registry" }

// Publish waits for the target's limiter, then calls its publisher under the
// registry timeout. A deadline hit at either step is ErrPublishTimeout.
func (r *Registry) Publish(ctx context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
	e, err := r.lookup(req.Target)
	if err != nil {
		return models.PublishReceipt{}, err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return models.PublishReceipt{}, fmt.Errorf("%w: waiting for %s rate limit: %v", models.ErrPublishTimeout, req.Target, err)
	}

	start := time.Now()
	receipt, err := e.publisher.Publish(ctx, req)
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, models.ErrPublishTimeout) {
			err = fmt.Errorf("%w: %s after %s: %v", models.ErrPublishTimeout, req.Target, r.timeout, err)
		}
		r.logger.Warn("publish failed",
			"target", req.Target,
			"publisher", e.publisher.Name(),
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err,
		)
		return models.PublishReceipt{}, err
	}

	r.logger.Debug("published",
		"target", req.Target,
		"publisher", e.publisher.Name(),
		"remote_post_id", receipt.RemotePostID,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return receipt, nil
}

func (r *Registry) lookup(target string) (entry, error) {
	keys := models.NormalizeTargets([]string{target})
	if len(keys) == 0 {
		return entry{}, fmt.Errorf("%w: empty target", models.ErrUnsupportedTarget)
	}

	r.mu.RLock()
	e, ok := r.entries[keys[0]]
	r.mu.RUnlock()
	if !ok {
		return entry{}, fmt.Errorf("%w: %q", models.ErrUnsupportedTarget, target)
	}
	return e, nil
}

var _ models.Publisher = (*Registry)(nil)
