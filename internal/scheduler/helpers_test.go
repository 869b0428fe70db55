package scheduler_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/internal/publisher"
	"github.com/kiranshivaraju/autopost/internal/publisher/mock"
	"github.com/kiranshivaraju/autopost/internal/scheduler"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"github.com/stretchr/testify/require"
)

var errStoreDown = errors.New("store unreachable")

func newJob(owner uuid.UUID, dueAt time.Time, targets ...string) *models.Job {
	now := time.Now().UTC()
	return &models.Job{
		ID:          uuid.New(),
		OwnerID:     owner,
		ArtifactRef: "https://cdn.example.com/v/" + uuid.NewString() + ".mp4",
		Caption:     "caption",
		Targets:     targets,
		DueAt:       dueAt.UTC(),
		Status:      models.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func seed(t *testing.T, s store.Store, jobs ...*models.Job) {
	t.Helper()
	for _, j := range jobs {
		require.NoError(t, s.CreateJob(context.Background(), j))
	}
}

func mustGet(t *testing.T, s store.Store, j *models.Job) *models.Job {
	t.Helper()
	got, err := s.GetJob(context.Background(), j.ID, j.OwnerID)
	require.NoError(t, err)
	return got
}

// registryWith binds each target to the same publisher.
func registryWith(p models.Publisher, targets ...string) *publisher.Registry {
	return registryWithTimeout(p, time.Second, targets...)
}

func registryWithTimeout(p models.Publisher, timeout time.Duration, targets ...string) *publisher.Registry {
	r := publisher.New(timeout, 0, nil)
	for _, t := range targets {
		r.Register(t, p)
	}
	return r
}

func newCycle(q store.JobQueue, p models.Publisher, cfg scheduler.Config) *scheduler.Cycle {
	return scheduler.NewCycle(scheduler.Options{
		Queue:     q,
		Publisher: p,
		Config:    cfg,
	})
}

// failingFetch fails every FetchDue call.
type failingFetch struct {
	store.JobQueue
	calls atomic.Int32
}

func (f *failingFetch) FetchDue(context.Context, uuid.UUID, time.Time, int) ([]*models.Job, error) {
	f.calls.Add(1)
	return nil, errStoreDown
}

// failingClaim fails ClaimJob for one job id.
type failingClaim struct {
	store.JobQueue
	id uuid.UUID
}

func (f *failingClaim) ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	if id == f.id {
		return false, errStoreDown
	}
	return f.JobQueue.ClaimJob(ctx, id, now)
}

// failingResult fails every SetResult call.
type failingResult struct {
	store.JobQueue
}

func (f *failingResult) SetResult(context.Context, uuid.UUID, models.Status, []models.TargetResult, time.Time) error {
	return errStoreDown
}

// fakeCache is an in-process cache.Cache.
type fakeCache struct {
	mu     sync.Mutex
	data   map[string][]byte
	status map[uuid.UUID][]models.Status
}

func newFakeCache() *fakeCache {
	return &fakeCache{data: map[string][]byte{}, status: map[uuid.UUID][]models.Status{}}
}

func (c *fakeCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[key] = value
	return nil
}

func (c *fakeCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.data[key]
	return v, ok, nil
}

func (c *fakeCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.data, key)
	return nil
}

func (c *fakeCache) Ping(context.Context) error { return nil }

func (c *fakeCache) SetJobStatus(_ context.Context, jobID uuid.UUID, status models.Status, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status[jobID] = append(c.status[jobID], status)
	return nil
}

func (c *fakeCache) GetJobStatus(_ context.Context, jobID uuid.UUID) (models.Status, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h := c.status[jobID]
	if len(h) == 0 {
		return "", false, nil
	}
	return h[len(h)-1], true, nil
}

func (c *fakeCache) IncrWithExpiry(context.Context, string, time.Duration) (int64, error) {
	return 0, nil
}

func (c *fakeCache) history(jobID uuid.UUID) []models.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Status(nil), c.status[jobID]...)
}

var _ cache.Cache = (*fakeCache)(nil)

// countingPublisher counts calls per (job artifact, target) pair.
func countingPublisher() (*mock.MockPublisher, func(artifact, target string) int) {
	var mu sync.Mutex
	counts := map[string]int{}
	m := &mock.MockPublisher{
		Name_: "counting",
		PublishFunc: func(_ context.Context, req models.PublishRequest) (models.PublishReceipt, error) {
			mu.Lock()
			counts[req.ArtifactRef+"|"+req.Target]++
			mu.Unlock()
			// Give a concurrent cycle time to race for the same job.
			time.Sleep(5 * time.Millisecond)
			return models.PublishReceipt{RemotePostID: req.Target + "-1"}, nil
		},
	}
	return m, func(artifact, target string) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[artifact+"|"+target]
	}
}
