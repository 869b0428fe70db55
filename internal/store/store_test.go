package store_test

import (
	"context"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// migrationsDir returns the absolute path to the migrations directory.
func migrationsDir() string {
	_, filename, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(filename), "..", "..", "migrations")
}

// setupTestDB spins up a Postgres container, runs migrations, and returns a pool + cleanup.
func setupTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("autopost_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		require.NoError(t, pgContainer.Terminate(ctx))
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	err = store.RunMigrations(connStr, migrationsDir())
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return pool
}

// --- Job Tests ---

func TestJob_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	job := newJob(owner, time.Now(), "youtube", "tiktok")
	require.NoError(t, s.CreateJob(ctx, job))

	got, err := s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Equal(t, []string{"youtube", "tiktok"}, got.Targets)
	assert.True(t, job.DueAt.Equal(got.DueAt))
	assert.Nil(t, got.ProcessedAt)
	assert.Nil(t, got.Results)
	assert.Equal(t, 0, got.ClaimCount)
}

func TestJob_GetNotFound(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))

	_, err := s.GetJob(context.Background(), uuid.New(), uuid.New())
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestJob_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	job := newJob(uuid.New(), time.Now())
	require.NoError(t, s.CreateJob(ctx, job))
	assert.ErrorIs(t, s.CreateJob(ctx, job), store.ErrDuplicateKey)
}

func TestJob_ListWithFilters(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	var last *models.Job
	for i := range 5 {
		last = newJob(owner, time.Now().Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.CreateJob(ctx, last))
	}
	require.NoError(t, s.CancelJob(ctx, last.ID, owner, time.Now()))

	jobs, total, err := s.ListJobs(ctx, store.JobFilter{OwnerID: owner, Page: 1, Limit: 3})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	assert.Len(t, jobs, 3)

	jobs, total, err = s.ListJobs(ctx, store.JobFilter{OwnerID: owner, Status: models.StatusCancelled})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, last.ID, jobs[0].ID)
}

func TestJob_CancelOnlyPending(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	job := newJob(owner, time.Now())
	require.NoError(t, s.CreateJob(ctx, job))
	ok, err := s.ClaimJob(ctx, job.ID, time.Now())
	require.NoError(t, err)
	require.True(t, ok)

	assert.ErrorIs(t, s.CancelJob(ctx, job.ID, owner, time.Now()), store.ErrInvalidTransition)
	assert.ErrorIs(t, s.CancelJob(ctx, uuid.New(), owner, time.Now()), store.ErrNotFound)
}

func TestJob_FetchDue(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()
	now := time.Now().UTC()

	for i := range 10 {
		require.NoError(t, s.CreateJob(ctx, newJob(owner, now.Add(-time.Duration(i+1)*time.Minute))))
	}
	future := newJob(owner, now.Add(time.Hour))
	require.NoError(t, s.CreateJob(ctx, future))

	jobs, err := s.FetchDue(ctx, uuid.Nil, now, 5)
	require.NoError(t, err)
	require.Len(t, jobs, 5)
	for i, j := range jobs {
		assert.NotEqual(t, future.ID, j.ID)
		if i > 0 {
			assert.False(t, j.DueAt.Before(jobs[i-1].DueAt))
		}
	}

	jobs, err = s.FetchDue(ctx, uuid.New(), now, 5)
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestJob_ClaimIsConditional(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	job := newJob(owner, time.Now())
	require.NoError(t, s.CreateJob(ctx, job))

	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimJob(ctx, job.ID, time.Now())
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusInFlight, got.Status)
	assert.Equal(t, 1, got.ClaimCount)
}

func TestJob_SetResult(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	job := newJob(owner, time.Now(), "youtube", "tiktok")
	require.NoError(t, s.CreateJob(ctx, job))
	_, err := s.ClaimJob(ctx, job.ID, time.Now())
	require.NoError(t, err)

	results := []models.TargetResult{
		{Target: "youtube", Succeeded: true, RemotePostID: "yt-1"},
		{Target: "tiktok", Succeeded: false, Error: "quota exceeded"},
	}
	require.NoError(t, s.SetResult(ctx, job.ID, models.StatusPartial, results, time.Now()))

	got, err := s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPartial, got.Status)
	assert.Equal(t, results, got.Results)
	assert.NotNil(t, got.ProcessedAt)

	err = s.SetResult(ctx, job.ID, models.StatusCompleted, nil, time.Now())
	assert.ErrorIs(t, err, store.ErrInvalidTransition)
}

func TestJob_RecordError(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()

	job := newJob(owner, time.Now())
	require.NoError(t, s.CreateJob(ctx, job))
	require.NoError(t, s.RecordError(ctx, job.ID, "publisher exploded"))

	got, err := s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "publisher exploded", *got.LastError)

	assert.ErrorIs(t, s.RecordError(ctx, uuid.New(), "x"), store.ErrNotFound)
}

func TestJob_ReclaimStale(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	owner := uuid.New()
	stale := time.Now().Add(-time.Hour)

	job := newJob(owner, stale)
	require.NoError(t, s.CreateJob(ctx, job))

	params := store.ReclaimParams{Now: time.Now(), StaleAfter: 15 * time.Minute, MaxClaims: 2, Limit: 100}

	// First stall: back to pending.
	_, err := s.ClaimJob(ctx, job.ID, stale)
	require.NoError(t, err)
	res, err := s.ReclaimStale(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, store.ReclaimResult{Requeued: 1}, res)

	got, err := s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)
	assert.Nil(t, got.ClaimedAt)

	// Second stall exhausts MaxClaims.
	_, err = s.ClaimJob(ctx, job.ID, stale)
	require.NoError(t, err)
	res, err = s.ReclaimStale(ctx, params)
	require.NoError(t, err)
	assert.Equal(t, store.ReclaimResult{Failed: 1}, res)

	got, err = s.GetJob(ctx, job.ID, owner)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	require.NotNil(t, got.LastError)
	assert.Equal(t, store.StalledError, *got.LastError)
	assert.NotNil(t, got.ProcessedAt)
}

// --- API Key Tests ---

func TestAPIKey_CreateAndGet(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	key := &models.APIKey{
		ID:        uuid.New(),
		OwnerID:   uuid.New(),
		Name:      "test-key",
		KeyHash:   "bcrypt-hash-here",
		KeyPrefix: "ap_abcd",
		Scopes:    []string{"jobs"},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, s.CreateAPIKey(ctx, key))

	keys, err := s.GetAPIKeyByPrefix(ctx, "ap_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, key.ID, keys[0].ID)
	assert.Equal(t, key.OwnerID, keys[0].OwnerID)

	require.NoError(t, s.UpdateAPIKeyLastUsed(ctx, key.ID))
	keys, err = s.GetAPIKeyByPrefix(ctx, "ap_abcd")
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotNil(t, keys[0].LastUsedAt)
}

func TestAPIKey_DuplicateID(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	id := uuid.New()
	require.NoError(t, s.CreateAPIKey(ctx, &models.APIKey{
		ID: id, OwnerID: uuid.New(), Name: "dup1", KeyHash: "h1", KeyPrefix: "ap_dup1",
		Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now,
	}))

	err := s.CreateAPIKey(ctx, &models.APIKey{
		ID: id, OwnerID: uuid.New(), Name: "dup2", KeyHash: "h2", KeyPrefix: "ap_dup2",
		Scopes: []string{"jobs"}, CreatedAt: now, UpdatedAt: now,
	})
	assert.ErrorIs(t, err, store.ErrDuplicateKey)
}

// --- Ping Test ---

func TestPing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	s := store.NewPostgresStore(setupTestDB(t))
	assert.NoError(t, s.Ping(context.Background()))
}
