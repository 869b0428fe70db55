package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// ErrInvalidTransition is returned when a conditional status write finds the
// job in a state the requested edge does not leave from.
var ErrInvalidTransition = errors.New("invalid job status transition")

// Store is the data access interface. All database operations go through here.
type Store interface {
	Ping(ctx context.Context) error

	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error)
	CancelJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, now time.Time) error

	JobQueue

	GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error)
	UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error
	CreateAPIKey(ctx context.Context, key *models.APIKey) error
}

// JobQueue is the subset of Store the scheduler drives.
type JobQueue interface {
	// FetchDue returns pending jobs with due_at <= now, oldest due first.
	// A uuid.Nil owner matches every owner.
	FetchDue(ctx context.Context, ownerID uuid.UUID, now time.Time, limit int) ([]*models.Job, error)
	// ClaimJob moves a job from pending to in_flight only if it is still
	// pending. It reports false, without error, when another claimer won or
	// the job left pending in the meantime.
	ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (bool, error)
	// SetResult writes the terminal status, per-target results and
	// processed_at in one conditional write against an in_flight job.
	SetResult(ctx context.Context, id uuid.UUID, status models.Status, results []models.TargetResult, processedAt time.Time) error
	// RecordError stores a summary error on the job without touching its status.
	RecordError(ctx context.Context, id uuid.UUID, msg string) error
	// ReclaimStale resolves in_flight jobs whose claim is older than the stale threshold.
	ReclaimStale(ctx context.Context, params ReclaimParams) (ReclaimResult, error)
}

type JobFilter struct {
	OwnerID uuid.UUID
	Status  models.Status
	Page    int
	Limit   int
}

// ReclaimParams bounds one stalled-job sweep.
type ReclaimParams struct {
	Now        time.Time
	StaleAfter time.Duration
	MaxClaims  int
	Limit      int
}

// ReclaimResult counts the jobs a sweep returned to pending and the ones it gave up on.
type ReclaimResult struct {
	Requeued int64
	Failed   int64
}

const (
	// StalledError is recorded on jobs that exhausted their claims while stuck in flight.
	StalledError = "stalled in flight"
	// RequeuedError is recorded on jobs returned to pending by the reclaimer.
	RequeuedError = "reclaimed after stalling in flight"
)

// NormalizePage clamps pagination: page >= 1, limit in 1..100 (default 20).
func NormalizePage(page, limit int) (int, int) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if page <= 0 {
		page = 1
	}
	return page, limit
}
