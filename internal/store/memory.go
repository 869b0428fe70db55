package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

// MemoryStore is a process-local Store. Every conditional write is evaluated
// under one mutex, so its claim semantics match the postgres implementation.
// Used by STORE_DRIVER=memory and throughout the scheduler tests.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*models.Job
	keys map[uuid.UUID]*models.APIKey
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*models.Job),
		keys: make(map[uuid.UUID]*models.APIKey),
	}
}

func (s *MemoryStore) Ping(_ context.Context) error { return nil }

func (s *MemoryStore) CreateJob(_ context.Context, job *models.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return ErrDuplicateKey
	}
	s.jobs[job.ID] = cloneJob(job)
	return nil
}

func (s *MemoryStore) GetJob(_ context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListJobs(_ context.Context, filter JobFilter) ([]*models.Job, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var matched []*models.Job
	for _, j := range s.jobs {
		if j.OwnerID != filter.OwnerID {
			continue
		}
		if filter.Status != "" && j.Status != filter.Status {
			continue
		}
		matched = append(matched, j)
	}
	sort.Slice(matched, func(a, b int) bool {
		if !matched[a].DueAt.Equal(matched[b].DueAt) {
			return matched[a].DueAt.After(matched[b].DueAt)
		}
		return matched[a].ID.String() < matched[b].ID.String()
	})

	total := len(matched)
	page, limit := NormalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit
	if offset >= total {
		return []*models.Job{}, total, nil
	}
	end := min(offset+limit, total)

	out := make([]*models.Job, 0, end-offset)
	for _, j := range matched[offset:end] {
		out = append(out, cloneJob(j))
	}
	return out, total, nil
}

func (s *MemoryStore) CancelJob(_ context.Context, id uuid.UUID, ownerID uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.OwnerID != ownerID {
		return ErrNotFound
	}
	if !j.Status.CanTransition(models.StatusCancelled) {
		return ErrInvalidTransition
	}
	j.Status = models.StatusCancelled
	j.ProcessedAt = &now
	j.UpdatedAt = now
	return nil
}

func (s *MemoryStore) FetchDue(_ context.Context, ownerID uuid.UUID, now time.Time, limit int) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*models.Job
	for _, j := range s.jobs {
		if j.Status != models.StatusPending || j.DueAt.After(now) {
			continue
		}
		if ownerID != uuid.Nil && j.OwnerID != ownerID {
			continue
		}
		due = append(due, j)
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].DueAt.Equal(due[b].DueAt) {
			return due[a].DueAt.Before(due[b].DueAt)
		}
		return due[a].ID.String() < due[b].ID.String()
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	out := make([]*models.Job, 0, len(due))
	for _, j := range due {
		out = append(out, cloneJob(j))
	}
	return out, nil
}

func (s *MemoryStore) ClaimJob(_ context.Context, id uuid.UUID, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || !j.Status.CanTransition(models.StatusInFlight) {
		return false, nil
	}
	j.Status = models.StatusInFlight
	j.ClaimedAt = &now
	j.ClaimCount++
	j.UpdatedAt = now
	return true, nil
}

func (s *MemoryStore) SetResult(_ context.Context, id uuid.UUID, status models.Status, results []models.TargetResult, processedAt time.Time) error {
	if !status.IsTerminal() || status == models.StatusCancelled {
		return fmt.Errorf("%w: in_flight -> %s", ErrInvalidTransition, status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok || j.Status != models.StatusInFlight {
		return fmt.Errorf("%w: job %s is not in flight", ErrInvalidTransition, id)
	}
	j.Status = status
	j.Results = append([]models.TargetResult(nil), results...)
	j.ProcessedAt = &processedAt
	j.UpdatedAt = processedAt
	return nil
}

func (s *MemoryStore) RecordError(_ context.Context, id uuid.UUID, msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.LastError = &msg
	j.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ReclaimStale(_ context.Context, params ReclaimParams) (ReclaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := params.Now.Add(-params.StaleAfter)
	var stale []*models.Job
	for _, j := range s.jobs {
		if j.Status == models.StatusInFlight && j.ClaimedAt != nil && j.ClaimedAt.Before(cutoff) {
			stale = append(stale, j)
		}
	}
	sort.Slice(stale, func(a, b int) bool { return stale[a].ClaimedAt.Before(*stale[b].ClaimedAt) })

	var res ReclaimResult
	var failed, requeued int
	for _, j := range stale {
		if j.ClaimCount >= params.MaxClaims {
			if params.Limit > 0 && failed >= params.Limit {
				continue
			}
			msg := StalledError
			now := params.Now
			j.Status = models.StatusFailed
			j.LastError = &msg
			j.ProcessedAt = &now
			j.UpdatedAt = now
			failed++
			continue
		}
		if params.Limit > 0 && requeued >= params.Limit {
			continue
		}
		msg := RequeuedError
		j.Status = models.StatusPending
		j.ClaimedAt = nil
		j.LastError = &msg
		j.UpdatedAt = params.Now
		requeued++
	}
	res.Failed = int64(failed)
	res.Requeued = int64(requeued)
	return res, nil
}

func (s *MemoryStore) GetAPIKeyByPrefix(_ context.Context, prefix string) ([]*models.APIKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var keys []*models.APIKey
	for _, k := range s.keys {
		if k.KeyPrefix == prefix && k.DeletedAt == nil {
			cp := *k
			keys = append(keys, &cp)
		}
	}
	return keys, nil
}

func (s *MemoryStore) UpdateAPIKeyLastUsed(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if k, ok := s.keys[id]; ok {
		now := time.Now().UTC()
		k.LastUsedAt = &now
		k.UpdatedAt = now
	}
	return nil
}

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *models.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range s.keys {
		if k.KeyHash == key.KeyHash {
			return ErrDuplicateKey
		}
	}
	cp := *key
	s.keys[key.ID] = &cp
	return nil
}

func cloneJob(j *models.Job) *models.Job {
	cp := *j
	cp.Targets = append([]string(nil), j.Targets...)
	if j.Results != nil {
		cp.Results = append([]models.TargetResult(nil), j.Results...)
	}
	return &cp
}

var _ Store = (*MemoryStore)(nil)
