package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Jobs ---

const jobColumns = `id, owner_id, artifact_ref, caption, targets, due_at, status, results,
	last_error, processed_at, claimed_at, claim_count, created_at, updated_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var (
		j       models.Job
		status  string
		results []byte
	)
	if err := row.Scan(&j.ID, &j.OwnerID, &j.ArtifactRef, &j.Caption, &j.Targets, &j.DueAt,
		&status, &results, &j.LastError, &j.ProcessedAt, &j.ClaimedAt, &j.ClaimCount,
		&j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	j.Status = models.Status(status)
	if len(results) > 0 {
		if err := json.Unmarshal(results, &j.Results); err != nil {
			return nil, fmt.Errorf("decode results: %w", err)
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]*models.Job, error) {
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CreateJob(ctx context.Context, job *models.Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO scheduled_jobs (id, owner_id, artifact_ref, caption, targets, due_at, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		job.ID, job.OwnerID, job.ArtifactRef, job.Caption, job.Targets, job.DueAt,
		string(job.Status), job.CreatedAt, job.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create job: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM scheduled_jobs WHERE id = $1 AND owner_id = $2`, id, ownerID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]*models.Job, int, error) {
	conditions := []string{"owner_id = $1"}
	args := []any{filter.OwnerID}
	argIdx := 2

	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", argIdx))
		args = append(args, string(filter.Status))
		argIdx++
	}

	where := strings.Join(conditions, " AND ")

	var total int
	if err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM scheduled_jobs WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count jobs: %w", err)
	}

	page, limit := NormalizePage(filter.Page, filter.Limit)
	offset := (page - 1) * limit

	dataQuery := fmt.Sprintf(
		`SELECT %s FROM scheduled_jobs WHERE %s ORDER BY due_at DESC, id LIMIT $%d OFFSET $%d`,
		jobColumns, where, argIdx, argIdx+1)
	args = append(args, limit, offset)

	rows, err := s.pool.Query(ctx, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, 0, err
	}
	return jobs, total, nil
}

func (s *PostgresStore) CancelJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET status = 'cancelled', processed_at = $3, updated_at = $3
		 WHERE id = $1 AND owner_id = $2 AND status = 'pending'`, id, ownerID, now)
	if err != nil {
		return fmt.Errorf("cancel job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM scheduled_jobs WHERE id = $1 AND owner_id = $2)`, id, ownerID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("check job: %w", err)
	}
	if !exists {
		return ErrNotFound
	}
	return ErrInvalidTransition
}

func (s *PostgresStore) FetchDue(ctx context.Context, ownerID uuid.UUID, now time.Time, limit int) ([]*models.Job, error) {
	conditions := []string{"status = 'pending'", "due_at <= $1"}
	args := []any{now}
	argIdx := 2

	if ownerID != uuid.Nil {
		conditions = append(conditions, fmt.Sprintf("owner_id = $%d", argIdx))
		args = append(args, ownerID)
		argIdx++
	}

	query := fmt.Sprintf(
		`SELECT %s FROM scheduled_jobs WHERE %s ORDER BY due_at, id LIMIT $%d`,
		jobColumns, strings.Join(conditions, " AND "), argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("fetch due jobs: %w", err)
	}
	return collectJobs(rows)
}

func (s *PostgresStore) ClaimJob(ctx context.Context, id uuid.UUID, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs
		 SET status = 'in_flight', claimed_at = $2, claim_count = claim_count + 1, updated_at = $2
		 WHERE id = $1 AND status = 'pending'`, id, now)
	if err != nil {
		return false, fmt.Errorf("claim job: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) SetResult(ctx context.Context, id uuid.UUID, status models.Status, results []models.TargetResult, processedAt time.Time) error {
	if !status.IsTerminal() || status == models.StatusCancelled {
		return fmt.Errorf("%w: in_flight -> %s", ErrInvalidTransition, status)
	}

	payload, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("encode results: %w", err)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET status = $2, results = $3, processed_at = $4, updated_at = $4
		 WHERE id = $1 AND status = 'in_flight'`, id, string(status), payload, processedAt)
	if err != nil {
		return fmt.Errorf("set job result: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is not in flight", ErrInvalidTransition, id)
	}
	return nil
}

func (s *PostgresStore) RecordError(ctx context.Context, id uuid.UUID, msg string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scheduled_jobs SET last_error = $2, updated_at = NOW() WHERE id = $1`, id, msg)
	if err != nil {
		return fmt.Errorf("record job error: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReclaimStale fails stalled jobs that used up their claims, then returns the
// rest to pending, both inside one transaction. SKIP LOCKED keeps concurrent
// sweeps from fighting over the same rows.
func (s *PostgresStore) ReclaimStale(ctx context.Context, params ReclaimParams) (ReclaimResult, error) {
	var res ReclaimResult
	cutoff := params.Now.Add(-params.StaleAfter)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE scheduled_jobs
			SET status = 'failed', last_error = $4, processed_at = $3, updated_at = $3
			WHERE id IN (
				SELECT id FROM scheduled_jobs
				WHERE status = 'in_flight' AND claimed_at < $1 AND claim_count >= $2
				ORDER BY claimed_at
				LIMIT $5
				FOR UPDATE SKIP LOCKED
			)`, cutoff, params.MaxClaims, params.Now, StalledError, params.Limit)
		if err != nil {
			return fmt.Errorf("fail stalled jobs: %w", err)
		}
		res.Failed = tag.RowsAffected()

		tag, err = tx.Exec(ctx, `
			UPDATE scheduled_jobs
			SET status = 'pending', claimed_at = NULL, last_error = $4, updated_at = $3
			WHERE id IN (
				SELECT id FROM scheduled_jobs
				WHERE status = 'in_flight' AND claimed_at < $1 AND claim_count < $2
				ORDER BY claimed_at
				LIMIT $5
				FOR UPDATE SKIP LOCKED
			)`, cutoff, params.MaxClaims, params.Now, RequeuedError, params.Limit)
		if err != nil {
			return fmt.Errorf("requeue stalled jobs: %w", err)
		}
		res.Requeued = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return ReclaimResult{}, err
	}
	return res, nil
}

// --- API Keys ---

func (s *PostgresStore) GetAPIKeyByPrefix(ctx context.Context, prefix string) ([]*models.APIKey, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, owner_id, name, key_hash, key_prefix, scopes, last_used_at, deleted_at, created_at, updated_at
		 FROM api_keys WHERE key_prefix = $1 AND deleted_at IS NULL`, prefix)
	if err != nil {
		return nil, fmt.Errorf("get api key by prefix: %w", err)
	}
	defer rows.Close()

	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.OwnerID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Scopes,
			&k.LastUsedAt, &k.DeletedAt, &k.CreatedAt, &k.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan api key: %w", err)
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) UpdateAPIKeyLastUsed(ctx context.Context, id uuid.UUID) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE api_keys SET last_used_at = NOW(), updated_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("update api key last used: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *models.APIKey) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO api_keys (id, owner_id, name, key_hash, key_prefix, scopes, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		key.ID, key.OwnerID, key.Name, key.KeyHash, key.KeyPrefix, key.Scopes, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return ErrDuplicateKey
		}
		return fmt.Errorf("create api key: %w", err)
	}
	return nil
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
