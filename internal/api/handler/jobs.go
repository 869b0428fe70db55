package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/api/response"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/internal/store"
	"github.com/kiranshivaraju/autopost/pkg/models"
)

const maxCaptionLen = 5000

// JobStore is the subset of store.Store the job handlers use.
type JobStore interface {
	CreateJob(ctx context.Context, job *models.Job) error
	GetJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID) (*models.Job, error)
	ListJobs(ctx context.Context, filter store.JobFilter) ([]*models.Job, int, error)
	CancelJob(ctx context.Context, id uuid.UUID, ownerID uuid.UUID, now time.Time) error
}

// TargetSet reports which publish targets are configured.
type TargetSet interface {
	Supports(target string) bool
}

// StatusCache is the subset of cache.Cache the job handlers use.
type StatusCache interface {
	GetJobStatus(ctx context.Context, jobID uuid.UUID) (models.Status, bool, error)
	Delete(ctx context.Context, key string) error
}

type createJobRequest struct {
	ArtifactRef string   `json:"artifact_ref"`
	Caption     string   `json:"caption"`
	Targets     []string `json:"targets"`
	DueAt       string   `json:"due_at"`
}

// NewCreateJobHandler returns an http.HandlerFunc for POST /api/v1/jobs.
func NewCreateJobHandler(s JobStore, targets TargetSet) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		var req createJobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "Invalid JSON body", nil)
			return
		}

		if req.ArtifactRef == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "artifact_ref is required", nil)
			return
		}
		if u, err := url.ParseRequestURI(req.ArtifactRef); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "artifact_ref must be an http(s) URL", nil)
			return
		}
		if len(req.Caption) > maxCaptionLen {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "caption is too long", map[string]int{"max": maxCaptionLen})
			return
		}

		normalized := models.NormalizeTargets(req.Targets)
		if len(normalized) == 0 {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "at least one target is required", nil)
			return
		}
		var unknown []string
		for _, t := range normalized {
			if !targets.Supports(t) {
				unknown = append(unknown, t)
			}
		}
		if len(unknown) > 0 {
			response.Error(w, http.StatusBadRequest, response.CodeUnsupportedTarget, "One or more targets are not configured",
				map[string][]string{"targets": unknown})
			return
		}

		if req.DueAt == "" {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "due_at is required", nil)
			return
		}
		dueAt, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "due_at must be a valid RFC3339 timestamp", nil)
			return
		}

		now := time.Now().UTC()
		job := &models.Job{
			ID:          uuid.New(),
			OwnerID:     ownerID,
			ArtifactRef: req.ArtifactRef,
			Caption:     req.Caption,
			Targets:     normalized,
			DueAt:       dueAt.UTC(),
			Status:      models.StatusPending,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.CreateJob(r.Context(), job); err != nil {
			slog.Error("creating job failed", "owner_id", ownerID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to schedule job", nil)
			return
		}

		slog.Info("job scheduled", "job_id", job.ID, "owner_id", ownerID, "targets", len(normalized), "due_at", job.DueAt)
		response.Created(w, job)
	}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		q := r.URL.Query()
		filter := store.JobFilter{OwnerID: ownerID}

		if v := q.Get("status"); v != "" {
			status := models.Status(v)
			if !status.Valid() {
				response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "status is not a known job status", nil)
				return
			}
			filter.Status = status
		}

		var err error
		if filter.Page, err = intParam(q, "page"); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "page must be an integer", nil)
			return
		}
		if filter.Limit, err = intParam(q, "limit"); err != nil {
			response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "limit must be an integer", nil)
			return
		}
		filter.Page, filter.Limit = store.NormalizePage(filter.Page, filter.Limit)

		jobs, total, err := s.ListJobs(r.Context(), filter)
		if err != nil {
			slog.Error("listing jobs failed", "owner_id", ownerID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Failed to list jobs", nil)
			return
		}

		response.Collection(w, jobs, response.PaginationMeta{
			Page:    filter.Page,
			Limit:   filter.Limit,
			Total:   total,
			HasNext: filter.Page*filter.Limit < total,
		})
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(s JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, jobID, ok := jobScope(w, r)
		if !ok {
			return
		}

		job, err := s.GetJob(r.Context(), jobID, ownerID)
		if err != nil {
			writeStoreError(w, err, jobID)
			return
		}
		response.JSON(w, job)
	}
}

type jobStatusResponse struct {
	JobID  uuid.UUID     `json:"job_id"`
	Status models.Status `json:"status"`
	Source string        `json:"source"`
}

// NewJobStatusHandler returns an http.HandlerFunc for GET
// /api/v1/jobs/{jobID}/status. The store confirms ownership; the status
// itself comes from the cache mirror when present.
func NewJobStatusHandler(s JobStore, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, jobID, ok := jobScope(w, r)
		if !ok {
			return
		}

		job, err := s.GetJob(r.Context(), jobID, ownerID)
		if err != nil {
			writeStoreError(w, err, jobID)
			return
		}

		resp := jobStatusResponse{JobID: jobID, Status: job.Status, Source: "store"}
		if c != nil {
			status, found, err := c.GetJobStatus(r.Context(), jobID)
			switch {
			case err != nil:
				slog.Debug("reading cached job status failed", "job_id", jobID, "error", err)
			case found && status.Valid():
				resp.Status = status
				resp.Source = "cache"
			}
		}
		response.JSON(w, resp)
	}
}

// NewCancelJobHandler returns an http.HandlerFunc for POST /api/v1/jobs/{jobID}/cancel.
func NewCancelJobHandler(s JobStore, c StatusCache) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, jobID, ok := jobScope(w, r)
		if !ok {
			return
		}

		if err := s.CancelJob(r.Context(), jobID, ownerID, time.Now().UTC()); err != nil {
			writeStoreError(w, err, jobID)
			return
		}
		if c != nil {
			if err := c.Delete(r.Context(), cache.JobStatusKey(jobID)); err != nil {
				slog.Debug("invalidating cached job status failed", "job_id", jobID, "error", err)
			}
		}

		job, err := s.GetJob(r.Context(), jobID, ownerID)
		if err != nil {
			writeStoreError(w, err, jobID)
			return
		}
		slog.Info("job cancelled", "job_id", jobID, "owner_id", ownerID)
		response.JSON(w, job)
	}
}

// jobScope extracts the caller's owner and the {jobID} path parameter,
// writing the error response itself when either is missing or malformed.
func jobScope(w http.ResponseWriter, r *http.Request) (uuid.UUID, uuid.UUID, bool) {
	ownerID, ok := mw.GetOwnerID(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
		return uuid.Nil, uuid.Nil, false
	}
	jobID, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		response.Error(w, http.StatusBadRequest, response.CodeInvalidRequest, "jobID must be a UUID", nil)
		return uuid.Nil, uuid.Nil, false
	}
	return ownerID, jobID, true
}

func writeStoreError(w http.ResponseWriter, err error, jobID uuid.UUID) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		response.Error(w, http.StatusNotFound, response.CodeNotFound, "Job not found", nil)
	case errors.Is(err, store.ErrInvalidTransition):
		response.Error(w, http.StatusConflict, response.CodeInvalidTransition, "Only pending jobs can be cancelled", nil)
	default:
		slog.Error("job store operation failed", "job_id", jobID, "error", err)
		response.Error(w, http.StatusInternalServerError, response.CodeInternal, "An unexpected error occurred", nil)
	}
}

func intParam(q url.Values, name string) (int, error) {
	v := q.Get(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
