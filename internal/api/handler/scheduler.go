package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/api/response"
	"github.com/kiranshivaraju/autopost/internal/cache"
	"github.com/kiranshivaraju/autopost/internal/scheduler"
)

// CycleRunner runs one scheduler cycle for an owner scope.
type CycleRunner interface {
	Run(ctx context.Context, ownerID uuid.UUID) scheduler.Report
}

// ReportReader reads cached values.
type ReportReader interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
}

// NewRunCycleHandler returns an http.HandlerFunc for POST /api/v1/scheduler/run.
// The cycle shares its guard with the background runner, so a request made
// while a cycle is in progress gets 409 instead of a second concurrent cycle.
func NewRunCycleHandler(c CycleRunner) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		rep := c.Run(context.WithoutCancel(r.Context()), ownerID)
		if rep.Skipped {
			response.Error(w, http.StatusConflict, response.CodeCycleRunning, "A scheduler cycle is already running", nil)
			return
		}
		if rep.FetchErr != "" {
			response.Error(w, http.StatusServiceUnavailable, response.CodeStoreUnavailable, "Fetching due jobs failed", rep)
			return
		}
		response.JSON(w, rep)
	}
}

// NewCycleReportHandler returns an http.HandlerFunc for GET
// /api/v1/scheduler/report: the most recent cycle report for the caller's scope.
func NewCycleReportHandler(c ReportReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID, ok := mw.GetOwnerID(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, response.CodeInvalidToken, "Missing owner", nil)
			return
		}

		raw, found, err := c.Get(r.Context(), cache.CycleReportKey(ownerID))
		if err != nil {
			slog.Warn("reading cycle report failed", "owner_id", ownerID, "error", err)
			response.Error(w, http.StatusServiceUnavailable, response.CodeCacheUnavailable, "Cycle report unavailable", nil)
			return
		}
		if !found {
			response.Error(w, http.StatusNotFound, response.CodeNotFound, "No cycle has run for this scope yet", nil)
			return
		}

		var rep scheduler.Report
		if err := json.Unmarshal(raw, &rep); err != nil {
			slog.Warn("decoding cycle report failed", "owner_id", ownerID, "error", err)
			response.Error(w, http.StatusInternalServerError, response.CodeInternal, "Cycle report is corrupt", nil)
			return
		}
		response.JSON(w, rep)
	}
}
