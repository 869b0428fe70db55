package handler

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/autopost/internal/api/response"
)

// Pinger is implemented by the store and the cache.
type Pinger interface {
	Ping(ctx context.Context) error
}

// SchedulerState reports whether a cycle is currently running.
type SchedulerState interface {
	Running() bool
}

// NewHealthHandler returns an http.HandlerFunc for GET /api/v1/health.
// guard may be nil when the scheduler is disabled.
func NewHealthHandler(db, c Pinger, guard SchedulerState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, response.CodeDegraded,
				"One or more services degraded", checks)
			return
		}

		body := map[string]any{
			"status":   "ok",
			"services": checks,
		}
		if guard != nil {
			body["scheduler"] = map[string]bool{"cycle_running": guard.Running()}
		}
		response.JSON(w, body)
	}
}
