package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/autopost/internal/api/middleware"
	"github.com/kiranshivaraju/autopost/internal/api/response"
)

// ScopeScheduler lets an API key trigger scheduler cycles on demand.
const ScopeScheduler = "scheduler"

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	CreateJob http.HandlerFunc
	ListJobs  http.HandlerFunc
	GetJob    http.HandlerFunc
	JobStatus http.HandlerFunc
	CancelJob http.HandlerFunc

	RunCycle    http.HandlerFunc
	CycleReport http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Route("/api/v1/jobs", func(r chi.Router) {
			r.Post("/", orNotImplemented(deps.CreateJob))
			r.Get("/", orNotImplemented(deps.ListJobs))
			r.Get("/{jobID}", orNotImplemented(deps.GetJob))
			r.Get("/{jobID}/status", orNotImplemented(deps.JobStatus))
			r.Post("/{jobID}/cancel", orNotImplemented(deps.CancelJob))
		})

		r.Get("/api/v1/scheduler/report", orNotImplemented(deps.CycleReport))
		r.With(deps.Auth.RequireScope(ScopeScheduler)).
			Post("/api/v1/scheduler/run", orNotImplemented(deps.RunCycle))
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, response.CodeNotImplemented, "Endpoint not yet implemented", nil)
	}
}
