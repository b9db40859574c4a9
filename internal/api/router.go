package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	mw "github.com/kiranshivaraju/shopmind/internal/api/middleware"
	"github.com/kiranshivaraju/shopmind/internal/api/handler"
	"github.com/kiranshivaraju/shopmind/internal/api/response"
	"github.com/kiranshivaraju/shopmind/internal/metrics"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	Health    http.HandlerFunc
	Metrics   http.Handler
	Jobs      *handler.Jobs
	Actions   *handler.Actions
	Analyses  *handler.Analyses
	Providers *handler.Providers
	Settings  *handler.Settings
	Usage     http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	r.Use(metrics.Middleware)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", orNotImplemented(deps.Health))
		if deps.Metrics != nil {
			r.Handle("/metrics", deps.Metrics)
		}

		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.Authenticate)
			r.Use(deps.RateLimit.Limit)

			if h := deps.Jobs; h != nil {
				r.Post("/jobs", h.Start)
				r.Get("/jobs/current", h.Progress)
				r.Post("/jobs/current/batch", h.Batch)
				r.Post("/jobs/current/cancel", h.Cancel)
				r.Post("/jobs/current/acknowledge", h.Acknowledge)
				r.Post("/jobs/current/resume", h.Resume)
				r.With(deps.Auth.RequireScope(mw.ScopeAdmin)).Delete("/jobs/current", h.Reset)
			}

			if h := deps.Actions; h != nil {
				r.Get("/actions", h.List)
				r.Get("/actions/kinds", h.Kinds)
				r.Post("/actions/approve-all", h.ApproveAll)
				r.Post("/actions/dismiss", h.DismissAll)
				r.Get("/actions/{id}", h.Get)
				r.Post("/actions/{id}/execute", h.Execute)
				r.Post("/actions/{id}/approve", h.Approve)
				r.Post("/actions/{id}/dismiss", h.Dismiss)
			}

			if h := deps.Analyses; h != nil {
				r.Get("/analyses", h.List)
				r.Get("/analyses/{id}", h.Get)
			}

			if h := deps.Providers; h != nil {
				r.Post("/providers/test", h.Test)
				r.Get("/providers/models", h.Models)
				r.Post("/providers/validate", h.Validate)
			}

			r.Get("/usage", orNotImplemented(deps.Usage))

			// Admin routes
			if h := deps.Settings; h != nil {
				r.Group(func(r chi.Router) {
					r.Use(deps.Auth.RequireScope(mw.ScopeAdmin))

					r.Get("/settings", h.All)
					r.Put("/settings/{key}", h.Set)
				})
			}
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
