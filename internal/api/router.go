package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	mw "github.com/kiranshivaraju/threadpost/internal/api/middleware"
	"github.com/kiranshivaraju/threadpost/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
// Auth and RateLimit are optional: nil leaves the API open or unlimited.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit
	Metrics   func(http.Handler) http.Handler

	HealthHandler  http.HandlerFunc
	MetricsHandler http.Handler

	PostThreadHandler     http.HandlerFunc
	ScheduleThreadHandler http.HandlerFunc
	GetThreadHandler      http.HandlerFunc
	ListThreadsHandler    http.HandlerFunc
	CancelThreadHandler   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)
	if deps.Metrics != nil {
		r.Use(deps.Metrics)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
	})

	// Public
	r.Get("/health", orNotImplemented(deps.HealthHandler))
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	// Protected routes
	r.Group(func(r chi.Router) {
		if deps.Auth != nil {
			r.Use(deps.Auth.Authenticate)
		}
		if deps.RateLimit != nil {
			r.Use(deps.RateLimit.Limit)
		}

		r.Get("/thread/{id}", orNotImplemented(deps.GetThreadHandler))
		r.Get("/threads", orNotImplemented(deps.ListThreadsHandler))

		r.Group(func(r chi.Router) {
			requireScope(r, deps.Auth, "write")

			r.Post("/post-thread", orNotImplemented(deps.PostThreadHandler))
			r.Post("/schedule-thread", orNotImplemented(deps.ScheduleThreadHandler))
			r.Delete("/thread/{id}", orNotImplemented(deps.CancelThreadHandler))
		})

		// Admin routes
		r.Group(func(r chi.Router) {
			requireScope(r, deps.Auth, "admin")

			r.Post("/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
		})
	})

	return r
}

// requireScope is a no-op when authentication is disabled.
func requireScope(r chi.Router, auth *mw.Auth, scope string) {
	if auth != nil {
		r.Use(auth.RequireScope(scope))
	}
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
