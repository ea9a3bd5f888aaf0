package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	mw "github.com/sitesmith/sitesmith/internal/api/middleware"
	"github.com/sitesmith/sitesmith/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	StartWorkflowHandler http.HandlerFunc
	GetSessionHandler    http.HandlerFunc
	CancelSessionHandler http.HandlerFunc

	ListProjectsHandler http.HandlerFunc
	GetProjectHandler   http.HandlerFunc

	CreateKeyHandler http.HandlerFunc
	ListKeysHandler  http.HandlerFunc
	RevokeKeyHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			"Method not allowed for this endpoint", nil)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		response.Error(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
	})

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/workflows", orNotImplemented(deps.StartWorkflowHandler))

		r.Get("/api/v1/sessions/{sessionID}", orNotImplemented(deps.GetSessionHandler))
		r.Post("/api/v1/sessions/{sessionID}/cancel", orNotImplemented(deps.CancelSessionHandler))

		r.Get("/api/v1/projects", orNotImplemented(deps.ListProjectsHandler))
		r.Get("/api/v1/projects/{projectID}", orNotImplemented(deps.GetProjectHandler))

		// Admin routes
		r.Group(func(r chi.Router) {
			r.Use(deps.Auth.RequireScope("admin"))

			r.Post("/api/v1/admin/keys", orNotImplemented(deps.CreateKeyHandler))
			r.Get("/api/v1/admin/keys", orNotImplemented(deps.ListKeysHandler))
			r.Delete("/api/v1/admin/keys/{keyID}", orNotImplemented(deps.RevokeKeyHandler))
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
