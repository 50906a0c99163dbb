// Package api wires the HTTP routes and middleware stack.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/haakonsb/carcounter/internal/api/middleware"
	"github.com/haakonsb/carcounter/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	AnalyzeHandler          http.HandlerFunc
	AnalyzeFromStoreHandler http.HandlerFunc
	PresignUploadHandler    http.HandlerFunc
	ListJobsHandler         http.HandlerFunc
	GetJobHandler           http.HandlerFunc
	ListImagesHandler       http.HandlerFunc
	StreamHandler           http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	// Public health check
	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/videos/analyze", orNotImplemented(deps.AnalyzeHandler))
		r.Post("/api/v1/videos/analyze-from-store", orNotImplemented(deps.AnalyzeFromStoreHandler))
		r.Post("/api/v1/videos/presign-upload", orNotImplemented(deps.PresignUploadHandler))

		r.Get("/api/v1/videos", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/videos/{jobID}", orNotImplemented(deps.GetJobHandler))
		r.Get("/api/v1/videos/{jobID}/images", orNotImplemented(deps.ListImagesHandler))
		r.Get("/api/v1/videos/{jobID}/stream", orNotImplemented(deps.StreamHandler))
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
