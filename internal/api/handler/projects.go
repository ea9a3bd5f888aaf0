package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/internal/api/response"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// ProjectReader defines the interface the project handlers depend on.
type ProjectReader interface {
	GetProject(ctx context.Context, id uuid.UUID) (*models.Project, error)
	ListProjects(ctx context.Context) ([]*models.Project, error)
}

// NewListProjectsHandler returns an http.HandlerFunc for GET /api/v1/projects.
func NewListProjectsHandler(s ProjectReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projects, err := s.ListProjects(r.Context())
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}
		if projects == nil {
			projects = []*models.Project{}
		}
		response.JSON(w, projects)
	}
}

// NewGetProjectHandler returns an http.HandlerFunc for GET /api/v1/projects/{projectID}.
func NewGetProjectHandler(s ProjectReader) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "projectID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_PROJECT_ID",
				"Invalid project ID format", nil)
			return
		}

		project, err := s.GetProject(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "PROJECT_NOT_FOUND", "Project not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, project)
	}
}
