// Package handler contains the HTTP handlers for the sitesmith API. Each
// handler depends on a narrow interface so tests can swap in mocks.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/sitesmith/sitesmith/internal/api/response"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/internal/workflow"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// WorkflowService defines the interface the workflow handlers depend on.
type WorkflowService interface {
	StartWorkflow(ctx context.Context, req workflow.Request) (*models.Session, error)
	GetSession(ctx context.Context, id string) (*models.Session, []models.LogEntry, error)
	Cancel(ctx context.Context, id string) error
}

// NewStartWorkflowHandler returns an http.HandlerFunc for POST /api/v1/workflows.
func NewStartWorkflowHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req workflow.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		sess, err := svc.StartWorkflow(r.Context(), req)
		if err != nil {
			if errors.Is(err, workflow.ErrInvalidRequest) {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, map[string]string{
			"session_id": sess.ID,
			"status":     string(sess.Status),
			"status_url": "/api/v1/sessions/" + sess.ID,
		})
	}
}

// sessionResponse is a Session plus its log lines.
type sessionResponse struct {
	*models.Session
	Logs []models.LogEntry `json:"logs"`
}

// NewGetSessionHandler returns an http.HandlerFunc for GET /api/v1/sessions/{sessionID}.
// A failed workflow is still a 200: workflow outcome never changes the HTTP code.
func NewGetSessionHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")

		sess, logs, err := svc.GetSession(r.Context(), id)
		if err != nil {
			if errors.Is(err, session.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", nil)
			return
		}

		response.JSON(w, sessionResponse{Session: sess, Logs: logs})
	}
}

// NewCancelSessionHandler returns an http.HandlerFunc for
// POST /api/v1/sessions/{sessionID}/cancel. Cancellation takes effect at the
// running workflow's next checkpoint.
func NewCancelSessionHandler(svc WorkflowService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "sessionID")

		if err := svc.Cancel(r.Context(), id); err != nil {
			switch {
			case errors.Is(err, session.ErrNotFound):
				response.Error(w, http.StatusNotFound, "SESSION_NOT_FOUND", "Session not found", nil)
			case errors.Is(err, session.ErrSessionFinalized):
				response.Error(w, http.StatusConflict, "SESSION_FINALIZED",
					"Session already reached a terminal status", nil)
			default:
				response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
					"An unexpected error occurred", nil)
			}
			return
		}

		response.JSON(w, map[string]string{
			"session_id": id,
			"status":     string(models.StatusCancelled),
		})
	}
}
