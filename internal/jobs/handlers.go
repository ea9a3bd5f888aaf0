// Package jobs implements the handlers for background queue work: webhook
// notifications, session cleanup sweeps, and project backup snapshots.
package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/internal/cache"
	"github.com/sitesmith/sitesmith/internal/queue"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// BackupTTL is how long a project backup snapshot is retained in the cache.
const BackupTTL = 7 * 24 * time.Hour

// Handlers bundles the dependencies shared by the queue job handlers.
type Handlers struct {
	sessions session.Store
	projects store.Store
	cache    cache.Cache
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// New creates the job handlers. A nil httpClient gets a 10s-timeout default.
func New(sessions session.Store, projects store.Store, c cache.Cache, httpClient *http.Client, logger *slog.Logger) *Handlers {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Handlers{
		sessions: sessions,
		projects: projects,
		cache:    c,
		client:   httpClient,
		logger:   logger,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Intended for tests.
func (h *Handlers) WithClock(now func() time.Time) *Handlers {
	h.now = now
	return h
}

// Map returns the dispatch table for the queue service.
func (h *Handlers) Map() map[models.JobType]queue.Handler {
	return map[models.JobType]queue.Handler{
		models.JobTypeNotify:  h.Notify,
		models.JobTypeCleanup: h.Cleanup,
		models.JobTypeBackup:  h.Backup,
	}
}

// webhookPayload is the body POSTed to a workflow's webhook URL.
type webhookPayload struct {
	SessionID string `json:"session_id"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	SentAt    string `json:"sent_at"`
}

// Notify POSTs the session outcome to the webhook URL recorded in the job
// payload. A non-2xx response is an error so the queue retries with backoff.
func (h *Handlers) Notify(ctx context.Context, job *models.QueueJob) error {
	url := job.Payload["webhook_url"]
	if url == "" {
		return fmt.Errorf("notify job %s has no webhook_url", job.ID)
	}

	payload := webhookPayload{
		SessionID: job.Payload["session_id"],
		Status:    job.Payload["status"],
		SentAt:    h.now().UTC().Format(time.RFC3339),
	}
	if sess, err := h.sessions.Get(ctx, payload.SessionID); err == nil {
		payload.Status = string(sess.Status)
		if sess.Error != nil {
			payload.Error = *sess.Error
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}

	h.logger.Info("webhook delivered", "session_id", payload.SessionID, "url", url)
	return nil
}

// Cleanup sweeps terminal sessions whose retention window has elapsed out of
// the session index. Live sessions are never touched.
func (h *Handlers) Cleanup(ctx context.Context, _ *models.QueueJob) error {
	sessions, err := h.sessions.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("listing sessions for cleanup: %w", err)
	}

	now := h.now()
	removed := 0
	for _, sess := range sessions {
		if !sess.Status.IsTerminal() || sess.EndTime == nil {
			continue
		}
		if now.Sub(*sess.EndTime) < session.TTLFor(sess.Type) {
			continue
		}
		if err := h.sessions.Delete(ctx, sess.ID); err != nil {
			h.logger.Warn("cleanup could not delete session", "session_id", sess.ID, "error", err)
			continue
		}
		removed++
	}

	h.logger.Info("cleanup sweep finished", "scanned", len(sessions), "removed", removed)
	return nil
}

// Backup snapshots the project record named in the job payload into the
// cache so it survives a database restore window.
func (h *Handlers) Backup(ctx context.Context, job *models.QueueJob) error {
	raw := job.Payload["project_id"]
	projectID, err := uuid.Parse(raw)
	if err != nil {
		return fmt.Errorf("backup job %s has invalid project_id %q: %w", job.ID, raw, err)
	}

	project, err := h.projects.GetProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("loading project %s for backup: %w", projectID, err)
	}

	data, err := json.Marshal(project)
	if err != nil {
		return fmt.Errorf("marshaling project %s: %w", projectID, err)
	}

	if err := h.cache.Set(ctx, cache.ProjectBackupKey(projectID), data, BackupTTL); err != nil {
		return fmt.Errorf("storing project backup: %w", err)
	}

	h.logger.Info("project backed up", "project_id", projectID, "bytes", len(data))
	return nil
}
