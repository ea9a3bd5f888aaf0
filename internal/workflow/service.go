package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sitesmith/sitesmith/internal/ai"
	"github.com/sitesmith/sitesmith/internal/config"
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/provision"
	"github.com/sitesmith/sitesmith/internal/queue"
	"github.com/sitesmith/sitesmith/internal/ratelimit"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// ErrInvalidRequest is returned for requests that fail validation before a
// session is created. Handlers surface it as a 400.
var ErrInvalidRequest = errors.New("invalid workflow request")

// NotifyQueue is the queue carrying webhook notifications and backups.
const NotifyQueue = "background"

// Deps collects the collaborators the workflow service drives.
type Deps struct {
	Sessions  session.Store
	Projects  store.Store
	SCM       scm.Client
	Hosting   hosting.Client
	Provision provision.Client
	Provider  models.AIProvider
	Limiter   *ratelimit.Limiter
	Queue     *queue.Service
	Logger    *slog.Logger
}

// Service creates sessions and drives them through the phase pipeline in a
// background goroutine. Each session runs independently; the session store
// is the only shared state.
type Service struct {
	cfg              config.WorkflowConfig
	inferenceTimeout time.Duration
	deps             Deps
	engine           *Engine
	fixer            *Fixer
	now              func() time.Time
}

func NewService(cfg config.WorkflowConfig, inferenceTimeout time.Duration, deps Deps) *Service {
	fixer := NewFixer(FixerDeps{
		Sessions: deps.Sessions,
		Hosting:  deps.Hosting,
		SCM:      deps.SCM,
		Provider: deps.Provider,
		Limiter:  deps.Limiter,
		Logger:   deps.Logger,
	}, cfg.MaxFixRetries, inferenceTimeout, cfg.DeployPollInterval, cfg.DeployPollTimeout)

	return &Service{
		cfg:              cfg,
		inferenceTimeout: inferenceTimeout,
		deps:             deps,
		engine:           NewEngine(deps.Sessions, deps.Logger),
		fixer:            fixer,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for tests, including the embedded
// engine and recovery loop.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	s.engine.WithClock(now)
	s.fixer.now = now
	return s
}

// StartWorkflow validates the request, creates the Project and Session
// records, and launches the pipeline in the background. It returns the new
// session immediately.
func (s *Service) StartWorkflow(ctx context.Context, req Request) (*models.Session, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	project := &models.Project{
		ID:            uuid.New(),
		Name:          req.Name,
		Template:      req.Template,
		AIProvider:    req.Provider,
		AIModel:       req.Model,
		RepositoryURL: req.RepositoryURL,
		Status:        models.ProjectInitializing,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.deps.Projects.CreateProject(ctx, project); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fmt.Errorf("%w: project %q already exists", ErrInvalidRequest, req.Name)
		}
		return nil, fmt.Errorf("creating project: %w", err)
	}

	projectID := project.ID.String()
	sess := &models.Session{
		ID:        models.NewSessionID(models.SessionTypeInit, now),
		ProjectID: &projectID,
		Type:      models.SessionTypeInit,
		Status:    models.StatusPending,
		StartTime: now,
		Changes:   req.Changes,
	}
	if err := s.deps.Sessions.Create(ctx, sess); err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}

	project.TrackSessionStart(sess.ID, true)
	if err := s.deps.Projects.UpdateProject(ctx, project); err != nil {
		return nil, fmt.Errorf("tracking session on project: %w", err)
	}

	go s.run(sess.ID, project.ID, req)

	return sess, nil
}

// run executes the pipeline in a goroutine. It recovers from panics and
// always leaves the session in a terminal state.
func (s *Service) run(sessionID string, projectID uuid.UUID, req Request) {
	ctx := context.Background()

	defer func() {
		if r := recover(); r != nil {
			s.deps.Logger.Error("panic in workflow run", "session_id", sessionID, "error", r)
			s.engine.fail(ctx, sessionID, "pipeline", fmt.Errorf("panic: %v", r))
		}
	}()

	wc := Context{
		SessionID: sessionID,
		ProjectID: projectID.String(),
		Request:   req,
	}

	wc, err := s.engine.Execute(ctx, sessionID, wc, s.pipeline(req))

	s.finishProject(ctx, projectID, sessionID, wc, err)
	s.enqueueFollowups(ctx, sessionID, projectID, req, err)
}

// pipeline selects the phase list for the request. Customization input
// selects the full AI pipeline; otherwise the reduced standard pipeline
// deploys the named repository as-is.
func (s *Service) pipeline(req Request) []Phase {
	init := &sessionInit{projects: s.deps.Projects}
	infra := &infraSetup{hosting: s.deps.Hosting, provision: s.deps.Provision}
	dep := &deploy{
		hosting:      s.deps.Hosting,
		fixer:        s.fixer,
		pollInterval: s.cfg.DeployPollInterval,
		pollTimeout:  s.cfg.DeployPollTimeout,
	}

	if !req.Customized() {
		return []Phase{init, infra, dep}
	}

	return []Phase{
		init,
		&templateFetch{scm: s.deps.SCM},
		&aiGenerate{
			scm:              s.deps.SCM,
			provider:         s.deps.Provider,
			limiter:          s.deps.Limiter,
			prompts:          ai.PromptBuilder{},
			inferenceTimeout: s.inferenceTimeout,
			logger:           s.deps.Logger,
		},
		&commit{scm: s.deps.SCM},
		infra,
		dep,
	}
}

// finishProject records the run's outcome on the project: resource handles
// and active status on success, failed on error. Cancellation leaves the
// project untouched apart from session tracking.
func (s *Service) finishProject(ctx context.Context, projectID uuid.UUID, sessionID string, wc Context, runErr error) {
	project, err := s.deps.Projects.GetProject(ctx, projectID)
	if err != nil {
		s.deps.Logger.Error("cannot load project after run", "project_id", projectID, "error", err)
		return
	}

	project.TrackSessionEnd(sessionID)
	switch {
	case runErr == nil:
		project.Status = models.ProjectActive
		project.RepositoryURL = wc.Repo.URL
		project.SiteID = wc.Site.ID
		project.DatabaseRef = wc.Database.Ref
	case errors.Is(runErr, ErrCancelled):
		// keep current status
	default:
		project.Status = models.ProjectFailed
	}
	project.UpdatedAt = s.now()

	if err := s.deps.Projects.UpdateProject(ctx, project); err != nil {
		s.deps.Logger.Error("cannot update project after run", "project_id", projectID, "error", err)
	}
}

// enqueueFollowups schedules the webhook notification and the project
// backup. Both are best-effort background work.
func (s *Service) enqueueFollowups(ctx context.Context, sessionID string, projectID uuid.UUID, req Request, runErr error) {
	sess, err := s.deps.Sessions.Get(ctx, sessionID)
	if err != nil {
		s.deps.Logger.Error("cannot load session for followups", "session_id", sessionID, "error", err)
		return
	}

	if req.WebhookURL != "" {
		s.deps.Queue.Enqueue(NotifyQueue, &models.QueueJob{
			Type:     models.JobTypeNotify,
			Priority: 5,
			Payload: map[string]string{
				"webhook_url": req.WebhookURL,
				"session_id":  sessionID,
				"status":      string(sess.Status),
			},
		})
	}

	s.deps.Queue.Enqueue(NotifyQueue, &models.QueueJob{
		Type:     models.JobTypeBackup,
		Priority: 1,
		Payload:  map[string]string{"project_id": projectID.String()},
	})

	if runErr != nil && !errors.Is(runErr, ErrCancelled) {
		s.deps.Logger.Error("workflow run failed", "session_id", sessionID, "error", runErr)
	}
}

// GetSession returns the session together with its append-only log.
func (s *Service) GetSession(ctx context.Context, id string) (*models.Session, []models.LogEntry, error) {
	sess, err := s.deps.Sessions.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	logs, err := s.deps.Sessions.Logs(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	sess.LogCount = len(logs)
	return sess, logs, nil
}

// Cancel marks the session cancelled. The running pipeline observes the
// transition at its next checkpoint boundary; a phase in flight finishes
// first.
func (s *Service) Cancel(ctx context.Context, id string) error {
	sess, err := s.deps.Sessions.Get(ctx, id)
	if err != nil {
		return err
	}
	if sess.Status.IsTerminal() {
		return session.ErrSessionFinalized
	}

	end := s.now()
	sess.Status = models.StatusCancelled
	sess.EndTime = &end
	if err := s.deps.Sessions.Put(ctx, sess); err != nil {
		return err
	}
	_ = s.deps.Sessions.AppendLog(ctx, id, models.LogEntry{
		Timestamp: end,
		Level:     "warn",
		Message:   "session cancelled by operator",
	})
	return nil
}

func validate(req Request) error {
	if req.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.Customized() {
		if req.Template == "" {
			return fmt.Errorf("%w: template is required for customized workflows", ErrInvalidRequest)
		}
	} else if req.RepositoryURL == "" {
		return fmt.Errorf("%w: repository_url is required when no customization input is given", ErrInvalidRequest)
	}
	for _, c := range req.Changes {
		if c.Path == "" {
			return fmt.Errorf("%w: every change needs a path", ErrInvalidRequest)
		}
	}
	return nil
}
