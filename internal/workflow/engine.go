package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// ErrCancelled is returned by Execute when the session was cancelled by an
// operator. Cancellation is observed only at checkpoint boundaries; a phase
// already running completes before the executor stops.
var ErrCancelled = errors.New("session cancelled")

// Engine runs a fixed, ordered phase pipeline for one session, persisting
// status, progress, and step label before and after each phase. Progress
// moves through fixed checkpoints and never decreases; 100 is only reported
// together with a terminal success status.
type Engine struct {
	sessions session.Store
	logger   *slog.Logger
	now      func() time.Time
}

func NewEngine(sessions session.Store, logger *slog.Logger) *Engine {
	return &Engine{
		sessions: sessions,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the time source for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Execute drives the pipeline to completion. On phase failure the session is
// marked failed with the error and end time persisted, and the error is
// returned. Store errors are fatal to the run and never swallowed.
func (e *Engine) Execute(ctx context.Context, sessionID string, wc Context, phases []Phase) (Context, error) {
	for _, p := range phases {
		sess, err := e.sessions.Get(ctx, sessionID)
		if err != nil {
			return wc, fmt.Errorf("loading session %s: %w", sessionID, err)
		}
		if sess.Status == models.StatusCancelled {
			e.logger.Info("workflow stopped at checkpoint: session cancelled",
				"session_id", sessionID, "next_phase", p.Name())
			return wc, ErrCancelled
		}
		if sess.Status.IsTerminal() {
			return wc, fmt.Errorf("session %s already %s", sessionID, sess.Status)
		}

		if sess.Status.CanTransition(p.Status()) {
			sess.Status = p.Status()
		} else {
			e.logger.Warn("rejected out-of-order status transition",
				"session_id", sessionID, "from", sess.Status, "to", p.Status())
		}
		sess.CurrentStep = p.Name()
		if err := e.sessions.Put(ctx, sess); err != nil {
			return wc, fmt.Errorf("persisting session %s: %w", sessionID, err)
		}
		e.log(ctx, sessionID, "info", "phase started", map[string]string{"phase": p.Name()})

		wc, err = p.Run(ctx, wc)
		if err != nil {
			e.fail(ctx, sessionID, p.Name(), err)
			return wc, err
		}

		if err := e.checkpoint(ctx, sessionID, p); err != nil {
			return wc, err
		}
	}

	return wc, e.finalize(ctx, sessionID)
}

// checkpoint persists the phase's progress value. The session is re-read
// because the phase (through the recovery loop) may have updated it.
func (e *Engine) checkpoint(ctx context.Context, sessionID string, p Phase) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if sess.Status.IsTerminal() {
		return nil
	}
	if p.Progress() > sess.Progress && p.Progress() < 100 {
		sess.Progress = p.Progress()
		if err := e.sessions.Put(ctx, sess); err != nil {
			return fmt.Errorf("persisting session %s: %w", sessionID, err)
		}
	}
	e.log(ctx, sessionID, "info", "phase completed", map[string]string{"phase": p.Name()})
	return nil
}

// finalize moves the session through deployed to completed, writing 100%
// progress and the end time in the terminal update.
func (e *Engine) finalize(ctx context.Context, sessionID string) error {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("loading session %s: %w", sessionID, err)
	}
	if sess.Status == models.StatusCancelled {
		return ErrCancelled
	}
	if !sess.Status.CanTransition(models.StatusCompleted) {
		e.logger.Warn("cannot finalize session", "session_id", sessionID, "status", sess.Status)
		return nil
	}

	if sess.Status.CanTransition(models.StatusDeployed) {
		sess.Status = models.StatusDeployed
		if err := e.sessions.Put(ctx, sess); err != nil {
			return fmt.Errorf("persisting session %s: %w", sessionID, err)
		}
	}

	end := e.now()
	sess.Status = models.StatusCompleted
	sess.Progress = 100
	sess.EndTime = &end
	if err := e.sessions.Put(ctx, sess); err != nil {
		return fmt.Errorf("persisting session %s: %w", sessionID, err)
	}
	e.log(ctx, sessionID, "info", "workflow completed", nil)
	return nil
}

// fail marks the session failed with the error message and end time. A store
// failure here is logged loudly; there is nothing else to do with it.
func (e *Engine) fail(ctx context.Context, sessionID, phaseName string, cause error) {
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		e.logger.Error("cannot mark session failed",
			"session_id", sessionID, "phase", phaseName, "error", err, "cause", cause)
		return
	}
	if sess.Status.IsTerminal() {
		return
	}

	msg := cause.Error()
	end := e.now()
	if end.Before(sess.StartTime) {
		end = sess.StartTime
	}
	sess.Status = models.StatusFailed
	sess.Error = &msg
	sess.EndTime = &end
	if err := e.sessions.Put(ctx, sess); err != nil {
		e.logger.Error("cannot persist failed session",
			"session_id", sessionID, "phase", phaseName, "error", err, "cause", cause)
		return
	}
	e.log(ctx, sessionID, "error", "phase failed: "+msg, map[string]string{"phase": phaseName})
}

func (e *Engine) log(ctx context.Context, sessionID, level, message string, metadata map[string]string) {
	_ = e.sessions.AppendLog(ctx, sessionID, models.LogEntry{
		Timestamp: e.now(),
		Level:     level,
		Message:   message,
		Metadata:  metadata,
	})
}
