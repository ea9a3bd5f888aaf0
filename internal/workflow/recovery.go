package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/sitesmith/sitesmith/internal/ai"
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/ratelimit"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// Fixer is the deployment recovery loop: it classifies a failed build,
// requests per-file corrections from the AI provider, commits them, and
// redeploys, up to maxRetries attempts. Only type errors are considered
// fixable. Every attempt is logged to the session's append-only log, which
// is the sole audit trail of the loop.
type Fixer struct {
	sessions         session.Store
	hosting          hosting.Client
	scm              scm.Client
	provider         models.AIProvider
	limiter          *ratelimit.Limiter
	prompts          ai.PromptBuilder
	maxRetries       int
	inferenceTimeout time.Duration
	pollInterval     time.Duration
	pollTimeout      time.Duration
	logger           *slog.Logger
	now              func() time.Time
}

// FixerDeps collects the collaborators the recovery loop drives.
type FixerDeps struct {
	Sessions session.Store
	Hosting  hosting.Client
	SCM      scm.Client
	Provider models.AIProvider
	Limiter  *ratelimit.Limiter
	Logger   *slog.Logger
}

func NewFixer(deps FixerDeps, maxRetries int, inferenceTimeout, pollInterval, pollTimeout time.Duration) *Fixer {
	return &Fixer{
		sessions:         deps.Sessions,
		hosting:          deps.Hosting,
		scm:              deps.SCM,
		provider:         deps.Provider,
		limiter:          deps.Limiter,
		maxRetries:       maxRetries,
		inferenceTimeout: inferenceTimeout,
		pollInterval:     pollInterval,
		pollTimeout:      pollTimeout,
		logger:           deps.Logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// Fix attempts to repair the failed deployment. It returns the first ready
// deployment, or an error when the failure is not fixable, the diagnostic
// cannot be fetched, or retries are exhausted.
func (f *Fixer) Fix(ctx context.Context, wc Context, failed hosting.Deployment) (hosting.Deployment, error) {
	var lastDiag string

	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		buildLog, err := f.hosting.GetBuildLog(ctx, wc.Site.ID, failed.ID)
		if err != nil {
			// Without a diagnostic there is nothing to fix; abort the
			// whole loop, not just this attempt.
			f.logAttempt(ctx, wc.SessionID, attempt, FailureUnknown, 0, "aborted: diagnostic fetch failed")
			return hosting.Deployment{}, fmt.Errorf("fetching build diagnostics: %w", err)
		}
		lastDiag = buildLog

		cls := Classify(buildLog)
		if !cls.CanFix {
			f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, 0, "not fixable, no retry")
			return hosting.Deployment{}, fmt.Errorf("deployment failed with %s: %s", cls.Class, excerpt(buildLog))
		}

		f.recordAttempt(ctx, wc.SessionID, attempt, excerpt(buildLog))

		fixed, err := f.applyFixes(ctx, wc, buildLog, cls.Files)
		if err != nil {
			f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, fixed, "fix failed: "+err.Error())
			continue
		}

		dep, err := f.hosting.TriggerDeploy(ctx, wc.Site.ID)
		if err != nil {
			f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, fixed, "redeploy failed: "+err.Error())
			continue
		}

		final, err := hosting.WaitForDeploy(ctx, f.hosting, wc.Site.ID, dep.ID, f.pollInterval, f.pollTimeout)
		if err != nil {
			f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, fixed, "deploy wait failed: "+err.Error())
			continue
		}

		if final.State == hosting.DeployReady {
			f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, fixed, "deploy succeeded")
			return final, nil
		}

		f.logAttempt(ctx, wc.SessionID, attempt, cls.Class, fixed, "deploy still failing")
		failed = final
	}

	return hosting.Deployment{}, fmt.Errorf("recovery exhausted after %d attempts: %s", f.maxRetries, excerpt(lastDiag))
}

// applyFixes requests a correction for each affected file and commits each
// one atomically. It returns how many files were fixed before the first
// collaborator error, which consumes the current attempt.
func (f *Fixer) applyFixes(ctx context.Context, wc Context, buildLog string, files []string) (int, error) {
	if len(files) == 0 {
		return 0, fmt.Errorf("no affected files identified in diagnostics")
	}

	fixed := 0
	for _, path := range files {
		current, err := f.scm.GetFileContent(ctx, wc.Repo, wc.Repo.DefaultBranch, path)
		if err != nil {
			return fixed, fmt.Errorf("reading %s: %w", path, err)
		}

		if res := f.limiter.Check(f.provider.Name(), wc.SessionID); !res.Allowed {
			f.logger.Warn("ai provider rate limit exceeded during recovery",
				"provider", f.provider.Name(), "session_id", wc.SessionID)
		}

		prompt := f.prompts.BuildFixPrompt(ai.FixParams{
			FilePath:    path,
			FileContent: current,
			BuildErrors: errorLinesFor(buildLog, path),
		})

		genCtx, cancel := context.WithTimeout(ctx, f.inferenceTimeout)
		corrected, err := f.provider.Generate(genCtx, prompt)
		cancel()
		if err != nil {
			return fixed, fmt.Errorf("generating fix for %s: %w", path, err)
		}

		err = f.scm.CommitFiles(ctx, wc.Repo, wc.Repo.DefaultBranch, "fix build failure", []scm.CommitFile{
			{Path: path, Content: ai.CleanResponse(corrected)},
		})
		if err != nil {
			return fixed, fmt.Errorf("committing fix for %s: %w", path, err)
		}
		fixed++
	}
	return fixed, nil
}

// recordAttempt persists the loop's position into the session's retry info.
func (f *Fixer) recordAttempt(ctx context.Context, sessionID string, attempt int, lastError string) {
	sess, err := f.sessions.Get(ctx, sessionID)
	if err != nil {
		f.logger.Error("cannot record recovery attempt", "session_id", sessionID, "error", err)
		return
	}
	sess.RetryInfo = &models.RetryInfo{
		Attempt:    attempt,
		MaxRetries: f.maxRetries,
		LastError:  lastError,
	}
	if err := f.sessions.Put(ctx, sess); err != nil {
		f.logger.Error("cannot persist recovery attempt", "session_id", sessionID, "error", err)
	}
}

func (f *Fixer) logAttempt(ctx context.Context, sessionID string, attempt int, class FailureClass, filesFixed int, outcome string) {
	_ = f.sessions.AppendLog(ctx, sessionID, models.LogEntry{
		Timestamp: f.now(),
		Level:     "info",
		Message:   fmt.Sprintf("recovery attempt %d/%d: %s", attempt, f.maxRetries, outcome),
		Metadata: map[string]string{
			"attempt":        strconv.Itoa(attempt),
			"classification": string(class),
			"files_fixed":    strconv.Itoa(filesFixed),
			"outcome":        outcome,
		},
	})
}

// errorLinesFor returns the diagnostic lines that mention the given file.
func errorLinesFor(buildLog, path string) []string {
	var lines []string
	for _, line := range strings.Split(buildLog, "\n") {
		if strings.Contains(line, path) {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	return lines
}

// excerpt bounds a diagnostic for inclusion in error strings and retry info.
func excerpt(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 300 {
		s = s[:300] + "..."
	}
	return strings.ReplaceAll(s, "\n", " | ")
}
