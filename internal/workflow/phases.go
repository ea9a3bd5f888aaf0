package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sitesmith/sitesmith/internal/ai"
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/provision"
	"github.com/sitesmith/sitesmith/internal/ratelimit"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/internal/store"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// Phase is one step of a pipeline. Run receives the prior context by value
// and returns an updated copy, or an error that fails the whole session.
// Status and Progress are the fixed checkpoint the executor persists when
// the phase starts and finishes.
type Phase interface {
	Name() string
	Status() models.SessionStatus
	Progress() int
	Run(ctx context.Context, wc Context) (Context, error)
}

// sessionInit resolves the project record and, for workflows against an
// existing repository, the repository reference.
type sessionInit struct {
	projects store.Store
}

func (p *sessionInit) Name() string                 { return "session-init" }
func (p *sessionInit) Status() models.SessionStatus { return models.StatusInitializing }
func (p *sessionInit) Progress() int                { return 10 }

func (p *sessionInit) Run(ctx context.Context, wc Context) (Context, error) {
	proj, err := p.projects.GetProjectByName(ctx, wc.Request.Name)
	if err != nil {
		return wc, fmt.Errorf("loading project %q: %w", wc.Request.Name, err)
	}
	wc.ProjectID = proj.ID.String()

	if wc.Request.RepositoryURL != "" {
		repo, err := repoFromURL(wc.Request.RepositoryURL)
		if err != nil {
			return wc, err
		}
		wc.Repo = repo
	}
	return wc, nil
}

// repoFromURL derives an scm.Repo from a repository URL like
// https://github.com/owner/name.
func repoFromURL(rawURL string) (scm.Repo, error) {
	trimmed := strings.TrimSuffix(rawURL, ".git")
	parts := strings.Split(strings.TrimSuffix(trimmed, "/"), "/")
	if len(parts) < 2 {
		return scm.Repo{}, fmt.Errorf("repository url %q: expected .../owner/name", rawURL)
	}
	return scm.Repo{
		Owner:         parts[len(parts)-2],
		Name:          parts[len(parts)-1],
		URL:           trimmed,
		DefaultBranch: "main",
	}, nil
}

// templateFetch creates the project repository from the chosen template.
type templateFetch struct {
	scm scm.Client
}

func (p *templateFetch) Name() string                 { return "template-fetch" }
func (p *templateFetch) Status() models.SessionStatus { return models.StatusPreparing }
func (p *templateFetch) Progress() int                { return 30 }

func (p *templateFetch) Run(ctx context.Context, wc Context) (Context, error) {
	repo, err := p.scm.ForkTemplate(ctx, wc.Request.Template, wc.Request.Name)
	if err != nil {
		return wc, err
	}
	wc.Repo = repo
	wc.Branch = "customize/" + wc.SessionID
	return wc, nil
}

// aiGenerate produces customized file contents from the request's
// requirements and change list. It only accumulates generated files in the
// context; nothing is committed until the commit phase.
type aiGenerate struct {
	scm              scm.Client
	provider         models.AIProvider
	limiter          *ratelimit.Limiter
	prompts          ai.PromptBuilder
	inferenceTimeout time.Duration
	logger           *slog.Logger
}

func (p *aiGenerate) Name() string                 { return "ai-generate" }
func (p *aiGenerate) Status() models.SessionStatus { return models.StatusGenerating }
func (p *aiGenerate) Progress() int                { return 50 }

// defaultChangePath is customized when the request names no specific files.
const defaultChangePath = "site.config.json"

func (p *aiGenerate) Run(ctx context.Context, wc Context) (Context, error) {
	changes := wc.Request.Changes
	if len(changes) == 0 {
		changes = []models.ChangeRequest{{Path: defaultChangePath, Description: wc.Request.Requirements}}
	}

	for _, change := range changes {
		current, err := p.scm.GetFileContent(ctx, wc.Repo, wc.Repo.DefaultBranch, change.Path)
		if err != nil && !errors.Is(err, scm.ErrFileNotFound) {
			return wc, fmt.Errorf("reading %s: %w", change.Path, err)
		}

		if res := p.limiter.Check(p.provider.Name(), wc.SessionID); !res.Allowed {
			p.logger.Warn("ai provider rate limit exceeded",
				"provider", p.provider.Name(),
				"session_id", wc.SessionID,
				"reset_time", res.ResetTime)
		}

		prompt := p.prompts.BuildCustomizationPrompt(ai.CustomizationParams{
			ProjectName:  wc.Request.Name,
			Template:     wc.Request.Template,
			Requirements: describeChange(wc.Request.Requirements, change),
			FilePath:     change.Path,
			FileContent:  current,
		})

		genCtx, cancel := context.WithTimeout(ctx, p.inferenceTimeout)
		generated, err := p.provider.Generate(genCtx, prompt)
		cancel()
		if err != nil {
			return wc, fmt.Errorf("generating %s: %w", change.Path, err)
		}

		wc.GeneratedFiles = append(wc.GeneratedFiles, scm.CommitFile{
			Path:    change.Path,
			Content: ai.CleanResponse(generated),
		})
	}
	return wc, nil
}

func describeChange(requirements string, change models.ChangeRequest) string {
	if change.Description == "" {
		return requirements
	}
	if requirements == "" {
		return change.Description
	}
	return requirements + "\n\n" + change.Description
}

// commit lands the generated files on the default branch through a merged
// pull request.
type commit struct {
	scm scm.Client
}

func (p *commit) Name() string                 { return "commit" }
func (p *commit) Status() models.SessionStatus { return models.StatusCommitting }
func (p *commit) Progress() int                { return 60 }

func (p *commit) Run(ctx context.Context, wc Context) (Context, error) {
	if len(wc.GeneratedFiles) == 0 {
		return wc, nil
	}

	if err := p.scm.CreateBranch(ctx, wc.Repo, wc.Branch); err != nil {
		return wc, err
	}
	if err := p.scm.CommitFiles(ctx, wc.Repo, wc.Branch, "apply generated customization", wc.GeneratedFiles); err != nil {
		return wc, err
	}

	pr, err := p.scm.CreatePullRequest(ctx, wc.Repo, wc.Branch,
		"Apply generated customization",
		fmt.Sprintf("Automated customization for session %s.", wc.SessionID))
	if err != nil {
		return wc, err
	}
	if err := p.scm.MergePullRequest(ctx, wc.Repo, pr.Number); err != nil {
		return wc, err
	}
	if err := p.scm.DeleteBranch(ctx, wc.Repo, wc.Branch); err != nil {
		return wc, err
	}
	return wc, nil
}

// infraSetup provisions the managed database and the hosting site, then
// binds them through environment variables.
type infraSetup struct {
	hosting   hosting.Client
	provision provision.Client
}

func (p *infraSetup) Name() string                 { return "infra-setup" }
func (p *infraSetup) Status() models.SessionStatus { return models.StatusSettingUpInfra }
func (p *infraSetup) Progress() int                { return 80 }

func (p *infraSetup) Run(ctx context.Context, wc Context) (Context, error) {
	db, err := p.provision.CreateDatabase(ctx, wc.Request.Name+"-db")
	if err != nil {
		return wc, err
	}
	wc.Database = db

	site, err := p.hosting.CreateSite(ctx, wc.Request.Name, wc.Repo.URL)
	if err != nil {
		return wc, err
	}
	wc.Site = site

	if err := p.hosting.SetEnvironmentVariables(ctx, site.ID, map[string]string{
		"DATABASE_URL": db.ConnectionString,
	}); err != nil {
		return wc, err
	}
	return wc, nil
}

// deploy triggers a deployment and waits for the build. A failed build hands
// control to the recovery loop.
type deploy struct {
	hosting      hosting.Client
	fixer        *Fixer
	pollInterval time.Duration
	pollTimeout  time.Duration
}

func (p *deploy) Name() string                 { return "deploy" }
func (p *deploy) Status() models.SessionStatus { return models.StatusDeploying }
func (p *deploy) Progress() int                { return 100 }

func (p *deploy) Run(ctx context.Context, wc Context) (Context, error) {
	dep, err := p.hosting.TriggerDeploy(ctx, wc.Site.ID)
	if err != nil {
		return wc, err
	}

	final, err := hosting.WaitForDeploy(ctx, p.hosting, wc.Site.ID, dep.ID, p.pollInterval, p.pollTimeout)
	if err != nil {
		return wc, err
	}

	if final.State == hosting.DeployFailed {
		final, err = p.fixer.Fix(ctx, wc, final)
		if err != nil {
			return wc, err
		}
	}

	wc.DeployID = final.ID
	wc.DeployURL = final.URL
	return wc, nil
}
