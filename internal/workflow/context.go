// Package workflow contains the phase executor, the deployment recovery
// loop, and the service that drives a session from request to deployed site.
package workflow

import (
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/provision"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/pkg/models"
)

// Request is the validated input that starts a workflow.
type Request struct {
	Name          string                 `json:"name"`
	Template      string                 `json:"template"`
	RepositoryURL string                 `json:"repository_url"`
	Requirements  string                 `json:"requirements"`
	Changes       []models.ChangeRequest `json:"changes"`
	Provider      string                 `json:"provider"`
	Model         string                 `json:"model"`
	WebhookURL    string                 `json:"webhook_url"`
}

// Customized reports whether the request carries customization input and
// therefore needs the AI-generation pipeline.
func (r Request) Customized() bool {
	return r.Requirements != "" || len(r.Changes) > 0
}

// Context is the per-run value threaded through phases. Each phase receives
// the prior context by value and returns an updated copy; a phase only sets
// the fields it owns, which keeps failure attribution unambiguous. The
// context itself is never persisted, only its effects on the Session are.
type Context struct {
	SessionID string
	ProjectID string
	Request   Request

	// set by the template-fetch phase (or session-init for existing repos)
	Repo   scm.Repo
	Branch string

	// set by the AI-generation phase
	GeneratedFiles []scm.CommitFile

	// set by the infra-setup phase
	Site     hosting.Site
	Database provision.Database

	// set by the deploy phase
	DeployID  string
	DeployURL string
}
