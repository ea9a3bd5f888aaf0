package workflow

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sitesmith/sitesmith/internal/ai/mock"
	"github.com/sitesmith/sitesmith/internal/hosting"
	"github.com/sitesmith/sitesmith/internal/ratelimit"
	"github.com/sitesmith/sitesmith/internal/scm"
	"github.com/sitesmith/sitesmith/internal/session"
	"github.com/sitesmith/sitesmith/pkg/models"
)

const typeErrorLog = "src/pages/index.tsx(14,7): error TS2322: Type 'string' is not assignable to type 'number'."

func newFixer(t *testing.T, store session.Store, hostingClient hosting.Client, scmClient scm.Client) *Fixer {
	t.Helper()
	return NewFixer(FixerDeps{
		Sessions: store,
		Hosting:  hostingClient,
		SCM:      scmClient,
		Provider: mock.NewMockProvider(),
		Limiter:  ratelimit.New(nil),
		Logger:   testLogger(),
	}, 3, time.Second, time.Millisecond, 50*time.Millisecond)
}

func fixerContext(sess *models.Session) Context {
	return Context{
		SessionID: sess.ID,
		Repo:      scm.Repo{Owner: "sitesmith", Name: "acme", URL: "https://github.com/sitesmith/acme", DefaultBranch: "main"},
		Site:      hosting.Site{ID: "site-1"},
	}
}

func TestFix_UnfixableClassNeverRetries(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	deploys := 0
	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			return "npm ERR! ERESOLVE unable to resolve dependency tree", nil
		},
		TriggerDeployFunc: func(_ context.Context, _ string) (hosting.Deployment, error) {
			deploys++
			return hosting.Deployment{ID: "dep-x"}, nil
		},
	}

	f := newFixer(t, store, h, &scm.MockClient{})
	_, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "dependency-error")
	assert.Equal(t, 0, deploys, "unfixable failures must not trigger redeploys")
}

func TestFix_DiagnosticFetchFailureAbortsLoop(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	fetches := 0
	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			fetches++
			return "", hosting.ErrHostingUnreachable
		},
	}

	f := newFixer(t, store, h, &scm.MockClient{})
	_, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})

	assert.ErrorIs(t, err, hosting.ErrHostingUnreachable)
	assert.Equal(t, 1, fetches, "transport failure must abort the whole loop")
}

func TestFix_SucceedsOnSecondAttempt(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	redeploys := 0
	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			return typeErrorLog, nil
		},
		TriggerDeployFunc: func(_ context.Context, _ string) (hosting.Deployment, error) {
			redeploys++
			return hosting.Deployment{ID: fmt.Sprintf("dep-%d", redeploys+1)}, nil
		},
		GetDeploymentStatusFunc: func(_ context.Context, _, deployID string) (hosting.Deployment, error) {
			// first redeploy still fails, second is green
			if deployID == "dep-2" {
				return hosting.Deployment{ID: deployID, State: hosting.DeployFailed}, nil
			}
			return hosting.Deployment{ID: deployID, State: hosting.DeployReady, URL: "https://acme.example.app"}, nil
		},
	}

	commits := 0
	sc := &scm.MockClient{
		CommitFilesFunc: func(_ context.Context, _ scm.Repo, branch, _ string, files []scm.CommitFile) error {
			commits++
			assert.Equal(t, "main", branch)
			assert.Len(t, files, 1)
			return nil
		},
	}

	f := newFixer(t, store, h, sc)
	final, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})

	require.NoError(t, err)
	assert.Equal(t, hosting.DeployReady, final.State)
	assert.Equal(t, "https://acme.example.app", final.URL)
	assert.Equal(t, 2, redeploys)
	assert.Equal(t, 2, commits)

	got, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RetryInfo)
	assert.Equal(t, 2, got.RetryInfo.Attempt)
	assert.Equal(t, 3, got.RetryInfo.MaxRetries)
}

func TestFix_ExhaustsRetries(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	redeploys := 0
	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			return typeErrorLog, nil
		},
		TriggerDeployFunc: func(_ context.Context, _ string) (hosting.Deployment, error) {
			redeploys++
			return hosting.Deployment{ID: fmt.Sprintf("dep-%d", redeploys+1)}, nil
		},
		GetDeploymentStatusFunc: func(_ context.Context, _, deployID string) (hosting.Deployment, error) {
			return hosting.Deployment{ID: deployID, State: hosting.DeployFailed}, nil
		},
	}

	f := newFixer(t, store, h, &scm.MockClient{})
	_, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "recovery exhausted after 3 attempts")
	assert.Contains(t, err.Error(), "TS2322", "last diagnostic must be preserved")
	assert.Equal(t, 3, redeploys)
}

func TestFix_CollaboratorErrorConsumesOneAttempt(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			return typeErrorLog, nil
		},
		GetDeploymentStatusFunc: func(_ context.Context, _, deployID string) (hosting.Deployment, error) {
			return hosting.Deployment{ID: deployID, State: hosting.DeployReady}, nil
		},
	}

	attempts := 0
	sc := &scm.MockClient{
		CommitFilesFunc: func(_ context.Context, _ scm.Repo, _, _ string, _ []scm.CommitFile) error {
			attempts++
			if attempts == 1 {
				return errors.New("push rejected")
			}
			return nil
		},
	}

	f := newFixer(t, store, h, sc)
	final, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})

	require.NoError(t, err, "a bad fix must not abort the loop")
	assert.Equal(t, hosting.DeployReady, final.State)

	got, err := store.Get(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotNil(t, got.RetryInfo)
	assert.Equal(t, 2, got.RetryInfo.Attempt)
}

func TestFix_AttemptsAreLoggedWithMetadata(t *testing.T) {
	store := session.NewMemoryStore()
	sess := newTestSession(t, store)

	h := &hosting.MockClient{
		GetBuildLogFunc: func(_ context.Context, _, _ string) (string, error) {
			return typeErrorLog, nil
		},
		GetDeploymentStatusFunc: func(_ context.Context, _, deployID string) (hosting.Deployment, error) {
			return hosting.Deployment{ID: deployID, State: hosting.DeployReady}, nil
		},
	}

	f := newFixer(t, store, h, &scm.MockClient{})
	_, err := f.Fix(context.Background(), fixerContext(sess), hosting.Deployment{ID: "dep-1", State: hosting.DeployFailed})
	require.NoError(t, err)

	logs, err := store.Logs(context.Background(), sess.ID)
	require.NoError(t, err)
	require.NotEmpty(t, logs)

	last := logs[len(logs)-1]
	assert.Equal(t, "1", last.Metadata["attempt"])
	assert.Equal(t, "type-error", last.Metadata["classification"])
	assert.Equal(t, "1", last.Metadata["files_fixed"])
	assert.Equal(t, "deploy succeeded", last.Metadata["outcome"])
}
