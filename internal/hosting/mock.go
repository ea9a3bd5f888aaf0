package hosting

import "context"

// MockClient satisfies Client for testing.
type MockClient struct {
	CreateSiteFunc              func(ctx context.Context, name, repositoryURL string) (Site, error)
	SetEnvironmentVariablesFunc func(ctx context.Context, siteID string, env map[string]string) error
	TriggerDeployFunc           func(ctx context.Context, siteID string) (Deployment, error)
	GetDeploymentStatusFunc     func(ctx context.Context, siteID, deployID string) (Deployment, error)
	GetBuildLogFunc             func(ctx context.Context, siteID, deployID string) (string, error)
}

func (m *MockClient) CreateSite(ctx context.Context, name, repositoryURL string) (Site, error) {
	if m.CreateSiteFunc != nil {
		return m.CreateSiteFunc(ctx, name, repositoryURL)
	}
	return Site{ID: "site-mock", Name: name, URL: "https://" + name + ".example.app"}, nil
}

func (m *MockClient) SetEnvironmentVariables(ctx context.Context, siteID string, env map[string]string) error {
	if m.SetEnvironmentVariablesFunc != nil {
		return m.SetEnvironmentVariablesFunc(ctx, siteID, env)
	}
	return nil
}

func (m *MockClient) TriggerDeploy(ctx context.Context, siteID string) (Deployment, error) {
	if m.TriggerDeployFunc != nil {
		return m.TriggerDeployFunc(ctx, siteID)
	}
	return Deployment{ID: "deploy-mock", State: DeployReady, URL: "https://site.example.app"}, nil
}

func (m *MockClient) GetDeploymentStatus(ctx context.Context, siteID, deployID string) (Deployment, error) {
	if m.GetDeploymentStatusFunc != nil {
		return m.GetDeploymentStatusFunc(ctx, siteID, deployID)
	}
	return Deployment{ID: deployID, State: DeployReady}, nil
}

func (m *MockClient) GetBuildLog(ctx context.Context, siteID, deployID string) (string, error) {
	if m.GetBuildLogFunc != nil {
		return m.GetBuildLogFunc(ctx, siteID, deployID)
	}
	return "", nil
}

var _ Client = (*MockClient)(nil)
