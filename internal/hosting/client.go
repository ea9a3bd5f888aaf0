// Package hosting talks to the hosting platform that builds and serves
// deployed sites.
package hosting

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/sitesmith/sitesmith/internal/config"
)

// Sentinel errors for hosting client failures.
var (
	ErrHostingUnreachable = errors.New("hosting platform unreachable")
	ErrHostingAPIError    = errors.New("hosting platform api error")
	ErrHostingTimeout     = errors.New("hosting platform timeout")
	ErrNotFound           = errors.New("site or deployment not found")
)

// DeployState is the hosting platform's view of one deployment.
type DeployState string

const (
	DeployQueued   DeployState = "queued"
	DeployBuilding DeployState = "building"
	DeployReady    DeployState = "ready"
	DeployFailed   DeployState = "failed"
)

// Site is a provisioned hosting site bound to a repository.
type Site struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Deployment is one build/deploy run of a site.
type Deployment struct {
	ID    string      `json:"id"`
	State DeployState `json:"state"`
	URL   string      `json:"url"`
}

// Client is the interface the workflow engine uses to deploy sites.
type Client interface {
	CreateSite(ctx context.Context, name, repositoryURL string) (Site, error)
	SetEnvironmentVariables(ctx context.Context, siteID string, env map[string]string) error
	TriggerDeploy(ctx context.Context, siteID string) (Deployment, error)
	GetDeploymentStatus(ctx context.Context, siteID, deployID string) (Deployment, error)
	GetBuildLog(ctx context.Context, siteID, deployID string) (string, error)
}

// HTTPClient implements Client against the hosting platform's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new hosting client.
func NewHTTPClient(cfg config.HostingConfig) *HTTPClient {
	return &HTTPClient{
		baseURL: cfg.BaseURL,
		token:   cfg.Token,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (c *HTTPClient) CreateSite(ctx context.Context, name, repositoryURL string) (Site, error) {
	body := map[string]string{"name": name, "repository_url": repositoryURL}

	var site Site
	if err := c.post(ctx, "/api/v1/sites", body, &site); err != nil {
		return Site{}, fmt.Errorf("creating site %q: %w", name, err)
	}
	return site, nil
}

func (c *HTTPClient) SetEnvironmentVariables(ctx context.Context, siteID string, env map[string]string) error {
	path := fmt.Sprintf("/api/v1/sites/%s/env", url.PathEscape(siteID))
	if err := c.post(ctx, path, env, nil); err != nil {
		return fmt.Errorf("setting env vars for site %s: %w", siteID, err)
	}
	return nil
}

func (c *HTTPClient) TriggerDeploy(ctx context.Context, siteID string) (Deployment, error) {
	path := fmt.Sprintf("/api/v1/sites/%s/deploys", url.PathEscape(siteID))

	var dep Deployment
	if err := c.post(ctx, path, nil, &dep); err != nil {
		return Deployment{}, fmt.Errorf("triggering deploy for site %s: %w", siteID, err)
	}
	return dep, nil
}

func (c *HTTPClient) GetDeploymentStatus(ctx context.Context, siteID, deployID string) (Deployment, error) {
	path := fmt.Sprintf("/api/v1/sites/%s/deploys/%s", url.PathEscape(siteID), url.PathEscape(deployID))

	var dep Deployment
	if err := c.get(ctx, path, &dep); err != nil {
		return Deployment{}, fmt.Errorf("fetching deploy %s for site %s: %w", deployID, siteID, err)
	}
	return dep, nil
}

func (c *HTTPClient) GetBuildLog(ctx context.Context, siteID, deployID string) (string, error) {
	path := fmt.Sprintf("/api/v1/sites/%s/deploys/%s/log", url.PathEscape(siteID), url.PathEscape(deployID))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return "", fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", classifyError(err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return "", fmt.Errorf("fetching build log for deploy %s: %w", deployID, err)
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("reading build log: %w", err)
	}
	return string(raw), nil
}

func (c *HTTPClient) get(ctx context.Context, path string, out any) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	return c.do(httpReq, out)
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Content-Type", "application/json")

	return c.do(httpReq, out)
}

func (c *HTTPClient) do(req *http.Request, out any) error {
	resp, err := c.client.Do(req)
	if err != nil {
		return classifyError(err)
	}
	defer resp.Body.Close()

	if err := c.checkStatus(resp); err != nil {
		return err
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func (c *HTTPClient) checkStatus(resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated:
		return nil
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	default:
		return fmt.Errorf("%w: status %d", ErrHostingAPIError, resp.StatusCode)
	}
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrHostingTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrHostingTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrHostingUnreachable, err)
}

// WaitForDeploy polls the deployment until it leaves the building states or
// the timeout elapses. Returns the final deployment on ready or failed.
func WaitForDeploy(ctx context.Context, c Client, siteID, deployID string, interval, timeout time.Duration) (Deployment, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		dep, err := c.GetDeploymentStatus(ctx, siteID, deployID)
		if err != nil {
			return Deployment{}, err
		}
		if dep.State == DeployReady || dep.State == DeployFailed {
			return dep, nil
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Deployment{}, fmt.Errorf("%w: deploy %s still %s", ErrHostingTimeout, deployID, dep.State)
		}
	}
}
