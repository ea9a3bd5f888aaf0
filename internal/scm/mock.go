package scm

import "context"

// MockClient satisfies Client for testing.
type MockClient struct {
	ForkTemplateFunc      func(ctx context.Context, template, name string) (Repo, error)
	CreateBranchFunc      func(ctx context.Context, repo Repo, branch string) error
	CommitFilesFunc       func(ctx context.Context, repo Repo, branch, message string, files []CommitFile) error
	GetFileContentFunc    func(ctx context.Context, repo Repo, branch, path string) (string, error)
	CreatePullRequestFunc func(ctx context.Context, repo Repo, head, title, body string) (PullRequest, error)
	MergePullRequestFunc  func(ctx context.Context, repo Repo, number int) error
	DeleteBranchFunc      func(ctx context.Context, repo Repo, branch string) error
}

func (m *MockClient) ForkTemplate(ctx context.Context, template, name string) (Repo, error) {
	if m.ForkTemplateFunc != nil {
		return m.ForkTemplateFunc(ctx, template, name)
	}
	return Repo{Owner: "mock", Name: name, URL: "https://github.com/mock/" + name, DefaultBranch: "main"}, nil
}

func (m *MockClient) CreateBranch(ctx context.Context, repo Repo, branch string) error {
	if m.CreateBranchFunc != nil {
		return m.CreateBranchFunc(ctx, repo, branch)
	}
	return nil
}

func (m *MockClient) CommitFiles(ctx context.Context, repo Repo, branch, message string, files []CommitFile) error {
	if m.CommitFilesFunc != nil {
		return m.CommitFilesFunc(ctx, repo, branch, message, files)
	}
	return nil
}

func (m *MockClient) GetFileContent(ctx context.Context, repo Repo, branch, path string) (string, error) {
	if m.GetFileContentFunc != nil {
		return m.GetFileContentFunc(ctx, repo, branch, path)
	}
	return "", nil
}

func (m *MockClient) CreatePullRequest(ctx context.Context, repo Repo, head, title, body string) (PullRequest, error) {
	if m.CreatePullRequestFunc != nil {
		return m.CreatePullRequestFunc(ctx, repo, head, title, body)
	}
	return PullRequest{Number: 1, URL: repo.URL + "/pull/1"}, nil
}

func (m *MockClient) MergePullRequest(ctx context.Context, repo Repo, number int) error {
	if m.MergePullRequestFunc != nil {
		return m.MergePullRequestFunc(ctx, repo, number)
	}
	return nil
}

func (m *MockClient) DeleteBranch(ctx context.Context, repo Repo, branch string) error {
	if m.DeleteBranchFunc != nil {
		return m.DeleteBranchFunc(ctx, repo, branch)
	}
	return nil
}

var _ Client = (*MockClient)(nil)
