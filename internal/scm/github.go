package scm

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/sitesmith/sitesmith/internal/config"
	"github.com/sitesmith/sitesmith/internal/retry"
)

// GitHubClient implements Client against the GitHub API. Every call runs
// through the shared retry policy; rate-limit and 5xx responses are retried,
// everything else fails fast.
type GitHubClient struct {
	gh            *github.Client
	owner         string
	templateOwner string
	policy        retry.Policy
}

// NewGitHubClient builds an authenticated client from config.
func NewGitHubClient(ctx context.Context, cfg config.GitHubConfig) (*GitHubClient, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token not set")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: cfg.Token})
	tc := oauth2.NewClient(ctx, ts)

	return &GitHubClient{
		gh:            github.NewClient(tc),
		owner:         cfg.Owner,
		templateOwner: cfg.TemplateOwner,
		policy:        retry.DefaultPolicy(),
	}, nil
}

func (c *GitHubClient) ForkTemplate(ctx context.Context, template, name string) (Repo, error) {
	var created *github.Repository
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		repo, resp, err := c.gh.Repositories.CreateFromTemplate(ctx, c.templateOwner, template, &github.TemplateRepoRequest{
			Name:    github.String(name),
			Owner:   github.String(c.owner),
			Private: github.Bool(true),
		})
		if err != nil {
			return classifyGitHubError(err, resp, map[int]error{
				http.StatusNotFound:            ErrRepoNotFound,
				http.StatusUnprocessableEntity: ErrRepoNameTaken,
			})
		}
		created = repo
		return nil
	})
	if err != nil {
		return Repo{}, fmt.Errorf("creating repo %q from template %q: %w", name, template, err)
	}

	branch := created.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	return Repo{
		Owner:         c.owner,
		Name:          created.GetName(),
		URL:           created.GetHTMLURL(),
		DefaultBranch: branch,
	}, nil
}

func (c *GitHubClient) CreateBranch(ctx context.Context, repo Repo, branch string) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		base, resp, err := c.gh.Git.GetRef(ctx, repo.Owner, repo.Name, "refs/heads/"+repo.DefaultBranch)
		if err != nil {
			return classifyGitHubError(err, resp, map[int]error{
				http.StatusNotFound: ErrRepoNotFound,
			})
		}

		_, resp, err = c.gh.Git.CreateRef(ctx, repo.Owner, repo.Name, &github.Reference{
			Ref:    github.String("refs/heads/" + branch),
			Object: &github.GitObject{SHA: base.Object.SHA},
		})
		if err != nil {
			return classifyGitHubError(err, resp, map[int]error{
				http.StatusUnprocessableEntity: ErrBranchExists,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("creating branch %q in %s/%s: %w", branch, repo.Owner, repo.Name, err)
	}
	return nil
}

func (c *GitHubClient) CommitFiles(ctx context.Context, repo Repo, branch, message string, files []CommitFile) error {
	for _, f := range files {
		if err := c.commitFile(ctx, repo, branch, message, f); err != nil {
			return err
		}
	}
	return nil
}

func (c *GitHubClient) commitFile(ctx context.Context, repo Repo, branch, message string, f CommitFile) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		opts := &github.RepositoryContentFileOptions{
			Message: github.String(fmt.Sprintf("%s (%s)", message, f.Path)),
			Content: []byte(f.Content),
			Branch:  github.String(branch),
		}

		existing, _, resp, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, f.Path, &github.RepositoryContentGetOptions{Ref: branch})
		switch {
		case err == nil && existing != nil:
			opts.SHA = existing.SHA
		case resp != nil && resp.StatusCode == http.StatusNotFound:
			// new file
		case err != nil:
			return classifyGitHubError(err, resp, nil)
		}

		if opts.SHA != nil {
			_, resp, err = c.gh.Repositories.UpdateFile(ctx, repo.Owner, repo.Name, f.Path, opts)
		} else {
			_, resp, err = c.gh.Repositories.CreateFile(ctx, repo.Owner, repo.Name, f.Path, opts)
		}
		if err != nil {
			return classifyGitHubError(err, resp, nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("committing %s to %s/%s@%s: %w", f.Path, repo.Owner, repo.Name, branch, err)
	}
	return nil
}

func (c *GitHubClient) GetFileContent(ctx context.Context, repo Repo, branch, path string) (string, error) {
	var content string
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		file, _, resp, err := c.gh.Repositories.GetContents(ctx, repo.Owner, repo.Name, path, &github.RepositoryContentGetOptions{Ref: branch})
		if err != nil {
			return classifyGitHubError(err, resp, map[int]error{
				http.StatusNotFound: ErrFileNotFound,
			})
		}
		if file == nil {
			return retry.Permanent(fmt.Errorf("%w: %s is a directory", ErrFileNotFound, path))
		}

		decoded, err := file.GetContent()
		if err != nil {
			return retry.Permanent(fmt.Errorf("decoding %s: %w", path, err))
		}
		content = decoded
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("reading %s from %s/%s@%s: %w", path, repo.Owner, repo.Name, branch, err)
	}
	return content, nil
}

func (c *GitHubClient) CreatePullRequest(ctx context.Context, repo Repo, head, title, body string) (PullRequest, error) {
	var pr *github.PullRequest
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		created, resp, err := c.gh.PullRequests.Create(ctx, repo.Owner, repo.Name, &github.NewPullRequest{
			Title: github.String(title),
			Head:  github.String(head),
			Base:  github.String(repo.DefaultBranch),
			Body:  github.String(body),
		})
		if err != nil {
			return classifyGitHubError(err, resp, nil)
		}
		pr = created
		return nil
	})
	if err != nil {
		return PullRequest{}, fmt.Errorf("opening pull request %q in %s/%s: %w", title, repo.Owner, repo.Name, err)
	}
	return PullRequest{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
}

func (c *GitHubClient) MergePullRequest(ctx context.Context, repo Repo, number int) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		result, resp, err := c.gh.PullRequests.Merge(ctx, repo.Owner, repo.Name, number, "", nil)
		if err != nil {
			return classifyGitHubError(err, resp, map[int]error{
				http.StatusMethodNotAllowed: ErrMergeConflict,
				http.StatusConflict:         ErrMergeConflict,
			})
		}
		if !result.GetMerged() {
			return retry.Permanent(fmt.Errorf("%w: %s", ErrMergeConflict, result.GetMessage()))
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("merging pull request #%d in %s/%s: %w", number, repo.Owner, repo.Name, err)
	}
	return nil
}

func (c *GitHubClient) DeleteBranch(ctx context.Context, repo Repo, branch string) error {
	err := retry.Do(ctx, c.policy, func(ctx context.Context) error {
		resp, err := c.gh.Git.DeleteRef(ctx, repo.Owner, repo.Name, "refs/heads/"+branch)
		if err != nil {
			return classifyGitHubError(err, resp, nil)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("deleting branch %q in %s/%s: %w", branch, repo.Owner, repo.Name, err)
	}
	return nil
}

// classifyGitHubError decides whether the retry loop should keep going.
// Rate limits and server errors are transient; mapped statuses become the
// package's sentinel errors and stop the loop.
func classifyGitHubError(err error, resp *github.Response, statusMap map[int]error) error {
	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &rateErr) || errors.As(err, &abuseErr) {
		return err
	}

	if resp != nil {
		if mapped, ok := statusMap[resp.StatusCode]; ok {
			return retry.Permanent(fmt.Errorf("%w: %v", mapped, err))
		}
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return err
		}
		return retry.Permanent(err)
	}

	// No response at all, treat as transient network failure.
	return err
}

var _ Client = (*GitHubClient)(nil)
