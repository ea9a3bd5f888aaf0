// Package scm talks to the source-control host: template forking, branches,
// commits, and pull requests for generated site repositories.
package scm

import (
	"context"
	"errors"
)

var (
	ErrRepoNotFound  = errors.New("repository not found")
	ErrFileNotFound  = errors.New("file not found")
	ErrBranchExists  = errors.New("branch already exists")
	ErrMergeConflict = errors.New("pull request cannot be merged")
	ErrRepoNameTaken = errors.New("repository name already in use")
)

// Repo identifies a repository created for a project.
type Repo struct {
	Owner         string
	Name          string
	URL           string
	DefaultBranch string
}

// CommitFile is one file to write in a commit.
type CommitFile struct {
	Path    string
	Content string
}

// PullRequest describes an open or merged pull request.
type PullRequest struct {
	Number int
	URL    string
}

// Client is the narrow source-control contract the workflow engine depends on.
type Client interface {
	// ForkTemplate generates a new repository named name from the given
	// template repository.
	ForkTemplate(ctx context.Context, template, name string) (Repo, error)

	// CreateBranch creates a branch off the repository's default branch.
	CreateBranch(ctx context.Context, repo Repo, branch string) error

	// CommitFiles writes each file on the given branch, one commit per file.
	CommitFiles(ctx context.Context, repo Repo, branch, message string, files []CommitFile) error

	// GetFileContent reads a file from the given branch.
	GetFileContent(ctx context.Context, repo Repo, branch, path string) (string, error)

	// CreatePullRequest opens a pull request from head into the default branch.
	CreatePullRequest(ctx context.Context, repo Repo, head, title, body string) (PullRequest, error)

	// MergePullRequest merges the pull request.
	MergePullRequest(ctx context.Context, repo Repo, number int) error

	// DeleteBranch removes a branch.
	DeleteBranch(ctx context.Context, repo Repo, branch string) error
}
