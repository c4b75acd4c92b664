// Package git wraps the git CLI for environment preparation and the
// MCP git tools.
package git

import (
	"context"
	"time"
)

// CommitInfo holds information about a git commit.
type CommitInfo struct {
	Hash      string    // Full 40-char SHA
	ShortHash string    // 7-char abbreviated hash
	Subject   string    // First line of commit message
	Author    string    // Author name
	Date      time.Time // Commit timestamp
}

// CloneOptions controls how a repository is cloned.
type CloneOptions struct {
	// Branch checks out the named branch instead of the remote default.
	Branch string

	// Depth truncates history to the given number of commits when > 0.
	Depth int
}

// Executor defines the git operations the environment manager needs.
// An interface so the MCP server and env prep can be tested with mocks.
type Executor interface {
	// Clone clones url into path. Returns ErrCloneTimeout if the context
	// deadline is exceeded.
	Clone(ctx context.Context, url, path string, opts CloneOptions) error

	// IsGitRepo reports whether the working directory is inside a git repo.
	IsGitRepo() bool

	// RepoRoot returns the root directory of the repository.
	RepoRoot() (string, error)

	// CurrentBranch returns the checked-out branch name.
	CurrentBranch() (string, error)

	// Status returns `git status --porcelain` output.
	Status() (string, error)

	// HasUncommittedChanges reports whether the working tree is dirty.
	HasUncommittedChanges() (bool, error)

	// Diff returns the unified diff against the given ref (e.g. "HEAD", "main").
	Diff(ref string) (string, error)

	// WorkingDirDiff returns the diff of uncommitted changes against HEAD.
	WorkingDirDiff() (string, error)

	// Log returns the most recent commits, up to limit. Empty repositories
	// yield an empty slice.
	Log(limit int) ([]CommitInfo, error)

	// Commit stages everything when addAll is set, commits with the given
	// message, and returns the new commit hash. Returns ErrNothingToCommit
	// when the tree is clean.
	Commit(message string, addAll bool) (string, error)

	// RemoteURL returns the URL for the named remote, or "" if it doesn't exist.
	RemoteURL(name string) (string, error)

	// SetRemoteURL points the named remote at a new URL.
	SetRemoteURL(name, url string) error

	// SetConfig sets a repository-local config key.
	SetConfig(key, value string) error
}
