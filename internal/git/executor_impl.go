package git

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrNotGitRepo indicates the directory is not a git repository.
	ErrNotGitRepo = errors.New("not a git repository")

	// ErrNothingToCommit indicates the working tree is clean.
	ErrNothingToCommit = errors.New("nothing to commit")

	// ErrCloneTimeout indicates a clone exceeded its context deadline.
	ErrCloneTimeout = errors.New("git clone timed out")
)

// Compile-time check that RealExecutor implements Executor.
var _ Executor = (*RealExecutor)(nil)

// RealExecutor implements Executor by executing actual git commands.
type RealExecutor struct {
	workDir string
}

// NewRealExecutor creates a RealExecutor operating in workDir.
func NewRealExecutor(workDir string) *RealExecutor {
	return &RealExecutor{workDir: workDir}
}

func (e *RealExecutor) runGit(args ...string) error {
	_, err := e.runGitOutput(args...)
	return err
}

func (e *RealExecutor) runGitOutput(args ...string) (string, error) {
	return e.runGitOutputContext(context.Background(), args...)
}

func (e *RealExecutor) runGitOutputContext(ctx context.Context, args ...string) (string, error) {
	//nolint:gosec // G204: args come from controlled sources
	cmd := exec.CommandContext(ctx, "git", args...)
	if e.workDir != "" {
		cmd.Dir = e.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if stderrStr := strings.TrimSpace(stderr.String()); stderrStr != "" {
			return "", parseGitError(stderrStr, err)
		}
		return "", fmt.Errorf("git %s: %w", strings.Join(args, " "), err)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// parseGitError converts git stderr messages to specific error types.
func parseGitError(stderr string, originalErr error) error {
	stderrLower := strings.ToLower(stderr)

	if strings.Contains(stderrLower, "not a git repository") {
		return fmt.Errorf("%w: %s", ErrNotGitRepo, stderr)
	}
	if strings.Contains(stderrLower, "nothing to commit") {
		return fmt.Errorf("%w: %s", ErrNothingToCommit, stderr)
	}

	return fmt.Errorf("git error: %s: %w", stderr, originalErr)
}

// Clone clones url into path, honoring the context deadline.
func (e *RealExecutor) Clone(ctx context.Context, url, path string, opts CloneOptions) error {
	args := []string{"clone"}
	if opts.Depth > 0 {
		args = append(args, "--depth", strconv.Itoa(opts.Depth))
	}
	if opts.Branch != "" {
		args = append(args, "--branch", opts.Branch)
	}
	args = append(args, url, path)

	if _, err := e.runGitOutputContext(ctx, args...); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%w: %s", ErrCloneTimeout, url)
		}
		return err
	}
	return nil
}

// IsGitRepo checks if the working directory is inside a git repository.
func (e *RealExecutor) IsGitRepo() bool {
	return e.runGit("rev-parse", "--git-dir") == nil
}

// RepoRoot returns the root directory of the git repository.
func (e *RealExecutor) RepoRoot() (string, error) {
	return e.runGitOutput("rev-parse", "--show-toplevel")
}

// CurrentBranch returns the name of the current branch.
func (e *RealExecutor) CurrentBranch() (string, error) {
	// git branch --show-current (git 2.22+)
	output, err := e.runGitOutput("branch", "--show-current")
	if err == nil && output != "" {
		return output, nil
	}

	// Fallback: parse symbolic-ref
	output, err = e.runGitOutput("symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", fmt.Errorf("failed to get current branch: %w", err)
	}
	return output, nil
}

// Status returns porcelain status output.
func (e *RealExecutor) Status() (string, error) {
	return e.runGitOutput("status", "--porcelain")
}

// HasUncommittedChanges checks if there are uncommitted changes in the working directory.
func (e *RealExecutor) HasUncommittedChanges() (bool, error) {
	output, err := e.Status()
	if err != nil {
		return false, err
	}
	return output != "", nil
}

// Diff returns the unified diff output for the given ref.
func (e *RealExecutor) Diff(ref string) (string, error) {
	return e.runGitOutput("diff", ref)
}

// WorkingDirDiff returns the diff of staged and unstaged changes against HEAD.
func (e *RealExecutor) WorkingDirDiff() (string, error) {
	return e.runGitOutput("diff", "HEAD")
}

// logFieldSep separates fields in the log pretty-format; unit separator
// never appears in commit subjects or author names in practice.
const logFieldSep = "\x1f"

// Log returns the most recent commits, up to limit.
func (e *RealExecutor) Log(limit int) ([]CommitInfo, error) {
	format := strings.Join([]string{"%H", "%h", "%s", "%an", "%aI"}, logFieldSep)
	output, err := e.runGitOutput("log", "--pretty=format:"+format, "-n", strconv.Itoa(limit))
	if err != nil {
		// An empty repository has no HEAD to log from.
		if strings.Contains(err.Error(), "does not have any commits") {
			return []CommitInfo{}, nil
		}
		return nil, err
	}
	if output == "" {
		return []CommitInfo{}, nil
	}

	var commits []CommitInfo
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Split(line, logFieldSep)
		if len(parts) != 5 {
			continue
		}
		date, err := time.Parse(time.RFC3339, parts[4])
		if err != nil {
			return nil, fmt.Errorf("parsing commit date %q: %w", parts[4], err)
		}
		commits = append(commits, CommitInfo{
			Hash:      parts[0],
			ShortHash: parts[1],
			Subject:   parts[2],
			Author:    parts[3],
			Date:      date,
		})
	}
	return commits, nil
}

// Commit commits the working tree with the given message and returns the new
// commit hash. When addAll is set, everything (including untracked files) is
// staged first.
func (e *RealExecutor) Commit(message string, addAll bool) (string, error) {
	if addAll {
		if err := e.runGit("add", "-A"); err != nil {
			return "", fmt.Errorf("staging changes: %w", err)
		}
	}

	if err := e.runGit("commit", "-m", message); err != nil {
		// "nothing to commit" lands on stdout for some git versions, so
		// double-check the tree before reporting a hard failure.
		if dirty, statusErr := e.HasUncommittedChanges(); statusErr == nil && !dirty {
			return "", ErrNothingToCommit
		}
		return "", err
	}

	return e.runGitOutput("rev-parse", "HEAD")
}

// RemoteURL returns the URL for the named remote, or "" if it doesn't exist.
func (e *RealExecutor) RemoteURL(name string) (string, error) {
	output, err := e.runGitOutput("remote", "get-url", name)
	if err != nil {
		if strings.Contains(err.Error(), "No such remote") ||
			strings.Contains(err.Error(), "no such remote") {
			return "", nil
		}
		return "", err
	}
	return output, nil
}

// SetRemoteURL points the named remote at a new URL, adding it if absent.
func (e *RealExecutor) SetRemoteURL(name, url string) error {
	if err := e.runGit("remote", "set-url", name, url); err != nil {
		return e.runGit("remote", "add", name, url)
	}
	return nil
}

// SetConfig sets a repository-local config key.
func (e *RealExecutor) SetConfig(key, value string) error {
	return e.runGit("config", key, value)
}
