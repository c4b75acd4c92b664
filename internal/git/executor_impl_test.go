package git

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func requireGit(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not found in PATH")
	}
}

// initRepo creates a git repository with one commit and returns its path.
func initRepo(t *testing.T) string {
	t.Helper()
	requireGit(t)

	dir := t.TempDir()
	run := func(args ...string) {
		t.Helper()
		cmd := exec.Command("git", args...)
		cmd.Dir = dir
		out, err := cmd.CombinedOutput()
		require.NoError(t, err, "git %v: %s", args, out)
	}

	run("init", "-b", "main")
	run("config", "user.email", "test@example.com")
	run("config", "user.name", "Test User")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("hello\n"), 0600))
	run("add", "-A")
	run("commit", "-m", "initial commit")

	return dir
}

func TestRealExecutor_IsGitRepo(t *testing.T) {
	requireGit(t)

	require.True(t, NewRealExecutor(initRepo(t)).IsGitRepo())
	require.False(t, NewRealExecutor(t.TempDir()).IsGitRepo())
}

func TestRealExecutor_RepoRoot(t *testing.T) {
	dir := initRepo(t)

	root, err := NewRealExecutor(dir).RepoRoot()
	require.NoError(t, err)
	require.True(t, filepath.IsAbs(root))

	// Symlinked temp dirs (macOS) make exact comparison flaky; compare bases.
	require.Equal(t, filepath.Base(dir), filepath.Base(root))
}

func TestRealExecutor_CurrentBranch(t *testing.T) {
	dir := initRepo(t)

	branch, err := NewRealExecutor(dir).CurrentBranch()
	require.NoError(t, err)
	require.Equal(t, "main", branch)
}

func TestRealExecutor_StatusAndDirty(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	dirty, err := e.HasUncommittedChanges()
	require.NoError(t, err)
	require.False(t, dirty)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x\n"), 0600))

	status, err := e.Status()
	require.NoError(t, err)
	require.Contains(t, status, "new.txt")

	dirty, err = e.HasUncommittedChanges()
	require.NoError(t, err)
	require.True(t, dirty)
}

func TestRealExecutor_WorkingDirDiff(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("changed\n"), 0600))

	diff, err := e.WorkingDirDiff()
	require.NoError(t, err)
	require.Contains(t, diff, "-hello")
	require.Contains(t, diff, "+changed")
}

func TestRealExecutor_Commit(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "feature.txt"), []byte("f\n"), 0600))

	hash, err := e.Commit("add feature file", true)
	require.NoError(t, err)
	require.Len(t, hash, 40)

	dirty, err := e.HasUncommittedChanges()
	require.NoError(t, err)
	require.False(t, dirty)
}

func TestRealExecutor_Commit_NothingToCommit(t *testing.T) {
	e := NewRealExecutor(initRepo(t))

	_, err := e.Commit("empty", true)
	require.ErrorIs(t, err, ErrNothingToCommit)
}

func TestRealExecutor_Log(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "second.txt"), []byte("2\n"), 0600))
	_, err := e.Commit("second commit", true)
	require.NoError(t, err)

	commits, err := e.Log(10)
	require.NoError(t, err)
	require.Len(t, commits, 2)

	// Newest first.
	require.Equal(t, "second commit", commits[0].Subject)
	require.Equal(t, "initial commit", commits[1].Subject)
	require.Len(t, commits[0].Hash, 40)
	require.NotEmpty(t, commits[0].ShortHash)
	require.Equal(t, "Test User", commits[0].Author)
	require.False(t, commits[0].Date.IsZero())

	limited, err := e.Log(1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
}

func TestRealExecutor_RemoteURL(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	// Absent remote is empty, not an error.
	url, err := e.RemoteURL("origin")
	require.NoError(t, err)
	require.Empty(t, url)

	require.NoError(t, e.SetRemoteURL("origin", "https://example.com/repo.git"))

	url, err = e.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "https://example.com/repo.git", url)

	require.NoError(t, e.SetRemoteURL("origin", "http://127.0.0.1:9419/repo"))
	url, err = e.RemoteURL("origin")
	require.NoError(t, err)
	require.Equal(t, "http://127.0.0.1:9419/repo", url)
}

func TestRealExecutor_SetConfig(t *testing.T) {
	dir := initRepo(t)
	e := NewRealExecutor(dir)

	require.NoError(t, e.SetConfig("http.extraHeader", "X-Test: 1"))

	out, err := e.runGitOutput("config", "http.extraHeader")
	require.NoError(t, err)
	require.Equal(t, "X-Test: 1", out)
}

func TestRealExecutor_Clone(t *testing.T) {
	src := initRepo(t)
	dst := filepath.Join(t.TempDir(), "clone")

	e := NewRealExecutor("")
	require.NoError(t, e.Clone(context.Background(), src, dst, CloneOptions{}))

	cloned := NewRealExecutor(dst)
	require.True(t, cloned.IsGitRepo())

	commits, err := cloned.Log(5)
	require.NoError(t, err)
	require.Len(t, commits, 1)
}

func TestRealExecutor_Clone_Timeout(t *testing.T) {
	requireGit(t)

	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()

	e := NewRealExecutor("")
	err := e.Clone(ctx, "https://example.invalid/repo.git", filepath.Join(t.TempDir(), "c"), CloneOptions{})
	require.ErrorIs(t, err, ErrCloneTimeout)
}

func TestParseGitError(t *testing.T) {
	base := os.ErrInvalid

	err := parseGitError("fatal: not a git repository (or any of the parent directories): .git", base)
	require.ErrorIs(t, err, ErrNotGitRepo)

	err = parseGitError("nothing to commit, working tree clean", base)
	require.ErrorIs(t, err, ErrNothingToCommit)

	err = parseGitError("fatal: some other failure", base)
	require.ErrorIs(t, err, base)
}
