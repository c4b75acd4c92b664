package envprep

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"envmanager/internal/git"
	"envmanager/internal/gitmcp"
	"envmanager/internal/taskspec"
)

// fakeExecutor records git calls instead of shelling out.
type fakeExecutor struct {
	dir string

	clones  *[]cloneCall
	remotes *[]remoteCall

	cloneErr error
}

type cloneCall struct {
	URL    string
	Path   string
	Branch string
}

type remoteCall struct {
	Dir  string
	Name string
	URL  string
}

var _ git.Executor = (*fakeExecutor)(nil)

func (f *fakeExecutor) Clone(ctx context.Context, url, path string, opts git.CloneOptions) error {
	if f.cloneErr != nil {
		return f.cloneErr
	}
	*f.clones = append(*f.clones, cloneCall{URL: url, Path: path, Branch: opts.Branch})
	return os.MkdirAll(filepath.Join(path, ".git"), 0750)
}

func (f *fakeExecutor) IsGitRepo() bool                        { return true }
func (f *fakeExecutor) RepoRoot() (string, error)              { return f.dir, nil }
func (f *fakeExecutor) CurrentBranch() (string, error)         { return "main", nil }
func (f *fakeExecutor) Status() (string, error)                { return "", nil }
func (f *fakeExecutor) HasUncommittedChanges() (bool, error)   { return false, nil }
func (f *fakeExecutor) Diff(ref string) (string, error)        { return "", nil }
func (f *fakeExecutor) WorkingDirDiff() (string, error)        { return "", nil }
func (f *fakeExecutor) Log(limit int) ([]git.CommitInfo, error) { return nil, nil }
func (f *fakeExecutor) Commit(message string, addAll bool) (string, error) {
	return "", nil
}
func (f *fakeExecutor) RemoteURL(name string) (string, error) { return "", nil }

func (f *fakeExecutor) SetRemoteURL(name, url string) error {
	*f.remotes = append(*f.remotes, remoteCall{Dir: f.dir, Name: name, URL: url})
	return nil
}

func (f *fakeExecutor) SetConfig(key, value string) error { return nil }

// fakeGitEnv wires a recording executor factory into Options.
type fakeGitEnv struct {
	clones   []cloneCall
	remotes  []remoteCall
	cloneErr error
}

func (e *fakeGitEnv) factory() func(dir string) git.Executor {
	return func(dir string) git.Executor {
		return &fakeExecutor{dir: dir, clones: &e.clones, remotes: &e.remotes, cloneErr: e.cloneErr}
	}
}

// stubClaude writes an executable script answering --version and update.
func stubClaude(t *testing.T) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub script requires a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "claude")
	script := "#!/bin/sh\nif [ \"$1\" = \"--version\" ]; then echo \"2.0.13 (Claude Code)\"; fi\nexit 0\n"
	require.NoError(t, os.WriteFile(path, []byte(script), 0755))
	return path
}

func specWithSources(cwd string, sources ...taskspec.Source) *taskspec.Spec {
	return &taskspec.Spec{
		StartupContext: taskspec.StartupContext{Sources: sources, Cwd: cwd},
		Environment:    taskspec.Environment{EnvironmentType: "devcontainer"},
	}
}

func TestPrepare_RequiresSpec(t *testing.T) {
	_, err := Prepare(context.Background(), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "task spec is required")
}

func TestPrepare_WorkspaceFromSpecCwd(t *testing.T) {
	cwd := filepath.Join(t.TempDir(), "workspace")
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:        specWithSources(cwd),
		SessionID:   "sess-1",
		GitMode:     GitModeHTTPProxy,
		WorkDirBase: t.TempDir(),
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.Equal(t, cwd, result.WorkDir, "spec cwd should win over the configured base")
	info, err := os.Stat(cwd)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestPrepare_WorkspaceFallsBackToBase(t *testing.T) {
	base := filepath.Join(t.TempDir(), "base")
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:        specWithSources(""),
		GitMode:     GitModeHTTPProxy,
		WorkDirBase: base,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.Equal(t, base, result.WorkDir)
}

func TestPrepare_NoWorkDirAnywhere(t *testing.T) {
	_, err := Prepare(context.Background(), Options{
		Spec: specWithSources(""),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "no working directory")
}

func TestPrepare_ClonesGitSources(t *testing.T) {
	cwd := t.TempDir()
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec: specWithSources(cwd,
			taskspec.Source{Type: "git", URL: "https://github.com/acme/app.git", Ref: "develop"},
			taskspec.Source{Type: "git", URL: "https://github.com/acme/lib.git", Path: "vendor/lib"},
			taskspec.Source{Type: "tarball", URL: "https://example.com/blob.tgz"},
		),
		GitMode:     GitModeHTTPProxy,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.Len(t, gitEnv.clones, 2, "only git sources should be cloned")
	require.Equal(t, "https://github.com/acme/app.git", gitEnv.clones[0].URL)
	require.Equal(t, filepath.Join(cwd, "app"), gitEnv.clones[0].Path)
	require.Equal(t, "develop", gitEnv.clones[0].Branch)
	require.Equal(t, filepath.Join(cwd, "vendor", "lib"), gitEnv.clones[1].Path)
}

func TestPrepare_CloneFailureIsFatal(t *testing.T) {
	gitEnv := &fakeGitEnv{cloneErr: errors.New("remote hung up")}

	_, err := Prepare(context.Background(), Options{
		Spec: specWithSources(t.TempDir(),
			taskspec.Source{Type: "git", URL: "https://github.com/acme/app.git"},
		),
		GitMode:     GitModeHTTPProxy,
		NewExecutor: gitEnv.factory(),
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "cloning https://github.com/acme/app.git")
	require.Contains(t, err.Error(), "remote hung up")
}

func TestPrepare_SkipsExistingCheckout(t *testing.T) {
	cwd := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cwd, "app", ".git"), 0750))
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec: specWithSources(cwd,
			taskspec.Source{Type: "git", URL: "https://github.com/acme/app.git"},
		),
		GitMode:     GitModeHTTPProxy,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.Empty(t, gitEnv.clones, "existing checkout should not be re-cloned")
	require.NotNil(t, result.Proxy, "existing checkout still gets proxy wiring")
}

func TestPrepare_HTTPProxyRewritesRemotes(t *testing.T) {
	cwd := t.TempDir()
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec: specWithSources(cwd,
			taskspec.Source{Type: "git", URL: "https://github.com/acme/app.git", Path: "nested/app"},
		),
		GitMode:     GitModeHTTPProxy,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.NotNil(t, result.Proxy)
	require.NotEmpty(t, result.Proxy.Addr())

	require.Len(t, gitEnv.remotes, 1)
	require.Equal(t, "origin", gitEnv.remotes[0].Name)
	require.Equal(t, filepath.Join(cwd, "nested", "app"), gitEnv.remotes[0].Dir)
	require.Equal(t, "http://"+result.Proxy.Addr()+"/nested-app", gitEnv.remotes[0].URL,
		"nested checkout paths flatten into a single route segment")
}

func TestPrepare_HTTPProxyWithoutSources(t *testing.T) {
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:        specWithSources(t.TempDir()),
		GitMode:     GitModeHTTPProxy,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)

	require.Nil(t, result.Proxy, "no sources means no proxy")
	require.NoError(t, result.Shutdown(context.Background()))
}

func TestPrepare_MCPMode(t *testing.T) {
	gitEnv := &fakeGitEnv{}
	cwd := t.TempDir()

	result, err := Prepare(context.Background(), Options{
		Spec:        specWithSources(cwd),
		GitMode:     GitModeMCP,
		SelfPath:    "/usr/local/bin/environment-manager",
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)

	require.Nil(t, result.Proxy)
	require.NotEmpty(t, result.MCPConfig)

	config, err := gitmcp.ParseConfig(result.MCPConfig)
	require.NoError(t, err)
	server := config.MCPServers["git"]
	require.Equal(t, "/usr/local/bin/environment-manager", server.Command)
	require.Equal(t, []string{"git-mcp", "--workdir", cwd}, server.Args)
}

func TestPrepare_UnknownGitMode(t *testing.T) {
	_, err := Prepare(context.Background(), Options{
		Spec:    specWithSources(t.TempDir()),
		GitMode: "ssh-agent",
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), `unknown git mode "ssh-agent"`)
}

func TestPrepare_DetectsClaudeVersion(t *testing.T) {
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:        specWithSources(t.TempDir()),
		GitMode:     GitModeHTTPProxy,
		ClaudePath:  stubClaude(t),
		NewExecutor: gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	require.Equal(t, "2.0.13", result.ClaudeVersion)
}

func TestPrepare_SessionEnvContract(t *testing.T) {
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:              specWithSources(t.TempDir()),
		SessionID:         "sess-9",
		EnvironmentID:     "env-42",
		GitMode:           GitModeHTTPProxy,
		VerboseClaudeLogs: true,
		ClaudePath:        stubClaude(t),
		NewExecutor:       gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	env := result.Env.Build()
	require.Contains(t, env, "CLAUDECODE=1")
	require.Contains(t, env, "CLAUDE_CODE_REMOTE=true")
	require.Contains(t, env, "CLAUDE_CODE_SESSION_ID=sess-9")
	require.Contains(t, env, "CLAUDE_CODE_CONTAINER_ID=env-42")
	require.Contains(t, env, "CLAUDE_CODE_VERSION=2.0.13")
	require.Contains(t, env, "CLAUDE_CODE_DEBUG=true")
}

func TestPrepare_LocalTestingDropsRemoteMarker(t *testing.T) {
	gitEnv := &fakeGitEnv{}

	result, err := Prepare(context.Background(), Options{
		Spec:         specWithSources(t.TempDir()),
		SessionID:    "sess-9",
		GitMode:      GitModeHTTPProxy,
		LocalTesting: true,
		ClaudePath:   stubClaude(t),
		NewExecutor:  gitEnv.factory(),
	})
	require.NoError(t, err)
	defer result.Shutdown(context.Background())

	for _, kv := range result.Env.Build() {
		require.False(t, strings.HasPrefix(kv, "CLAUDE_CODE_REMOTE="),
			"local testing must not mark the session remote")
	}
}

func TestRepoAlias(t *testing.T) {
	require.Equal(t, "app", repoAlias("app"))
	require.Equal(t, "nested-app", repoAlias("nested/app"))
	require.Equal(t, "a-b-c", repoAlias("a/b/c/"))
}
