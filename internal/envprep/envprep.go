// Package envprep prepares the runtime environment for a task run:
// workspace directory, source checkouts, git access wiring for the
// selected git mode, the optional claude self-upgrade, and the
// environment variable contract for the spawned process.
package envprep

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"envmanager/internal/client/claude"
	"envmanager/internal/git"
	"envmanager/internal/gitmcp"
	"envmanager/internal/gitproxy"
	"envmanager/internal/log"
	"envmanager/internal/taskspec"
	"envmanager/internal/tracing"
)

// Git access modes.
const (
	GitModeHTTPProxy = "http-proxy"
	GitModeMCP       = "mcp"
)

// DefaultCloneTimeout bounds a single source checkout.
const DefaultCloneTimeout = 5 * time.Minute

// Options configures environment preparation.
type Options struct {
	// Spec is the parsed stdin task configuration.
	Spec *taskspec.Spec

	// SessionID is the manager-assigned session identifier.
	SessionID string

	// EnvironmentID populates CLAUDE_CODE_CONTAINER_ID.
	EnvironmentID string

	// GitMode selects http-proxy or mcp git access.
	GitMode string

	// WorkDirBase is the workspace root used when the spec carries no cwd.
	WorkDirBase string

	// SelfPath is this binary's path, used for the MCP child config.
	SelfPath string

	// ClaudePath overrides executable discovery when set.
	ClaudePath string

	// UpgradeClaude runs the claude self-updater before launch.
	UpgradeClaude bool

	// UpgradeTimeout bounds the self-updater. Zero uses the updater default.
	UpgradeTimeout time.Duration

	// CloneTimeout bounds each source checkout. Zero means DefaultCloneTimeout.
	CloneTimeout time.Duration

	// VerboseClaudeLogs sets CLAUDE_CODE_DEBUG on the spawned process.
	VerboseClaudeLogs bool

	// LocalTesting relaxes executable discovery and drops the remote marker.
	LocalTesting bool

	// ProxyListenAddr is the git proxy bind address (git_proxy.listen_addr).
	// Empty uses the proxy default of a loopback ephemeral port.
	ProxyListenAddr string

	// ProxyRequestTimeout bounds a single upstream request through the git
	// proxy (git_proxy.request_timeout). Zero uses the proxy default.
	ProxyRequestTimeout time.Duration

	// Tracer records the preparation phases. Nil means no tracing.
	Tracer trace.Tracer

	// NewExecutor builds a git executor for a directory. Nil uses the
	// real CLI-backed executor. Tests substitute mocks here.
	NewExecutor func(dir string) git.Executor
}

// Result is the prepared environment handed to the spawn path.
type Result struct {
	// WorkDir is the workspace root the process runs in.
	WorkDir string

	// ClaudePath is the resolved executable, empty only under local testing.
	ClaudePath string

	// ClaudeVersion is the detected version string, may be empty.
	ClaudeVersion string

	// MCPConfig is the --mcp-config JSON for git-mode mcp, else empty.
	MCPConfig string

	// Proxy is the running credential-injecting proxy for git-mode
	// http-proxy with git sources, else nil. Callers own its shutdown.
	Proxy *gitproxy.Server

	// Env is the environment contract for the spawned process.
	Env claude.SessionEnv
}

// Shutdown stops the git proxy if one was started.
func (r *Result) Shutdown(ctx context.Context) error {
	if r.Proxy == nil {
		return nil
	}
	return r.Proxy.Shutdown(ctx)
}

// Prepare runs the preparation pipeline. On error any started proxy is
// already stopped; callers only clean up after success.
func Prepare(ctx context.Context, opts Options) (*Result, error) {
	if opts.Spec == nil {
		return nil, fmt.Errorf("task spec is required")
	}

	tracer := opts.Tracer
	if tracer == nil {
		tracer = noop.NewTracerProvider().Tracer("envprep")
	}

	ctx, span := tracer.Start(ctx, tracing.SpanPrepare, trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, opts.SessionID),
		attribute.String(tracing.AttrGitMode, opts.GitMode),
		attribute.Int(tracing.AttrSourceCount, len(opts.Spec.StartupContext.Sources)),
	))
	defer span.End()

	fail := func(err error) (*Result, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	workDir, err := prepareWorkspace(opts)
	if err != nil {
		return fail(err)
	}
	span.AddEvent(tracing.EventWorkspaceReady)

	cloned, err := checkoutSources(ctx, opts, workDir, span)
	if err != nil {
		return fail(err)
	}

	result := &Result{WorkDir: workDir}

	switch opts.GitMode {
	case GitModeHTTPProxy, "":
		if len(cloned) > 0 {
			proxy, err := startProxy(ctx, opts, cloned)
			if err != nil {
				return fail(err)
			}
			result.Proxy = proxy
			span.AddEvent(tracing.EventProxyStarted)
		}
	case GitModeMCP:
		mcpConfig, err := gitmcp.GenerateConfig(opts.SelfPath, workDir)
		if err != nil {
			return fail(err)
		}
		result.MCPConfig = mcpConfig
	default:
		return fail(fmt.Errorf("unknown git mode %q", opts.GitMode))
	}

	claudePath, version, err := prepareClaude(ctx, opts)
	if err != nil {
		if result.Proxy != nil {
			_ = result.Proxy.Shutdown(ctx)
		}
		return fail(err)
	}
	result.ClaudePath = claudePath
	result.ClaudeVersion = version
	span.SetAttributes(attribute.String(tracing.AttrClaudeVersion, version))

	result.Env = claude.SessionEnv{
		SessionID:   opts.SessionID,
		Version:     version,
		ContainerID: opts.EnvironmentID,
		Debug:       opts.VerboseClaudeLogs,
		Local:       opts.LocalTesting,
	}

	return result, nil
}

// prepareWorkspace resolves and creates the workspace directory. A cwd in
// the spec wins over the configured base.
func prepareWorkspace(opts Options) (string, error) {
	workDir := opts.Spec.StartupContext.Cwd
	if workDir == "" {
		workDir = opts.WorkDirBase
	}
	if workDir == "" {
		return "", fmt.Errorf("no working directory: spec has no cwd and no base is configured")
	}

	workDir = filepath.Clean(workDir)
	if err := os.MkdirAll(workDir, 0750); err != nil {
		return "", fmt.Errorf("creating workspace %s: %w", workDir, err)
	}

	log.Info(log.CatEnv, "workspace ready", "dir", workDir)
	return workDir, nil
}

// clonedSource records a completed checkout for git access wiring.
type clonedSource struct {
	Source taskspec.Source
	Dir    string
	Alias  string
}

// checkoutSources clones each git source into the workspace. Checkouts
// that already exist are kept as-is so resumed sessions do not re-clone.
func checkoutSources(ctx context.Context, opts Options, workDir string, span trace.Span) ([]clonedSource, error) {
	timeout := opts.CloneTimeout
	if timeout <= 0 {
		timeout = DefaultCloneTimeout
	}

	var cloned []clonedSource
	for _, src := range opts.Spec.StartupContext.Sources {
		if src.Type != "git" {
			log.Warn(log.CatEnv, "skipping unsupported source type", "type", src.Type)
			continue
		}

		rel := src.CheckoutPath()
		dest := filepath.Join(workDir, rel)

		if _, err := os.Stat(filepath.Join(dest, ".git")); err == nil {
			log.Info(log.CatGit, "source already checked out", "path", dest)
			cloned = append(cloned, clonedSource{Source: src, Dir: dest, Alias: repoAlias(rel)})
			continue
		}

		cloneCtx, cancel := context.WithTimeout(ctx, timeout)
		err := newExecutor(opts, workDir).Clone(cloneCtx, src.URL, dest, git.CloneOptions{Branch: src.Ref})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("cloning %s into %s: %w", src.URL, rel, err)
		}

		log.Info(log.CatGit, "source cloned", "url", src.URL, "path", dest, "ref", src.Ref)
		span.AddEvent(tracing.EventSourceCloned, trace.WithAttributes(
			attribute.String("source.path", rel),
		))
		cloned = append(cloned, clonedSource{Source: src, Dir: dest, Alias: repoAlias(rel)})
	}
	return cloned, nil
}

// startProxy launches the credential-injecting git proxy and points each
// checkout's origin remote at it. Tokens stay in proxy memory; nothing
// credential-bearing lands in git config.
func startProxy(ctx context.Context, opts Options, cloned []clonedSource) (*gitproxy.Server, error) {
	proxy := gitproxy.NewServer(opts.Spec,
		gitproxy.WithListenAddr(opts.ProxyListenAddr),
		gitproxy.WithRequestTimeout(opts.ProxyRequestTimeout),
	)
	if err := proxy.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting git proxy: %w", err)
	}

	for _, c := range cloned {
		proxy.RegisterRepo(c.Alias, c.Source.URL)
		executor := newExecutor(opts, c.Dir)
		if err := executor.SetRemoteURL("origin", proxy.URLFor(c.Alias)); err != nil {
			_ = proxy.Shutdown(ctx)
			return nil, fmt.Errorf("pointing %s at proxy: %w", c.Alias, err)
		}
	}

	log.Info(log.CatProxy, "git proxy serving", "addr", proxy.Addr(), "repos", len(cloned))
	return proxy, nil
}

// prepareClaude resolves the executable, optionally self-upgrades it,
// and detects its version. Upgrade failures are logged, not fatal.
func prepareClaude(ctx context.Context, opts Options) (path, version string, err error) {
	path = opts.ClaudePath
	if path == "" {
		path, err = claude.FindExecutable()
		if err != nil {
			if opts.LocalTesting {
				log.Warn(log.CatEnv, "claude executable not found, continuing under local testing", "error", err)
				return "", "", nil
			}
			return "", "", fmt.Errorf("locating claude executable: %w", err)
		}
	}

	if opts.UpgradeClaude {
		if upgradeErr := claude.Upgrade(ctx, path, opts.UpgradeTimeout); upgradeErr != nil {
			log.Warn(log.CatEnv, "claude upgrade failed, continuing with installed version", "error", upgradeErr)
		}
	}

	version, versionErr := claude.DetectVersion(ctx, path)
	if versionErr != nil {
		log.Warn(log.CatEnv, "claude version detection failed", "error", versionErr)
		version = ""
	}

	return path, version, nil
}

func newExecutor(opts Options, dir string) git.Executor {
	if opts.NewExecutor != nil {
		return opts.NewExecutor(dir)
	}
	return git.NewRealExecutor(dir)
}

// repoAlias flattens a workspace-relative checkout path into a single
// proxy route segment.
func repoAlias(rel string) string {
	alias := strings.ReplaceAll(filepath.ToSlash(rel), "/", "-")
	return strings.Trim(alias, "-")
}
