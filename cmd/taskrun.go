package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"envmanager/internal/cachemanager"
	"envmanager/internal/claudelogs"
	"envmanager/internal/client"
	"envmanager/internal/client/claude"
	"envmanager/internal/envprep"
	"envmanager/internal/flags"
	"envmanager/internal/log"
	"envmanager/internal/pubsub"
	"envmanager/internal/session"
	"envmanager/internal/store"
	"envmanager/internal/taskspec"
	"envmanager/internal/tracing"
)

// Session modes.
const (
	sessionModeNew       = "new"
	sessionModeResume    = "resume"
	sessionModeSetupOnly = "setup-only"
)

// processEventBuffer sizes the claude output fan-out so the session
// recorder keeps up with event bursts without dropping.
const processEventBuffer = 1024

var taskRunCmd = &cobra.Command{
	Use:   "task-run [prompt...]",
	Short: "Prepare an environment and run Claude Code in it",
	Long: `Prepare the runtime environment (workspace, source checkouts, git
access, auth material) and spawn a headless Claude Code session. Session
state is persisted under the session directory so a later invocation with
--session-mode resume can continue the same claude conversation.

The prompt is taken from the positional arguments. With --stdin, a JSON
task configuration document is read from standard input.

Exit codes: 0 on success and after setup-only; 1 on configuration or
spawn errors; 2 when claude exits non-zero or times out.`,
	Args: cobra.ArbitraryArgs,
	RunE: runTask,
}

var (
	sessionFlag          string
	sessionModeFlag      string
	stdinFlag            bool
	environmentIDFlag    string
	organizationUUIDFlag string
	allowedToolsFlag     []string
	gitModeFlag          string
	verboseClaudeLogs    bool
	localTestingFlag     bool
	upgradeClaudeFlag    bool
)

func init() {
	rootCmd.AddCommand(taskRunCmd)

	taskRunCmd.Flags().StringVar(&sessionFlag, "session", "", "session identifier (generated when omitted in new mode)")
	taskRunCmd.Flags().StringVar(&sessionModeFlag, "session-mode", sessionModeNew, "session mode: new, resume, setup-only")
	taskRunCmd.Flags().BoolVar(&stdinFlag, "stdin", false, "read the JSON task configuration from stdin")
	taskRunCmd.Flags().StringVar(&environmentIDFlag, "environment-id", "", "environment/container identifier")
	taskRunCmd.Flags().StringVar(&organizationUUIDFlag, "organization-uuid", "", "organization UUID recorded in session state")
	taskRunCmd.Flags().StringSliceVar(&allowedToolsFlag, "allowed-tools", nil, "comma-separated tool allow-list forwarded to claude")
	taskRunCmd.Flags().StringVar(&gitModeFlag, "git-mode", envprep.GitModeHTTPProxy, "git access mode: http-proxy or mcp")
	taskRunCmd.Flags().BoolVar(&verboseClaudeLogs, "verbose-claude-logs", false, "mirror claude's own debug logs into the manager log")
	taskRunCmd.Flags().BoolVar(&localTestingFlag, "local-testing", false, "relax environment validation for local testing")
	taskRunCmd.Flags().BoolVar(&upgradeClaudeFlag, "upgrade-claude-code", true, "run the claude self-updater before launch")
}

func runTask(cmd *cobra.Command, args []string) error {
	switch sessionModeFlag {
	case sessionModeNew, sessionModeResume, sessionModeSetupOnly:
	default:
		return fmt.Errorf("invalid --session-mode %q: want new, resume, or setup-only", sessionModeFlag)
	}

	if gitModeFlag == envprep.GitModeHTTPProxy && !featureFlags.Enabled(flags.FlagGitHTTPProxy) {
		return fmt.Errorf("--git-mode http-proxy is disabled by the git-http-proxy feature flag")
	}

	if organizationUUIDFlag != "" {
		if _, err := uuid.Parse(organizationUUIDFlag); err != nil {
			return fmt.Errorf("invalid --organization-uuid %q: %w", organizationUUIDFlag, err)
		}
	}

	spec := &taskspec.Spec{}
	if stdinFlag {
		parsed, err := taskspec.Parse(os.Stdin)
		if err != nil {
			return fmt.Errorf("reading task configuration: %w", err)
		}
		spec = parsed
	}
	if err := spec.Validate(localTestingFlag); err != nil {
		return fmt.Errorf("invalid task configuration: %w", err)
	}

	sessionID := sessionFlag
	if sessionID == "" {
		if sessionModeFlag == sessionModeResume {
			return fmt.Errorf("--session is required with --session-mode resume")
		}
		sessionID = uuid.NewString()
	}

	log.Info(log.CatTask, "task run starting",
		"session", sessionID, "mode", sessionModeFlag, "gitMode", gitModeFlag)

	provider, err := newTracingProvider()
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	code, err := runTaskSession(ctx, provider.Tracer(), spec, sessionID, args)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = provider.Shutdown(shutdownCtx)

	if code != 0 {
		return &ExitError{Code: code, Err: err}
	}
	return err
}

func runTaskSession(ctx context.Context, tracer trace.Tracer, spec *taskspec.Spec, sessionID string, promptArgs []string) (int, error) {
	baseDir := cfg.Sessions.BaseDir
	sessionDir := filepath.Join(baseDir, sessionID)

	workDir := spec.StartupContext.Cwd
	if workDir == "" {
		workDir = filepath.Join(sessionDir, "workspace")
	}

	sess, err := openSession(sessionID, sessionDir, workDir, spec)
	if err != nil {
		return 1, err
	}

	var claudeSessionRef string
	if sessionModeFlag == sessionModeResume {
		state := sess.State()
		claudeSessionRef = state.ClaudeSessionRef
	}

	prepared, err := envprep.Prepare(ctx, envprep.Options{
		Spec:                spec,
		SessionID:           sessionID,
		EnvironmentID:       environmentIDFlag,
		GitMode:             gitModeFlag,
		WorkDirBase:         workDir,
		SelfPath:            selfExecutable(),
		ClaudePath:          resolveClaudePath(ctx),
		UpgradeClaude:       upgradeClaudeFlag && featureFlags.Enabled(flags.FlagClaudeAutoUpgrade),
		UpgradeTimeout:      cfg.Claude.UpgradeTimeout,
		VerboseClaudeLogs:   verboseClaudeLogs,
		LocalTesting:        localTestingFlag,
		ProxyListenAddr:     cfg.GitProxy.ListenAddr,
		ProxyRequestTimeout: cfg.GitProxy.RequestTimeout,
		Tracer:              tracer,
	})
	if err != nil {
		_ = sess.Close(session.StatusFailed)
		recordRun(ctx, sess)
		return 1, fmt.Errorf("preparing environment: %w", err)
	}

	if prepared.ClaudeVersion != "" {
		_ = sess.SetClaudeVersion(prepared.ClaudeVersion)
	}

	if sessionModeFlag == sessionModeSetupOnly {
		_ = prepared.Shutdown(ctx)
		if err := sess.Close(session.StatusReady); err != nil {
			return 1, fmt.Errorf("persisting session state: %w", err)
		}
		recordRun(ctx, sess)
		fmt.Printf("Environment ready. Session %s can be resumed once a run has started.\n", sessionID)
		return 0, nil
	}

	follower := startClaudeLogFollower()
	defer func() {
		if follower != nil {
			_ = follower.Stop()
		}
	}()

	headless, err := client.NewClient(client.ClientClaude)
	if err != nil {
		_ = prepared.Shutdown(ctx)
		_ = sess.Close(session.StatusFailed)
		recordRun(ctx, sess)
		return 1, err
	}

	status, spawned, runErr := spawnAndStream(ctx, tracer, headless, sess, prepared, claudeSessionRef, strings.Join(promptArgs, " "))

	_ = prepared.Shutdown(ctx)
	if closeErr := sess.Close(status); closeErr != nil {
		log.ErrorErr(log.CatSession, "closing session", closeErr, "session", sessionID)
	}
	recordRun(ctx, sess)

	return taskExitCode(status, spawned, runErr, ctx.Err() != nil)
}

// taskExitCode maps the session outcome to the process exit code: 0 for a
// completed run, 1 when no claude process ever ran (spawn errors, interrupts),
// 2 when claude ran and exited non-zero or timed out.
func taskExitCode(status session.Status, spawned bool, runErr error, interrupted bool) (int, error) {
	switch status {
	case session.StatusCompleted:
		return 0, nil
	case session.StatusTimedOut:
		return 2, fmt.Errorf("claude timed out: %w", runErr)
	default:
		if !spawned {
			return 1, runErr
		}
		if runErr != nil && interrupted {
			return 1, fmt.Errorf("task interrupted: %w", runErr)
		}
		if runErr == nil {
			runErr = fmt.Errorf("claude exited with failure")
		}
		return 2, runErr
	}
}

// openSession creates or reopens the session per --session-mode.
func openSession(sessionID, sessionDir, workDir string, spec *taskspec.Spec) (*session.Session, error) {
	if sessionModeFlag == sessionModeResume {
		sess, err := session.Reopen(sessionID, sessionDir)
		if err != nil {
			return nil, fmt.Errorf("reopening session: %w", err)
		}
		state := sess.State()
		if err := state.CheckResumable(); err != nil {
			return nil, fmt.Errorf("session %s cannot be resumed: %w", sessionID, err)
		}
		return sess, nil
	}

	sess, err := session.New(sessionID, sessionDir,
		session.WithWorkDir(workDir),
		session.WithEnvironmentID(environmentIDFlag),
		session.WithOrganizationUUID(organizationUUIDFlag),
		session.WithEnvironmentType(spec.Environment.EnvironmentType),
		session.WithGitMode(gitModeFlag),
	)
	if err != nil {
		return nil, fmt.Errorf("creating session: %w", err)
	}
	return sess, nil
}

// spawnAndStream runs claude and folds its event stream into the session.
// The returned status is what the session should close with; spawned reports
// whether a claude process actually started, so failures before that point
// can be told apart from a process that ran and failed.
func spawnAndStream(ctx context.Context, tracer trace.Tracer, headless client.HeadlessClient, sess *session.Session, prepared *envprep.Result, claudeSessionRef, prompt string) (status session.Status, spawned bool, err error) {
	spawnCtx, spawnSpan := tracer.Start(ctx, tracing.SpanSpawn, trace.WithAttributes(
		attribute.String(tracing.AttrSessionID, sess.State().SessionID),
		attribute.String(tracing.AttrSessionMode, sessionModeFlag),
	))

	clientCfg := client.Config{
		WorkDir:      prepared.WorkDir,
		Prompt:       prompt,
		SessionID:    claudeSessionRef,
		Timeout:      cfg.Claude.SpawnTimeout,
		AllowedTools: allowedToolsFlag,
		MCPConfig:    prepared.MCPConfig,
		RawSink:      sess.RawSink(),
	}
	clientCfg.SetExtension(client.ExtClaudeModel, cfg.Claude.Model)
	clientCfg.SetExtension(client.ExtClaudeExecutable, prepared.ClaudePath)
	clientCfg.SetExtension(claude.ExtSessionEnv, prepared.Env)
	clientCfg.SetExtension(claude.ExtAllowNested, localTestingFlag)

	proc, err := headless.Spawn(spawnCtx, clientCfg)
	if err != nil {
		spawnSpan.RecordError(err)
		spawnSpan.SetStatus(codes.Error, err.Error())
		spawnSpan.End()
		return session.StatusFailed, false, fmt.Errorf("spawning claude: %w", err)
	}
	spawnSpan.AddEvent(tracing.EventProcessSpawned)
	spawnSpan.End()

	_ = sess.MarkRunning()

	streamCtx, streamSpan := tracer.Start(ctx, tracing.SpanStream)
	defer streamSpan.End()
	_ = streamCtx

	// Collect the last process error while draining events.
	var procErr error
	errDone := make(chan struct{})
	go func() {
		defer close(errDone)
		for err := range proc.Errors() {
			procErr = err
			log.ErrorErr(log.CatProc, "claude process error", err)
		}
	}()

	// Fan claude output out through the broker; the session recorder is
	// the subscriber that folds events into session state. The buffer is
	// sized so the recorder never drops under event bursts.
	events := pubsub.NewBrokerWithBuffer[client.OutputEvent](processEventBuffer)
	recorder := pubsub.NewContinuousListener(ctx, events)
	recorded := make(chan struct{})
	go func() {
		defer close(recorded)
		for {
			ev, ok := recorder.Next()
			if !ok {
				return
			}
			handleEvent(sess, proc, &ev.Payload)
		}
	}()

	for event := range proc.Events() {
		events.Publish(pubsub.ProcessOutput, event)
	}
	events.Close()
	<-recorded

	_ = proc.Wait()
	<-errDone

	switch {
	case proc.Status() == client.StatusCompleted:
		return session.StatusCompleted, true, nil
	case errors.Is(procErr, client.ErrTimeout):
		streamSpan.SetStatus(codes.Error, "timed out")
		return session.StatusTimedOut, true, procErr
	default:
		if procErr != nil {
			streamSpan.RecordError(procErr)
			streamSpan.SetStatus(codes.Error, procErr.Error())
		}
		return session.StatusFailed, true, procErr
	}
}

// handleEvent folds one claude output event into session state.
func handleEvent(sess *session.Session, proc client.HeadlessProcess, event *client.OutputEvent) {
	switch {
	case event.IsInit():
		if ref := proc.SessionRef(); ref != "" {
			_ = sess.SetClaudeSessionRef(ref)
		} else if event.SessionID != "" {
			_ = sess.SetClaudeSessionRef(event.SessionID)
		}
		if mp, ok := proc.(interface{ MainModel() string }); ok && mp.MainModel() != "" {
			_ = sess.SetModel(mp.MainModel())
		}
	case event.IsResult():
		inputTokens := 0
		outputTokens := 0
		for _, mu := range event.ModelUsage {
			inputTokens += mu.InputTokens
			outputTokens += mu.OutputTokens
		}
		if outputTokens == 0 && event.Usage != nil {
			outputTokens = event.Usage.OutputTokens
		}
		_ = sess.AddUsage(inputTokens, outputTokens, event.TotalCostUSD)
		if event.Result != "" {
			fmt.Println(event.Result)
		}
	}
}

// startClaudeLogFollower tails claude's own debug logs into our log file
// when --verbose-claude-logs is set. Best effort: a missing log dir just
// disables the follower.
func startClaudeLogFollower() *claudelogs.Follower {
	if !verboseClaudeLogs {
		return nil
	}

	dir := cfg.Claude.LogDir
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		dir = filepath.Join(home, ".claude", "logs")
	}
	if _, err := os.Stat(dir); err != nil {
		log.Warn(log.CatProc, "claude log dir not found, skipping follower", "dir", dir)
		return nil
	}

	follower, err := claudelogs.New(claudelogs.DefaultConfig(dir))
	if err != nil {
		log.Warn(log.CatProc, "creating claude log follower", "error", err)
		return nil
	}
	lines, err := follower.Start()
	if err != nil {
		log.Warn(log.CatProc, "starting claude log follower", "error", err)
		return nil
	}

	go func() {
		for entry := range lines {
			log.Debug(log.CatProc, "claude log", "file", entry.File, "line", entry.Line)
		}
	}()

	return follower
}

// execPathCache memoizes claude executable discovery across a process.
var execPathCache = cachemanager.NewInMemoryCacheManager[string, string](
	"executable-path", cachemanager.DefaultExpiration, cachemanager.DefaultCleanupInterval)

// resolveClaudePath returns the configured executable override, or a
// cached discovery result. Empty when discovery fails; envprep then
// retries and reports the error with context.
func resolveClaudePath(ctx context.Context) string {
	if cfg.Claude.ExecutablePath != "" {
		return cfg.Claude.ExecutablePath
	}
	if path, ok := execPathCache.Get(ctx, "claude"); ok {
		return path
	}
	path, err := claude.FindExecutable()
	if err != nil {
		return ""
	}
	execPathCache.Set(ctx, "claude", path, cachemanager.DefaultExpiration)
	return path
}

func selfExecutable() string {
	self, err := os.Executable()
	if err != nil {
		return "environment-manager"
	}
	return self
}

// recordRun upserts the finished run into the SQLite catalog when the
// session-persistence feature flag is on.
func recordRun(ctx context.Context, sess *session.Session) {
	if !featureFlags.Enabled(flags.FlagSessionPersistence) {
		return
	}

	db, err := store.NewDB(cfg.ResolvedCatalogPath())
	if err != nil {
		log.ErrorErr(log.CatSession, "opening session catalog", err)
		return
	}
	defer db.Close()

	state := sess.State()
	run := &store.Run{
		SessionID:        state.SessionID,
		ClaudeSessionRef: state.ClaudeSessionRef,
		Status:           state.Status.String(),
		EnvironmentID:    state.EnvironmentID,
		OrganizationUUID: state.OrganizationUUID,
		GitMode:          state.GitMode,
		WorkDir:          state.WorkDir,
		SessionDir:       state.SessionDir,
		Model:            state.Model,
		ClaudeVersion:    state.ClaudeVersion,
		InputTokens:      int64(state.TokenUsage.TotalInputTokens),
		OutputTokens:     int64(state.TokenUsage.TotalOutputTokens),
		CostUSD:          state.TokenUsage.TotalCostUSD,
		StartedAt:        state.StartTime,
		EndedAt:          state.EndTime,
	}

	if err := db.Runs().Save(run); err != nil {
		log.ErrorErr(log.CatSession, "recording session run", err)
	}
}

func newTracingProvider() (*tracing.Provider, error) {
	tcfg := tracing.Config{
		Enabled:      cfg.Tracing.Enabled,
		Exporter:     cfg.Tracing.Exporter,
		FilePath:     cfg.Tracing.FilePath,
		OTLPEndpoint: cfg.Tracing.OTLPEndpoint,
		SampleRate:   cfg.Tracing.SampleRate,
		ServiceName:  cfg.Tracing.ServiceName,
	}
	if tcfg.Enabled && tcfg.Exporter == "file" && tcfg.FilePath == "" {
		tcfg.FilePath = filepath.Join(cfg.Sessions.BaseDir, "traces", "traces.jsonl")
	}
	return tracing.NewProvider(tcfg)
}
