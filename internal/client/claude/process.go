package claude

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"envmanager/internal/client"
	"envmanager/internal/log"
)

// defaultKnownPaths defines the priority-ordered paths to check for the
// claude executable. These are checked before falling back to PATH lookup.
var defaultKnownPaths = []string{
	"~/.claude/local/{name}",
	"~/.claude/{name}",
}

// Config holds configuration for spawning a Claude process.
type Config struct {
	WorkDir            string
	ExecutablePath     string // Override; skips the known-path search when set
	Prompt             string
	SessionID          string // For --resume
	Model              string // sonnet, opus, haiku
	AppendSystemPrompt string
	AllowedTools       []string
	DisallowedTools    []string
	SkipPermissions    bool
	Timeout            time.Duration
	MCPConfig          string // JSON string for --mcp-config flag
	SessionEnv         SessionEnv
	AllowNested        bool              // Permit spawning inside an existing Claude tree
	Env                map[string]string // Custom environment variables (supports ${VAR} expansion)
	RawSink            io.Writer         // Receives raw stdout lines for persistence
}

// Process represents a headless Claude Code process.
// Process implements client.HeadlessProcess by embedding BaseProcess.
type Process struct {
	*client.BaseProcess

	// mainModel is the model name from the init event.
	mainModel string
	mu        sync.RWMutex // protects mainModel
}

// extractSession extracts the session ID from an init event.
func extractSession(event client.OutputEvent, rawLine []byte) string {
	if event.Type == client.EventSystem && event.SubType == "init" {
		var initData struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(rawLine, &initData); err == nil && initData.SessionID != "" {
			return initData.SessionID
		}
	}
	return ""
}

// FindExecutable locates the claude binary, checking the known install
// locations before PATH.
func FindExecutable() (string, error) {
	return client.NewExecutableFinder("claude",
		client.WithKnownPaths(defaultKnownPaths...),
	).Find()
}

// Spawn creates and starts a new headless Claude process.
// Context is used for cancellation and timeout control.
// Uses SpawnBuilder for clean process lifecycle management.
func Spawn(ctx context.Context, cfg Config) (*Process, error) {
	if err := CheckNotNested(cfg.AllowNested); err != nil {
		return nil, err
	}

	claudePath := cfg.ExecutablePath
	if claudePath == "" {
		var err error
		claudePath, err = FindExecutable()
		if err != nil {
			return nil, err
		}
	}

	args := buildArgs(cfg)

	// Session contract variables first, then custom vars
	env := cfg.SessionEnv.Build()

	// Add custom env vars from config, expanding ${VAR} references
	for k, v := range cfg.Env {
		expanded := os.ExpandEnv(v)
		env = append(env, k+"="+expanded)
		// Log non-sensitive env vars (mask tokens/keys)
		logVal := expanded
		if strings.Contains(strings.ToLower(k), "token") ||
			strings.Contains(strings.ToLower(k), "key") ||
			strings.Contains(strings.ToLower(k), "secret") {
			logVal = "[REDACTED]"
		}
		log.Debug(log.CatProc, "custom env var", "key", k, "value", logVal)
	}

	// Create Process wrapper FIRST (needed for OnInitEvent hook closure)
	p := &Process{}

	builder := client.NewSpawnBuilder(ctx).
		WithExecutable(claudePath, args).
		WithWorkDir(cfg.WorkDir).
		WithSessionRef(cfg.SessionID).
		WithTimeout(cfg.Timeout).
		WithParser(NewParser()).
		WithSessionExtractor(extractSession).
		WithOnInitEvent(p.extractMainModel).
		WithStderrCapture(true).
		WithProviderName("claude").
		WithEnv(env)
	if cfg.RawSink != nil {
		builder = builder.WithRawLineSink(cfg.RawSink)
	}

	base, err := builder.Build()
	if err != nil {
		return nil, fmt.Errorf("claude: %w", err)
	}

	// Assign BaseProcess AFTER Build() completes (circular reference pattern)
	p.BaseProcess = base
	return p, nil
}

// extractMainModel extracts the main model name from the init event.
// This is called via the OnInitEvent hook.
func (p *Process) extractMainModel(event client.OutputEvent, rawLine []byte) {
	var initData struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(rawLine, &initData); err == nil && initData.Model != "" {
		p.mu.Lock()
		p.mainModel = initData.Model
		p.mu.Unlock()
		log.Debug(log.CatProc, "extracted main model", "provider", "claude", "model", initData.Model)
	}
}

// MainModel returns the main model name from the init event.
func (p *Process) MainModel() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.mainModel
}

// ResumeWithConfig continues an existing Claude session with full configuration control.
// The SessionID in cfg is used if set, otherwise sessionID parameter is used.
func ResumeWithConfig(ctx context.Context, sessionID string, cfg Config) (*Process, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = sessionID
	}
	return Spawn(ctx, cfg)
}

// buildArgs constructs the command line arguments for claude.
func buildArgs(cfg Config) []string {
	args := []string{
		"--print",
		"--output-format", "stream-json",
		"--verbose",
	}

	if cfg.SessionID != "" {
		args = append(args, "--resume", cfg.SessionID)
	}

	if cfg.Model != "" {
		args = append(args, "--model", cfg.Model)
	}

	if cfg.SkipPermissions {
		args = append(args, "--dangerously-skip-permissions")
	}

	if cfg.AppendSystemPrompt != "" {
		args = append(args, "--append-system-prompt", cfg.AppendSystemPrompt)
	}

	for _, tool := range cfg.AllowedTools {
		args = append(args, "--allowed-tools", tool)
	}

	for _, tool := range cfg.DisallowedTools {
		args = append(args, "--disallowed-tools", tool)
	}

	if cfg.MCPConfig != "" {
		args = append(args, "--mcp-config", cfg.MCPConfig)
	}

	// Add -- separator and prompt as final argument
	// The -- ensures the prompt isn't consumed by preceding flags
	if cfg.Prompt != "" {
		args = append(args, "--", cfg.Prompt)
	}

	return args
}

// SessionID returns the session ID (may be empty until init event is received).
// Convenience wrapper around SessionRef.
func (p *Process) SessionID() string {
	return p.SessionRef()
}

// Ensure Process implements client.HeadlessProcess at compile time.
var _ client.HeadlessProcess = (*Process)(nil)
