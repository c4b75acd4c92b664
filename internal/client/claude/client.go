package claude

import (
	"context"

	"envmanager/internal/client"
)

func init() {
	client.RegisterClient(client.ClientClaude, func() client.HeadlessClient {
		return NewClient()
	})
}

// Provider-specific extension keys for client.Config.Extensions.
const (
	// ExtSessionEnv carries a SessionEnv value applied to the spawned process.
	ExtSessionEnv = "claude.session_env"

	// ExtAllowNested permits spawning inside an existing Claude tree (bool).
	ExtAllowNested = "claude.allow_nested"
)

// ClaudeClient implements client.HeadlessClient for Claude Code CLI.
type ClaudeClient struct{}

// NewClient creates a new ClaudeClient.
func NewClient() *ClaudeClient {
	return &ClaudeClient{}
}

// Type returns the client type identifier.
func (c *ClaudeClient) Type() client.ClientType {
	return client.ClientClaude
}

// Spawn creates and starts a headless Claude process.
// If cfg.SessionID is set, resumes an existing session.
// If cfg.SessionID is empty, creates a new session.
func (c *ClaudeClient) Spawn(ctx context.Context, cfg client.Config) (client.HeadlessProcess, error) {
	claudeCfg := configFromClient(cfg)
	if cfg.SessionID != "" {
		return ResumeWithConfig(ctx, cfg.SessionID, claudeCfg)
	}
	return Spawn(ctx, claudeCfg)
}

// configFromClient converts a client.Config to a claude.Config.
func configFromClient(cfg client.Config) Config {
	claudeCfg := Config{
		WorkDir:            cfg.WorkDir,
		ExecutablePath:     cfg.GetExtensionString(client.ExtClaudeExecutable),
		Prompt:             cfg.Prompt,
		SessionID:          cfg.SessionID,
		Model:              cfg.ClaudeModel(),
		AppendSystemPrompt: cfg.SystemPrompt,
		AllowedTools:       cfg.AllowedTools,
		DisallowedTools:    cfg.DisallowedTools,
		SkipPermissions:    cfg.SkipPermissions,
		Timeout:            cfg.Timeout,
		MCPConfig:          cfg.MCPConfig,
		Env:                cfg.Env,
		RawSink:            cfg.RawSink,
	}
	if env, ok := cfg.GetExtension(ExtSessionEnv).(SessionEnv); ok {
		claudeCfg.SessionEnv = env
	}
	if allow, ok := cfg.GetExtension(ExtAllowNested).(bool); ok {
		claudeCfg.AllowNested = allow
	}
	return claudeCfg
}

// Ensure ClaudeClient implements client.HeadlessClient at compile time.
var _ client.HeadlessClient = (*ClaudeClient)(nil)
