// Package config provides configuration types, defaults, and persistence
// for environment-manager.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"envmanager/internal/log"
)

// Config holds all configuration options for environment-manager.
type Config struct {
	// Claude holds the claude executable and spawn settings.
	Claude ClaudeConfig `mapstructure:"claude"`

	// Sessions holds session storage settings.
	Sessions SessionConfig `mapstructure:"sessions"`

	// GitProxy holds git http-proxy settings.
	GitProxy GitProxyConfig `mapstructure:"git_proxy"`

	// Tracing holds span export settings.
	Tracing TracingConfig `mapstructure:"tracing"`

	// Flags holds feature flag overrides.
	Flags map[string]bool `mapstructure:"flags"`
}

// ClaudeConfig holds claude executable and spawn settings.
type ClaudeConfig struct {
	// ExecutablePath overrides PATH/known-path lookup for the claude binary.
	ExecutablePath string `mapstructure:"executable_path"`

	// Model is the default model forwarded via --model. Empty lets claude decide.
	Model string `mapstructure:"model"`

	// SpawnTimeout bounds a single claude run. Zero means no timeout.
	SpawnTimeout time.Duration `mapstructure:"spawn_timeout"`

	// UpgradeTimeout bounds the claude self-update step.
	UpgradeTimeout time.Duration `mapstructure:"upgrade_timeout"`

	// LogDir is where claude writes its own debug logs, followed when
	// --verbose-claude-logs is set. Empty means ~/.claude/logs.
	LogDir string `mapstructure:"log_dir"`
}

// SessionConfig holds session storage settings.
type SessionConfig struct {
	// BaseDir is the root directory for session state.
	// Default: ~/.environment-manager/sessions
	BaseDir string `mapstructure:"base_dir"`

	// CatalogPath is the SQLite session catalog location, used when the
	// session-persistence feature flag is enabled.
	// Default: {BaseDir}/catalog.db
	CatalogPath string `mapstructure:"catalog_path"`
}

// GitProxyConfig holds git http-proxy settings.
type GitProxyConfig struct {
	// ListenAddr is the local address the proxy binds to.
	// ":0" picks an ephemeral port.
	ListenAddr string `mapstructure:"listen_addr"`

	// RequestTimeout bounds a single proxied git request.
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// TracingConfig holds span export settings.
type TracingConfig struct {
	Enabled      bool    `mapstructure:"enabled"`
	Exporter     string  `mapstructure:"exporter"` // "none", "file", "stdout", "otlp"
	FilePath     string  `mapstructure:"file_path"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	SampleRate   float64 `mapstructure:"sample_rate"`
	ServiceName  string  `mapstructure:"service_name"`
}

// Defaults returns the default configuration.
func Defaults() Config {
	return Config{
		Claude: ClaudeConfig{
			ExecutablePath: "",
			Model:          "",
			SpawnTimeout:   0,
			UpgradeTimeout: 2 * time.Minute,
			LogDir:         "",
		},
		Sessions: SessionConfig{
			BaseDir:     DefaultSessionBaseDir(),
			CatalogPath: "", // Derived from BaseDir at runtime
		},
		GitProxy: GitProxyConfig{
			ListenAddr:     "127.0.0.1:0",
			RequestTimeout: 60 * time.Second,
		},
		Tracing: TracingConfig{
			Enabled:      false,
			Exporter:     "file",
			FilePath:     "", // Derived from config dir at runtime
			OTLPEndpoint: "localhost:4317",
			SampleRate:   1.0,
			ServiceName:  "environment-manager",
		},
		Flags: map[string]bool{
			"session-persistence": false,
			"claude-auto-upgrade": true,
			"git-http-proxy":      true,
		},
	}
}

// DefaultSessionBaseDir returns the default session storage root.
// Falls back to a relative directory when the home dir is unavailable.
func DefaultSessionBaseDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".environment-manager/sessions"
	}
	return filepath.Join(home, ".environment-manager", "sessions")
}

// ResolvedCatalogPath returns the SQLite catalog path, deriving it from the
// session base dir when unset.
func (c Config) ResolvedCatalogPath() string {
	if c.Sessions.CatalogPath != "" {
		return c.Sessions.CatalogPath
	}
	return filepath.Join(c.Sessions.BaseDir, "catalog.db")
}

// Validate checks configuration consistency.
func (c Config) Validate() error {
	switch c.Tracing.Exporter {
	case "", "none", "file", "stdout", "otlp":
	default:
		return fmt.Errorf("tracing.exporter: unsupported exporter %q", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing.sample_rate must be in [0, 1], got %v", c.Tracing.SampleRate)
	}
	if c.GitProxy.RequestTimeout < 0 {
		return fmt.Errorf("git_proxy.request_timeout must not be negative")
	}
	return nil
}

// DefaultConfigTemplate returns the commented YAML written for new installs.
func DefaultConfigTemplate() string {
	return `# environment-manager configuration
#
# Lookup order:
#   1. .envmanager/config.yaml   (current directory)
#   2. ~/.config/environment-manager/config.yaml

claude:
  # Override claude executable discovery (default: known paths, then PATH)
  # executable_path: /usr/local/bin/claude

  # Default model forwarded as --model (empty lets claude decide)
  # model: sonnet

  # Bound a single run; 0 disables the timeout
  spawn_timeout: 0

  # Bound the self-update step run for --upgrade-claude-code
  upgrade_timeout: 2m

sessions:
  # Root directory for session state (default: ~/.environment-manager/sessions)
  # base_dir: /var/lib/environment-manager/sessions

git_proxy:
  # Local bind address for --git-mode http-proxy; :0 picks a free port
  listen_addr: "127.0.0.1:0"
  request_timeout: 60s

tracing:
  enabled: false
  # Exporter: none, file, stdout, otlp
  exporter: file
  otlp_endpoint: "localhost:4317"
  sample_rate: 1.0

flags:
  session-persistence: false
  claude-auto-upgrade: true
  git-http-proxy: true
`
}

// WriteDefaultConfig creates a config file at the given path with default settings and comments.
// Creates the parent directory if it doesn't exist.
func WriteDefaultConfig(configPath string) error {
	log.Debug(log.CatConfig, "Writing default config", "path", configPath)

	// Create parent directory if needed
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to create config directory", err, "dir", dir)
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write the template
	if err := os.WriteFile(configPath, []byte(DefaultConfigTemplate()), 0o600); err != nil {
		log.ErrorErr(log.CatConfig, "Failed to write config file", err, "path", configPath)
		return fmt.Errorf("writing config file: %w", err)
	}

	log.Info(log.CatConfig, "Created default config", "path", configPath)
	return nil
}
