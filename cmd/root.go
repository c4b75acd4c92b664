// Package cmd implements the environment-manager CLI.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"envmanager/internal/config"
	"envmanager/internal/flags"
	"envmanager/internal/log"
)

var (
	version      = "dev"
	cfgFile      string
	debugFlag    bool
	logLevelFlag string

	cfg          config.Config
	featureFlags *flags.Registry
	logCleanup   func()
)

var rootCmd = &cobra.Command{
	Use:   "environment-manager",
	Short: "Orchestrates headless Claude Code sessions in remote environments",
	Long: `environment-manager prepares a runtime environment (workspace, source
checkouts, git access, auth material) and runs Claude Code headlessly
inside it, persisting session state for later resumption.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupRuntime()
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCleanup != nil {
			logCleanup()
		}
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "",
		"config file (default: .envmanager/config.yaml, then ~/.config/environment-manager/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debugFlag, "debug", false,
		"enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "",
		"log level: debug, info, warn, error")
}

func initConfig() {
	defaults := config.Defaults()
	viper.SetDefault("claude.spawn_timeout", defaults.Claude.SpawnTimeout)
	viper.SetDefault("claude.upgrade_timeout", defaults.Claude.UpgradeTimeout)
	viper.SetDefault("sessions.base_dir", defaults.Sessions.BaseDir)
	viper.SetDefault("git_proxy.listen_addr", defaults.GitProxy.ListenAddr)
	viper.SetDefault("git_proxy.request_timeout", defaults.GitProxy.RequestTimeout)
	viper.SetDefault("tracing.enabled", defaults.Tracing.Enabled)
	viper.SetDefault("tracing.exporter", defaults.Tracing.Exporter)
	viper.SetDefault("tracing.otlp_endpoint", defaults.Tracing.OTLPEndpoint)
	viper.SetDefault("tracing.sample_rate", defaults.Tracing.SampleRate)
	viper.SetDefault("tracing.service_name", defaults.Tracing.ServiceName)
	viper.SetDefault("flags", defaults.Flags)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		// Config lookup order:
		// 1. .envmanager/config.yaml (current directory)
		// 2. ~/.config/environment-manager/config.yaml (user config)
		if _, err := os.Stat(".envmanager/config.yaml"); err == nil {
			viper.SetConfigFile(".envmanager/config.yaml")
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(filepath.Join(home, ".config", "environment-manager"))
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			defaultPath := ".envmanager/config.yaml"
			if writeErr := config.WriteDefaultConfig(defaultPath); writeErr == nil {
				viper.SetConfigFile(defaultPath)
				_ = viper.ReadInConfig()
			}
			// If the write fails, continue with defaults only.
		}
	}

	_ = viper.Unmarshal(&cfg)
}

// setupRuntime validates config and initializes logging and feature flags.
// Runs once before any subcommand.
func setupRuntime() error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	debug := debugFlag || os.Getenv("ENVIRONMENT_MANAGER_DEBUG") != ""
	if debug || logLevelFlag != "" {
		logPath := os.Getenv("ENVIRONMENT_MANAGER_LOG")
		if logPath == "" {
			logPath = "debug.log"
		}
		cleanup, err := log.Init(logPath)
		if err != nil {
			return fmt.Errorf("initializing logging: %w", err)
		}
		logCleanup = cleanup

		level := log.LevelDebug
		if logLevelFlag != "" {
			level = log.ParseLevel(logLevelFlag)
		}
		log.SetMinLevel(level)
	}

	featureFlags = flags.New(cfg.Flags)
	return nil
}

// ExitError carries a process exit code through the cobra error path.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit code %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error { return e.Err }

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags).
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
