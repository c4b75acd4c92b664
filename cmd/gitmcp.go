package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"envmanager/internal/git"
	"envmanager/internal/gitmcp"
	"envmanager/internal/log"
)

var gitMCPWorkdir string

var gitMCPCmd = &cobra.Command{
	Use:   "git-mcp",
	Short: "Serve workspace git operations as MCP tools on stdio",
	Long: `Serve git_status, git_diff, git_log, and git_commit as MCP tools over
stdio. This subcommand is launched by claude itself via the --mcp-config
that task-run generates for --git-mode mcp; it is not meant to be run
by hand.`,
	RunE: runGitMCP,
}

func init() {
	rootCmd.AddCommand(gitMCPCmd)

	gitMCPCmd.Flags().StringVar(&gitMCPWorkdir, "workdir", "", "workspace repository directory (default: current directory)")
}

func runGitMCP(cmd *cobra.Command, args []string) error {
	workDir := gitMCPWorkdir
	if workDir == "" {
		var err error
		workDir, err = os.Getwd()
		if err != nil {
			return fmt.Errorf("resolving working directory: %w", err)
		}
	}

	executor := git.NewRealExecutor(workDir)
	if !executor.IsGitRepo() {
		return fmt.Errorf("%s is not a git repository", workDir)
	}

	log.Info(log.CatMCP, "git MCP server starting", "workdir", workDir)

	server := gitmcp.NewMCPServer(executor)
	if err := server.ServeStdio(); err != nil {
		return fmt.Errorf("serving MCP: %w", err)
	}
	return nil
}
