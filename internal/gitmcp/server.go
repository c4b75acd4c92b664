// Package gitmcp exposes workspace git operations as MCP tools for
// --git-mode mcp. The server is spoken over stdio by a child invocation
// (`environment-manager git-mcp`) that claude launches from its
// --mcp-config.
package gitmcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"envmanager/internal/git"
	"envmanager/internal/log"
)

// MCPServer wraps a git executor to provide MCP tool access.
type MCPServer struct {
	executor git.Executor
	server   *server.MCPServer
}

// NewMCPServer creates an MCP server operating on the given executor.
func NewMCPServer(executor git.Executor) *MCPServer {
	s := &MCPServer{
		executor: executor,
	}

	mcpServer := server.NewMCPServer(
		"environment-manager-git",
		"1.0.0",
		server.WithToolCapabilities(true),
	)

	s.registerTools(mcpServer)

	s.server = mcpServer
	return s
}

func (s *MCPServer) registerTools(mcpServer *server.MCPServer) {
	mcpServer.AddTool(
		mcp.NewTool("git_status",
			mcp.WithDescription("Show the working tree status of the workspace repository."),
		),
		s.handleStatus,
	)

	mcpServer.AddTool(
		mcp.NewTool("git_diff",
			mcp.WithDescription("Show the diff of uncommitted changes, or against a given ref."),
			mcp.WithString("ref",
				mcp.Description("Ref to diff against (e.g., 'main', 'HEAD~1'). Defaults to HEAD."),
			),
		),
		s.handleDiff,
	)

	mcpServer.AddTool(
		mcp.NewTool("git_log",
			mcp.WithDescription("Show recent commit history."),
			mcp.WithNumber("limit",
				mcp.Description("Number of commits to show (default: 10)"),
			),
		),
		s.handleLog,
	)

	mcpServer.AddTool(
		mcp.NewTool("git_commit",
			mcp.WithDescription("Stage all changes and create a commit with the given message."),
			mcp.WithString("message",
				mcp.Required(),
				mcp.Description("Commit message"),
			),
		),
		s.handleCommit,
	)
}

func (s *MCPServer) handleStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.executor.Status()
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("git status failed: %v", err)), nil
	}
	if status == "" {
		return mcp.NewToolResultText("working tree clean"), nil
	}
	return mcp.NewToolResultText(status), nil
}

func (s *MCPServer) handleDiff(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ref := request.GetString("ref", "")

	var diff string
	var err error
	if ref == "" {
		diff, err = s.executor.WorkingDirDiff()
	} else {
		diff, err = s.executor.Diff(ref)
	}
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("git diff failed: %v", err)), nil
	}
	if diff == "" {
		return mcp.NewToolResultText("no changes"), nil
	}
	return mcp.NewToolResultText(diff), nil
}

func (s *MCPServer) handleLog(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := request.GetInt("limit", 10)

	commits, err := s.executor.Log(limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("git log failed: %v", err)), nil
	}
	if len(commits) == 0 {
		return mcp.NewToolResultText("no commits"), nil
	}

	var b strings.Builder
	for _, c := range commits {
		fmt.Fprintf(&b, "%s %s (%s, %s)\n", c.ShortHash, c.Subject, c.Author, c.Date.Format("2006-01-02 15:04"))
	}
	return mcp.NewToolResultText(strings.TrimRight(b.String(), "\n")), nil
}

func (s *MCPServer) handleCommit(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	message := request.GetString("message", "")
	if message == "" {
		return mcp.NewToolResultError("message parameter is required"), nil
	}

	hash, err := s.executor.Commit(message, true)
	if err != nil {
		if strings.Contains(err.Error(), "nothing to commit") {
			return mcp.NewToolResultText("nothing to commit, working tree clean"), nil
		}
		return mcp.NewToolResultError(fmt.Sprintf("git commit failed: %v", err)), nil
	}

	log.Debug(log.CatMCP, "committed via MCP tool", "hash", hash)
	return mcp.NewToolResultText(fmt.Sprintf("committed %s", shortHash(hash))), nil
}

// shortHash abbreviates a commit hash, tolerating already-short values.
func shortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// ServeStdio starts the MCP server on stdio.
func (s *MCPServer) ServeStdio() error {
	return server.ServeStdio(s.server)
}
