package claude

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBuildArgs_Defaults(t *testing.T) {
	args := buildArgs(Config{})

	require.Equal(t, []string{"--print", "--output-format", "stream-json", "--verbose"}, args)
}

func TestBuildArgs_WithPrompt(t *testing.T) {
	args := buildArgs(Config{Prompt: "fix the bug"})

	// Prompt must come last, after the -- separator
	require.Equal(t, "--", args[len(args)-2])
	require.Equal(t, "fix the bug", args[len(args)-1])
}

func TestBuildArgs_Resume(t *testing.T) {
	args := buildArgs(Config{SessionID: "sess-abc"})

	require.Contains(t, args, "--resume")
	idx := indexOf(args, "--resume")
	require.Equal(t, "sess-abc", args[idx+1])
}

func TestBuildArgs_Model(t *testing.T) {
	args := buildArgs(Config{Model: "sonnet"})

	idx := indexOf(args, "--model")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "sonnet", args[idx+1])
}

func TestBuildArgs_AllowedTools(t *testing.T) {
	args := buildArgs(Config{AllowedTools: []string{"Bash", "Read"}})

	count := 0
	for i, a := range args {
		if a == "--allowed-tools" {
			count++
			require.Contains(t, []string{"Bash", "Read"}, args[i+1])
		}
	}
	require.Equal(t, 2, count)
}

func TestBuildArgs_SkipPermissionsAndMCP(t *testing.T) {
	args := buildArgs(Config{
		SkipPermissions: true,
		MCPConfig:       `{"mcpServers":{}}`,
	})

	require.Contains(t, args, "--dangerously-skip-permissions")
	idx := indexOf(args, "--mcp-config")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, `{"mcpServers":{}}`, args[idx+1])
}

func TestBuildArgs_AppendSystemPrompt(t *testing.T) {
	args := buildArgs(Config{AppendSystemPrompt: "be careful"})

	idx := indexOf(args, "--append-system-prompt")
	require.GreaterOrEqual(t, idx, 0)
	require.Equal(t, "be careful", args[idx+1])
}

func TestBuildArgs_FullConfig_Order(t *testing.T) {
	args := buildArgs(Config{
		Prompt:       "do the task",
		SessionID:    "sess-1",
		Model:        "opus",
		AllowedTools: []string{"Bash"},
		Timeout:      time.Minute,
	})

	// Base flags lead, prompt trails
	require.Equal(t, "--print", args[0])
	require.Equal(t, "do the task", args[len(args)-1])
	require.Equal(t, "--", args[len(args)-2])
}

func indexOf(args []string, want string) int {
	for i, a := range args {
		if a == want {
			return i
		}
	}
	return -1
}
