package gitmcp

import (
	"encoding/json"
	"fmt"
)

// ServerConfig is one server entry in claude's --mcp-config JSON.
type ServerConfig struct {
	Command string            `json:"command,omitempty"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Config is the full MCP configuration claude expects: {"mcpServers": {...}}.
type Config struct {
	MCPServers map[string]ServerConfig `json:"mcpServers"`
}

// GenerateConfig builds the --mcp-config JSON wiring the git tools to a
// stdio child invocation of this binary (`<selfPath> git-mcp --workdir <dir>`).
func GenerateConfig(selfPath, workDir string) (string, error) {
	config := Config{
		MCPServers: map[string]ServerConfig{
			"git": {
				Command: selfPath,
				Args:    []string{"git-mcp", "--workdir", workDir},
			},
		},
	}

	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshaling MCP config: %w", err)
	}

	return string(data), nil
}

// ParseConfig parses an MCP config JSON string.
func ParseConfig(configJSON string) (*Config, error) {
	var config Config
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return nil, fmt.Errorf("parsing MCP config: %w", err)
	}
	return &config, nil
}
