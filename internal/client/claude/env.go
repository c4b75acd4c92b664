package claude

import (
	"fmt"
	"os"
)

// Environment variable names set on spawned Claude Code processes.
const (
	// EnvClaudeCode marks a process tree as running under Claude Code.
	EnvClaudeCode = "CLAUDECODE"
	// EnvRemote marks the session as remotely managed.
	EnvRemote = "CLAUDE_CODE_REMOTE"
	// EnvSessionID carries the manager-assigned session identifier.
	EnvSessionID = "CLAUDE_CODE_SESSION_ID"
	// EnvVersion carries the detected Claude Code version.
	EnvVersion = "CLAUDE_CODE_VERSION"
	// EnvContainerID carries the environment/container identifier.
	EnvContainerID = "CLAUDE_CODE_CONTAINER_ID"
	// EnvDebug enables debug output in the spawned process.
	EnvDebug = "CLAUDE_CODE_DEBUG"
)

// ErrNestedInvocation is returned when a spawn is attempted from inside an
// existing Claude Code process tree. Spawning there hangs the outer session,
// so it is refused unless local testing explicitly allows it.
var ErrNestedInvocation = fmt.Errorf("refusing to spawn claude inside an existing claude process tree (%s is set)", EnvClaudeCode)

// SessionEnv describes the environment contract applied to a spawned process.
type SessionEnv struct {
	SessionID   string
	Version     string
	ContainerID string
	Debug       bool

	// Local suppresses the remote marker for local testing runs.
	Local bool
}

// Build returns the contract variables in "KEY=VALUE" form.
// Empty-valued entries are omitted.
func (e SessionEnv) Build() []string {
	env := []string{EnvClaudeCode + "=1"}
	if !e.Local {
		env = append(env, EnvRemote+"=true")
	}
	if e.SessionID != "" {
		env = append(env, EnvSessionID+"="+e.SessionID)
	}
	if e.Version != "" {
		env = append(env, EnvVersion+"="+e.Version)
	}
	if e.ContainerID != "" {
		env = append(env, EnvContainerID+"="+e.ContainerID)
	}
	if e.Debug {
		env = append(env, EnvDebug+"=true")
	}
	return env
}

// CheckNotNested returns ErrNestedInvocation if the current process already
// runs inside a Claude Code tree. allowNested skips the check, which local
// testing needs since tests themselves often run under Claude Code.
func CheckNotNested(allowNested bool) error {
	if allowNested {
		return nil
	}
	if os.Getenv(EnvClaudeCode) != "" {
		return ErrNestedInvocation
	}
	return nil
}
