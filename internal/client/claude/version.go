package claude

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"envmanager/internal/log"
)

// versionPattern matches the leading semver in "claude --version" output,
// e.g. "2.0.13 (Claude Code)".
var versionPattern = regexp.MustCompile(`\d+\.\d+\.\d+(?:-[0-9A-Za-z.-]+)?`)

// DetectVersion runs "claude --version" and returns the parsed version string.
// Returns an error if the executable cannot be run or the output has no
// recognizable version.
func DetectVersion(ctx context.Context, execPath string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	// #nosec G204 -- execPath comes from the executable finder, not user input
	out, err := exec.CommandContext(ctx, execPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("claude --version: %w", err)
	}

	version := versionPattern.FindString(strings.TrimSpace(string(out)))
	if version == "" {
		return "", fmt.Errorf("claude --version: unrecognized output %q", strings.TrimSpace(string(out)))
	}
	return version, nil
}

// Upgrade runs "claude update" bounded by the given timeout.
// Upgrade failures are reported but never fatal to the caller: a stale
// claude still runs the task, so the session proceeds on the installed
// version.
func Upgrade(ctx context.Context, execPath string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	log.Info(log.CatProc, "upgrading claude", "execPath", execPath)

	// #nosec G204 -- execPath comes from the executable finder, not user input
	out, err := exec.CommandContext(ctx, execPath, "update").CombinedOutput()
	if err != nil {
		return fmt.Errorf("claude update: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}

	log.Info(log.CatProc, "claude upgrade complete")
	return nil
}
