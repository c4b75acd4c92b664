package client

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// ExecutableFinder locates a provider executable on the local machine.
// It checks a priority-ordered list of known install paths before falling
// back to a PATH lookup.
type ExecutableFinder struct {
	name       string
	knownPaths []string
}

// FinderOption is a functional option for configuring ExecutableFinder.
type FinderOption func(*ExecutableFinder)

// WithKnownPaths sets install paths checked before the PATH lookup.
// Paths may contain "~" for the home directory and "{name}" for the
// executable name.
func WithKnownPaths(paths ...string) FinderOption {
	return func(f *ExecutableFinder) {
		f.knownPaths = paths
	}
}

// NewExecutableFinder creates a finder for the named executable.
func NewExecutableFinder(name string, opts ...FinderOption) *ExecutableFinder {
	f := &ExecutableFinder{name: name}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Find returns the path to the executable, checking known paths first
// then falling back to PATH lookup. On Windows the .exe suffix is added
// to the executable name.
func (f *ExecutableFinder) Find() (string, error) {
	name := f.name
	if runtime.GOOS == "windows" && !strings.HasSuffix(name, ".exe") {
		name += ".exe"
	}

	for _, tmpl := range f.knownPaths {
		path := f.expandPath(tmpl, name)
		if path == "" {
			continue
		}
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path, nil
		}
	}

	if path, err := exec.LookPath(name); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("executable %q not found in known paths or PATH", f.name)
}

// expandPath substitutes "~" and "{name}" in a known-path template.
// Returns empty string if the home directory cannot be resolved.
func (f *ExecutableFinder) expandPath(tmpl, name string) string {
	path := strings.ReplaceAll(tmpl, "{name}", name)
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
