// Package taskspec defines the JSON task configuration accepted on stdin
// by task-run. The document carries the startup context (source checkouts
// and working directory), the target environment descriptor, and the
// credentials the environment needs to reach remote repositories.
package taskspec

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// RedactedPlaceholder replaces credential material in any log-facing output.
const RedactedPlaceholder = "[REDACTED]"

// Spec is the parsed stdin task configuration.
type Spec struct {
	StartupContext StartupContext `json:"startup_context"`
	Environment    Environment    `json:"environment"`
	Auth           []Credential   `json:"auth,omitempty"`
}

// StartupContext describes what to materialize in the workspace before
// the session starts.
type StartupContext struct {
	Sources []Source `json:"sources,omitempty"`
	Cwd     string   `json:"cwd,omitempty"`
}

// Source is a single repository to place into the workspace.
type Source struct {
	// Type identifies the source kind. Only "git" is supported.
	Type string `json:"type"`

	// URL is the clone URL.
	URL string `json:"url"`

	// Ref is the branch, tag, or commit to check out. Empty means the
	// remote default branch.
	Ref string `json:"ref,omitempty"`

	// Path is the checkout destination relative to the workspace root.
	// Empty means the repository name derived from the URL.
	Path string `json:"path,omitempty"`
}

// Environment describes the runtime environment the session runs in.
type Environment struct {
	EnvironmentType string `json:"environment_type"`
	Version         string `json:"version,omitempty"`
}

// Credential is an auth entry used for source checkout and the git proxy.
type Credential struct {
	Type  string `json:"type"`
	URL   string `json:"url"`
	Token string `json:"token"`
}

// Redacted returns a copy safe for logging.
func (c Credential) Redacted() Credential {
	c.Token = RedactedPlaceholder
	return c
}

// Parse reads and decodes a Spec from r.
// Unknown fields are ignored so newer payload producers can add fields
// without breaking older managers.
func Parse(r io.Reader) (*Spec, error) {
	dec := json.NewDecoder(r)

	var spec Spec
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decoding task configuration: %w", err)
	}

	return &spec, nil
}

// Validate checks the spec for internal consistency.
// localTesting relaxes environment validation for development runs.
func (s *Spec) Validate(localTesting bool) error {
	if !localTesting && s.Environment.EnvironmentType == "" {
		return fmt.Errorf("environment.environment_type is required")
	}

	if len(s.StartupContext.Sources) > 0 && s.StartupContext.Cwd == "" {
		return fmt.Errorf("startup_context.cwd is required when sources are present")
	}

	for i, src := range s.StartupContext.Sources {
		if src.Type != "git" {
			return fmt.Errorf("startup_context.sources[%d]: unsupported source type %q", i, src.Type)
		}
		if src.URL == "" {
			return fmt.Errorf("startup_context.sources[%d]: url is required", i)
		}
		if strings.Contains(src.Path, "..") {
			return fmt.Errorf("startup_context.sources[%d]: path must not escape the workspace", i)
		}
	}

	for i, cred := range s.Auth {
		if cred.Type == "" || cred.URL == "" || cred.Token == "" {
			return fmt.Errorf("auth[%d]: type, url, and token are all required", i)
		}
	}

	return nil
}

// Redacted returns a deep copy of the spec with all credential material
// replaced. Use this for any log or trace representation.
func (s *Spec) Redacted() Spec {
	out := *s
	out.StartupContext.Sources = append([]Source(nil), s.StartupContext.Sources...)
	out.Auth = make([]Credential, len(s.Auth))
	for i, cred := range s.Auth {
		out.Auth[i] = cred.Redacted()
	}
	return out
}

// MatchCredential returns the credential whose URL is the longest prefix of
// requestURL. Used by the git proxy to pick the token for an upstream.
func (s *Spec) MatchCredential(requestURL string) (Credential, bool) {
	var best Credential
	bestLen := -1
	for _, cred := range s.Auth {
		if strings.HasPrefix(requestURL, cred.URL) && len(cred.URL) > bestLen {
			best = cred
			bestLen = len(cred.URL)
		}
	}
	return best, bestLen >= 0
}

// CheckoutPath returns the workspace-relative destination for the source.
func (src Source) CheckoutPath() string {
	if src.Path != "" {
		return src.Path
	}
	// Derive from the URL: last path segment without the .git suffix.
	trimmed := strings.TrimSuffix(src.URL, "/")
	trimmed = strings.TrimSuffix(trimmed, ".git")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 {
		trimmed = trimmed[idx+1:]
	}
	if trimmed == "" {
		return "source"
	}
	return trimmed
}
