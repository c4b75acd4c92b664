// Package session persists per-run session state for resumability.
// Each session owns a directory under the session base dir holding a
// .session_state.json state file and a raw.jsonl event log, and is
// registered in an index.json catalog at the base dir root.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// StateFilename is the per-session state file name.
const StateFilename = ".session_state.json"

// Status represents the session lifecycle state.
type Status string

const (
	// StatusPreparing means environment preparation is in progress.
	StatusPreparing Status = "preparing"
	// StatusReady means preparation finished without launching claude (setup-only).
	StatusReady Status = "ready"
	// StatusRunning means a claude process is active.
	StatusRunning Status = "running"
	// StatusCompleted means the session ended normally.
	StatusCompleted Status = "completed"
	// StatusFailed means the session ended due to an error.
	StatusFailed Status = "failed"
	// StatusTimedOut means the session ended due to timeout.
	StatusTimedOut Status = "timed_out"
)

// String returns the string representation of the status.
func (s Status) String() string {
	return string(s)
}

// Terminal reports whether the status is a final state.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusTimedOut:
		return true
	default:
		return false
	}
}

// ErrNotResumable indicates a session cannot be resumed.
var ErrNotResumable = errors.New("session is not resumable")

// State is the JSON-serializable session state written to .session_state.json.
// It maps the manager's session ID to the claude session reference needed for
// --resume and records enough context to reconstruct a run.
type State struct {
	// SessionID is the manager's session identifier.
	SessionID string `json:"session_id"`

	// ClaudeSessionRef is the claude-side session identifier extracted from
	// the init event. Empty until the first claude process reports it.
	ClaudeSessionRef string `json:"claude_session_ref,omitempty"`

	// Status is the current session lifecycle state.
	Status Status `json:"status"`

	// EnvironmentID identifies the remote environment hosting the session.
	EnvironmentID string `json:"environment_id,omitempty"`

	// OrganizationUUID is the owning organization, when provided.
	OrganizationUUID string `json:"organization_uuid,omitempty"`

	// EnvironmentType is the declared environment type from the task payload.
	EnvironmentType string `json:"environment_type,omitempty"`

	// GitMode records which git credential mode the session was prepared with.
	GitMode string `json:"git_mode,omitempty"`

	// WorkDir is the workspace directory claude runs in.
	WorkDir string `json:"work_dir"`

	// SessionDir is the session's own directory under the base dir.
	SessionDir string `json:"session_dir"`

	// ClaudeVersion is the detected claude executable version.
	ClaudeVersion string `json:"claude_version,omitempty"`

	// Model is the main model reported by claude's init event.
	Model string `json:"model,omitempty"`

	// StartTime is when the session was first created.
	StartTime time.Time `json:"start_time"`

	// EndTime is when the session last reached a terminal state.
	EndTime time.Time `json:"end_time,omitzero"`

	// TokenUsage aggregates usage across all runs of the session.
	TokenUsage TokenUsageSummary `json:"token_usage,omitzero"`
}

// TokenUsageSummary aggregates token usage across a session's runs.
type TokenUsageSummary struct {
	// TotalInputTokens is the total number of input tokens used.
	TotalInputTokens int `json:"total_input_tokens"`

	// TotalOutputTokens is the total number of output tokens used.
	TotalOutputTokens int `json:"total_output_tokens"`

	// TotalCostUSD is the reported total cost in USD.
	TotalCostUSD float64 `json:"total_cost_usd"`
}

// CheckResumable reports whether the state carries enough information to
// resume the underlying claude conversation.
func (s *State) CheckResumable() error {
	if s.ClaudeSessionRef == "" {
		return fmt.Errorf("%w: no recorded claude session reference", ErrNotResumable)
	}
	if s.Status == StatusPreparing {
		return fmt.Errorf("%w: environment preparation never completed", ErrNotResumable)
	}
	return nil
}

// Save writes the state to .session_state.json in the given directory.
// It creates the directory if it doesn't exist.
func (s *State) Save(dir string) error {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating directory: %w", err)
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling session state: %w", err)
	}

	path := filepath.Join(dir, StateFilename)
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing session state file: %w", err)
	}

	return nil
}

// LoadState reads .session_state.json from the given directory.
func LoadState(dir string) (*State, error) {
	path := filepath.Join(dir, StateFilename)

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from trusted dir parameter
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session state file not found: %w", err)
		}
		return nil, fmt.Errorf("reading session state file: %w", err)
	}

	var st State
	if err := json.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("unmarshaling session state: %w", err)
	}

	return &st, nil
}
