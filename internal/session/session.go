package session

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"envmanager/internal/log"
)

const rawJSONLFile = "raw.jsonl"

// Session is an open session with file handles. All writes funnel through
// this struct so the raw log never sees interleaved concurrent appends.
type Session struct {
	// ID is the manager's session identifier.
	ID string

	// Dir is the full path to the session directory ({base}/{id}).
	Dir string

	// StartTime is when this run of the session started.
	StartTime time.Time

	state  *State
	rawLog *BufferedWriter

	mu     sync.Mutex
	closed bool
}

// Option configures a Session at creation time.
type Option func(*State)

// WithWorkDir sets the workspace directory recorded in session state.
func WithWorkDir(dir string) Option {
	return func(st *State) {
		st.WorkDir = dir
	}
}

// WithEnvironmentID records the hosting environment's identifier.
func WithEnvironmentID(id string) Option {
	return func(st *State) {
		st.EnvironmentID = id
	}
}

// WithOrganizationUUID records the owning organization.
func WithOrganizationUUID(id string) Option {
	return func(st *State) {
		st.OrganizationUUID = id
	}
}

// WithEnvironmentType records the declared environment type.
func WithEnvironmentType(envType string) Option {
	return func(st *State) {
		st.EnvironmentType = envType
	}
}

// WithGitMode records which git credential mode the session uses.
func WithGitMode(mode string) Option {
	return func(st *State) {
		st.GitMode = mode
	}
}

// New creates a fresh session directory and initializes its state file with
// status=preparing. The directory layout:
//
//	{dir}/
//	├── .session_state.json    # persisted state for resumability
//	└── raw.jsonl              # raw claude stream-json events
func New(id, dir string, opts ...Option) (*Session, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating session directory: %w", err)
	}

	// Fail fast on unwritable mounts instead of at first flush.
	testFile := filepath.Join(dir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0600); err != nil { //nolint:gosec // G306: test file is immediately deleted
		return nil, fmt.Errorf("session directory not writable: %w", err)
	}
	_ = os.Remove(testFile)

	rawFile, err := openAppend(filepath.Join(dir, rawJSONLFile))
	if err != nil {
		return nil, fmt.Errorf("creating raw.jsonl: %w", err)
	}

	st := &State{
		SessionID:  id,
		Status:     StatusPreparing,
		SessionDir: dir,
		StartTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(st)
	}

	if err := st.Save(dir); err != nil {
		_ = rawFile.Close()
		return nil, fmt.Errorf("saving initial session state: %w", err)
	}

	return &Session{
		ID:        id,
		Dir:       dir,
		StartTime: st.StartTime,
		state:     st,
		rawLog:    NewBufferedWriter(rawFile),
	}, nil
}

// Reopen opens an existing session directory for a resumed run. The raw log
// is opened in append mode so new events continue the same file, and prior
// state (claude session ref, accumulated token usage) is preserved. It does
// not verify resume eligibility; callers check State().CheckResumable().
func Reopen(id, dir string) (*Session, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("session directory does not exist: %s", dir)
		}
		return nil, fmt.Errorf("checking session directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("session path is not a directory: %s", dir)
	}

	st, err := LoadState(dir)
	if err != nil {
		return nil, fmt.Errorf("loading session state: %w", err)
	}
	if st.SessionID != id {
		return nil, fmt.Errorf("session directory %s belongs to session %q, not %q", dir, st.SessionID, id)
	}

	rawFile, err := openAppend(filepath.Join(dir, rawJSONLFile))
	if err != nil {
		return nil, fmt.Errorf("reopening raw.jsonl: %w", err)
	}

	return &Session{
		ID:        id,
		Dir:       dir,
		StartTime: time.Now(),
		state:     st,
		rawLog:    NewBufferedWriter(rawFile),
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600) //nolint:gosec // G304: path is constructed from trusted session dir
}

// State returns a copy of the current session state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.state
}

// RawSink returns an io.Writer that appends newline-terminated raw event
// lines to raw.jsonl. Suitable as the client config's raw output sink.
func (s *Session) RawSink() io.Writer {
	return rawSink{s: s}
}

type rawSink struct {
	s *Session
}

func (r rawSink) Write(p []byte) (int, error) {
	if err := r.s.WriteRawLine(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// WriteRawLine appends one raw event line to raw.jsonl, adding a trailing
// newline if missing.
func (s *Session) WriteRawLine(line []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	data := line
	if len(data) > 0 && data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}

	return s.rawLog.Write(data)
}

// MarkRunning transitions the session to running and persists the state.
func (s *Session) MarkRunning() error {
	return s.updateState(func(st *State) {
		st.Status = StatusRunning
	})
}

// SetClaudeSessionRef records the claude-side session identifier. Persisted
// immediately so a crash mid-run still leaves the session resumable.
func (s *Session) SetClaudeSessionRef(ref string) error {
	return s.updateState(func(st *State) {
		st.ClaudeSessionRef = ref
	})
}

// SetModel records the main model reported by claude's init event.
func (s *Session) SetModel(model string) error {
	return s.updateState(func(st *State) {
		st.Model = model
	})
}

// SetClaudeVersion records the detected claude executable version.
func (s *Session) SetClaudeVersion(version string) error {
	return s.updateState(func(st *State) {
		st.ClaudeVersion = version
	})
}

// AddUsage accumulates token usage from one result event into the session total.
func (s *Session) AddUsage(inputTokens, outputTokens int, costUSD float64) error {
	return s.updateState(func(st *State) {
		st.TokenUsage.TotalInputTokens += inputTokens
		st.TokenUsage.TotalOutputTokens += outputTokens
		st.TokenUsage.TotalCostUSD += costUSD
	})
}

func (s *Session) updateState(mutate func(*State)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}

	mutate(s.state)
	return s.state.Save(s.Dir)
}

// Close finalizes the session: flushes and closes the raw log, persists the
// final status with an end time, and upserts the session into the index at
// the base dir root. Terminal statuses set EndTime; StatusReady (setup-only)
// leaves it zero so a later resume reads as a continuation.
func (s *Session) Close(status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return os.ErrClosed
	}
	s.closed = true

	var firstErr error

	if err := s.rawLog.Close(); err != nil {
		firstErr = err
	}
	if n := s.rawLog.ErrorCount(); n > 0 {
		log.Debug(log.CatSession, "raw log had write errors", "count", n, "last_error", s.rawLog.LastError())
	}

	s.state.Status = status
	if status.Terminal() {
		s.state.EndTime = time.Now()
	}

	if err := s.state.Save(s.Dir); err != nil && firstErr == nil {
		firstErr = err
	}

	if err := s.updateIndex(); err != nil && firstErr == nil {
		firstErr = err
	}

	return firstErr
}

// updateIndex upserts this session's entry into {base}/index.json.
// Caller must hold s.mu.
func (s *Session) updateIndex() error {
	indexPath := IndexPath(filepath.Dir(s.Dir))

	idx, err := LoadIndex(indexPath)
	if err != nil {
		return fmt.Errorf("loading session index: %w", err)
	}

	idx.Upsert(IndexEntry{
		ID:               s.ID,
		StartTime:        s.state.StartTime,
		EndTime:          s.state.EndTime,
		Status:           s.state.Status,
		SessionDir:       s.Dir,
		WorkDir:          s.state.WorkDir,
		EnvironmentID:    s.state.EnvironmentID,
		ClaudeSessionRef: s.state.ClaudeSessionRef,
		Model:            s.state.Model,
		TotalCostUSD:     s.state.TokenUsage.TotalCostUSD,
	})

	if err := SaveIndex(indexPath, idx); err != nil {
		return fmt.Errorf("saving session index: %w", err)
	}

	return nil
}
