package store

import "time"

// Run is one recorded session run.
type Run struct {
	ID               int64
	SessionID        string
	ClaudeSessionRef string
	Status           string
	EnvironmentID    string
	OrganizationUUID string
	GitMode          string
	WorkDir          string
	SessionDir       string
	Model            string
	ClaudeVersion    string
	InputTokens      int64
	OutputTokens     int64
	CostUSD          float64
	StartedAt        time.Time
	EndedAt          time.Time // zero while the run is still active
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// runModel maps a session_runs row. Time values are Unix timestamps,
// ended_at nullable while a run is active.
type runModel struct {
	ID               int64
	SessionID        string
	ClaudeSessionRef string
	Status           string
	EnvironmentID    string
	OrganizationUUID string
	GitMode          string
	WorkDir          string
	SessionDir       string
	Model            string
	ClaudeVersion    string
	InputTokens      int64
	OutputTokens     int64
	CostUSD          float64
	StartedAt        int64
	EndedAt          *int64
	CreatedAt        int64
	UpdatedAt        int64
}

func toRunModel(r *Run) *runModel {
	m := &runModel{
		ID:               r.ID,
		SessionID:        r.SessionID,
		ClaudeSessionRef: r.ClaudeSessionRef,
		Status:           r.Status,
		EnvironmentID:    r.EnvironmentID,
		OrganizationUUID: r.OrganizationUUID,
		GitMode:          r.GitMode,
		WorkDir:          r.WorkDir,
		SessionDir:       r.SessionDir,
		Model:            r.Model,
		ClaudeVersion:    r.ClaudeVersion,
		InputTokens:      r.InputTokens,
		OutputTokens:     r.OutputTokens,
		CostUSD:          r.CostUSD,
		StartedAt:        r.StartedAt.Unix(),
		CreatedAt:        r.CreatedAt.Unix(),
		UpdatedAt:        r.UpdatedAt.Unix(),
	}
	if !r.EndedAt.IsZero() {
		endedAt := r.EndedAt.Unix()
		m.EndedAt = &endedAt
	}
	return m
}

func (m *runModel) toRun() *Run {
	r := &Run{
		ID:               m.ID,
		SessionID:        m.SessionID,
		ClaudeSessionRef: m.ClaudeSessionRef,
		Status:           m.Status,
		EnvironmentID:    m.EnvironmentID,
		OrganizationUUID: m.OrganizationUUID,
		GitMode:          m.GitMode,
		WorkDir:          m.WorkDir,
		SessionDir:       m.SessionDir,
		Model:            m.Model,
		ClaudeVersion:    m.ClaudeVersion,
		InputTokens:      m.InputTokens,
		OutputTokens:     m.OutputTokens,
		CostUSD:          m.CostUSD,
		StartedAt:        time.Unix(m.StartedAt, 0),
		CreatedAt:        time.Unix(m.CreatedAt, 0),
		UpdatedAt:        time.Unix(m.UpdatedAt, 0),
	}
	if m.EndedAt != nil {
		r.EndedAt = time.Unix(*m.EndedAt, 0)
	}
	return r
}
