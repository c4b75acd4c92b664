package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// runColumns is the list of columns to select for run queries.
const runColumns = `id, session_id, claude_session_ref, status, environment_id, organization_uuid,
	git_mode, work_dir, session_dir, model, claude_version,
	input_tokens, output_tokens, cost_usd, started_at, ended_at, created_at, updated_at`

// RunNotFoundError indicates no run matched the lookup.
type RunNotFoundError struct {
	SessionID string
}

func (e *RunNotFoundError) Error() string {
	return fmt.Sprintf("no run recorded for session %q", e.SessionID)
}

// ListFilter narrows List results.
type ListFilter struct {
	SessionID string
	Status    string
	Limit     int
}

// RunRepository persists session runs to the session_runs table.
type RunRepository struct {
	db *sql.DB
}

func newRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

func scanRun(scanner interface{ Scan(...any) error }) (*runModel, error) {
	var model runModel
	err := scanner.Scan(
		&model.ID, &model.SessionID, &model.ClaudeSessionRef, &model.Status,
		&model.EnvironmentID, &model.OrganizationUUID,
		&model.GitMode, &model.WorkDir, &model.SessionDir, &model.Model, &model.ClaudeVersion,
		&model.InputTokens, &model.OutputTokens, &model.CostUSD,
		&model.StartedAt, &model.EndedAt, &model.CreatedAt, &model.UpdatedAt,
	)
	return &model, err
}

// Save persists a run. New runs (ID == 0) insert and receive their row ID;
// existing runs update in place.
func (r *RunRepository) Save(run *Run) error {
	now := time.Now()
	if run.CreatedAt.IsZero() {
		run.CreatedAt = now
	}
	run.UpdatedAt = now

	model := toRunModel(run)

	if run.ID == 0 {
		result, err := r.db.Exec(
			`INSERT INTO session_runs (
				session_id, claude_session_ref, status, environment_id, organization_uuid,
				git_mode, work_dir, session_dir, model, claude_version,
				input_tokens, output_tokens, cost_usd, started_at, ended_at, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			model.SessionID, model.ClaudeSessionRef, model.Status, model.EnvironmentID, model.OrganizationUUID,
			model.GitMode, model.WorkDir, model.SessionDir, model.Model, model.ClaudeVersion,
			model.InputTokens, model.OutputTokens, model.CostUSD,
			model.StartedAt, model.EndedAt, model.CreatedAt, model.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert run: %w", err)
		}
		id, err := result.LastInsertId()
		if err != nil {
			return fmt.Errorf("failed to get last insert id: %w", err)
		}
		run.ID = id
		return nil
	}

	_, err := r.db.Exec(
		`UPDATE session_runs SET
			claude_session_ref = ?, status = ?, environment_id = ?, organization_uuid = ?,
			git_mode = ?, work_dir = ?, session_dir = ?, model = ?, claude_version = ?,
			input_tokens = ?, output_tokens = ?, cost_usd = ?, started_at = ?, ended_at = ?, updated_at = ?
		WHERE id = ?`,
		model.ClaudeSessionRef, model.Status, model.EnvironmentID, model.OrganizationUUID,
		model.GitMode, model.WorkDir, model.SessionDir, model.Model, model.ClaudeVersion,
		model.InputTokens, model.OutputTokens, model.CostUSD,
		model.StartedAt, model.EndedAt, model.UpdatedAt,
		model.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}
	return nil
}

// FindLatestBySession returns the most recently started run for a session.
// Returns RunNotFoundError if none is recorded.
func (r *RunRepository) FindLatestBySession(sessionID string) (*Run, error) {
	row := r.db.QueryRow(
		`SELECT `+runColumns+` FROM session_runs WHERE session_id = ? ORDER BY started_at DESC, id DESC LIMIT 1`,
		sessionID,
	)
	model, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &RunNotFoundError{SessionID: sessionID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find latest run: %w", err)
	}
	return model.toRun(), nil
}

// List returns runs matching the filter, newest first.
func (r *RunRepository) List(filter ListFilter) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM session_runs WHERE 1=1`
	var args []any

	if filter.SessionID != "" {
		query += ` AND session_id = ?`
		args = append(args, filter.SessionID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}

	query += ` ORDER BY started_at DESC, id DESC`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		model, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run row: %w", err)
		}
		runs = append(runs, model.toRun())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating run rows: %w", err)
	}

	return runs, nil
}
