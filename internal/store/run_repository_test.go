package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func sampleRun(sessionID string) *Run {
	return &Run{
		SessionID:        sessionID,
		ClaudeSessionRef: "claude-ref",
		Status:           "running",
		EnvironmentID:    "env-1",
		OrganizationUUID: "org-uuid",
		GitMode:          "http-proxy",
		WorkDir:          "/workspace",
		SessionDir:       "/data/sessions/" + sessionID,
		Model:            "claude-sonnet-4-5",
		ClaudeVersion:    "1.0.42",
		StartedAt:        time.Now().Truncate(time.Second),
	}
}

func TestRunRepository_SaveInsert(t *testing.T) {
	repo := newTestDB(t).Runs()

	run := sampleRun("sess-1")
	require.NoError(t, repo.Save(run))
	require.NotZero(t, run.ID)
	require.False(t, run.CreatedAt.IsZero())
	require.False(t, run.UpdatedAt.IsZero())
}

func TestRunRepository_SaveUpdate(t *testing.T) {
	repo := newTestDB(t).Runs()

	run := sampleRun("sess-1")
	require.NoError(t, repo.Save(run))
	id := run.ID

	run.Status = "completed"
	run.EndedAt = run.StartedAt.Add(5 * time.Minute)
	run.InputTokens = 1200
	run.OutputTokens = 300
	run.CostUSD = 0.08
	require.NoError(t, repo.Save(run))
	require.Equal(t, id, run.ID)

	loaded, err := repo.FindLatestBySession("sess-1")
	require.NoError(t, err)
	require.Equal(t, "completed", loaded.Status)
	require.Equal(t, int64(1200), loaded.InputTokens)
	require.Equal(t, int64(300), loaded.OutputTokens)
	require.InDelta(t, 0.08, loaded.CostUSD, 1e-9)
	require.True(t, run.EndedAt.Equal(loaded.EndedAt))
}

func TestRunRepository_FindLatestBySession(t *testing.T) {
	repo := newTestDB(t).Runs()

	first := sampleRun("sess-1")
	first.StartedAt = time.Now().Add(-time.Hour)
	require.NoError(t, repo.Save(first))

	second := sampleRun("sess-1")
	second.ClaudeSessionRef = "claude-ref-2"
	require.NoError(t, repo.Save(second))

	latest, err := repo.FindLatestBySession("sess-1")
	require.NoError(t, err)
	require.Equal(t, second.ID, latest.ID)
	require.Equal(t, "claude-ref-2", latest.ClaudeSessionRef)
}

func TestRunRepository_FindLatestBySession_NotFound(t *testing.T) {
	repo := newTestDB(t).Runs()

	_, err := repo.FindLatestBySession("absent")
	require.Error(t, err)

	var notFound *RunNotFoundError
	require.ErrorAs(t, err, &notFound)
	require.Equal(t, "absent", notFound.SessionID)
}

func TestRunRepository_List(t *testing.T) {
	repo := newTestDB(t).Runs()

	older := sampleRun("sess-1")
	older.StartedAt = time.Now().Add(-2 * time.Hour)
	older.Status = "completed"
	require.NoError(t, repo.Save(older))

	newer := sampleRun("sess-2")
	require.NoError(t, repo.Save(newer))

	// Newest first.
	all, err := repo.List(ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "sess-2", all[0].SessionID)
	require.Equal(t, "sess-1", all[1].SessionID)

	// Session filter.
	bySession, err := repo.List(ListFilter{SessionID: "sess-1"})
	require.NoError(t, err)
	require.Len(t, bySession, 1)
	require.Equal(t, "sess-1", bySession[0].SessionID)

	// Status filter.
	byStatus, err := repo.List(ListFilter{Status: "completed"})
	require.NoError(t, err)
	require.Len(t, byStatus, 1)
	require.Equal(t, "sess-1", byStatus[0].SessionID)

	// Limit.
	limited, err := repo.List(ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, limited, 1)
	require.Equal(t, "sess-2", limited[0].SessionID)
}

func TestRunRepository_List_Empty(t *testing.T) {
	repo := newTestDB(t).Runs()

	runs, err := repo.List(ListFilter{})
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestRunRepository_EndedAtNullable(t *testing.T) {
	repo := newTestDB(t).Runs()

	run := sampleRun("sess-1")
	require.NoError(t, repo.Save(run))

	loaded, err := repo.FindLatestBySession("sess-1")
	require.NoError(t, err)
	require.True(t, loaded.EndedAt.IsZero())
}
