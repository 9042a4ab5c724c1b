package persistence

import (
	"context"
	"fmt"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

var runRowColumns = []string{"id", "workflow_id", "ticket_id", "current_stage_id", "status", "context", "started_at", "completed_at", "version"}

func TestRunRepository_UpdateRunCompareAndSwap(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)
	query := fmt.Sprintf(`UPDATE %s SET current_stage_id = ?, status = ?, context = ?, completed_at = ?, version = version + 1 WHERE id = ? AND version = ?`, TableWorkflowRun)
	stage := "s-2"
	run := &models.Run{ID: "r-1", CurrentStageID: &stage, Status: models.RunStatusActive, Context: map[string]interface{}{"risk_level": 2}, Version: 4}

	mock.ExpectExec(regexp.QuoteMeta(query)).
		WithArgs("s-2", "active", `{"risk_level":2}`, nil, "r-1", 4).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, repo.UpdateRun(context.Background(), run))
	assert.Equal(t, 5, run.Version)

	mock.ExpectExec(regexp.QuoteMeta(query)).
		WithArgs("s-2", "active", `{"risk_level":2}`, nil, "r-1", 5).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := repo.UpdateRun(context.Background(), run)
	assert.True(t, apperrors.IsConflict(err))
	assert.Equal(t, 409, apperrors.GetHTTPStatus(err))
	assert.Equal(t, 5, run.Version, "a lost race leaves the in-memory version alone")

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_GetRun(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)
	started := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, runColumns, TableWorkflowRun)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows(runRowColumns).
			AddRow("r-1", "wf-1", "tk-1", "s-1", "completed", `{"region":"east"}`, started, started.Add(time.Hour), 7))

	run, err := repo.GetRun(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, models.RunStatusCompleted, run.Status)
	assert.Equal(t, "east", run.Context["region"])
	require.NotNil(t, run.CompletedAt)
	assert.Equal(t, started.Add(time.Hour), *run.CompletedAt)
	assert.Equal(t, 7, run.Version)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("r-2").WillReturnRows(sqlmock.NewRows(runRowColumns))
	_, err = repo.GetRun(context.Background(), "r-2")
	assert.True(t, apperrors.IsNotFound(err))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListRunsFilters(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE workflow_id = ? AND status = ? AND ticket_id = ? ORDER BY started_at DESC, id LIMIT ? OFFSET ?`, runColumns, TableWorkflowRun)

	mock.ExpectQuery(regexp.QuoteMeta(query)).WithArgs("wf-1", "active", "tk-1", 20, 40).
		WillReturnRows(sqlmock.NewRows(runRowColumns))

	runs, err := repo.ListRuns(context.Background(), ports.RunFilter{
		WorkflowID: "wf-1", Status: models.RunStatusActive, TicketID: "tk-1", Limit: 20, Offset: 40,
	})
	require.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_ListActiveRunsAtStageType(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)
	now := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("JOIN "+TableWorkflowStage+" s ON s.id = r.current_stage_id WHERE r.status = ? AND s.stage_type = ?")).
		WithArgs("active", "approval").
		WillReturnRows(sqlmock.NewRows(runRowColumns).AddRow("r-1", "wf-1", nil, "s-1", "active", nil, now, nil, 1))

	runs, err := repo.ListActiveRunsAtStageType(context.Background(), models.StageTypeApproval)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Nil(t, runs[0].TicketID)
	assert.Empty(t, runs[0].Context)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_History(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)
	at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
	stage := "s-1"
	insert := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, TableRunHistory, historyColumns)

	mock.ExpectExec(regexp.QuoteMeta(insert)).
		WithArgs("h-1", "r-1", "s-1", "Review", "escalated", nil, nil, `{"timeout_minutes":30}`, at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.AppendHistory(context.Background(), &models.HistoryEntry{
		ID: "h-1", RunID: "r-1", StageID: &stage, StageName: "Review", Action: models.ActionEscalated,
		Metadata: map[string]interface{}{"timeout_minutes": 30}, OccurredAt: at,
	})
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("WHERE run_id = ? AND stage_id = ? ORDER BY occurred_at ASC, seq ASC")).
		WithArgs("r-1", "s-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "run_id", "stage_id", "stage_name", "action", "actor_id", "comment", "metadata", "occurred_at"}).
			AddRow("h-0", "r-1", "s-1", "Review", "entered", "u-1", nil, nil, at.Add(-time.Hour)).
			AddRow("h-1", "r-1", "s-1", "Review", "escalated", nil, nil, `{"timeout_minutes":30}`, at))

	entries, err := repo.ListStageHistory(context.Background(), "r-1", "s-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.ActionEntered, entries[0].Action)
	assert.Equal(t, "u-1", *entries[0].ActorID)
	assert.Nil(t, entries[1].ActorID)
	assert.Equal(t, float64(30), entries[1].Metadata["timeout_minutes"])

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunRepository_DeleteRunsForWorkflow(t *testing.T) {
	db, mock := newMock(t)
	repo := NewRunRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("DELETE h FROM " + TableRunHistory)).WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM " + TableWorkflowRun + " WHERE workflow_id = ?")).WithArgs("wf-1").WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, repo.DeleteRunsForWorkflow(context.Background(), "wf-1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}
