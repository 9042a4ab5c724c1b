package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

const (
	runColumns     = "id, workflow_id, ticket_id, current_stage_id, status, context, started_at, completed_at, version"
	historyColumns = "id, run_id, stage_id, stage_name, action, actor_id, comment, metadata, occurred_at"
)

// RunRepository stores runs and their history in MySQL.
// It implements ports.RunStore.
type RunRepository struct {
	db *sql.DB
}

var _ ports.RunStore = (*RunRepository)(nil)

// NewRunRepository creates a new RunRepository
func NewRunRepository(db *sql.DB) *RunRepository {
	return &RunRepository{db: db}
}

// InsertRun inserts a new run
func (r *RunRepository) InsertRun(ctx context.Context, run *models.Run) error {
	runCtx, err := marshalJSON(run.Context)
	if err != nil {
		return apperrors.NewValidationError("context", err.Error())
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, TableWorkflowRun, runColumns)
	_, err = executor(ctx, r.db).ExecContext(ctx, query,
		run.ID, run.WorkflowID, nullString(run.TicketID), nullString(run.CurrentStageID), string(run.Status),
		runCtx, run.StartedAt, nullTime(run.CompletedAt), run.Version)
	if err != nil {
		return apperrors.NewDatabaseError("insert run", err)
	}
	return nil
}

// UpdateRun is a compare-and-swap on version
func (r *RunRepository) UpdateRun(ctx context.Context, run *models.Run) error {
	runCtx, err := marshalJSON(run.Context)
	if err != nil {
		return apperrors.NewValidationError("context", err.Error())
	}
	query := fmt.Sprintf(`UPDATE %s SET current_stage_id = ?, status = ?, context = ?, completed_at = ?, version = version + 1 WHERE id = ? AND version = ?`,
		TableWorkflowRun)
	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		nullString(run.CurrentStageID), string(run.Status), runCtx, nullTime(run.CompletedAt), run.ID, run.Version)
	if err != nil {
		return apperrors.NewDatabaseError("update run", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperrors.NewDatabaseError("update run", err)
	}
	if n == 0 {
		return apperrors.NewConflictError("Run", run.ID, "run was modified concurrently")
	}
	run.Version++
	return nil
}

// GetRun loads one run
func (r *RunRepository) GetRun(ctx context.Context, id string) (*models.Run, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, runColumns, TableWorkflowRun)
	run, err := scanRun(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Run", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get run", err)
	}
	return run, nil
}

// ListRuns lists runs newest first
func (r *RunRepository) ListRuns(ctx context.Context, filter ports.RunFilter) ([]*models.Run, error) {
	var where []string
	var args []interface{}
	if filter.WorkflowID != "" {
		where = append(where, "workflow_id = ?")
		args = append(args, filter.WorkflowID)
	}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.TicketID != "" {
		where = append(where, "ticket_id = ?")
		args = append(args, filter.TicketID)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, runColumns, TableWorkflowRun)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY started_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}
	return r.queryRuns(ctx, "list runs", query, args...)
}

// CountActiveRuns counts active runs of a definition
func (r *RunRepository) CountActiveRuns(ctx context.Context, workflowID string) (int, error) {
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE workflow_id = ? AND status = ?`, TableWorkflowRun)
	var n int
	if err := executor(ctx, r.db).QueryRowContext(ctx, query, workflowID, string(models.RunStatusActive)).Scan(&n); err != nil {
		return 0, apperrors.NewDatabaseError("count active runs", err)
	}
	return n, nil
}

// ListActiveRunsAtStageType joins runs to their current stage
func (r *RunRepository) ListActiveRunsAtStageType(ctx context.Context, stageType models.StageType) ([]*models.Run, error) {
	cols := make([]string, 0, 9)
	for _, c := range strings.Split(runColumns, ", ") {
		cols = append(cols, "r."+c)
	}
	query := fmt.Sprintf(`SELECT %s FROM %s r JOIN %s s ON s.id = r.current_stage_id WHERE r.status = ? AND s.stage_type = ? ORDER BY r.started_at`,
		strings.Join(cols, ", "), TableWorkflowRun, TableWorkflowStage)
	return r.queryRuns(ctx, "list runs at stage type", query, string(models.RunStatusActive), string(stageType))
}

// DeleteRunsForWorkflow removes history then runs of a definition
func (r *RunRepository) DeleteRunsForWorkflow(ctx context.Context, workflowID string) error {
	exec := executor(ctx, r.db)
	historyQuery := fmt.Sprintf(`DELETE h FROM %s h JOIN %s r ON r.id = h.run_id WHERE r.workflow_id = ?`, TableRunHistory, TableWorkflowRun)
	if _, err := exec.ExecContext(ctx, historyQuery, workflowID); err != nil {
		return apperrors.NewDatabaseError("delete run history", err)
	}
	runQuery := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = ?`, TableWorkflowRun)
	if _, err := exec.ExecContext(ctx, runQuery, workflowID); err != nil {
		return apperrors.NewDatabaseError("delete runs", err)
	}
	return nil
}

// AppendHistory inserts one history entry
func (r *RunRepository) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	meta, err := marshalJSON(entry.Metadata)
	if err != nil {
		return apperrors.NewValidationError("metadata", err.Error())
	}
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, TableRunHistory, historyColumns)
	_, err = executor(ctx, r.db).ExecContext(ctx, query,
		entry.ID, entry.RunID, nullString(entry.StageID), entry.StageName, string(entry.Action),
		nullString(entry.ActorID), nullString(entry.Comment), meta, entry.OccurredAt)
	if err != nil {
		return apperrors.NewDatabaseError("append history", err)
	}
	return nil
}

// ListHistory returns a run's history in the order it was written
func (r *RunRepository) ListHistory(ctx context.Context, runID string) ([]*models.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ? ORDER BY occurred_at ASC, seq ASC`, historyColumns, TableRunHistory)
	return r.queryHistory(ctx, query, runID)
}

// ListStageHistory returns a run's history for one stage
func (r *RunRepository) ListStageHistory(ctx context.Context, runID, stageID string) ([]*models.HistoryEntry, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE run_id = ? AND stage_id = ? ORDER BY occurred_at ASC, seq ASC`, historyColumns, TableRunHistory)
	return r.queryHistory(ctx, query, runID, stageID)
}

func (r *RunRepository) queryRuns(ctx context.Context, op, query string, args ...interface{}) ([]*models.Run, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	defer rows.Close()

	var runs []*models.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError(op, err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError(op, err)
	}
	return runs, nil
}

func (r *RunRepository) queryHistory(ctx context.Context, query string, args ...interface{}) ([]*models.HistoryEntry, error) {
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list history", err)
	}
	defer rows.Close()

	var entries []*models.HistoryEntry
	for rows.Next() {
		var h models.HistoryEntry
		var stageID, actorID, comment, meta sql.NullString
		var action string
		if err := rows.Scan(&h.ID, &h.RunID, &stageID, &h.StageName, &action, &actorID, &comment, &meta, &h.OccurredAt); err != nil {
			return nil, apperrors.NewDatabaseError("scan history", err)
		}
		h.StageID = stringPtr(stageID)
		h.Action = models.Action(action)
		h.ActorID = stringPtr(actorID)
		h.Comment = stringPtr(comment)
		h.Metadata = unmarshalJSON(meta)
		entries = append(entries, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list history", err)
	}
	return entries, nil
}

func scanRun(row Scannable) (*models.Run, error) {
	var run models.Run
	var ticketID, stageID, runCtx sql.NullString
	var status string
	var completedAt sql.NullTime
	if err := row.Scan(&run.ID, &run.WorkflowID, &ticketID, &stageID, &status, &runCtx,
		&run.StartedAt, &completedAt, &run.Version); err != nil {
		return nil, err
	}
	run.TicketID = stringPtr(ticketID)
	run.CurrentStageID = stringPtr(stageID)
	run.Status = models.RunStatus(status)
	run.Context = unmarshalJSON(runCtx)
	run.CompletedAt = timePtr(completedAt)
	return &run, nil
}
