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

const definitionColumns = "id, name, description, version, is_template, is_default, created_by, created_at, updated_at"

// WorkflowRepository stores definitions, stages and transitions in MySQL.
// It implements ports.DefinitionStore.
type WorkflowRepository struct {
	db *sql.DB
}

var _ ports.DefinitionStore = (*WorkflowRepository)(nil)

// NewWorkflowRepository creates a new WorkflowRepository
func NewWorkflowRepository(db *sql.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// InsertDefinition inserts the definition row
func (r *WorkflowRepository) InsertDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	query := fmt.Sprintf(`INSERT INTO %s (%s) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`, TableWorkflowDefinition, definitionColumns)
	_, err := executor(ctx, r.db).ExecContext(ctx, query,
		def.ID, def.Name, def.Description, def.Version, def.IsTemplate, def.IsDefault,
		nullString(def.CreatedBy), def.CreatedAt, def.UpdatedAt)
	if err != nil {
		return apperrors.NewDatabaseError("insert workflow", err)
	}
	return nil
}

// UpdateDefinition writes the scalar columns
func (r *WorkflowRepository) UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error {
	query := fmt.Sprintf(`UPDATE %s SET name = ?, description = ?, version = ?, is_template = ?, is_default = ?, updated_at = ? WHERE id = ?`,
		TableWorkflowDefinition)
	res, err := executor(ctx, r.db).ExecContext(ctx, query,
		def.Name, def.Description, def.Version, def.IsTemplate, def.IsDefault, def.UpdatedAt, def.ID)
	if err != nil {
		return apperrors.NewDatabaseError("update workflow", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("Workflow", def.ID)
	}
	return nil
}

// DeleteDefinition deletes the definition row
func (r *WorkflowRepository) DeleteDefinition(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = ?`, TableWorkflowDefinition)
	if _, err := executor(ctx, r.db).ExecContext(ctx, query, id); err != nil {
		return apperrors.NewDatabaseError("delete workflow", err)
	}
	return nil
}

// GetDefinition loads the definition row
func (r *WorkflowRepository) GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE id = ?`, definitionColumns, TableWorkflowDefinition)
	def, err := scanDefinition(executor(ctx, r.db).QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Workflow", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get workflow", err)
	}
	return def, nil
}

// ListDefinitions lists definitions newest first
func (r *WorkflowRepository) ListDefinitions(ctx context.Context, filter ports.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	var where []string
	var args []interface{}
	if filter.IsTemplate != nil {
		where = append(where, "is_template = ?")
		args = append(args, *filter.IsTemplate)
	}

	query := fmt.Sprintf(`SELECT %s FROM %s`, definitionColumns, TableWorkflowDefinition)
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := executor(ctx, r.db).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewDatabaseError("list workflows", err)
	}
	defer rows.Close()

	var defs []*models.WorkflowDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, apperrors.NewDatabaseError("scan workflow", err)
		}
		defs = append(defs, def)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("list workflows", err)
	}
	return defs, nil
}

// GetDefaultDefinition returns the default definition or nil
func (r *WorkflowRepository) GetDefaultDefinition(ctx context.Context) (*models.WorkflowDefinition, error) {
	query := fmt.Sprintf(`SELECT %s FROM %s WHERE is_default = TRUE ORDER BY updated_at DESC LIMIT 1`, definitionColumns, TableWorkflowDefinition)
	def, err := scanDefinition(executor(ctx, r.db).QueryRowContext(ctx, query))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get default workflow", err)
	}
	return def, nil
}

// ClearDefault unsets is_default everywhere except exceptID
func (r *WorkflowRepository) ClearDefault(ctx context.Context, exceptID string) error {
	query := fmt.Sprintf(`UPDATE %s SET is_default = FALSE WHERE is_default = TRUE AND id <> ?`, TableWorkflowDefinition)
	if _, err := executor(ctx, r.db).ExecContext(ctx, query, exceptID); err != nil {
		return apperrors.NewDatabaseError("clear default workflow", err)
	}
	return nil
}

// InsertStages inserts stages one statement per row
func (r *WorkflowRepository) InsertStages(ctx context.Context, stages []*models.Stage) error {
	query := fmt.Sprintf(`INSERT INTO %s (id, workflow_id, name, stage_order, stage_type, config) VALUES (?, ?, ?, ?, ?, ?)`, TableWorkflowStage)
	exec := executor(ctx, r.db)
	for _, s := range stages {
		cfg, err := marshalJSON(s.Config)
		if err != nil {
			return apperrors.NewValidationError("config", fmt.Sprintf("stage %q: %v", s.Name, err))
		}
		if _, err := exec.ExecContext(ctx, query, s.ID, s.WorkflowID, s.Name, s.Order, string(s.Type), cfg); err != nil {
			return apperrors.NewDatabaseError("insert stage", err)
		}
	}
	return nil
}

// InsertTransitions inserts transitions in slice order; seq preserves that order
func (r *WorkflowRepository) InsertTransitions(ctx context.Context, transitions []*models.Transition) error {
	query := fmt.Sprintf("INSERT INTO %s (id, workflow_id, from_stage_id, to_stage_id, `trigger`, condition_expr, label) VALUES (?, ?, ?, ?, ?, ?, ?)", TableWorkflowTransition)
	exec := executor(ctx, r.db)
	for _, t := range transitions {
		if _, err := exec.ExecContext(ctx, query,
			t.ID, t.WorkflowID, t.FromStageID, t.ToStageID, string(t.Trigger),
			nullString(t.ConditionExpr), nullString(t.Label)); err != nil {
			return apperrors.NewDatabaseError("insert transition", err)
		}
	}
	return nil
}

// DeleteGraph removes transitions then stages
func (r *WorkflowRepository) DeleteGraph(ctx context.Context, workflowID string) error {
	exec := executor(ctx, r.db)
	for _, table := range []string{TableWorkflowTransition, TableWorkflowStage} {
		query := fmt.Sprintf(`DELETE FROM %s WHERE workflow_id = ?`, table)
		if _, err := exec.ExecContext(ctx, query, workflowID); err != nil {
			return apperrors.NewDatabaseError("delete "+table, err)
		}
	}
	return nil
}

// GetStages returns stages by ascending stage_order
func (r *WorkflowRepository) GetStages(ctx context.Context, workflowID string) ([]*models.Stage, error) {
	query := fmt.Sprintf(`SELECT id, workflow_id, name, stage_order, stage_type, config FROM %s WHERE workflow_id = ? ORDER BY stage_order ASC`, TableWorkflowStage)
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get stages", err)
	}
	defer rows.Close()

	var stages []*models.Stage
	for rows.Next() {
		var s models.Stage
		var stageType string
		var cfg sql.NullString
		if err := rows.Scan(&s.ID, &s.WorkflowID, &s.Name, &s.Order, &stageType, &cfg); err != nil {
			return nil, apperrors.NewDatabaseError("scan stage", err)
		}
		s.Type = models.StageType(stageType)
		s.Config = unmarshalJSON(cfg)
		stages = append(stages, &s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("get stages", err)
	}
	return stages, nil
}

// GetTransitions returns transitions in insertion order
func (r *WorkflowRepository) GetTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error) {
	query := fmt.Sprintf("SELECT id, workflow_id, from_stage_id, to_stage_id, `trigger`, condition_expr, label FROM %s WHERE workflow_id = ? ORDER BY seq ASC", TableWorkflowTransition)
	rows, err := executor(ctx, r.db).QueryContext(ctx, query, workflowID)
	if err != nil {
		return nil, apperrors.NewDatabaseError("get transitions", err)
	}
	defer rows.Close()

	var transitions []*models.Transition
	for rows.Next() {
		var t models.Transition
		var trigger string
		var cond, label sql.NullString
		if err := rows.Scan(&t.ID, &t.WorkflowID, &t.FromStageID, &t.ToStageID, &trigger, &cond, &label); err != nil {
			return nil, apperrors.NewDatabaseError("scan transition", err)
		}
		t.Trigger = models.Trigger(trigger)
		t.ConditionExpr = stringPtr(cond)
		t.Label = stringPtr(label)
		transitions = append(transitions, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewDatabaseError("get transitions", err)
	}
	return transitions, nil
}

func scanDefinition(row Scannable) (*models.WorkflowDefinition, error) {
	var def models.WorkflowDefinition
	var createdBy sql.NullString
	if err := row.Scan(&def.ID, &def.Name, &def.Description, &def.Version, &def.IsTemplate, &def.IsDefault,
		&createdBy, &def.CreatedAt, &def.UpdatedAt); err != nil {
		return nil, err
	}
	def.CreatedBy = stringPtr(createdBy)
	return &def, nil
}
