package persistence

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// TicketRepository reads and stamps the ticket service's tables.
// It implements ports.TicketGateway.
type TicketRepository struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.TicketGateway = (*TicketRepository)(nil)

// NewTicketRepository creates a new TicketRepository
func NewTicketRepository(db *sql.DB) *TicketRepository {
	return &TicketRepository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// GetTicket loads the fields the engine needs
func (r *TicketRepository) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	query := fmt.Sprintf(`SELECT id, status, ticket_type, operation_id, risk_level, workflow_run_id FROM %s WHERE id = ?`, TableTicket)

	var t models.Ticket
	var opID, runID sql.NullString
	var risk sql.NullInt64
	err := executor(ctx, r.db).QueryRowContext(ctx, query, id).Scan(&t.ID, &t.Status, &t.TicketType, &opID, &risk, &runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("Ticket", id)
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get ticket", err)
	}
	t.OperationID = stringPtr(opID)
	t.RunID = stringPtr(runID)
	if risk.Valid {
		level := int(risk.Int64)
		t.RiskLevel = &level
	}
	return &t, nil
}

// LinkRun stamps run and stage pointers
func (r *TicketRepository) LinkRun(ctx context.Context, ticketID, runID string, stageID *string) error {
	query := fmt.Sprintf(`UPDATE %s SET workflow_run_id = ?, current_stage_id = ?, updated_at = ? WHERE id = ?`, TableTicket)
	return r.exec(ctx, "link ticket run", ticketID, query, runID, nullString(stageID), r.now(), ticketID)
}

// SetStage stamps the current stage pointer
func (r *TicketRepository) SetStage(ctx context.Context, ticketID string, stageID *string) error {
	query := fmt.Sprintf(`UPDATE %s SET current_stage_id = ?, updated_at = ? WHERE id = ?`, TableTicket)
	return r.exec(ctx, "set ticket stage", ticketID, query, nullString(stageID), r.now(), ticketID)
}

// SetStatus writes the ticket status
func (r *TicketRepository) SetStatus(ctx context.Context, ticketID, status string) error {
	query := fmt.Sprintf(`UPDATE %s SET status = ?, updated_at = ? WHERE id = ?`, TableTicket)
	return r.exec(ctx, "set ticket status", ticketID, query, status, r.now(), ticketID)
}

// DetachWorkflow clears run and stage pointers of tickets linked to the definition's runs
func (r *TicketRepository) DetachWorkflow(ctx context.Context, workflowID string) error {
	query := fmt.Sprintf(`UPDATE %s t JOIN %s r ON r.id = t.workflow_run_id SET t.workflow_run_id = NULL, t.current_stage_id = NULL, t.updated_at = ? WHERE r.workflow_id = ?`,
		TableTicket, TableWorkflowRun)
	if _, err := executor(ctx, r.db).ExecContext(ctx, query, r.now(), workflowID); err != nil {
		return apperrors.NewDatabaseError("detach tickets", err)
	}
	return nil
}

// OperationWorkflowID returns the operation's assigned workflow, or nil
func (r *TicketRepository) OperationWorkflowID(ctx context.Context, operationID string) (*string, error) {
	query := fmt.Sprintf(`SELECT workflow_id FROM %s WHERE id = ?`, TableOperation)
	var wf sql.NullString
	err := executor(ctx, r.db).QueryRowContext(ctx, query, operationID).Scan(&wf)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewDatabaseError("get operation workflow", err)
	}
	return stringPtr(wf), nil
}

func (r *TicketRepository) exec(ctx context.Context, op, ticketID, query string, args ...interface{}) error {
	res, err := executor(ctx, r.db).ExecContext(ctx, query, args...)
	if err != nil {
		return apperrors.NewDatabaseError(op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperrors.NewNotFoundError("Ticket", ticketID)
	}
	return nil
}
