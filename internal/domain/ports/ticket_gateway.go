package ports

import (
	"context"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// TicketGateway is the engine's narrow view of the ticket service's tables
type TicketGateway interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	// LinkRun stamps the run and stage pointers on a ticket
	LinkRun(ctx context.Context, ticketID, runID string, stageID *string) error
	SetStage(ctx context.Context, ticketID string, stageID *string) error
	SetStatus(ctx context.Context, ticketID, status string) error
	// DetachWorkflow clears run and stage pointers on tickets linked to any run of the definition
	DetachWorkflow(ctx context.Context, workflowID string) error
	// OperationWorkflowID returns the workflow assigned to an operation, or nil
	OperationWorkflowID(ctx context.Context, operationID string) (*string, error)
}
