package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// TicketListener starts a run when a ticket without one is submitted
type TicketListener struct {
	engine      *RunEngine
	definitions *DefinitionService
	tickets     ports.TicketGateway
	logger      *zap.Logger
}

// NewTicketListener creates a new TicketListener
func NewTicketListener(engine *RunEngine, definitions *DefinitionService, tickets ports.TicketGateway, logger *zap.Logger) *TicketListener {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TicketListener{
		engine:      engine,
		definitions: definitions,
		tickets:     tickets,
		logger:      logger.Named("tickets"),
	}
}

// Register subscribes the listener to ticket status changes and returns the unsubscribe func
func (l *TicketListener) Register(bus ports.EventPublisher) func() {
	return bus.Subscribe(events.TicketStatusChanged, l.Handle)
}

// Handle is the ports.EventHandler for ticket.status_changed
func (l *TicketListener) Handle(ctx context.Context, payload interface{}) error {
	var change events.TicketStatusPayload
	switch p := payload.(type) {
	case events.TicketStatusPayload:
		change = p
	case *events.TicketStatusPayload:
		if p == nil {
			return nil
		}
		change = *p
	default:
		return fmt.Errorf("unexpected payload %T for %s", payload, events.TicketStatusChanged)
	}

	if change.NewStatus != models.TicketStatusSubmitted {
		return nil
	}
	_, err := l.StartForTicket(ctx, change.TicketID)
	return err
}

// StartForTicket starts a run for a submitted ticket. It returns nil when the
// ticket already has a run or no workflow applies.
func (l *TicketListener) StartForTicket(ctx context.Context, ticketID string) (*models.RunView, error) {
	ticket, err := l.tickets.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, err
	}
	if ticket.RunID != nil && *ticket.RunID != "" {
		return nil, nil
	}

	workflowID, err := l.workflowFor(ctx, ticket)
	if err != nil {
		return nil, err
	}
	if workflowID == "" {
		l.logger.Warn("no workflow applies to submitted ticket", zap.String("ticket_id", ticket.ID))
		return nil, nil
	}

	seed := map[string]interface{}{
		"ticket_type": ticket.TicketType,
	}
	if ticket.OperationID != nil {
		seed["operation_id"] = *ticket.OperationID
	}
	if ticket.RiskLevel != nil {
		seed["risk_level"] = *ticket.RiskLevel
	}

	id := ticket.ID
	view, err := l.engine.Start(ctx, StartRunInput{WorkflowID: workflowID, TicketID: &id, Context: seed}, nil)
	if apperrors.IsValidation(err) {
		l.logger.Warn("workflow cannot start a run for submitted ticket",
			zap.String("ticket_id", ticket.ID),
			zap.String("workflow_id", workflowID),
			zap.Error(err))
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	l.logger.Info("run auto-started for ticket",
		zap.String("ticket_id", ticket.ID),
		zap.String("run_id", view.ID),
		zap.String("workflow_id", workflowID))
	return view, nil
}

// workflowFor picks the owning operation's workflow, else the default definition
func (l *TicketListener) workflowFor(ctx context.Context, ticket *models.Ticket) (string, error) {
	if ticket.OperationID != nil && *ticket.OperationID != "" {
		wfID, err := l.tickets.OperationWorkflowID(ctx, *ticket.OperationID)
		if err != nil {
			return "", err
		}
		if wfID != nil && *wfID != "" {
			return *wfID, nil
		}
	}

	def, err := l.definitions.Default(ctx)
	if err != nil {
		return "", err
	}
	if def == nil {
		return "", nil
	}
	return def.ID, nil
}
