package rest

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// HookHandler receives notifications from the ticket service
type HookHandler struct {
	bus ports.EventPublisher
}

// NewHookHandler creates a new HookHandler
func NewHookHandler(bus ports.EventPublisher) *HookHandler {
	return &HookHandler{bus: bus}
}

// TicketStatus handles POST /hooks/ticket-status by publishing ticket.status_changed
func (h *HookHandler) TicketStatus(c *gin.Context) {
	var payload events.TicketStatusPayload
	if !BindJSON(c, &payload) {
		return
	}
	if payload.TicketID == "" {
		RespondAppError(c, apperrors.NewValidationError("ticket_id", "is required"))
		return
	}
	if payload.NewStatus == "" {
		RespondAppError(c, apperrors.NewValidationError("new_status", "is required"))
		return
	}

	if err := h.bus.Publish(c.Request.Context(), events.TicketStatusChanged, payload); err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{FieldMessage: "Ticket status change accepted"})
}
