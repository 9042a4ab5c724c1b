package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JongoDB/ems-cop-sub001/internal/application/services"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// RunService defines the run operations the handler needs
type RunService interface {
	Start(ctx context.Context, in services.StartRunInput, caller *models.Caller) (*models.RunView, error)
	Action(ctx context.Context, runID string, in services.ActionInput, caller *models.Caller) (*models.RunView, error)
	Abort(ctx context.Context, runID string, comment *string, caller *models.Caller) (*models.RunView, error)
	UpdateContext(ctx context.Context, runID string, patch map[string]interface{}) (*models.RunView, error)
	Get(ctx context.Context, runID string) (*models.RunView, error)
	List(ctx context.Context, filter ports.RunFilter) ([]*models.RunView, error)
	History(ctx context.Context, runID string) ([]*models.HistoryEntry, error)
}

// AbortRequest is the body of POST /workflow-runs/:id/abort
type AbortRequest struct {
	Comment *string `json:"comment"`
}

// ContextPatchRequest is the body of PATCH /workflow-runs/:id/context
type ContextPatchRequest struct {
	Context map[string]interface{} `json:"context" binding:"required"`
}

// RunHandler serves /workflow-runs
type RunHandler struct {
	svc RunService
}

// NewRunHandler creates a new RunHandler
func NewRunHandler(svc RunService) *RunHandler {
	return &RunHandler{svc: svc}
}

// Start handles POST /workflow-runs
func (h *RunHandler) Start(c *gin.Context) {
	var in services.StartRunInput
	if !BindJSON(c, &in) {
		return
	}
	if in.WorkflowID == "" {
		RespondAppError(c, apperrors.NewValidationError("workflow_id", "is required"))
		return
	}
	run, err := h.svc.Start(c.Request.Context(), in, Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{FieldMessage: "Run started", KeyRun: run})
}

// List handles GET /workflow-runs?workflow_id=&status=&ticket_id=&limit=&offset=
func (h *RunHandler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}
	status := models.RunStatus(c.Query("status"))
	switch status {
	case "", models.RunStatusActive, models.RunStatusCompleted, models.RunStatusAborted:
	default:
		RespondAppError(c, apperrors.NewValidationError("status", "must be active, completed or aborted"))
		return
	}

	filter := ports.RunFilter{
		WorkflowID: c.Query("workflow_id"),
		Status:     status,
		TicketID:   c.Query("ticket_id"),
		Limit:      limit,
		Offset:     offset,
	}
	HandleGetEnvelope(c, KeyRuns, func() (interface{}, error) {
		runs, err := h.svc.List(c.Request.Context(), filter)
		if runs == nil {
			runs = []*models.RunView{}
		}
		return runs, err
	})
}

// Get handles GET /workflow-runs/:id
func (h *RunHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, KeyRun, func() (interface{}, error) {
		return h.svc.Get(c.Request.Context(), c.Param("id"))
	})
}

// Action handles POST /workflow-runs/:id/actions
func (h *RunHandler) Action(c *gin.Context) {
	var in services.ActionInput
	if !BindJSON(c, &in) {
		return
	}
	run, err := h.svc.Action(c.Request.Context(), c.Param("id"), in, Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{KeyRun: run})
}

// Abort handles POST /workflow-runs/:id/abort
func (h *RunHandler) Abort(c *gin.Context) {
	var req AbortRequest
	// the body is optional
	if c.Request.ContentLength != 0 && !BindJSON(c, &req) {
		return
	}
	run, err := h.svc.Abort(c.Request.Context(), c.Param("id"), req.Comment, Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{KeyRun: run})
}

// UpdateContext handles PATCH /workflow-runs/:id/context
func (h *RunHandler) UpdateContext(c *gin.Context) {
	var req ContextPatchRequest
	if !BindJSON(c, &req) {
		return
	}
	run, err := h.svc.UpdateContext(c.Request.Context(), c.Param("id"), req.Context)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{KeyRun: run})
}

// History handles GET /workflow-runs/:id/history
func (h *RunHandler) History(c *gin.Context) {
	HandleGetEnvelope(c, KeyHistory, func() (interface{}, error) {
		entries, err := h.svc.History(c.Request.Context(), c.Param("id"))
		if entries == nil {
			entries = []*models.HistoryEntry{}
		}
		return entries, err
	})
}
