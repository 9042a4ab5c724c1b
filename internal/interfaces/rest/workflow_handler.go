package rest

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/JongoDB/ems-cop-sub001/internal/application/services"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
)

// WorkflowService defines the definition operations the handler needs
type WorkflowService interface {
	Create(ctx context.Context, in services.CreateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error)
	Update(ctx context.Context, id string, in services.UpdateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error)
	Delete(ctx context.Context, id string, caller *models.Caller) error
	Clone(ctx context.Context, id string, caller *models.Caller) (*models.WorkflowDefinition, error)
	Get(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	List(ctx context.Context, filter ports.DefinitionFilter) ([]*models.WorkflowDefinition, error)
}

// WorkflowHandler serves /workflows
type WorkflowHandler struct {
	svc WorkflowService
}

// NewWorkflowHandler creates a new WorkflowHandler
func NewWorkflowHandler(svc WorkflowService) *WorkflowHandler {
	return &WorkflowHandler{svc: svc}
}

// List handles GET /workflows?is_template=&limit=&offset=
func (h *WorkflowHandler) List(c *gin.Context) {
	isTemplate, ok := queryBool(c, "is_template")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit")
	if !ok {
		return
	}
	offset, ok := queryInt(c, "offset")
	if !ok {
		return
	}

	HandleGetEnvelope(c, KeyWorkflows, func() (interface{}, error) {
		defs, err := h.svc.List(c.Request.Context(), ports.DefinitionFilter{IsTemplate: isTemplate, Limit: limit, Offset: offset})
		if defs == nil {
			defs = []*models.WorkflowDefinition{}
		}
		return defs, err
	})
}

// Get handles GET /workflows/:id
func (h *WorkflowHandler) Get(c *gin.Context) {
	HandleGetEnvelope(c, KeyWorkflow, func() (interface{}, error) {
		return h.svc.Get(c.Request.Context(), c.Param("id"))
	})
}

// Create handles POST /workflows
func (h *WorkflowHandler) Create(c *gin.Context) {
	var in services.CreateDefinitionInput
	if !BindJSON(c, &in) {
		return
	}
	def, err := h.svc.Create(c.Request.Context(), in, Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{FieldMessage: "Workflow created", KeyWorkflow: def})
}

// Update handles PATCH /workflows/:id
func (h *WorkflowHandler) Update(c *gin.Context) {
	var in services.UpdateDefinitionInput
	if !BindJSON(c, &in) {
		return
	}
	def, err := h.svc.Update(c.Request.Context(), c.Param("id"), in, Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{FieldMessage: "Workflow updated", KeyWorkflow: def})
}

// Delete handles DELETE /workflows/:id
func (h *WorkflowHandler) Delete(c *gin.Context) {
	if err := h.svc.Delete(c.Request.Context(), c.Param("id"), Caller(c)); err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{FieldMessage: "Workflow deleted"})
}

// Clone handles POST /workflows/:id/clone
func (h *WorkflowHandler) Clone(c *gin.Context) {
	def, err := h.svc.Clone(c.Request.Context(), c.Param("id"), Caller(c))
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{FieldMessage: "Workflow cloned", KeyWorkflow: def})
}
