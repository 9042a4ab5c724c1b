package ports

import (
	"context"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// DefinitionFilter narrows ListDefinitions
type DefinitionFilter struct {
	IsTemplate *bool
	Limit      int
	Offset     int
}

// DefinitionStore persists workflow definitions and their stage graphs
type DefinitionStore interface {
	InsertDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	// UpdateDefinition writes the scalar columns (name, description, flags, version, updated_at)
	UpdateDefinition(ctx context.Context, def *models.WorkflowDefinition) error
	DeleteDefinition(ctx context.Context, id string) error
	// GetDefinition loads the definition row without its graph
	GetDefinition(ctx context.Context, id string) (*models.WorkflowDefinition, error)
	ListDefinitions(ctx context.Context, filter DefinitionFilter) ([]*models.WorkflowDefinition, error)
	// GetDefaultDefinition returns nil, nil when no definition is marked default
	GetDefaultDefinition(ctx context.Context) (*models.WorkflowDefinition, error)
	// ClearDefault unsets is_default on every definition except exceptID
	ClearDefault(ctx context.Context, exceptID string) error

	InsertStages(ctx context.Context, stages []*models.Stage) error
	InsertTransitions(ctx context.Context, transitions []*models.Transition) error
	// DeleteGraph removes every stage and transition of a definition
	DeleteGraph(ctx context.Context, workflowID string) error
	// GetStages returns stages in ascending stage_order
	GetStages(ctx context.Context, workflowID string) ([]*models.Stage, error)
	// GetTransitions returns transitions in insertion order
	GetTransitions(ctx context.Context, workflowID string) ([]*models.Transition, error)
}
