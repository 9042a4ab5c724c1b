package ports

import (
	"context"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// RunFilter narrows ListRuns. Empty fields do not filter.
type RunFilter struct {
	WorkflowID string
	Status     models.RunStatus
	TicketID   string
	Limit      int
	Offset     int
}

// RunStore persists runs and their history
type RunStore interface {
	InsertRun(ctx context.Context, run *models.Run) error
	// UpdateRun writes status, stage, context and completed_at when the stored
	// version still equals run.Version, then increments run.Version.
	// A stale version yields a ConflictError.
	UpdateRun(ctx context.Context, run *models.Run) error
	GetRun(ctx context.Context, id string) (*models.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*models.Run, error)
	CountActiveRuns(ctx context.Context, workflowID string) (int, error)
	// ListActiveRunsAtStageType returns active runs whose current stage has the given type
	ListActiveRunsAtStageType(ctx context.Context, stageType models.StageType) ([]*models.Run, error)
	// DeleteRunsForWorkflow removes every run of a definition together with its history
	DeleteRunsForWorkflow(ctx context.Context, workflowID string) error

	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	// ListHistory returns entries ordered by occurred_at then insertion
	ListHistory(ctx context.Context, runID string) ([]*models.HistoryEntry, error)
	// ListStageHistory is ListHistory restricted to one stage
	ListStageHistory(ctx context.Context, runID, stageID string) ([]*models.HistoryEntry, error)
}
