package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
	"github.com/JongoDB/ems-cop-sub001/pkg/expression"
	"github.com/JongoDB/ems-cop-sub001/pkg/utils"
)

const (
	// DefaultSuperRole bypasses every stage role check
	DefaultSuperRole = "admin"
	// DefaultMaxAutoHops bounds consecutive automatic advances in one drain
	DefaultMaxAutoHops = 100
)

// ErrAutoHopLimit is returned when automatic stages keep advancing past the hop limit.
// The run stays parked wherever the drain stopped.
var ErrAutoHopLimit = apperrors.NewInternalError("auto-stage hop limit exceeded (possible cycle)", nil)

// StartRunInput is the payload for RunEngine.Start
type StartRunInput struct {
	WorkflowID string                 `json:"workflow_id"`
	TicketID   *string                `json:"ticket_id,omitempty"`
	Context    map[string]interface{} `json:"context"`
}

// ActionInput is the payload for RunEngine.Action
type ActionInput struct {
	Action        models.Action `json:"action"`
	Comment       *string       `json:"comment,omitempty"`
	TargetStageID *string       `json:"target_stage_id,omitempty"`
}

// RunEngineOptions tunes a RunEngine
type RunEngineOptions struct {
	SuperRole   string
	MaxAutoHops int
	Now         func() time.Time
}

// RunEngine drives runs through their definition's stage graph
type RunEngine struct {
	definitions *DefinitionService
	runs        ports.RunStore
	tickets     ports.TicketGateway
	tx          ports.Transactor
	publisher   ports.EventPublisher
	locker      *RunLocker
	machine     *domain.RunStateMachine
	evaluator   *expression.Evaluator
	logger      *zap.Logger

	superRole   string
	maxAutoHops int
	now         func() time.Time
}

// NewRunEngine creates a new RunEngine
func NewRunEngine(
	definitions *DefinitionService,
	runs ports.RunStore,
	tickets ports.TicketGateway,
	tx ports.Transactor,
	publisher ports.EventPublisher,
	locker *RunLocker,
	evaluator *expression.Evaluator,
	logger *zap.Logger,
	opts RunEngineOptions,
) *RunEngine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if locker == nil {
		locker = NewRunLocker()
	}
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}
	if opts.SuperRole == "" {
		opts.SuperRole = DefaultSuperRole
	}
	if opts.MaxAutoHops <= 0 {
		opts.MaxAutoHops = DefaultMaxAutoHops
	}
	if opts.Now == nil {
		opts.Now = func() time.Time { return time.Now().UTC() }
	}
	return &RunEngine{
		definitions: definitions,
		runs:        runs,
		tickets:     tickets,
		tx:          tx,
		publisher:   publisher,
		locker:      locker,
		machine:     domain.NewRunStateMachine(),
		evaluator:   evaluator,
		logger:      logger.Named("engine"),
		superRole:   opts.SuperRole,
		maxAutoHops: opts.MaxAutoHops,
		now:         opts.Now,
	}
}

// Start creates a run on the definition's lowest-order stage and drains any
// automatic stages it lands on.
func (e *RunEngine) Start(ctx context.Context, in StartRunInput, caller *models.Caller) (*models.RunView, error) {
	if in.WorkflowID == "" {
		return nil, apperrors.NewValidationError("workflow_id", "is required")
	}

	def, err := e.definitions.Graph(ctx, in.WorkflowID)
	if err != nil {
		return nil, err
	}
	first := def.FirstStage()
	if first == nil {
		return nil, apperrors.NewValidationError("workflow_id", "workflow has no stages")
	}

	runCtx := copyMap(in.Context)
	run := &models.Run{
		ID:             utils.GenerateID(),
		WorkflowID:     def.ID,
		TicketID:       in.TicketID,
		CurrentStageID: &first.ID,
		Status:         models.RunStatusActive,
		Context:        runCtx,
		StartedAt:      e.now(),
		Version:        1,
	}

	err = e.execute(ctx, func(txCtx context.Context) error {
		if err := e.runs.InsertRun(txCtx, run); err != nil {
			return err
		}
		if err := e.record(txCtx, run, first, models.ActionEntered, nil, nil, nil); err != nil {
			return err
		}
		if run.TicketID != nil {
			if err := e.tickets.LinkRun(txCtx, *run.TicketID, run.ID, run.CurrentStageID); err != nil {
				return err
			}
		}
		e.emit(txCtx, events.RunStarted, e.runPayload(run, first, caller.ActorID(), nil))
		return e.processAutoStages(txCtx, run, def)
	})
	if err != nil && !errors.Is(err, ErrAutoHopLimit) {
		return nil, err
	}

	e.logger.Info("run started",
		zap.String("run_id", run.ID),
		zap.String("workflow_id", def.ID),
		zap.String("status", string(run.Status)))
	if err != nil {
		return nil, err
	}
	return e.view(run, def), nil
}

// Action applies a human action to the run's current stage
func (e *RunEngine) Action(ctx context.Context, runID string, in ActionInput, caller *models.Caller) (*models.RunView, error) {

	var run *models.Run
	var def *models.WorkflowDefinition

	err := e.executeLocked(ctx, runID, func(txCtx context.Context) error {
		var err error
		if run, err = e.runs.GetRun(txCtx, runID); err != nil {
			return err
		}
		if !run.IsActive() {
			return apperrors.NewInvalidStateError("Run", run.ID, "run is "+string(run.Status))
		}
		if run.CurrentStageID == nil {
			return apperrors.NewInvalidStateError("Run", run.ID, "run has no current stage")
		}
		if def, err = e.definitions.Graph(txCtx, run.WorkflowID); err != nil {
			return err
		}
		stage := def.StageByID(*run.CurrentStageID)
		if stage == nil {
			return apperrors.NewInvalidStateError("Run", run.ID, "current stage no longer exists")
		}

		if !stage.Type.AllowsAction(in.Action) {
			return apperrors.NewInvalidActionError(string(in.Action), string(stage.Type))
		}
		if role := stage.RequiredRole(); role != "" && !caller.HasRole(role) && !caller.HasRole(e.superRole) {
			return apperrors.NewInsufficientRoleError(role, actorString(caller))
		}

		var target *models.Stage
		if in.TargetStageID != nil && *in.TargetStageID != "" && in.Action.IsRejectClass() {
			if target = def.StageByID(*in.TargetStageID); target == nil {
				return apperrors.NewValidationError("target_stage_id", "stage does not belong to this workflow")
			}
		}

		actor := caller.ActorID()
		if err := e.record(txCtx, run, stage, in.Action, actor, in.Comment, nil); err != nil {
			return err
		}
		if eventType, ok := actionEvents[in.Action]; ok {
			e.emit(txCtx, eventType, e.runPayload(run, stage, actor, in.Comment))
		}

		next := target
		if next == nil {
			trigger, _ := in.Action.Trigger()
			next = e.resolveNextStage(def, stage, trigger)
		}
		if err := e.advanceToStage(txCtx, run, def, next, actor); err != nil {
			return err
		}

		if in.Action.IsRejectClass() && next != nil && next.Type == models.StageTypeAction && run.TicketID != nil {
			if err := e.tickets.SetStatus(txCtx, *run.TicketID, models.TicketStatusDraft); err != nil {
				return err
			}
		}
		return e.processAutoStages(txCtx, run, def)
	})
	if err != nil && !errors.Is(err, ErrAutoHopLimit) {
		return nil, err
	}

	e.logger.Info("run action applied",
		zap.String("run_id", runID),
		zap.String("action", string(in.Action)),
		zap.String("actor", actorString(caller)),
		zap.String("status", string(run.Status)))
	if err != nil {
		return nil, err
	}
	return e.view(run, def), nil
}

var actionEvents = map[models.Action]events.EventType{
	models.ActionApprove:  events.StageApproved,
	models.ActionReject:   events.StageRejected,
	models.ActionKickback: events.StageKickback,
}

// Abort cancels an active run
func (e *RunEngine) Abort(ctx context.Context, runID string, comment *string, caller *models.Caller) (*models.RunView, error) {

	var run *models.Run
	var def *models.WorkflowDefinition

	err := e.executeLocked(ctx, runID, func(txCtx context.Context) error {
		var err error
		if run, err = e.runs.GetRun(txCtx, runID); err != nil {
			return err
		}
		next, err := e.machine.Transition(run.Status, domain.TransitionAbort)
		if err != nil {
			return apperrors.NewInvalidStateError("Run", run.ID, err.Error())
		}
		if def, err = e.definitions.Graph(txCtx, run.WorkflowID); err != nil {
			return err
		}

		completedAt := e.now()
		run.Status = next
		run.CompletedAt = &completedAt
		if err := e.runs.UpdateRun(txCtx, run); err != nil {
			return err
		}

		stage := e.currentStage(run, def)
		actor := caller.ActorID()
		if err := e.record(txCtx, run, stage, models.ActionAborted, actor, comment, nil); err != nil {
			return err
		}
		e.emit(txCtx, events.RunAborted, e.runPayload(run, stage, actor, comment))
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info("run aborted", zap.String("run_id", runID), zap.String("actor", actorString(caller)))
	return e.view(run, def), nil
}

// UpdateContext shallow-merges patch into an active run's context
func (e *RunEngine) UpdateContext(ctx context.Context, runID string, patch map[string]interface{}) (*models.RunView, error) {

	var run *models.Run
	var def *models.WorkflowDefinition

	err := e.executeLocked(ctx, runID, func(txCtx context.Context) error {
		var err error
		if run, err = e.runs.GetRun(txCtx, runID); err != nil {
			return err
		}
		if !e.machine.CanTransition(run.Status, domain.TransitionUpdateContext) {
			return apperrors.NewInvalidStateError("Run", run.ID, "run is "+string(run.Status))
		}
		if def, err = e.definitions.Graph(txCtx, run.WorkflowID); err != nil {
			return err
		}

		if run.Context == nil {
			run.Context = make(map[string]interface{}, len(patch))
		}
		for k, v := range patch {
			run.Context[k] = v
		}
		return e.runs.UpdateRun(txCtx, run)
	})
	if err != nil {
		return nil, err
	}
	return e.view(run, def), nil
}

// Get returns a run with its current stage and workflow name
func (e *RunEngine) Get(ctx context.Context, runID string) (*models.RunView, error) {
	run, err := e.runs.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	def, err := e.definitions.Graph(ctx, run.WorkflowID)
	if err != nil {
		return nil, err
	}
	return e.view(run, def), nil
}

// List returns runs matching filter
func (e *RunEngine) List(ctx context.Context, filter ports.RunFilter) ([]*models.RunView, error) {
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	runs, err := e.runs.ListRuns(ctx, filter)
	if err != nil {
		return nil, err
	}

	views := make([]*models.RunView, 0, len(runs))
	for _, run := range runs {
		def, err := e.definitions.Graph(ctx, run.WorkflowID)
		if err != nil {
			return nil, err
		}
		views = append(views, e.view(run, def))
	}
	return views, nil
}

// History returns the run's audit trail in order
func (e *RunEngine) History(ctx context.Context, runID string) ([]*models.HistoryEntry, error) {
	if _, err := e.runs.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.runs.ListHistory(ctx, runID)
}

// resolveNextStage prefers an explicit transition and falls back to the next
// stage by order. nil means the run is complete.
func (e *RunEngine) resolveNextStage(def *models.WorkflowDefinition, from *models.Stage, trigger models.Trigger) *models.Stage {
	if t := def.FindTransition(from.ID, trigger); t != nil {
		if next := def.StageByID(t.ToStageID); next != nil {
			return next
		}
		e.logger.Warn("transition points at a missing stage",
			zap.String("transition_id", t.ID),
			zap.String("to_stage_id", t.ToStageID))
	}
	return def.NextByOrder(from.Order)
}

// advanceToStage moves the run to next, or completes it when next is nil.
// Entering a terminal stage completes the run immediately.
func (e *RunEngine) advanceToStage(ctx context.Context, run *models.Run, def *models.WorkflowDefinition, next *models.Stage, actor *string) error {
	if next == nil {
		return e.complete(ctx, run, def)
	}

	status, err := e.machine.Transition(run.Status, domain.TransitionAdvance)
	if err != nil {
		return apperrors.NewInvalidStateError("Run", run.ID, err.Error())
	}
	run.Status = status
	run.CurrentStageID = &next.ID
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return err
	}
	if run.TicketID != nil {
		if err := e.tickets.SetStage(ctx, *run.TicketID, &next.ID); err != nil {
			return err
		}
	}
	if err := e.record(ctx, run, next, models.ActionEntered, actor, nil, nil); err != nil {
		return err
	}
	e.emit(ctx, events.StageEntered, e.runPayload(run, next, actor, nil))

	if next.Type == models.StageTypeTerminal {
		return e.complete(ctx, run, def)
	}
	return nil
}

// complete finishes the run. The current stage is left where the run ended.
func (e *RunEngine) complete(ctx context.Context, run *models.Run, def *models.WorkflowDefinition) error {
	status, err := e.machine.Transition(run.Status, domain.TransitionComplete)
	if err != nil {
		return apperrors.NewInvalidStateError("Run", run.ID, err.Error())
	}
	completedAt := e.now()
	run.Status = status
	run.CompletedAt = &completedAt
	if err := e.runs.UpdateRun(ctx, run); err != nil {
		return err
	}
	if run.TicketID != nil {
		if err := e.tickets.SetStatus(ctx, *run.TicketID, models.TicketStatusApproved); err != nil {
			return err
		}
	}
	e.emit(ctx, events.RunCompleted, e.runPayload(run, e.currentStage(run, def), nil, nil))
	return nil
}

func (e *RunEngine) record(ctx context.Context, run *models.Run, stage *models.Stage, action models.Action, actor, comment *string, metadata map[string]interface{}) error {
	entry := &models.HistoryEntry{
		ID:         utils.GenerateID(),
		RunID:      run.ID,
		Action:     action,
		ActorID:    actor,
		Comment:    comment,
		Metadata:   metadata,
		OccurredAt: e.now(),
	}
	if stage != nil {
		entry.StageID = &stage.ID
		entry.StageName = stage.Name
	}
	return e.runs.AppendHistory(ctx, entry)
}

func (e *RunEngine) currentStage(run *models.Run, def *models.WorkflowDefinition) *models.Stage {
	if run.CurrentStageID == nil || def == nil {
		return nil
	}
	return def.StageByID(*run.CurrentStageID)
}

func (e *RunEngine) view(run *models.Run, def *models.WorkflowDefinition) *models.RunView {
	v := &models.RunView{Run: run}
	if def != nil {
		v.WorkflowName = def.Name
		v.CurrentStage = e.currentStage(run, def)
	}
	return v
}

func (e *RunEngine) runPayload(run *models.Run, stage *models.Stage, actor, comment *string) events.RunPayload {
	p := events.RunPayload{RunID: run.ID, WorkflowID: run.WorkflowID}
	if run.TicketID != nil {
		p.TicketID = *run.TicketID
	}
	if stage != nil {
		p.StageID = stage.ID
		p.StageName = stage.Name
	}
	if actor != nil {
		p.ActorID = *actor
	}
	if comment != nil {
		p.Comment = *comment
	}
	return p
}

type eventBatchKey struct{}

type pendingEvent struct {
	eventType EventType
	payload   interface{}
}

type eventBatch struct {
	events []pendingEvent
}

// execute runs fn in one transaction and publishes the events it raised
// after commit. ErrAutoHopLimit commits what was done before returning.
func (e *RunEngine) execute(ctx context.Context, fn func(ctx context.Context) error) error {
	batch, err := e.transact(ctx, fn)
	e.flush(ctx, batch)
	return err
}

// executeLocked is execute under the run's lock. The lock is released before
// events are published so slow subscribers never hold up the run.
func (e *RunEngine) executeLocked(ctx context.Context, runID string, fn func(ctx context.Context) error) error {
	unlock := e.locker.Lock(runID)
	batch, err := e.transact(ctx, fn)
	unlock()
	e.flush(ctx, batch)
	return err
}

// transact returns the events to publish, nil when the transaction failed
func (e *RunEngine) transact(ctx context.Context, fn func(ctx context.Context) error) (*eventBatch, error) {
	batch := &eventBatch{}
	batchCtx := context.WithValue(ctx, eventBatchKey{}, batch)

	var parked error
	err := e.tx.WithinTransaction(batchCtx, func(txCtx context.Context) error {
		err := fn(txCtx)
		if errors.Is(err, ErrAutoHopLimit) {
			parked = err
			return nil
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return batch, parked
}

func (e *RunEngine) flush(ctx context.Context, batch *eventBatch) {
	if batch == nil {
		return
	}
	for _, ev := range batch.events {
		publishQuietly(ctx, e.publisher, e.logger, ev.eventType, ev.payload)
	}
}

// emit queues an event on the current operation, or publishes at once outside one
func (e *RunEngine) emit(ctx context.Context, eventType EventType, payload interface{}) {
	if batch, ok := ctx.Value(eventBatchKey{}).(*eventBatch); ok {
		batch.events = append(batch.events, pendingEvent{eventType: eventType, payload: payload})
		return
	}
	publishQuietly(ctx, e.publisher, e.logger, eventType, payload)
}
