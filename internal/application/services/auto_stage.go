package services

import (
	"context"

	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
)

// processAutoStages drains stages that advance without a human: notification,
// condition and auto-approvable approval stages. It stops at the first stage
// that needs an action or when the run is no longer active.
func (e *RunEngine) processAutoStages(ctx context.Context, run *models.Run, def *models.WorkflowDefinition) error {
	hops := 0
	for run.IsActive() {
		stage := e.currentStage(run, def)
		if stage == nil {
			return nil
		}

		if hops >= e.maxAutoHops && e.advancesOnItsOwn(run, stage) {
			e.logger.Error("auto-stage hop limit exceeded",
				zap.String("run_id", run.ID),
				zap.String("stage_id", stage.ID),
				zap.Int("max_hops", e.maxAutoHops))
			return ErrAutoHopLimit
		}

		trigger, ok, err := e.autoTrigger(ctx, run, stage)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if trigger == "" {
			// a run parked on a terminal stage (only possible as a first stage)
			return e.complete(ctx, run, def)
		}
		hops++

		next := e.resolveNextStage(def, stage, trigger)
		if err := e.advanceToStage(ctx, run, def, next, nil); err != nil {
			return err
		}
	}
	return nil
}

// autoTrigger decides whether stage advances on its own and with which trigger.
// ok is false when the stage waits for a human. A terminal stage yields ok
// with an empty trigger.
func (e *RunEngine) autoTrigger(ctx context.Context, run *models.Run, stage *models.Stage) (models.Trigger, bool, error) {
	switch stage.Type {
	case models.StageTypeNotification:
		payload := e.runPayload(run, stage, nil, nil)
		payload.Config = copyMap(stage.Config)
		e.emit(ctx, events.StageNotification, payload)
		return models.TriggerOnComplete, true, nil

	case models.StageTypeCondition:
		if e.evaluateCondition(run, stage) {
			return models.TriggerOnConditionTrue, true, nil
		}
		return models.TriggerOnConditionFalse, true, nil

	case models.StageTypeApproval:
		cfg, err := stage.TypedConfig()
		if err != nil {
			e.logger.Warn("malformed approval config, waiting for a human",
				zap.String("run_id", run.ID), zap.String("stage_id", stage.ID), zap.Error(err))
			return "", false, nil
		}
		if !cfg.(models.ApprovalConfig).AutoApproves(run.Context) {
			return "", false, nil
		}
		if err := e.record(ctx, run, stage, models.ActionAutoApproved, nil, nil, nil); err != nil {
			return "", false, err
		}
		payload := e.runPayload(run, stage, nil, nil)
		payload.Auto = true
		e.emit(ctx, events.StageApproved, payload)
		return models.TriggerOnApprove, true, nil

	case models.StageTypeTerminal:
		return "", true, nil
	}

	// action and timer stages always wait for an explicit action
	return "", false, nil
}

// advancesOnItsOwn reports whether autoTrigger would move the run off stage
func (e *RunEngine) advancesOnItsOwn(run *models.Run, stage *models.Stage) bool {
	switch stage.Type {
	case models.StageTypeNotification, models.StageTypeCondition:
		return true
	case models.StageTypeApproval:
		cfg, err := stage.TypedConfig()
		return err == nil && cfg.(models.ApprovalConfig).AutoApproves(run.Context)
	}
	return false
}

// evaluateCondition treats any evaluation error as false
func (e *RunEngine) evaluateCondition(run *models.Run, stage *models.Stage) bool {
	cfg, err := stage.TypedConfig()
	if err != nil {
		e.logger.Warn("malformed condition config", zap.String("run_id", run.ID), zap.String("stage_id", stage.ID), zap.Error(err))
		return false
	}
	result, err := e.evaluator.Evaluate(cfg.(models.ConditionConfig).Expression, run.Context)
	if err != nil {
		e.logger.Warn("condition evaluation failed, taking false branch",
			zap.String("run_id", run.ID),
			zap.String("stage_id", stage.ID),
			zap.Error(err))
		return false
	}
	return result
}
