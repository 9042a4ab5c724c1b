package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
)

// DefaultEscalationInterval is how often the sweep runs when not configured
const DefaultEscalationInterval = 30 * time.Second

// escalationTriggers are tried in order for an explicit transition out of an escalated stage
var escalationTriggers = []models.Trigger{
	models.TriggerOnEscalate,
	models.TriggerOnTimeout,
	models.TriggerOnApprove,
}

// EscalationService periodically escalates approval stages that have waited
// longer than their escalation_timeout_minutes.
type EscalationService struct {
	engine   *RunEngine
	interval time.Duration
	logger   *zap.Logger

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
}

// NewEscalationService creates a new escalation scheduler
func NewEscalationService(engine *RunEngine, interval time.Duration, logger *zap.Logger) *EscalationService {
	if interval <= 0 {
		interval = DefaultEscalationInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EscalationService{
		engine:   engine,
		interval: interval,
		logger:   logger.Named("escalation"),
	}
}

// Start schedules the sweep. An overrunning sweep delays the next one rather than overlapping it.
func (s *EscalationService) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	s.cron = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	spec := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.SweepOnce(context.Background(), time.Now().UTC()); err != nil {
			s.logger.Error("escalation sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("failed to schedule escalation sweep: %w", err)
	}
	s.cron.Start()
	s.running = true

	s.logger.Info("escalation scheduler started", zap.Duration("interval", s.interval))
	return nil
}

// Stop halts scheduling and waits for a sweep in progress to finish
func (s *EscalationService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	c := s.cron
	s.mu.Unlock()

	<-c.Stop().Done()
	s.logger.Info("escalation scheduler stopped")
}

// SweepOnce escalates every overdue approval and returns how many runs were escalated.
// A failure on one run is logged and does not stop the sweep.
func (s *EscalationService) SweepOnce(ctx context.Context, now time.Time) (int, error) {
	runs, err := s.engine.runs.ListActiveRunsAtStageType(ctx, models.StageTypeApproval)
	if err != nil {
		return 0, err
	}

	escalated := 0
	for _, run := range runs {
		ok, err := s.escalateRun(ctx, run.ID, now)
		switch {
		case apperrors.IsConflict(err), apperrors.IsNotFound(err):
			// another request or instance moved or removed the run first
			s.logger.Debug("run changed during sweep, skipped", zap.String("run_id", run.ID), zap.Error(err))
			continue
		case err != nil:
			s.logger.Error("failed to escalate run", zap.String("run_id", run.ID), zap.Error(err))
			continue
		}
		if ok {
			escalated++
		}
	}
	if escalated > 0 {
		s.logger.Info("escalation sweep finished", zap.Int("candidates", len(runs)), zap.Int("escalated", escalated))
	}
	return escalated, nil
}

// escalateRun re-reads the run under its lock and escalates it if it is still overdue.
// Each stage entry is escalated at most once.
func (s *EscalationService) escalateRun(ctx context.Context, runID string, now time.Time) (bool, error) {
	e := s.engine

	escalated := false
	err := e.executeLocked(ctx, runID, func(txCtx context.Context) error {
		run, err := e.runs.GetRun(txCtx, runID)
		if err != nil {
			return err
		}
		if !run.IsActive() || run.CurrentStageID == nil {
			return nil
		}
		def, err := e.definitions.Graph(txCtx, run.WorkflowID)
		if err != nil {
			return err
		}
		stage := def.StageByID(*run.CurrentStageID)
		if stage == nil || stage.Type != models.StageTypeApproval {
			return nil
		}
		cfg, err := stage.TypedConfig()
		if err != nil {
			return err
		}
		timeout := cfg.(models.ApprovalConfig).EscalationTimeoutMinutes
		if timeout <= 0 {
			return nil
		}

		history, err := e.runs.ListStageHistory(txCtx, run.ID, stage.ID)
		if err != nil {
			return err
		}
		enteredAt, alreadyEscalated, found := lastEntry(history)
		if !found || alreadyEscalated {
			return nil
		}
		if now.Before(enteredAt.Add(time.Duration(timeout) * time.Minute)) {
			return nil
		}

		meta := map[string]interface{}{"timeout_minutes": timeout}
		if err := e.record(txCtx, run, stage, models.ActionEscalated, nil, nil, meta); err != nil {
			return err
		}
		payload := e.runPayload(run, stage, nil, nil)
		payload.Metadata = meta
		e.emit(txCtx, events.StageEscalated, payload)
		escalated = true

		next := resolveEscalationTarget(def, stage)
		if next == nil {
			return nil
		}
		if err := e.advanceToStage(txCtx, run, def, next, nil); err != nil {
			return err
		}
		return e.processAutoStages(txCtx, run, def)
	})
	if err != nil {
		return escalated, err
	}

	if escalated {
		s.logger.Info("run escalated", zap.String("run_id", runID))
	}
	return escalated, nil
}

// resolveEscalationTarget tries each escalation trigger for an explicit
// transition before falling back to the next stage by order.
func resolveEscalationTarget(def *models.WorkflowDefinition, from *models.Stage) *models.Stage {
	for _, trigger := range escalationTriggers {
		if t := def.FindTransition(from.ID, trigger); t != nil {
			if next := def.StageByID(t.ToStageID); next != nil {
				return next
			}
		}
	}
	return def.NextByOrder(from.Order)
}

// lastEntry finds the latest "entered" entry and whether an escalation was
// recorded after it. history must be in insertion order.
func lastEntry(history []*models.HistoryEntry) (time.Time, bool, bool) {
	idx := -1
	for i, h := range history {
		if h.Action == models.ActionEntered {
			idx = i
		}
	}
	if idx < 0 {
		return time.Time{}, false, false
	}
	for _, h := range history[idx+1:] {
		if h.Action == models.ActionEscalated {
			return history[idx].OccurredAt, true, true
		}
	}
	return history[idx].OccurredAt, false, true
}
