package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JongoDB/ems-cop-sub001/internal/domain/events"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/models"
	"github.com/JongoDB/ems-cop-sub001/internal/domain/ports"
	apperrors "github.com/JongoDB/ems-cop-sub001/pkg/errors"
	"github.com/JongoDB/ems-cop-sub001/pkg/expression"
	"github.com/JongoDB/ems-cop-sub001/pkg/utils"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// StageInput is a stage as supplied by a definition author. Transitions refer
// to stages by Order because ids are assigned by the server.
type StageInput struct {
	Name   string                 `json:"name"`
	Order  int                    `json:"stage_order"`
	Type   models.StageType       `json:"stage_type"`
	Config map[string]interface{} `json:"config"`
}

// TransitionInput is an edge between two stage orders
type TransitionInput struct {
	FromOrder     int            `json:"from_stage_order"`
	ToOrder       int            `json:"to_stage_order"`
	Trigger       models.Trigger `json:"trigger"`
	ConditionExpr *string        `json:"condition_expr,omitempty"`
	Label         *string        `json:"label,omitempty"`
}

// CreateDefinitionInput is the payload for DefinitionService.Create
type CreateDefinitionInput struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	IsTemplate  bool              `json:"is_template"`
	IsDefault   bool              `json:"is_default"`
	Stages      []StageInput      `json:"stages"`
	Transitions []TransitionInput `json:"transitions"`
}

// UpdateDefinitionInput patches a definition. Nil fields are left alone;
// a non-nil Stages or Transitions replaces the whole graph.
type UpdateDefinitionInput struct {
	Name        *string            `json:"name"`
	Description *string            `json:"description"`
	IsTemplate  *bool              `json:"is_template"`
	IsDefault   *bool              `json:"is_default"`
	Stages      *[]StageInput      `json:"stages"`
	Transitions *[]TransitionInput `json:"transitions"`
}

func (in UpdateDefinitionInput) replacesGraph() bool {
	return in.Stages != nil || in.Transitions != nil
}

// DefinitionService manages workflow definitions and their stage graphs
type DefinitionService struct {
	store     ports.DefinitionStore
	runs      ports.RunStore
	tickets   ports.TicketGateway
	tx        ports.Transactor
	publisher ports.EventPublisher
	cache     *GraphCache
	evaluator *expression.Evaluator
	logger    *zap.Logger
	now       func() time.Time
}

// NewDefinitionService creates a new DefinitionService
func NewDefinitionService(
	store ports.DefinitionStore,
	runs ports.RunStore,
	tickets ports.TicketGateway,
	tx ports.Transactor,
	publisher ports.EventPublisher,
	cache *GraphCache,
	evaluator *expression.Evaluator,
	logger *zap.Logger,
) *DefinitionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewGraphCache(0)
	}
	if evaluator == nil {
		evaluator = expression.NewEvaluator()
	}
	return &DefinitionService{
		store:     store,
		runs:      runs,
		tickets:   tickets,
		tx:        tx,
		publisher: publisher,
		cache:     cache,
		evaluator: evaluator,
		logger:    logger.Named("definitions"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Create validates and stores a new definition with its graph
func (s *DefinitionService) Create(ctx context.Context, in CreateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, apperrors.NewValidationError("name", "is required")
	}

	now := s.now()
	def := &models.WorkflowDefinition{
		ID:          utils.GenerateID(),
		Name:        name,
		Description: in.Description,
		Version:     1,
		IsTemplate:  in.IsTemplate,
		IsDefault:   in.IsDefault,
		CreatedBy:   caller.ActorID(),
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	stages, transitions, err := s.buildGraph(def.ID, in.Stages, in.Transitions)
	if err != nil {
		return nil, err
	}
	def.Stages = stages
	def.Transitions = transitions

	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if err := s.store.InsertDefinition(txCtx, def); err != nil {
			return err
		}
		if def.IsDefault {
			if err := s.store.ClearDefault(txCtx, def.ID); err != nil {
				return err
			}
		}
		if err := s.store.InsertStages(txCtx, def.Stages); err != nil {
			return err
		}
		return s.store.InsertTransitions(txCtx, def.Transitions)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("workflow created",
		zap.String("workflow_id", def.ID),
		zap.String("name", def.Name),
		zap.Int("stages", len(def.Stages)),
		zap.Int("transitions", len(def.Transitions)))
	publishQuietly(ctx, s.publisher, s.logger, events.WorkflowCreated, events.WorkflowPayload{
		WorkflowID: def.ID, Name: def.Name, Version: def.Version, ActorID: actorString(caller),
	})
	return def, nil
}

// Update patches scalar fields and optionally replaces the graph
func (s *DefinitionService) Update(ctx context.Context, id string, in UpdateDefinitionInput, caller *models.Caller) (*models.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}

	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, apperrors.NewValidationError("name", "must not be empty")
		}
		def.Name = name
	}
	if in.Description != nil {
		def.Description = *in.Description
	}
	if in.IsTemplate != nil {
		def.IsTemplate = *in.IsTemplate
	}
	becameDefault := false
	if in.IsDefault != nil {
		becameDefault = *in.IsDefault && !def.IsDefault
		def.IsDefault = *in.IsDefault
	}

	var stages []*models.Stage
	var transitions []*models.Transition
	if in.replacesGraph() {
		var stageIn []StageInput
		var transIn []TransitionInput
		if in.Stages != nil {
			stageIn = *in.Stages
		}
		if in.Transitions != nil {
			transIn = *in.Transitions
		}
		if stages, transitions, err = s.buildGraph(def.ID, stageIn, transIn); err != nil {
			return nil, err
		}
	}

	previous := def.Version
	def.Version++
	def.UpdatedAt = s.now()

	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		if in.replacesGraph() {
			active, err := s.runs.CountActiveRuns(txCtx, def.ID)
			if err != nil {
				return err
			}
			if active > 0 {
				return apperrors.NewActiveRunsError(def.ID, active)
			}
			if err := s.store.DeleteGraph(txCtx, def.ID); err != nil {
				return err
			}
			if err := s.store.InsertStages(txCtx, stages); err != nil {
				return err
			}
			if err := s.store.InsertTransitions(txCtx, transitions); err != nil {
				return err
			}
		}
		if becameDefault {
			if err := s.store.ClearDefault(txCtx, def.ID); err != nil {
				return err
			}
		}
		return s.store.UpdateDefinition(txCtx, def)
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(def.ID, previous)

	s.logger.Info("workflow updated",
		zap.String("workflow_id", def.ID),
		zap.Int("version", def.Version),
		zap.Bool("graph_replaced", in.replacesGraph()))
	publishQuietly(ctx, s.publisher, s.logger, events.WorkflowUpdated, events.WorkflowPayload{
		WorkflowID: def.ID, Name: def.Name, Version: def.Version, ActorID: actorString(caller),
	})
	return s.Graph(ctx, def.ID)
}

// Delete removes a definition with its runs and history, detaching linked tickets
func (s *DefinitionService) Delete(ctx context.Context, id string, caller *models.Caller) error {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return err
	}

	err = s.tx.WithinTransaction(ctx, func(txCtx context.Context) error {
		active, err := s.runs.CountActiveRuns(txCtx, id)
		if err != nil {
			return err
		}
		if active > 0 {
			return apperrors.NewActiveRunsError(id, active)
		}
		if err := s.tickets.DetachWorkflow(txCtx, id); err != nil {
			return err
		}
		if err := s.runs.DeleteRunsForWorkflow(txCtx, id); err != nil {
			return err
		}
		if err := s.store.DeleteGraph(txCtx, id); err != nil {
			return err
		}
		return s.store.DeleteDefinition(txCtx, id)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(id, def.Version)
	s.logger.Info("workflow deleted", zap.String("workflow_id", id), zap.String("name", def.Name))
	publishQuietly(ctx, s.publisher, s.logger, events.WorkflowDeleted, events.WorkflowPayload{
		WorkflowID: id, Name: def.Name, ActorID: actorString(caller),
	})
	return nil
}

// Clone deep-copies a definition into "<name> (Copy)". The copy is never the default.
func (s *DefinitionService) Clone(ctx context.Context, id string, caller *models.Caller) (*models.WorkflowDefinition, error) {
	src, err := s.Graph(ctx, id)
	if err != nil {
		return nil, err
	}

	orderByStage := make(map[string]int, len(src.Stages))
	in := CreateDefinitionInput{
		Name:        src.Name + " (Copy)",
		Description: src.Description,
		IsTemplate:  src.IsTemplate,
		IsDefault:   false,
	}
	for _, st := range src.Stages {
		orderByStage[st.ID] = st.Order
		in.Stages = append(in.Stages, StageInput{
			Name:   st.Name,
			Order:  st.Order,
			Type:   st.Type,
			Config: copyMap(st.Config),
		})
	}
	for _, tr := range src.Transitions {
		in.Transitions = append(in.Transitions, TransitionInput{
			FromOrder:     orderByStage[tr.FromStageID],
			ToOrder:       orderByStage[tr.ToStageID],
			Trigger:       tr.Trigger,
			ConditionExpr: tr.ConditionExpr,
			Label:         tr.Label,
		})
	}

	return s.Create(ctx, in, caller)
}

// Get returns a definition with its stages and transitions
func (s *DefinitionService) Get(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	return s.Graph(ctx, id)
}

// List returns definitions without their graphs
func (s *DefinitionService) List(ctx context.Context, filter ports.DefinitionFilter) ([]*models.WorkflowDefinition, error) {
	filter.Limit, filter.Offset = normalizePage(filter.Limit, filter.Offset)
	return s.store.ListDefinitions(ctx, filter)
}

// Default returns the default definition with its graph, or nil when none is set
func (s *DefinitionService) Default(ctx context.Context) (*models.WorkflowDefinition, error) {
	def, err := s.store.GetDefaultDefinition(ctx)
	if err != nil || def == nil {
		return nil, err
	}
	return s.Graph(ctx, def.ID)
}

// Graph loads a definition with stages in ascending order and transitions in
// insertion order. The definition row is always read; the graph of that
// version comes from the cache when present. Callers must treat the returned
// stages and transitions as read-only.
func (s *DefinitionService) Graph(ctx context.Context, id string) (*models.WorkflowDefinition, error) {
	def, err := s.store.GetDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if s.cache.Get(def) {
		return def, nil
	}
	if def.Stages, err = s.store.GetStages(ctx, id); err != nil {
		return nil, err
	}
	if def.Transitions, err = s.store.GetTransitions(ctx, id); err != nil {
		return nil, err
	}

	// a read inside an open transaction may see uncommitted rows
	if !s.tx.InTransaction(ctx) {
		s.cache.Put(def)
	}
	return def, nil
}

// buildGraph validates the caller's order-keyed graph, then assigns ids and
// resolves transitions. Nothing is returned unless every check passes.
func (s *DefinitionService) buildGraph(workflowID string, stageIn []StageInput, transIn []TransitionInput) ([]*models.Stage, []*models.Transition, error) {
	seen := make(map[int]bool, len(stageIn))
	for i, st := range stageIn {
		field := fmt.Sprintf("stages[%d]", i)
		if strings.TrimSpace(st.Name) == "" {
			return nil, nil, apperrors.NewValidationError(field+".name", "is required")
		}
		if seen[st.Order] {
			return nil, nil, apperrors.NewValidationError(field+".stage_order", fmt.Sprintf("duplicate stage_order %d", st.Order))
		}
		seen[st.Order] = true
		if !st.Type.Valid() {
			return nil, nil, apperrors.NewValidationError(field+".stage_type", fmt.Sprintf("unknown stage type %q", st.Type))
		}
		cfg, err := models.ParseStageConfig(st.Type, st.Config)
		if err != nil {
			return nil, nil, apperrors.NewValidationError(field, err.Error())
		}
		if cond, ok := cfg.(models.ConditionConfig); ok && cond.Expression != "" {
			if err := s.evaluator.Validate(cond.Expression); err != nil {
				return nil, nil, apperrors.NewValidationError(field+".config.expression", err.Error())
			}
		}
	}
	for i, tr := range transIn {
		field := fmt.Sprintf("transitions[%d]", i)
		if !seen[tr.FromOrder] {
			return nil, nil, apperrors.NewValidationError(field+".from_stage_order", fmt.Sprintf("no stage with order %d", tr.FromOrder))
		}
		if !seen[tr.ToOrder] {
			return nil, nil, apperrors.NewValidationError(field+".to_stage_order", fmt.Sprintf("no stage with order %d", tr.ToOrder))
		}
		if !tr.Trigger.Valid() {
			return nil, nil, apperrors.NewValidationError(field+".trigger", fmt.Sprintf("unknown trigger %q", tr.Trigger))
		}
	}

	byOrder := make(map[int]*models.Stage, len(stageIn))
	stages := make([]*models.Stage, 0, len(stageIn))
	for _, st := range stageIn {
		cfg := st.Config
		if cfg == nil {
			cfg = map[string]interface{}{}
		}
		stage := &models.Stage{
			ID:         utils.GenerateID(),
			WorkflowID: workflowID,
			Name:       strings.TrimSpace(st.Name),
			Order:      st.Order,
			Type:       st.Type,
			Config:     cfg,
		}
		byOrder[st.Order] = stage
		stages = append(stages, stage)
	}

	transitions := make([]*models.Transition, 0, len(transIn))
	for _, tr := range transIn {
		transitions = append(transitions, &models.Transition{
			ID:            utils.GenerateID(),
			WorkflowID:    workflowID,
			FromStageID:   byOrder[tr.FromOrder].ID,
			ToStageID:     byOrder[tr.ToOrder].ID,
			Trigger:       tr.Trigger,
			ConditionExpr: tr.ConditionExpr,
			Label:         tr.Label,
		})
	}
	return stages, transitions, nil
}

func normalizePage(limit, offset int) (int, int) {
	if limit <= 0 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

func actorString(c *models.Caller) string {
	if c == nil {
		return ""
	}
	return c.ID
}

func copyMap(in map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(in))
	for k, v := range in {
		out[k] = copyValue(v)
	}
	return out
}

// copyValue copies the nested maps and slices JSON decoding produces
func copyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return copyMap(val)
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = copyValue(item)
		}
		return out
	}
	return v
}
