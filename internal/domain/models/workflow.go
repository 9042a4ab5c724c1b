package models

import (
	"time"
)

// StageType controls whether a stage advances on its own or waits for an action
type StageType string

const (
	StageTypeAction       StageType = "action"
	StageTypeApproval     StageType = "approval"
	StageTypeCondition    StageType = "condition"
	StageTypeNotification StageType = "notification"
	StageTypeTerminal     StageType = "terminal"
	StageTypeTimer        StageType = "timer"
)

// Valid reports whether t is a known stage type
func (t StageType) Valid() bool {
	switch t {
	case StageTypeAction, StageTypeApproval, StageTypeCondition,
		StageTypeNotification, StageTypeTerminal, StageTypeTimer:
		return true
	}
	return false
}

// Trigger is the symbolic event used to select the next stage
type Trigger string

const (
	TriggerOnApprove        Trigger = "on_approve"
	TriggerOnReject         Trigger = "on_reject"
	TriggerOnKickback       Trigger = "on_kickback"
	TriggerOnComplete       Trigger = "on_complete"
	TriggerOnTimeout        Trigger = "on_timeout"
	TriggerOnEscalate       Trigger = "on_escalate"
	TriggerOnConditionTrue  Trigger = "on_condition_true"
	TriggerOnConditionFalse Trigger = "on_condition_false"
)

// Valid reports whether t is a known trigger
func (t Trigger) Valid() bool {
	switch t {
	case TriggerOnApprove, TriggerOnReject, TriggerOnKickback, TriggerOnComplete,
		TriggerOnTimeout, TriggerOnEscalate, TriggerOnConditionTrue, TriggerOnConditionFalse:
		return true
	}
	return false
}

// Action is a human (or system) action recorded against a stage
type Action string

const (
	ActionEntered      Action = "entered"
	ActionApprove      Action = "approve"
	ActionReject       Action = "reject"
	ActionKickback     Action = "kickback"
	ActionComplete     Action = "complete"
	ActionTimeout      Action = "timeout"
	ActionAutoApproved Action = "auto_approved"
	ActionEscalated    Action = "escalated"
	ActionAborted      Action = "aborted"
)

// Trigger maps a caller action to the trigger used for transition lookup
func (a Action) Trigger() (Trigger, bool) {
	switch a {
	case ActionApprove:
		return TriggerOnApprove, true
	case ActionReject:
		return TriggerOnReject, true
	case ActionKickback:
		return TriggerOnKickback, true
	case ActionComplete:
		return TriggerOnComplete, true
	case ActionTimeout:
		return TriggerOnTimeout, true
	}
	return "", false
}

// IsRejectClass reports whether the action sends work back (reject or kickback)
func (a Action) IsRejectClass() bool {
	return a == ActionReject || a == ActionKickback
}

// allowedActions is the fixed allow-list of caller actions per stage type
var allowedActions = map[StageType][]Action{
	StageTypeApproval: {ActionApprove, ActionReject, ActionKickback},
	StageTypeAction:   {ActionComplete},
	StageTypeTimer:    {ActionComplete, ActionTimeout},
}

// AllowsAction reports whether a stage of type t accepts action a
func (t StageType) AllowsAction(a Action) bool {
	for _, allowed := range allowedActions[t] {
		if allowed == a {
			return true
		}
	}
	return false
}

// RunStatus is the lifecycle status of a run
type RunStatus string

const (
	RunStatusActive    RunStatus = "active"
	RunStatusCompleted RunStatus = "completed"
	RunStatusAborted   RunStatus = "aborted"
)

// Ticket statuses the engine writes to linked tickets
const (
	TicketStatusDraft     = "draft"
	TicketStatusSubmitted = "submitted"
	TicketStatusApproved  = "approved"
)

// WorkflowDefinition is a named, versioned stage graph
type WorkflowDefinition struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	Version     int           `json:"version"`
	IsTemplate  bool          `json:"is_template"`
	IsDefault   bool          `json:"is_default"`
	CreatedBy   *string       `json:"created_by,omitempty"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
	Stages      []*Stage      `json:"stages,omitempty"`
	Transitions []*Transition `json:"transitions,omitempty"`
}

// FirstStage returns the lowest-order stage, or nil for an empty graph
func (d *WorkflowDefinition) FirstStage() *Stage {
	var first *Stage
	for _, s := range d.Stages {
		if first == nil || s.Order < first.Order {
			first = s
		}
	}
	return first
}

// StageByID finds a stage of this definition by id
func (d *WorkflowDefinition) StageByID(id string) *Stage {
	for _, s := range d.Stages {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// NextByOrder returns the stage with the smallest order strictly greater than order
func (d *WorkflowDefinition) NextByOrder(order int) *Stage {
	var next *Stage
	for _, s := range d.Stages {
		if s.Order > order && (next == nil || s.Order < next.Order) {
			next = s
		}
	}
	return next
}

// FindTransition returns the first transition matching (from, trigger) in declaration order
func (d *WorkflowDefinition) FindTransition(fromStageID string, trigger Trigger) *Transition {
	for _, t := range d.Transitions {
		if t.FromStageID == fromStageID && t.Trigger == trigger {
			return t
		}
	}
	return nil
}

// Stage is a node in a workflow graph
type Stage struct {
	ID         string                 `json:"id"`
	WorkflowID string                 `json:"workflow_id"`
	Name       string                 `json:"name"`
	Order      int                    `json:"stage_order"`
	Type       StageType              `json:"stage_type"`
	Config     map[string]interface{} `json:"config"`
}

// Transition is a directed edge keyed by a trigger
type Transition struct {
	ID            string  `json:"id"`
	WorkflowID    string  `json:"workflow_id"`
	FromStageID   string  `json:"from_stage_id"`
	ToStageID     string  `json:"to_stage_id"`
	Trigger       Trigger `json:"trigger"`
	ConditionExpr *string `json:"condition_expr,omitempty"`
	Label         *string `json:"label,omitempty"`
}

// Run is one live execution of a definition
type Run struct {
	ID             string                 `json:"id"`
	WorkflowID     string                 `json:"workflow_id"`
	TicketID       *string                `json:"ticket_id,omitempty"`
	CurrentStageID *string                `json:"current_stage_id,omitempty"`
	Status         RunStatus              `json:"status"`
	Context        map[string]interface{} `json:"context"`
	StartedAt      time.Time              `json:"started_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
	Version        int                    `json:"version"`
}

// IsActive reports whether the run still accepts mutations
func (r *Run) IsActive() bool {
	return r.Status == RunStatusActive
}

// RunView is a run with its current stage and workflow name denormalized for display
type RunView struct {
	*Run
	WorkflowName string `json:"workflow_name"`
	CurrentStage *Stage `json:"current_stage,omitempty"`
}

// HistoryEntry is an append-only audit record for a run
type HistoryEntry struct {
	ID         string                 `json:"id"`
	RunID      string                 `json:"run_id"`
	StageID    *string                `json:"stage_id,omitempty"`
	StageName  string                 `json:"stage_name"`
	Action     Action                 `json:"action"`
	ActorID    *string                `json:"actor_id"`
	Comment    *string                `json:"comment"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
}

// Ticket is the slice of an external ticket the engine reads
type Ticket struct {
	ID          string  `json:"id"`
	Status      string  `json:"status"`
	TicketType  string  `json:"ticket_type"`
	OperationID *string `json:"operation_id,omitempty"`
	RiskLevel   *int    `json:"risk_level,omitempty"`
	RunID       *string `json:"workflow_run_id,omitempty"`
}

// Caller is the identity of the user invoking an operation
type Caller struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles"`
}

// HasRole reports whether the caller holds role
func (c *Caller) HasRole(role string) bool {
	if c == nil {
		return false
	}
	for _, r := range c.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ActorID returns a pointer to the caller id, or nil for system-driven operations
func (c *Caller) ActorID() *string {
	if c == nil || c.ID == "" {
		return nil
	}
	id := c.ID
	return &id
}
