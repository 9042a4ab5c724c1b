package events

import (
	"time"
)

// EventType defines the type of event in the system
type EventType string

const (
	// Definition events
	WorkflowCreated EventType = "workflow.created"
	WorkflowUpdated EventType = "workflow.updated"
	WorkflowDeleted EventType = "workflow.deleted"

	// Run events
	RunStarted        EventType = "workflow.run_started"
	StageEntered      EventType = "workflow.stage_entered"
	RunCompleted      EventType = "workflow.run_completed"
	RunAborted        EventType = "workflow.run_aborted"
	StageApproved     EventType = "workflow.approved"
	StageRejected     EventType = "workflow.rejected"
	StageKickback     EventType = "workflow.kickback"
	StageEscalated    EventType = "workflow.escalated"
	StageNotification EventType = "workflow.notification"

	// Inbound from the ticket service
	TicketStatusChanged EventType = "ticket.status_changed"
)

// Outbound lists every event relayed to external consumers
var Outbound = []EventType{
	WorkflowCreated, WorkflowUpdated, WorkflowDeleted,
	RunStarted, StageEntered, RunCompleted, RunAborted,
	StageApproved, StageRejected, StageKickback, StageEscalated, StageNotification,
}

// String returns the string representation of the event type
func (e EventType) String() string {
	return string(e)
}

// WorkflowPayload accompanies definition events
type WorkflowPayload struct {
	WorkflowID string `json:"workflow_id"`
	Name       string `json:"name,omitempty"`
	Version    int    `json:"version,omitempty"`
	ActorID    string `json:"actor_id,omitempty"`
}

// RunPayload accompanies run lifecycle and stage events
type RunPayload struct {
	RunID      string                 `json:"run_id"`
	WorkflowID string                 `json:"workflow_id"`
	TicketID   string                 `json:"ticket_id,omitempty"`
	StageID    string                 `json:"stage_id,omitempty"`
	StageName  string                 `json:"stage_name,omitempty"`
	ActorID    string                 `json:"actor_id,omitempty"`
	Comment    string                 `json:"comment,omitempty"`
	Auto       bool                   `json:"auto,omitempty"`
	Config     map[string]interface{} `json:"config,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// TicketStatusPayload is the inbound ticket status change
type TicketStatusPayload struct {
	TicketID  string `json:"ticket_id"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
}

// Envelope is the wire form of an event relayed outside the process
type Envelope struct {
	Type       EventType   `json:"type"`
	OccurredAt time.Time   `json:"occurred_at"`
	Payload    interface{} `json:"payload"`
}
