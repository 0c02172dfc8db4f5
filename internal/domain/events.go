package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventInstanceStarted   EventType = "instance.started"
	EventInstanceCompleted EventType = "instance.completed"
	EventInstanceCancelled EventType = "instance.cancelled"
	EventTaskTransitioned  EventType = "task.transitioned"
	EventHITLRequested     EventType = "hitl.requested"
)

// WorkflowEvent is published whenever instance or task state changes.
type WorkflowEvent struct {
	Type        EventType       `json:"type"`
	InstanceID  uuid.UUID       `json:"instance_id"`
	ExecutionID uuid.UUID       `json:"execution_id,omitempty"`
	TaskID      uuid.UUID       `json:"task_id,omitempty"`
	From        ExecutionStatus `json:"from,omitempty"`
	To          ExecutionStatus `json:"to,omitempty"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// ActionContext is what an action runner knows about the task it runs.
type ActionContext struct {
	InstanceID   uuid.UUID      `json:"instance_id"`
	ExecutionID  uuid.UUID      `json:"execution_id"`
	TaskID       uuid.UUID      `json:"task_id"`
	TaskName     string         `json:"task_name"`
	UserID       string         `json:"user_id"`
	Industry     string         `json:"industry"`
	LeadID       *string        `json:"lead_id,omitempty"`
	DealID       *string        `json:"deal_id,omitempty"`
	AgentType    string         `json:"agent_type,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ParentResult map[string]any `json:"parent_result,omitempty"`
}

type ActionResult struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
	Error   string         `json:"error,omitempty"`
}
