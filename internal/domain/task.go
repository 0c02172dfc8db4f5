package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type ExecutionStatus string

const (
	StatusPending      ExecutionStatus = "PENDING"
	StatusInProgress   ExecutionStatus = "IN_PROGRESS"
	StatusAwaitingHITL ExecutionStatus = "AWAITING_HITL"
	StatusApproved     ExecutionStatus = "APPROVED"
	StatusCompleted    ExecutionStatus = "COMPLETED"
	StatusSkipped      ExecutionStatus = "SKIPPED"
	StatusFailed       ExecutionStatus = "FAILED"
)

// ErrIllegalTransition is returned by stores asked to move an execution backwards.
var ErrIllegalTransition = errors.New("illegal execution transition")

var transitions = map[ExecutionStatus][]ExecutionStatus{
	StatusPending:      {StatusInProgress},
	StatusInProgress:   {StatusAwaitingHITL, StatusCompleted, StatusSkipped, StatusFailed},
	StatusAwaitingHITL: {StatusApproved, StatusSkipped},
	StatusApproved:     {StatusCompleted, StatusFailed},
}

// CanTransition reports whether an execution may move from one status to another.
// Statuses only move forward.
func CanTransition(from, to ExecutionStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (s ExecutionStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped || s == StatusFailed
}

// IsResolved reports whether the status counts towards instance completion.
func (s ExecutionStatus) IsResolved() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// TaskExecution is the run state of one template task inside one instance.
type TaskExecution struct {
	ID           uuid.UUID         `gorm:"type:uuid;primary_key;" json:"id"`
	InstanceID   uuid.UUID         `gorm:"type:uuid;index;not null;uniqueIndex:idx_instance_task" json:"instance_id"`
	TaskID       uuid.UUID         `gorm:"type:uuid;not null;uniqueIndex:idx_instance_task" json:"task_id"`
	Status       ExecutionStatus   `gorm:"type:varchar(20);index;default:'PENDING'" json:"status"`
	ScheduledFor time.Time         `gorm:"index;not null" json:"scheduled_for"`
	StartedAt    *time.Time        `json:"started_at,omitempty"`
	CompletedAt  *time.Time        `json:"completed_at,omitempty"`
	Result       datatypes.JSONMap `gorm:"type:jsonb" json:"result,omitempty"`
	ErrorMessage string            `gorm:"type:text" json:"error_message,omitempty"`
	AgentUsed    string            `gorm:"type:varchar(100)" json:"agent_used,omitempty"`

	HITLApprovedBy *string    `gorm:"column:hitl_approved_by;type:varchar(100)" json:"hitl_approved_by,omitempty"`
	HITLApprovedAt *time.Time `gorm:"column:hitl_approved_at" json:"hitl_approved_at,omitempty"`
	HITLNotes      *string    `gorm:"column:hitl_notes;type:text" json:"hitl_notes,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (TaskExecution) TableName() string { return "task_executions" }

func NewTaskExecution(instanceID, taskID uuid.UUID, scheduledFor, now time.Time) TaskExecution {
	return TaskExecution{
		ID:           uuid.New(),
		InstanceID:   instanceID,
		TaskID:       taskID,
		Status:       StatusPending,
		ScheduledFor: scheduledFor,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

func (e *TaskExecution) IsDue(now time.Time) bool {
	return !now.Before(e.ScheduledFor)
}

// ExecutionUpdate carries the fields written alongside a status transition.
// Nil fields are left untouched.
type ExecutionUpdate struct {
	Status         ExecutionStatus
	StartedAt      *time.Time
	CompletedAt    *time.Time
	Result         datatypes.JSONMap
	ErrorMessage   *string
	AgentUsed      *string
	HITLApprovedBy *string
	HITLApprovedAt *time.Time
	HITLNotes      *string
}

// Apply copies the update onto an in-memory execution.
func (u ExecutionUpdate) Apply(e *TaskExecution, now time.Time) {
	e.Status = u.Status
	e.UpdatedAt = now
	if u.StartedAt != nil {
		e.StartedAt = u.StartedAt
	}
	if u.CompletedAt != nil {
		e.CompletedAt = u.CompletedAt
	}
	if u.Result != nil {
		e.Result = u.Result
	}
	if u.ErrorMessage != nil {
		e.ErrorMessage = *u.ErrorMessage
	}
	if u.AgentUsed != nil {
		e.AgentUsed = *u.AgentUsed
	}
	if u.HITLApprovedBy != nil {
		e.HITLApprovedBy = u.HITLApprovedBy
	}
	if u.HITLApprovedAt != nil {
		e.HITLApprovedAt = u.HITLApprovedAt
	}
	if u.HITLNotes != nil {
		e.HITLNotes = u.HITLNotes
	}
}

// Columns maps the update onto database columns.
func (u ExecutionUpdate) Columns() map[string]interface{} {
	cols := map[string]interface{}{"status": u.Status}
	if u.StartedAt != nil {
		cols["started_at"] = *u.StartedAt
	}
	if u.CompletedAt != nil {
		cols["completed_at"] = *u.CompletedAt
	}
	if u.Result != nil {
		cols["result"] = u.Result
	}
	if u.ErrorMessage != nil {
		cols["error_message"] = *u.ErrorMessage
	}
	if u.AgentUsed != nil {
		cols["agent_used"] = *u.AgentUsed
	}
	if u.HITLApprovedBy != nil {
		cols["hitl_approved_by"] = *u.HITLApprovedBy
	}
	if u.HITLApprovedAt != nil {
		cols["hitl_approved_at"] = *u.HITLApprovedAt
	}
	if u.HITLNotes != nil {
		cols["hitl_notes"] = *u.HITLNotes
	}
	return cols
}
