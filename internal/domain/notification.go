package domain

import (
	"time"

	"github.com/google/uuid"
)

type NotificationStatus string

const (
	NotificationOpen     NotificationStatus = "OPEN"
	NotificationApproved NotificationStatus = "APPROVED"
	NotificationRejected NotificationStatus = "REJECTED"
)

const UrgencyHigh = "HIGH"

// HITLNotification asks a human to review a gated task.
type HITLNotification struct {
	ID              uuid.UUID          `gorm:"type:uuid;primary_key;" json:"id"`
	UserID          string             `gorm:"type:varchar(100);index;not null" json:"user_id"`
	InstanceID      uuid.UUID          `gorm:"type:uuid;index;not null" json:"instance_id"`
	ExecutionID     uuid.UUID          `gorm:"type:uuid;index;not null" json:"execution_id"`
	TaskID          uuid.UUID          `gorm:"type:uuid;not null" json:"task_id"`
	TaskName        string             `gorm:"type:varchar(200)" json:"task_name"`
	TaskDescription string             `gorm:"type:text" json:"task_description,omitempty"`
	AgentType       string             `gorm:"type:varchar(100)" json:"agent_type,omitempty"`
	WorkflowName    string             `gorm:"type:varchar(200)" json:"workflow_name"`
	LeadID          *string            `gorm:"type:varchar(100)" json:"lead_id,omitempty"`
	DealID          *string            `gorm:"type:varchar(100)" json:"deal_id,omitempty"`
	Urgency         string             `gorm:"type:varchar(20);default:'HIGH'" json:"urgency"`
	Status          NotificationStatus `gorm:"type:varchar(20);index;default:'OPEN'" json:"status"`
	ResolvedBy      *string            `gorm:"type:varchar(100)" json:"resolved_by,omitempty"`
	ResolvedAt      *time.Time         `json:"resolved_at,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (HITLNotification) TableName() string { return "hitl_notifications" }

func NewHITLNotification(inst *WorkflowInstance, tmpl *WorkflowTemplate, task *Task, exec *TaskExecution, now time.Time) *HITLNotification {
	return &HITLNotification{
		ID:              uuid.New(),
		UserID:          inst.UserID,
		InstanceID:      inst.ID,
		ExecutionID:     exec.ID,
		TaskID:          task.ID,
		TaskName:        task.Name,
		TaskDescription: task.Description,
		AgentType:       task.AssignedAgentType,
		WorkflowName:    tmpl.Name,
		LeadID:          inst.LeadID,
		DealID:          inst.DealID,
		Urgency:         UrgencyHigh,
		Status:          NotificationOpen,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}
