package domain

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

type DelayUnit string

const (
	DelayMinutes DelayUnit = "MINUTES"
	DelayHours   DelayUnit = "HOURS"
	DelayDays    DelayUnit = "DAYS"
)

// Duration converts a delay value in this unit. Unknown units count as no delay.
func (u DelayUnit) Duration(value int) time.Duration {
	switch u {
	case DelayMinutes:
		return time.Duration(value) * time.Minute
	case DelayHours:
		return time.Duration(value) * time.Hour
	case DelayDays:
		return time.Duration(value) * 24 * time.Hour
	default:
		return 0
	}
}

type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "ACTIVE"
	InstanceCompleted InstanceStatus = "COMPLETED"
	InstanceFailed    InstanceStatus = "FAILED"
	InstanceCancelled InstanceStatus = "CANCELLED"
)

// BranchCondition gates a task on a field of its parent's result.
type BranchCondition struct {
	Field    string `json:"field"`
	Operator string `json:"operator"`
	Value    any    `json:"value"`
}

// ActionConfig is handed to the action runner untouched by the engine.
type ActionConfig struct {
	Actions  []string       `json:"actions,omitempty"`
	Script   string         `json:"script,omitempty"`
	Template string         `json:"template,omitempty"`
	Fields   []string       `json:"fields,omitempty"`
	Params   map[string]any `json:"params,omitempty"`
}

type WorkflowTemplate struct {
	ID       uuid.UUID `gorm:"type:uuid;primary_key;" json:"id"`
	UserID   string    `gorm:"type:varchar(100);index;not null" json:"user_id"`
	Name     string    `gorm:"type:varchar(200);not null" json:"name"`
	Industry string    `gorm:"type:varchar(50);not null" json:"industry"`

	Tasks []Task `gorm:"foreignKey:TemplateID" json:"tasks"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (WorkflowTemplate) TableName() string { return "workflow_templates" }

// Task is the template-level definition of one step.
type Task struct {
	ID                uuid.UUID        `gorm:"type:uuid;primary_key;" json:"id"`
	TemplateID        uuid.UUID        `gorm:"type:uuid;index;not null" json:"template_id"`
	Name              string           `gorm:"type:varchar(200);not null" json:"name"`
	Description       string           `gorm:"type:text" json:"description,omitempty"`
	TaskType          string           `gorm:"type:varchar(100);not null" json:"task_type"`
	DisplayOrder      int              `gorm:"not null" json:"display_order"`
	DelayValue        int              `gorm:"default:0" json:"delay_value"`
	DelayUnit         DelayUnit        `gorm:"type:varchar(20);default:'MINUTES'" json:"delay_unit"`
	IsHITL            bool             `gorm:"default:false" json:"is_hitl"`
	ParentTaskID      *uuid.UUID       `gorm:"type:uuid" json:"parent_task_id,omitempty"`
	BranchCondition   *BranchCondition `gorm:"type:jsonb;serializer:json" json:"branch_condition,omitempty"`
	ActionConfig      ActionConfig     `gorm:"type:jsonb;serializer:json" json:"action_config"`
	AssignedAgentType string           `gorm:"type:varchar(100)" json:"assigned_agent_type,omitempty"`
}

func (Task) TableName() string { return "workflow_tasks" }

func (t *Task) Delay() time.Duration {
	return t.DelayUnit.Duration(t.DelayValue)
}

type WorkflowInstance struct {
	ID          uuid.UUID         `gorm:"type:uuid;primary_key;" json:"id"`
	TemplateID  uuid.UUID         `gorm:"type:uuid;index;not null" json:"template_id"`
	UserID      string            `gorm:"type:varchar(100);index;not null" json:"user_id"`
	Industry    string            `gorm:"type:varchar(50)" json:"industry"`
	Status      InstanceStatus    `gorm:"type:varchar(20);index;default:'ACTIVE'" json:"status"`
	TriggerType string            `gorm:"type:varchar(50)" json:"trigger_type,omitempty"`
	LeadID      *string           `gorm:"type:varchar(100);index" json:"lead_id,omitempty"`
	DealID      *string           `gorm:"type:varchar(100);index" json:"deal_id,omitempty"`
	Metadata    datatypes.JSONMap `gorm:"type:jsonb" json:"metadata,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func (WorkflowInstance) TableName() string { return "workflow_instances" }

func NewWorkflowInstance(userID string, tmpl *WorkflowTemplate, now time.Time) *WorkflowInstance {
	return &WorkflowInstance{
		ID:         uuid.New(),
		TemplateID: tmpl.ID,
		UserID:     userID,
		Industry:   tmpl.Industry,
		Status:     InstanceActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

func (w *WorkflowInstance) IsFinished() bool {
	return w.Status != InstanceActive
}

// WorkflowStats summarises a tenant's workflow activity.
type WorkflowStats struct {
	TotalWorkflows     int64 `json:"total_workflows"`
	ActiveInstances    int64 `json:"active_instances"`
	CompletedInstances int64 `json:"completed_instances"`
	PendingApprovals   int64 `json:"pending_approvals"`
}
