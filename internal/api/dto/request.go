package dto

import (
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

// TaskDTO describes one template task. Tasks refer to their parent by RefID
// since ids are assigned on registration.
type TaskDTO struct {
	RefID             string                  `json:"ref_id" binding:"required"`
	Name              string                  `json:"name" binding:"required"`
	Description       string                  `json:"description"`
	TaskType          string                  `json:"task_type" binding:"required"`
	DisplayOrder      int                     `json:"display_order"`
	DelayValue        int                     `json:"delay_value" binding:"min=0"`
	DelayUnit         domain.DelayUnit        `json:"delay_unit"`
	IsHITL            bool                    `json:"is_hitl"`
	ParentRef         string                  `json:"parent_ref"`
	BranchCondition   *domain.BranchCondition `json:"branch_condition"`
	ActionConfig      domain.ActionConfig     `json:"action_config"`
	AssignedAgentType string                  `json:"assigned_agent_type"`
}

type CreateTemplateRequest struct {
	UserID   string    `json:"user_id" binding:"required"`
	Name     string    `json:"name" binding:"required"`
	Industry string    `json:"industry" binding:"required"`
	Tasks    []TaskDTO `json:"tasks" binding:"required,min=1,dive"`
}

type StartInstanceRequest struct {
	UserID      string         `json:"user_id" binding:"required"`
	TemplateID  uuid.UUID      `json:"template_id" binding:"required"`
	LeadID      *string        `json:"lead_id"`
	DealID      *string        `json:"deal_id"`
	TriggerType string         `json:"trigger_type"`
	Metadata    map[string]any `json:"metadata"`
}

type GateDecisionRequest struct {
	UserID string `json:"user_id" binding:"required"`
	Notes  string `json:"notes"`
}
