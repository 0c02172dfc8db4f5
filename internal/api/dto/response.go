package dto

import (
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

type CreateResponse struct {
	ID uuid.UUID `json:"id"`
}

// InstanceView is an instance with the run state of each of its tasks.
type InstanceView struct {
	Instance   domain.WorkflowInstance `json:"instance"`
	Executions []ExecutionView         `json:"executions"`
}

type ExecutionView struct {
	domain.TaskExecution
	TaskName string `json:"task_name"`
	TaskType string `json:"task_type"`
	IsHITL   bool   `json:"is_hitl"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
