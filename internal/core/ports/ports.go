package ports

import (
	"context"
	"errors"
	"time"

	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by repositories when a record does not exist.
	ErrNotFound = errors.New("record not found")

	// ErrConflict is returned when a conditional update matched no row,
	// i.e. someone else moved the record first.
	ErrConflict = errors.New("conditional update lost")
)

// TemplateRepository stores workflow templates. The engine only reads them.
type TemplateRepository interface {
	SaveTemplate(ctx context.Context, tmpl *domain.WorkflowTemplate) error

	// GetTemplate loads a template with its tasks.
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error)

	CountTemplates(ctx context.Context, userID string) (int64, error)
}

// InstanceRepository stores running workflow instances.
type InstanceRepository interface {
	// CreateInstance persists the instance with all of its task executions in one transaction.
	CreateInstance(ctx context.Context, inst *domain.WorkflowInstance, execs []domain.TaskExecution) error

	GetInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error)

	// TransitionInstance sets a new status only while the instance is still in `from`.
	// Returns ErrConflict otherwise.
	TransitionInstance(ctx context.Context, id uuid.UUID, from, to domain.InstanceStatus, completedAt *time.Time) error

	CountInstances(ctx context.Context, userID string, status domain.InstanceStatus) (int64, error)
}

// ExecutionRepository stores task executions.
type ExecutionRepository interface {
	GetExecution(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error)

	// FindExecution is the find-first lookup of a task's execution inside an instance.
	FindExecution(ctx context.Context, instanceID, taskID uuid.UUID) (*domain.TaskExecution, error)

	ListExecutions(ctx context.Context, instanceID uuid.UUID) ([]domain.TaskExecution, error)

	// FindDue returns PENDING executions of ACTIVE instances scheduled at or before now,
	// earliest first.
	FindDue(ctx context.Context, now time.Time, limit int) ([]domain.TaskExecution, error)

	// TransitionExecution is the compare-and-swap on execution status:
	// "UPDATE ... WHERE id = ? AND status = from". Returns ErrConflict when no row matched.
	TransitionExecution(ctx context.Context, id uuid.UUID, from domain.ExecutionStatus, upd domain.ExecutionUpdate) error

	CountExecutionsForUser(ctx context.Context, userID string, status domain.ExecutionStatus) (int64, error)
}

// NotificationRepository stores HITL approval requests.
type NotificationRepository interface {
	CreateNotification(ctx context.Context, n *domain.HITLNotification) error

	// ResolveNotifications closes every open notification of an execution.
	ResolveNotifications(ctx context.Context, executionID uuid.UUID, status domain.NotificationStatus, resolvedBy string, at time.Time) error

	ListOpenNotifications(ctx context.Context, userID string) ([]domain.HITLNotification, error)
}

// Store is the persistent store the engine coordinates through.
type Store interface {
	TemplateRepository
	InstanceRepository
	ExecutionRepository
	NotificationRepository
}

// ActionRunner performs the business action behind a task type.
type ActionRunner interface {
	ExecuteTask(ctx context.Context, taskType string, cfg domain.ActionConfig, actx domain.ActionContext) (domain.ActionResult, error)
}

// NotificationSink delivers a HITL request to a human (email, SMS, pub/sub...).
type NotificationSink interface {
	Deliver(ctx context.Context, n domain.HITLNotification) error
}

// EventBus broadcasts instance and task state changes.
type EventBus interface {
	Publish(ctx context.Context, event domain.WorkflowEvent) error
}

// DueQueue is a time-ordered queue of executions waiting for their schedule.
type DueQueue interface {
	Schedule(ctx context.Context, executionID uuid.UUID, at time.Time) error
	DueSource
}

// DueSource yields executions whose scheduled time has arrived.
type DueSource interface {
	Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}
