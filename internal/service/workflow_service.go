package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go-flowgate/internal/api/dto"
	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/engine"
	"go-flowgate/internal/rules"

	"github.com/google/uuid"
)

// ErrInvalidTemplate is returned when a template definition does not hold together.
var ErrInvalidTemplate = errors.New("invalid workflow template")

// WorkflowEngine is the part of the engine the service drives.
type WorkflowEngine interface {
	StartWorkflowInstance(ctx context.Context, userID string, templateID uuid.UUID, sc engine.StartContext) (uuid.UUID, error)
	ProcessTaskExecution(ctx context.Context, executionID uuid.UUID) error
	ApproveHITLGate(ctx context.Context, executionID uuid.UUID, userID, notes string) error
	RejectHITLGate(ctx context.Context, executionID uuid.UUID, userID, notes string) error
	CancelWorkflowInstance(ctx context.Context, instanceID uuid.UUID) error
}

type WorkflowService interface {
	RegisterTemplate(ctx context.Context, req dto.CreateTemplateRequest) (*domain.WorkflowTemplate, error)
	GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error)
	StartInstance(ctx context.Context, req dto.StartInstanceRequest) (uuid.UUID, error)
	GetInstance(ctx context.Context, id uuid.UUID) (*dto.InstanceView, error)
	CancelInstance(ctx context.Context, id uuid.UUID) error
	ProcessExecution(ctx context.Context, id uuid.UUID) error
	ApproveExecution(ctx context.Context, id uuid.UUID, req dto.GateDecisionRequest) error
	RejectExecution(ctx context.Context, id uuid.UUID, req dto.GateDecisionRequest) error
	Stats(ctx context.Context, userID string) (domain.WorkflowStats, error)
	OpenNotifications(ctx context.Context, userID string) ([]domain.HITLNotification, error)
}

// The Implementation
type workflowService struct {
	store     ports.Store
	engine    WorkflowEngine
	evaluator *rules.Evaluator
	now       func() time.Time
}

// Constructor
func NewWorkflowService(store ports.Store, eng WorkflowEngine, evaluator *rules.Evaluator) WorkflowService {
	if evaluator == nil {
		evaluator = rules.NewEvaluator()
	}
	return &workflowService{
		store:     store,
		engine:    eng,
		evaluator: evaluator,
		now:       time.Now,
	}
}

func (s *workflowService) RegisterTemplate(ctx context.Context, req dto.CreateTemplateRequest) (*domain.WorkflowTemplate, error) {
	now := s.now()
	tmpl := &domain.WorkflowTemplate{
		ID:        uuid.New(),
		UserID:    req.UserID,
		Name:      req.Name,
		Industry:  req.Industry,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// 1. Assign ids so parents can be resolved by ref
	ids := make(map[string]uuid.UUID, len(req.Tasks))
	for _, t := range req.Tasks {
		if _, dup := ids[t.RefID]; dup {
			return nil, fmt.Errorf("%w: duplicate ref_id %q", ErrInvalidTemplate, t.RefID)
		}
		ids[t.RefID] = uuid.New()
	}

	// 2. Convert TaskDTOs -> Task entities
	for i, t := range req.Tasks {
		task, err := s.toTask(tmpl.ID, ids, i, t)
		if err != nil {
			return nil, err
		}
		tmpl.Tasks = append(tmpl.Tasks, task)
	}

	// Parents must come first, which also rules out cycles.
	order := make(map[uuid.UUID]int, len(tmpl.Tasks))
	for _, task := range tmpl.Tasks {
		order[task.ID] = task.DisplayOrder
	}
	for _, task := range tmpl.Tasks {
		if task.ParentTaskID != nil && order[*task.ParentTaskID] >= task.DisplayOrder {
			return nil, fmt.Errorf("%w: task %q is ordered before its parent", ErrInvalidTemplate, task.Name)
		}
	}

	if err := s.store.SaveTemplate(ctx, tmpl); err != nil {
		return nil, fmt.Errorf("save template: %w", err)
	}
	return tmpl, nil
}

func (s *workflowService) toTask(templateID uuid.UUID, ids map[string]uuid.UUID, index int, t dto.TaskDTO) (domain.Task, error) {
	unit := t.DelayUnit
	switch unit {
	case "":
		unit = domain.DelayMinutes
	case domain.DelayMinutes, domain.DelayHours, domain.DelayDays:
	default:
		return domain.Task{}, fmt.Errorf("%w: task %q has unknown delay unit %q", ErrInvalidTemplate, t.RefID, t.DelayUnit)
	}

	order := t.DisplayOrder
	if order == 0 {
		order = index + 1
	}

	task := domain.Task{
		ID:                ids[t.RefID],
		TemplateID:        templateID,
		Name:              t.Name,
		Description:       t.Description,
		TaskType:          t.TaskType,
		DisplayOrder:      order,
		DelayValue:        t.DelayValue,
		DelayUnit:         unit,
		IsHITL:            t.IsHITL,
		BranchCondition:   t.BranchCondition,
		ActionConfig:      t.ActionConfig,
		AssignedAgentType: t.AssignedAgentType,
	}

	if t.ParentRef != "" {
		parentID, ok := ids[t.ParentRef]
		if !ok || t.ParentRef == t.RefID {
			return domain.Task{}, fmt.Errorf("%w: task %q has unknown parent %q", ErrInvalidTemplate, t.RefID, t.ParentRef)
		}
		task.ParentTaskID = &parentID
	}

	if err := s.evaluator.Validate(t.BranchCondition); err != nil {
		return domain.Task{}, fmt.Errorf("%w: task %q: %w", ErrInvalidTemplate, t.RefID, err)
	}
	return task, nil
}

func (s *workflowService) GetTemplate(ctx context.Context, id uuid.UUID) (*domain.WorkflowTemplate, error) {
	tmpl, err := s.store.GetTemplate(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrTemplateNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	tmpl.Tasks = tmpl.OrderedTasks()
	return tmpl, nil
}

func (s *workflowService) StartInstance(ctx context.Context, req dto.StartInstanceRequest) (uuid.UUID, error) {
	return s.engine.StartWorkflowInstance(ctx, req.UserID, req.TemplateID, engine.StartContext{
		LeadID:      req.LeadID,
		DealID:      req.DealID,
		TriggerType: req.TriggerType,
		Metadata:    req.Metadata,
	})
}

func (s *workflowService) GetInstance(ctx context.Context, id uuid.UUID) (*dto.InstanceView, error) {
	inst, err := s.store.GetInstance(ctx, id)
	if errors.Is(err, ports.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", engine.ErrInstanceNotFound, id)
	}
	if err != nil {
		return nil, err
	}

	execs, err := s.store.ListExecutions(ctx, id)
	if err != nil {
		return nil, err
	}

	tmpl, err := s.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil && !errors.Is(err, ports.ErrNotFound) {
		return nil, err
	}

	view := &dto.InstanceView{Instance: *inst, Executions: make([]dto.ExecutionView, 0, len(execs))}
	order := make(map[uuid.UUID]int, len(execs))
	for _, e := range execs {
		ev := dto.ExecutionView{TaskExecution: e}
		if tmpl != nil {
			if task, ok := tmpl.FindTask(e.TaskID); ok {
				ev.TaskName = task.Name
				ev.TaskType = task.TaskType
				ev.IsHITL = task.IsHITL
				order[e.ID] = task.DisplayOrder
			}
		}
		view.Executions = append(view.Executions, ev)
	}

	// Display order; executions come back by schedule and ties are common.
	sort.SliceStable(view.Executions, func(i, j int) bool {
		return order[view.Executions[i].ID] < order[view.Executions[j].ID]
	})
	return view, nil
}

func (s *workflowService) CancelInstance(ctx context.Context, id uuid.UUID) error {
	return s.engine.CancelWorkflowInstance(ctx, id)
}

func (s *workflowService) ProcessExecution(ctx context.Context, id uuid.UUID) error {
	return s.engine.ProcessTaskExecution(ctx, id)
}

func (s *workflowService) ApproveExecution(ctx context.Context, id uuid.UUID, req dto.GateDecisionRequest) error {
	return s.engine.ApproveHITLGate(ctx, id, req.UserID, req.Notes)
}

func (s *workflowService) RejectExecution(ctx context.Context, id uuid.UUID, req dto.GateDecisionRequest) error {
	return s.engine.RejectHITLGate(ctx, id, req.UserID, req.Notes)
}

func (s *workflowService) Stats(ctx context.Context, userID string) (domain.WorkflowStats, error) {
	var stats domain.WorkflowStats
	var err error

	if stats.TotalWorkflows, err = s.store.CountTemplates(ctx, userID); err != nil {
		return stats, err
	}
	if stats.ActiveInstances, err = s.store.CountInstances(ctx, userID, domain.InstanceActive); err != nil {
		return stats, err
	}
	if stats.CompletedInstances, err = s.store.CountInstances(ctx, userID, domain.InstanceCompleted); err != nil {
		return stats, err
	}
	if stats.PendingApprovals, err = s.store.CountExecutionsForUser(ctx, userID, domain.StatusAwaitingHITL); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *workflowService) OpenNotifications(ctx context.Context, userID string) ([]domain.HITLNotification, error) {
	return s.store.ListOpenNotifications(ctx, userID)
}
