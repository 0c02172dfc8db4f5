package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	skipReasonCondition    = "branch_condition_not_met"
	skipReasonParentFailed = "parent_failed"
)

// readiness of the task gating an execution
type readiness int

const (
	notReady readiness = iota
	ready
	parentFailed
)

// ProcessTaskExecution advances one due execution. It returns nil without
// touching anything when the execution is not PENDING, not due yet, belongs
// to an instance that is no longer ACTIVE, or waits on a gating task that has
// not finished. An APPROVED execution whose approval stalled before its
// action ran is resumed. Only configuration and store errors are returned;
// action failures are recorded on the execution.
func (e *Engine) ProcessTaskExecution(ctx context.Context, executionID uuid.UUID) error {
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return err
	}

	if exec.Status == domain.StatusApproved {
		return e.resumeApproved(ctx, exec)
	}
	if exec.Status != domain.StatusPending {
		e.logger.Debug("execution not pending, skipping",
			"execution_id", exec.ID,
			"status", exec.Status)
		return nil
	}

	now := e.now()
	if !exec.IsDue(now) {
		e.logger.Debug("execution not due yet",
			"execution_id", exec.ID,
			"scheduled_for", exec.ScheduledFor)
		return nil
	}

	inst, err := e.loadInstance(ctx, exec.InstanceID)
	if err != nil {
		return err
	}
	if inst.IsFinished() {
		e.logger.Debug("instance not active, skipping execution",
			"execution_id", exec.ID,
			"instance_status", inst.Status)
		return nil
	}

	tmpl, task, err := e.loadTask(ctx, inst, exec)
	if err != nil {
		return err
	}

	state, parentResult, err := e.gateReadiness(ctx, inst, tmpl, task)
	if err != nil {
		return err
	}
	if state == notReady {
		e.logger.Debug("gating task not finished, deferring",
			"execution_id", exec.ID,
			"task", task.Name)
		e.enqueue(ctx, exec, now.Add(e.deferRetry))
		return nil
	}

	if task.BranchCondition != nil {
		if err := e.evaluator.Validate(task.BranchCondition); err != nil {
			return fmt.Errorf("%w: task %s: %w", ErrInvalidBranchOperator, task.ID, err)
		}
	}

	// Claim. Losing the CAS means another trigger got here first.
	started := now
	err = e.transition(ctx, exec, domain.StatusPending, domain.ExecutionUpdate{
		Status:    domain.StatusInProgress,
		StartedAt: &started,
	})
	if errors.Is(err, ports.ErrConflict) {
		e.logger.Debug("execution already claimed", "execution_id", exec.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("claim execution %s: %w", exec.ID, err)
	}

	switch {
	case state == parentFailed:
		err = e.skip(ctx, exec, skipReasonParentFailed)
	case task.BranchCondition != nil && !e.evaluator.Evaluate(task.BranchCondition, parentResult):
		err = e.skip(ctx, exec, skipReasonCondition)
	case task.IsHITL:
		return e.requestApproval(ctx, inst, tmpl, task, exec)
	default:
		err = e.runAction(ctx, inst, task, exec, domain.StatusInProgress, parentResult)
	}
	if err != nil {
		return err
	}

	return e.checkCompletion(ctx, inst.ID)
}

// gateReadiness looks at the execution of the task gating this one. A SKIPPED
// gate is ready with no result, so conditions against it are not met.
func (e *Engine) gateReadiness(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, task *domain.Task) (readiness, datatypes.JSONMap, error) {
	gate, ok := tmpl.GatingTask(task)
	if !ok {
		if task.ParentTaskID != nil {
			return notReady, nil, fmt.Errorf("%w: parent %s of task %s", ErrTaskNotFound, *task.ParentTaskID, task.ID)
		}
		return ready, nil, nil
	}

	parent, err := e.store.FindExecution(ctx, inst.ID, gate.ID)
	if errors.Is(err, ports.ErrNotFound) {
		return notReady, nil, nil
	}
	if err != nil {
		return notReady, nil, fmt.Errorf("load gating execution: %w", err)
	}

	switch parent.Status {
	case domain.StatusCompleted:
		return ready, parent.Result, nil
	case domain.StatusSkipped:
		return ready, nil, nil
	case domain.StatusFailed:
		if e.failurePolicy == FailureSkipsDependents {
			return parentFailed, nil, nil
		}
		return notReady, nil, nil
	default:
		return notReady, nil, nil
	}
}

func (e *Engine) skip(ctx context.Context, exec *domain.TaskExecution, reason string) error {
	done := e.now()
	err := e.transition(ctx, exec, domain.StatusInProgress, domain.ExecutionUpdate{
		Status:      domain.StatusSkipped,
		CompletedAt: &done,
		Result:      datatypes.JSONMap{"skipped": true, "reason": reason},
	})
	if err != nil {
		return fmt.Errorf("skip execution %s: %w", exec.ID, err)
	}

	e.logger.Info("task skipped", "execution_id", exec.ID, "reason", reason)
	return nil
}

// requestApproval parks the execution at AWAITING_HITL and raises one
// notification for it. Delivery problems do not undo the gate.
func (e *Engine) requestApproval(ctx context.Context, inst *domain.WorkflowInstance, tmpl *domain.WorkflowTemplate, task *domain.Task, exec *domain.TaskExecution) error {
	err := e.transition(ctx, exec, domain.StatusInProgress, domain.ExecutionUpdate{
		Status: domain.StatusAwaitingHITL,
	})
	if err != nil {
		return fmt.Errorf("await approval for execution %s: %w", exec.ID, err)
	}

	n := domain.NewHITLNotification(inst, tmpl, task, exec, e.now())
	if err := e.store.CreateNotification(ctx, n); err != nil {
		return fmt.Errorf("create hitl notification: %w", err)
	}

	e.metrics.recordHITL()
	e.publish(ctx, domain.WorkflowEvent{
		Type:        domain.EventHITLRequested,
		InstanceID:  inst.ID,
		ExecutionID: exec.ID,
		TaskID:      task.ID,
		OccurredAt:  n.CreatedAt,
	})

	if e.sink != nil {
		dctx, cancel := context.WithTimeout(ctx, e.notifyTimeout)
		err := e.sink.Deliver(dctx, *n)
		cancel()
		if err != nil {
			e.logger.Error("failed to deliver hitl notification",
				"notification_id", n.ID,
				"execution_id", exec.ID,
				"error", err)
		}
	}

	e.logger.Info("task awaiting approval",
		"execution_id", exec.ID,
		"task", task.Name,
		"notification_id", n.ID)
	return nil
}

// runAction calls the action runner and records the outcome. from is
// IN_PROGRESS for regular tasks and APPROVED for released HITL gates.
func (e *Engine) runAction(ctx context.Context, inst *domain.WorkflowInstance, task *domain.Task, exec *domain.TaskExecution, from domain.ExecutionStatus, parentResult datatypes.JSONMap) error {
	actx := domain.ActionContext{
		InstanceID:   inst.ID,
		ExecutionID:  exec.ID,
		TaskID:       task.ID,
		TaskName:     task.Name,
		UserID:       inst.UserID,
		Industry:     inst.Industry,
		LeadID:       inst.LeadID,
		DealID:       inst.DealID,
		AgentType:    task.AssignedAgentType,
		Metadata:     maps.Clone(inst.Metadata),
		ParentResult: maps.Clone(parentResult),
	}

	started := e.now()
	res, runErr := e.invoke(ctx, task, actx)
	done := e.now()

	upd := domain.ExecutionUpdate{CompletedAt: &done}
	if task.AssignedAgentType != "" {
		agent := task.AssignedAgentType
		upd.AgentUsed = &agent
	}

	outcome := "success"
	if runErr == nil && res.Success {
		upd.Status = domain.StatusCompleted
		upd.Result = datatypes.JSONMap(res.Result)
		if upd.Result == nil {
			upd.Result = datatypes.JSONMap{}
		}
	} else {
		outcome = "failure"
		msg := res.Error
		if runErr != nil {
			msg = runErr.Error()
		}
		if msg == "" {
			msg = "action reported failure"
		}
		result := datatypes.JSONMap(maps.Clone(res.Result))
		if result == nil {
			result = datatypes.JSONMap{}
		}
		result["error"] = msg
		upd.Status = domain.StatusFailed
		upd.Result = result
		upd.ErrorMessage = &msg
	}
	e.metrics.recordAction(task.TaskType, outcome, done.Sub(started))

	err := e.transition(ctx, exec, from, upd)
	if errors.Is(err, ports.ErrConflict) {
		e.logger.Warn("execution moved while its action ran",
			"execution_id", exec.ID,
			"expected", from)
		return nil
	}
	if err != nil {
		return fmt.Errorf("record action outcome for execution %s: %w", exec.ID, err)
	}

	if upd.Status == domain.StatusFailed {
		e.logger.Warn("task failed",
			"execution_id", exec.ID,
			"task", task.Name,
			"error", *upd.ErrorMessage)
	} else {
		e.logger.Info("task completed", "execution_id", exec.ID, "task", task.Name)
	}
	return nil
}

// invoke runs the action, turning a runner panic into an error.
func (e *Engine) invoke(ctx context.Context, task *domain.Task, actx domain.ActionContext) (res domain.ActionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action runner panicked: %v", r)
		}
	}()
	return e.runner.ExecuteTask(ctx, task.TaskType, task.ActionConfig, actx)
}

func (e *Engine) loadExecution(ctx context.Context, id uuid.UUID) (*domain.TaskExecution, error) {
	exec, err := e.store.GetExecution(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrExecutionNotFound, id)
		}
		return nil, fmt.Errorf("load execution %s: %w", id, err)
	}
	return exec, nil
}

func (e *Engine) loadInstance(ctx context.Context, id uuid.UUID) (*domain.WorkflowInstance, error) {
	inst, err := e.store.GetInstance(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrInstanceNotFound, id)
		}
		return nil, fmt.Errorf("load instance %s: %w", id, err)
	}
	return inst, nil
}

func (e *Engine) loadTask(ctx context.Context, inst *domain.WorkflowInstance, exec *domain.TaskExecution) (*domain.WorkflowTemplate, *domain.Task, error) {
	tmpl, err := e.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return nil, nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, inst.TemplateID)
		}
		return nil, nil, fmt.Errorf("load template %s: %w", inst.TemplateID, err)
	}

	task, ok := tmpl.FindTask(exec.TaskID)
	if !ok {
		return nil, nil, fmt.Errorf("%w: %s", ErrTaskNotFound, exec.TaskID)
	}
	return tmpl, task, nil
}
