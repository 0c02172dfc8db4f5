package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ApproveHITLGate releases an AWAITING_HITL execution: it records the
// approval, resolves the notification and runs the task's action straight
// away. The action is not run when the instance has left ACTIVE meanwhile.
//
// When the action cannot be run after the approval was recorded, the
// execution stays APPROVED and is put back on the due queue;
// ProcessTaskExecution picks it up from there.
func (e *Engine) ApproveHITLGate(ctx context.Context, executionID uuid.UUID, userID, notes string) error {
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusAwaitingHITL {
		return fmt.Errorf("%w: execution %s is %s", ErrInvalidGateState, exec.ID, exec.Status)
	}

	at := e.now()
	err = e.transition(ctx, exec, domain.StatusAwaitingHITL, decision(domain.StatusApproved, userID, notes, at))
	if errors.Is(err, ports.ErrConflict) {
		return fmt.Errorf("%w: execution %s was resolved concurrently", ErrInvalidGateState, exec.ID)
	}
	if err != nil {
		return fmt.Errorf("approve execution %s: %w", exec.ID, err)
	}

	e.resolveNotifications(ctx, exec.ID, domain.NotificationApproved, userID, at)
	e.logger.Info("hitl gate approved", "execution_id", exec.ID, "approved_by", userID)

	if err := e.releaseApproved(ctx, exec); err != nil {
		e.enqueue(ctx, exec, at.Add(e.deferRetry))
		return err
	}
	return nil
}

// releaseApproved runs the action of an APPROVED execution and checks
// completion.
func (e *Engine) releaseApproved(ctx context.Context, exec *domain.TaskExecution) error {
	inst, err := e.loadInstance(ctx, exec.InstanceID)
	if err != nil {
		return err
	}
	if inst.IsFinished() {
		e.logger.Warn("instance no longer active, not running approved task",
			"execution_id", exec.ID,
			"instance_status", inst.Status)
		return nil
	}

	tmpl, task, err := e.loadTask(ctx, inst, exec)
	if err != nil {
		return err
	}

	_, parentResult, err := e.gateReadiness(ctx, inst, tmpl, task)
	if err != nil {
		return err
	}

	if err := e.runAction(ctx, inst, task, exec, domain.StatusApproved, parentResult); err != nil {
		return err
	}
	return e.checkCompletion(ctx, inst.ID)
}

// resumeApproved picks up an approval that never got as far as running the
// action. Approvals younger than the defer interval may still be running
// and are left alone.
func (e *Engine) resumeApproved(ctx context.Context, exec *domain.TaskExecution) error {
	if exec.HITLApprovedAt != nil && e.now().Sub(*exec.HITLApprovedAt) < e.deferRetry {
		e.logger.Debug("approval still in flight, skipping",
			"execution_id", exec.ID,
			"approved_at", *exec.HITLApprovedAt)
		return nil
	}

	e.logger.Info("resuming approved execution", "execution_id", exec.ID)
	return e.releaseApproved(ctx, exec)
}

// resolveNotifications closes the execution's open notifications. The
// execution status is authoritative, so a failure here is only logged.
func (e *Engine) resolveNotifications(ctx context.Context, executionID uuid.UUID, status domain.NotificationStatus, by string, at time.Time) {
	if err := e.store.ResolveNotifications(ctx, executionID, status, by, at); err != nil {
		e.logger.Error("failed to resolve hitl notifications",
			"execution_id", executionID,
			"status", status,
			"error", err)
	}
}

// RejectHITLGate closes an AWAITING_HITL execution as SKIPPED without
// running its action.
func (e *Engine) RejectHITLGate(ctx context.Context, executionID uuid.UUID, userID, notes string) error {
	exec, err := e.loadExecution(ctx, executionID)
	if err != nil {
		return err
	}
	if exec.Status != domain.StatusAwaitingHITL {
		return fmt.Errorf("%w: execution %s is %s", ErrInvalidGateState, exec.ID, exec.Status)
	}

	at := e.now()
	upd := decision(domain.StatusSkipped, userID, notes, at)
	upd.CompletedAt = &at
	upd.Result = datatypes.JSONMap{"hitlDecision": "rejected"}

	err = e.transition(ctx, exec, domain.StatusAwaitingHITL, upd)
	if errors.Is(err, ports.ErrConflict) {
		return fmt.Errorf("%w: execution %s was resolved concurrently", ErrInvalidGateState, exec.ID)
	}
	if err != nil {
		return fmt.Errorf("reject execution %s: %w", exec.ID, err)
	}

	e.resolveNotifications(ctx, exec.ID, domain.NotificationRejected, userID, at)
	e.logger.Info("hitl gate rejected", "execution_id", exec.ID, "rejected_by", userID)

	return e.checkCompletion(ctx, exec.InstanceID)
}

func decision(status domain.ExecutionStatus, userID, notes string, at time.Time) domain.ExecutionUpdate {
	by := userID
	upd := domain.ExecutionUpdate{
		Status:         status,
		HITLApprovedBy: &by,
		HITLApprovedAt: &at,
	}
	if notes != "" {
		n := notes
		upd.HITLNotes = &n
	}
	return upd
}
