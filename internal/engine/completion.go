package engine

import (
	"context"
	"errors"
	"fmt"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

// checkCompletion marks the instance COMPLETED once every execution is
// COMPLETED or SKIPPED. Concurrent callers race on the instance CAS; losers
// return nil.
func (e *Engine) checkCompletion(ctx context.Context, instanceID uuid.UUID) error {
	execs, err := e.store.ListExecutions(ctx, instanceID)
	if err != nil {
		return fmt.Errorf("list executions: %w", err)
	}

	for _, exec := range execs {
		if !exec.Status.IsResolved() {
			return nil
		}
	}

	at := e.now()
	err = e.store.TransitionInstance(ctx, instanceID, domain.InstanceActive, domain.InstanceCompleted, &at)
	if errors.Is(err, ports.ErrConflict) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("complete instance %s: %w", instanceID, err)
	}

	e.metrics.recordFinished(domain.InstanceCompleted)
	e.publish(ctx, domain.WorkflowEvent{
		Type:       domain.EventInstanceCompleted,
		InstanceID: instanceID,
		OccurredAt: at,
	})
	e.logger.Info("workflow instance completed", "instance_id", instanceID)
	return nil
}

// CancelWorkflowInstance moves an ACTIVE instance to CANCELLED. Pending
// executions then become no-ops; an action already running is not interrupted.
func (e *Engine) CancelWorkflowInstance(ctx context.Context, instanceID uuid.UUID) error {
	at := e.now()
	err := e.store.TransitionInstance(ctx, instanceID, domain.InstanceActive, domain.InstanceCancelled, nil)
	if errors.Is(err, ports.ErrConflict) {
		if _, lerr := e.loadInstance(ctx, instanceID); lerr != nil {
			return lerr
		}
		return fmt.Errorf("%w: %s", ErrInstanceNotActive, instanceID)
	}
	if err != nil {
		return fmt.Errorf("cancel instance %s: %w", instanceID, err)
	}

	e.metrics.recordFinished(domain.InstanceCancelled)
	e.publish(ctx, domain.WorkflowEvent{
		Type:       domain.EventInstanceCancelled,
		InstanceID: instanceID,
		OccurredAt: at,
	})
	e.logger.Info("workflow instance cancelled", "instance_id", instanceID)
	return nil
}
