package engine

import (
	"context"
	"errors"
	"fmt"
	"maps"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/google/uuid"
)

// StartContext describes what triggered an instance.
type StartContext struct {
	LeadID      *string
	DealID      *string
	TriggerType string
	Metadata    map[string]any
}

// StartWorkflowInstance creates an ACTIVE instance of the template with one
// PENDING execution per task, then processes the first task inline so a
// zero-delay first step runs before the call returns.
func (e *Engine) StartWorkflowInstance(ctx context.Context, userID string, templateID uuid.UUID, sc StartContext) (uuid.UUID, error) {
	tmpl, err := e.store.GetTemplate(ctx, templateID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return uuid.Nil, fmt.Errorf("%w: %s", ErrTemplateNotFound, templateID)
		}
		return uuid.Nil, fmt.Errorf("load template %s: %w", templateID, err)
	}

	now := e.now()
	inst := domain.NewWorkflowInstance(userID, tmpl, now)
	inst.LeadID = sc.LeadID
	inst.DealID = sc.DealID
	inst.TriggerType = sc.TriggerType
	inst.Metadata = maps.Clone(sc.Metadata)

	schedule := ComputeSchedule(tmpl.Tasks, now)
	ordered := tmpl.OrderedTasks()
	execs := make([]domain.TaskExecution, 0, len(ordered))
	for _, task := range ordered {
		execs = append(execs, domain.NewTaskExecution(inst.ID, task.ID, schedule[task.ID], now))
	}

	if err := e.store.CreateInstance(ctx, inst, execs); err != nil {
		return uuid.Nil, fmt.Errorf("create instance: %w", err)
	}

	e.metrics.recordStarted()
	e.publish(ctx, domain.WorkflowEvent{
		Type:       domain.EventInstanceStarted,
		InstanceID: inst.ID,
		OccurredAt: now,
	})
	e.logger.Info("workflow instance started",
		"instance_id", inst.ID,
		"template_id", tmpl.ID,
		"user_id", userID,
		"tasks", len(execs))

	for i := range execs {
		e.enqueue(ctx, &execs[i], execs[i].ScheduledFor)
	}

	if len(execs) == 0 {
		if err := e.checkCompletion(ctx, inst.ID); err != nil {
			return inst.ID, err
		}
		return inst.ID, nil
	}

	if err := e.ProcessTaskExecution(ctx, execs[0].ID); err != nil {
		return inst.ID, fmt.Errorf("process first task: %w", err)
	}

	return inst.ID, nil
}
