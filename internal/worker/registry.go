package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"
)

// TaskHandler is the blueprint for any function that does work
type TaskHandler func(ctx context.Context, cfg domain.ActionConfig, actx domain.ActionContext) (map[string]any, error)

// TaskRegistry dispatches actions by task type. Types without a handler go to
// the fallback runner when one is set.
type TaskRegistry struct {
	mu       sync.RWMutex
	handlers map[string]TaskHandler
	fallback ports.ActionRunner
}

var _ ports.ActionRunner = (*TaskRegistry)(nil)

func NewRegistry(fallback ports.ActionRunner) *TaskRegistry {
	return &TaskRegistry{
		handlers: make(map[string]TaskHandler),
		fallback: fallback,
	}
}

func (r *TaskRegistry) Register(taskType string, h TaskHandler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

func (r *TaskRegistry) ExecuteTask(ctx context.Context, taskType string, cfg domain.ActionConfig, actx domain.ActionContext) (domain.ActionResult, error) {
	r.mu.RLock()
	handler, exists := r.handlers[taskType]
	r.mu.RUnlock()

	if !exists {
		if r.fallback != nil {
			return r.fallback.ExecuteTask(ctx, taskType, cfg, actx)
		}
		return domain.ActionResult{Success: false, Error: fmt.Sprintf("unknown action: %s", taskType)}, nil
	}

	out, err := handler(ctx, cfg, actx)
	if err != nil {
		return domain.ActionResult{Success: false, Error: err.Error()}, nil
	}
	return domain.ActionResult{Success: true, Result: out}, nil
}

// InitRegistry wires up the handlers that need no outside system.
func InitRegistry(logger *slog.Logger, fallback ports.ActionRunner) *TaskRegistry {
	registry := NewRegistry(fallback)

	registry.Register("noop", func(ctx context.Context, cfg domain.ActionConfig, actx domain.ActionContext) (map[string]any, error) {
		return map[string]any{"status": "ok"}, nil
	})

	registry.Register("log_activity", func(ctx context.Context, cfg domain.ActionConfig, actx domain.ActionContext) (map[string]any, error) {
		logger.Info("workflow activity",
			"instance_id", actx.InstanceID,
			"task", actx.TaskName,
			"actions", cfg.Actions,
			"lead_id", actx.LeadID)
		return map[string]any{"logged": true, "actions": len(cfg.Actions)}, nil
	})

	// Copies the requested fields from the parent result, so later branch
	// conditions can test them under this task's result.
	registry.Register("collect_fields", func(ctx context.Context, cfg domain.ActionConfig, actx domain.ActionContext) (map[string]any, error) {
		out := make(map[string]any, len(cfg.Fields))
		for _, f := range cfg.Fields {
			v, ok := actx.ParentResult[f]
			if !ok {
				v, ok = actx.Metadata[f]
			}
			if ok {
				out[f] = v
			}
		}
		return out, nil
	})

	return registry
}
