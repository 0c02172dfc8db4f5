// Package engine drives workflow instances through their task state machine:
// it starts instances from templates, processes due executions, evaluates
// branch conditions, pauses on HITL gates and detects completion.
//
// All coordination goes through the injected ports.Store. The engine keeps no
// state across calls, so any number of engines may serve the same store.
package engine

import (
	"context"
	"log/slog"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/rules"
)

const (
	defaultDeferRetry    = time.Minute
	defaultNotifyTimeout = 10 * time.Second
)

type Engine struct {
	store     ports.Store
	runner    ports.ActionRunner
	sink      ports.NotificationSink
	bus       ports.EventBus
	queue     ports.DueQueue
	evaluator *rules.Evaluator
	metrics   *Metrics
	logger    *slog.Logger
	now       func() time.Time

	failurePolicy FailurePolicy
	deferRetry    time.Duration
	notifyTimeout time.Duration
}

type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithEvaluator(ev *rules.Evaluator) Option {
	return func(e *Engine) { e.evaluator = ev }
}

func WithNotificationSink(sink ports.NotificationSink) Option {
	return func(e *Engine) { e.sink = sink }
}

func WithEventBus(bus ports.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithDueQueue makes the engine enqueue every execution it creates, and
// re-enqueue executions whose gating task is not ready yet.
func WithDueQueue(q ports.DueQueue) Option {
	return func(e *Engine) { e.queue = q }
}

func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

func WithFailurePolicy(p FailurePolicy) Option {
	return func(e *Engine) { e.failurePolicy = p }
}

// WithDeferRetry sets how far out a deferred execution is put back on the due queue.
func WithDeferRetry(d time.Duration) Option {
	return func(e *Engine) { e.deferRetry = d }
}

// WithNotifyTimeout bounds how long processing waits on the notification sink.
func WithNotifyTimeout(d time.Duration) Option {
	return func(e *Engine) {
		if d > 0 {
			e.notifyTimeout = d
		}
	}
}

func New(store ports.Store, runner ports.ActionRunner, opts ...Option) *Engine {
	e := &Engine{
		store:         store,
		runner:        runner,
		evaluator:     rules.NewEvaluator(),
		logger:        slog.Default(),
		now:           time.Now,
		failurePolicy: FailureBlocksDependents,
		deferRetry:    defaultDeferRetry,
		notifyTimeout: defaultNotifyTimeout,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// transition applies a status CAS and reports it.
func (e *Engine) transition(ctx context.Context, exec *domain.TaskExecution, from domain.ExecutionStatus, upd domain.ExecutionUpdate) error {
	if err := e.store.TransitionExecution(ctx, exec.ID, from, upd); err != nil {
		return err
	}

	e.metrics.recordTransition(from, upd.Status)
	e.publish(ctx, domain.WorkflowEvent{
		Type:        domain.EventTaskTransitioned,
		InstanceID:  exec.InstanceID,
		ExecutionID: exec.ID,
		TaskID:      exec.TaskID,
		From:        from,
		To:          upd.Status,
		OccurredAt:  e.now(),
	})
	return nil
}

func (e *Engine) publish(ctx context.Context, event domain.WorkflowEvent) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ctx, event); err != nil {
		e.logger.Warn("failed to publish workflow event",
			"type", event.Type,
			"instance_id", event.InstanceID,
			"error", err)
	}
}

func (e *Engine) enqueue(ctx context.Context, exec *domain.TaskExecution, at time.Time) {
	if e.queue == nil {
		return
	}
	if err := e.queue.Schedule(ctx, exec.ID, at); err != nil {
		e.logger.Warn("failed to enqueue execution",
			"execution_id", exec.ID,
			"scheduled_for", at,
			"error", err)
	}
}
