package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"
	"go-flowgate/internal/engine"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Processor advances a single due execution.
type Processor interface {
	ProcessTaskExecution(ctx context.Context, executionID uuid.UUID) error
}

type Config struct {
	Interval      time.Duration
	BatchSize     int
	Concurrency   int
	RatePerSecond float64
	// RetryDelay is how far out an id popped from a queue source is put back
	// when it could not be processed.
	RetryDelay time.Duration
}

const requeueTimeout = 5 * time.Second

// backlogReporter is implemented by queue sources that can report their size.
type backlogReporter interface {
	Len(ctx context.Context) (int64, error)
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 15 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = time.Minute
	}
	return c
}

// Coordinator periodically pulls due executions from a DueSource and hands
// them to the engine.
type Coordinator struct {
	source    ports.DueSource
	processor Processor
	config    Config
	limiter   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
}

func NewCoordinator(source ports.DueSource, processor Processor, config Config, logger *slog.Logger) *Coordinator {
	config = config.withDefaults()

	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.RatePerSecond > 0 {
		burst := int(config.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(config.RatePerSecond), burst)
	}

	return &Coordinator{
		source:    source,
		processor: processor,
		config:    config,
		limiter:   limiter,
		logger:    logger,
		now:       time.Now,
	}
}

// Start sweeps on every tick until ctx is done. A terminal task event on
// events, when given, triggers an extra sweep so dependents run without
// waiting for the next tick.
func (c *Coordinator) Start(ctx context.Context, events <-chan domain.WorkflowEvent) {
	c.logger.Info("coordinator started",
		"interval", c.config.Interval,
		"batch_size", c.config.BatchSize,
		"concurrency", c.config.Concurrency)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	c.sweepAndLog(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("coordinator shutting down")
			return

		case <-ticker.C:
			c.sweepAndLog(ctx)

		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if event.Type == domain.EventTaskTransitioned && event.To.IsTerminal() {
				c.sweepAndLog(ctx)
			}
		}
	}
}

func (c *Coordinator) sweepAndLog(ctx context.Context) {
	n, err := c.Sweep(ctx)
	if err != nil && ctx.Err() == nil {
		c.logger.Error("sweep failed", "error", err)
		return
	}
	if n > 0 {
		c.logger.Debug("sweep dispatched executions", "count", n)
	}
	if q, ok := c.source.(backlogReporter); ok {
		if backlog, err := q.Len(ctx); err == nil {
			c.logger.Debug("due queue backlog", "waiting", backlog)
		}
	}
}

// Sweep processes one batch of due executions and returns how many it
// dispatched. Processing errors are logged per execution and do not stop the
// batch. When the source is a queue, ids that were popped but not processed
// are scheduled again RetryDelay from now.
func (c *Coordinator) Sweep(ctx context.Context) (int, error) {
	now := c.now()
	ids, dueErr := c.source.Due(ctx, now, c.config.BatchSize)
	if len(ids) == 0 {
		return 0, dueErr
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.config.Concurrency)

	dispatched := 0
	var waitErr error
	for i, id := range ids {
		if waitErr = c.limiter.Wait(gctx); waitErr != nil {
			c.requeue(ctx, ids[i:], now)
			break
		}
		dispatched++
		g.Go(func() error {
			err := c.processor.ProcessTaskExecution(gctx, id)
			if err == nil {
				return nil
			}
			c.logger.Error("failed to process execution",
				"execution_id", id,
				"error", err)
			if retryable(err) {
				c.requeue(ctx, []uuid.UUID{id}, now)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return dispatched, err
	}
	if dueErr != nil {
		return dispatched, dueErr
	}
	return dispatched, waitErr
}

// requeue puts popped ids back on a queue source. It runs detached from ctx
// so a shutdown in the middle of a sweep does not drop them.
func (c *Coordinator) requeue(ctx context.Context, ids []uuid.UUID, now time.Time) {
	queue, ok := c.source.(ports.DueQueue)
	if !ok || len(ids) == 0 {
		return
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), requeueTimeout)
	defer cancel()

	at := now.Add(c.config.RetryDelay)
	for _, id := range ids {
		if err := queue.Schedule(rctx, id, at); err != nil {
			c.logger.Error("failed to requeue execution",
				"execution_id", id,
				"error", err)
			continue
		}
		c.logger.Warn("execution requeued", "execution_id", id, "at", at)
	}
}

// retryable reports whether another attempt at the execution could succeed.
func retryable(err error) bool {
	switch {
	case errors.Is(err, engine.ErrExecutionNotFound),
		errors.Is(err, engine.ErrInstanceNotFound),
		errors.Is(err, engine.ErrTemplateNotFound),
		errors.Is(err, engine.ErrTaskNotFound),
		errors.Is(err, engine.ErrInvalidBranchOperator):
		return false
	}
	return true
}
