// Package notify delivers HITL approval requests to the people who act on them.
package notify

import (
	"context"
	"errors"
	"log/slog"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"
)

// LogSink writes each request to the log. It is the sink of last resort when
// nothing else is configured.
type LogSink struct {
	logger *slog.Logger
}

var _ ports.NotificationSink = (*LogSink)(nil)

func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Deliver(ctx context.Context, n domain.HITLNotification) error {
	s.logger.InfoContext(ctx, "approval requested",
		"notification_id", n.ID,
		"user_id", n.UserID,
		"workflow", n.WorkflowName,
		"task", n.TaskName,
		"urgency", n.Urgency)
	return nil
}

// MultiSink fans a request out to every sink and joins their errors.
type MultiSink []ports.NotificationSink

func (m MultiSink) Deliver(ctx context.Context, n domain.HITLNotification) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Deliver(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
