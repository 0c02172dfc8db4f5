package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/cenkalti/backoff/v4"
)

type WebhookConfig struct {
	URL             string
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Timeout         time.Duration
}

// WebhookSink POSTs each request as JSON, retrying server errors with
// exponential backoff. Client errors are not retried.
type WebhookSink struct {
	config WebhookConfig
	client *http.Client
	logger *slog.Logger
}

var _ ports.NotificationSink = (*WebhookSink)(nil)

func NewWebhookSink(config WebhookConfig, logger *slog.Logger) *WebhookSink {
	if config.InitialInterval == 0 {
		config.InitialInterval = 500 * time.Millisecond
	}
	if config.MaxInterval == 0 {
		config.MaxInterval = 10 * time.Second
	}
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	return &WebhookSink{
		config: config,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger,
	}
}

func (s *WebhookSink) Deliver(ctx context.Context, n domain.HITLNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = s.config.InitialInterval
	b.MaxInterval = s.config.MaxInterval
	b.MaxElapsedTime = 0

	attempt := 0
	operation := func() error {
		attempt++
		err := s.post(ctx, payload)
		if err != nil {
			s.logger.Warn("webhook delivery failed",
				"notification_id", n.ID,
				"attempt", attempt,
				"error", err)
		}
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(s.config.MaxRetries)), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return fmt.Errorf("deliver notification %s after %d attempts: %w", n.ID, attempt, err)
	}
	return nil
}

func (s *WebhookSink) post(ctx context.Context, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.URL, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	switch {
	case resp.StatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("webhook returned %d", resp.StatusCode)
	case resp.StatusCode >= http.StatusBadRequest:
		return backoff.Permanent(fmt.Errorf("webhook rejected notification with %d", resp.StatusCode))
	default:
		return nil
	}
}
