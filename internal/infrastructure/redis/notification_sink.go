package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/redis/go-redis/v9"
)

// NotificationPublisher pushes HITL requests to a per-tenant channel so a
// dashboard or mailer can pick them up.
type NotificationPublisher struct {
	client *redis.Client
	prefix string
}

var _ ports.NotificationSink = (*NotificationPublisher)(nil)

func NewNotificationPublisher(client *redis.Client) *NotificationPublisher {
	return &NotificationPublisher{client: client, prefix: "flowgate:hitl:"}
}

func (p *NotificationPublisher) Channel(userID string) string {
	return p.prefix + userID
}

func (p *NotificationPublisher) Deliver(ctx context.Context, n domain.HITLNotification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, p.Channel(n.UserID), payload).Err(); err != nil {
		return fmt.Errorf("publish hitl notification %s: %w", n.ID, err)
	}
	return nil
}
