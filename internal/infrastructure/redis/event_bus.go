package redis

import (
	"context"
	"encoding/json"

	"go-flowgate/internal/core/ports"
	"go-flowgate/internal/domain"

	"github.com/redis/go-redis/v9"
)

type RedisEventBus struct {
	client  *redis.Client
	channel string
}

var _ ports.EventBus = (*RedisEventBus)(nil)

func NewRedisEventBus(client *redis.Client) *RedisEventBus {
	return &RedisEventBus{
		client:  client,
		channel: "flowgate:events",
	}
}

// Publish broadcasts the event to the network
func (b *RedisEventBus) Publish(ctx context.Context, event domain.WorkflowEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	return b.client.Publish(ctx, b.channel, payload).Err()
}

// Subscribe opens a continuous stream of events. The returned channel is
// closed when ctx is done.
func (b *RedisEventBus) Subscribe(ctx context.Context) (<-chan domain.WorkflowEvent, error) {
	pubsub := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription to be confirmed so no event published after
	// Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, err
	}

	msgChan := make(chan domain.WorkflowEvent)

	go func() {
		defer close(msgChan)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var event domain.WorkflowEvent
				if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
					continue
				}
				select {
				case msgChan <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return msgChan, nil
}
