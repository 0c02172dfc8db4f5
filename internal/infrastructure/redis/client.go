package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

func NewRedisClient(ctx context.Context, address string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     address, // e.g., "localhost:6379"
		PoolSize: 100,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", address, err)
	}

	return client, nil
}
