package redis

import (
	"context"
	"strconv"
	"time"

	"go-flowgate/internal/core/ports"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultQueueKey = "flowgate:executions:due"

// RedisQueue keeps scheduled executions in a sorted set scored by their
// scheduled time in unix milliseconds.
type RedisQueue struct {
	client   *redis.Client
	queueKey string
}

var _ ports.DueQueue = (*RedisQueue)(nil)

func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:   client,
		queueKey: defaultQueueKey,
	}
}

// Schedule adds the execution, or moves it if it is already queued.
func (q *RedisQueue) Schedule(ctx context.Context, executionID uuid.UUID, at time.Time) error {
	return q.client.ZAdd(ctx, q.queueKey, redis.Z{
		Score:  float64(at.UnixMilli()),
		Member: executionID.String(),
	}).Err()
}

// Due pops up to limit executions whose score is at or before now. A member is
// only returned by the caller whose ZREM removed it, so concurrent coordinators
// never receive the same id.
func (q *RedisQueue) Due(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	opt := &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}
	if limit > 0 {
		opt.Count = int64(limit)
	}

	members, err := q.client.ZRangeByScore(ctx, q.queueKey, opt).Result()
	if err != nil {
		return nil, err
	}

	ids := make([]uuid.UUID, 0, len(members))
	for _, m := range members {
		removed, err := q.client.ZRem(ctx, q.queueKey, m).Result()
		if err != nil {
			return ids, err
		}
		if removed == 0 {
			continue
		}
		id, err := uuid.Parse(m)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}

	return ids, nil
}

// Len reports how many executions are waiting.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}
