package redisclient

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// QueueCounter hands out 1-based check-in positions, one sequence per
// clinic per day. Assignment order is physical check-in order.
type QueueCounter interface {
	NextPosition(ctx context.Context, clinicID uuid.UUID, day string) (int, error)
}

type redisQueueCounter struct {
	client *redis.Client
}

func NewRedisQueueCounter(client *redis.Client) QueueCounter {
	return &redisQueueCounter{client: client}
}

// NextPosition atomically increments the per clinic/day counter. INCR makes
// ties impossible: two concurrent check-ins always see distinct positions.
func (c *redisQueueCounter) NextPosition(ctx context.Context, clinicID uuid.UUID, day string) (int, error) {
	key := fmt.Sprintf("queue:%s:%s", clinicID.String(), day)

	pos, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("increment queue counter: %w", err)
	}

	// Counters are only meaningful for the current day; let stale ones age out.
	_ = c.client.Expire(ctx, key, 48*time.Hour).Err()

	return int(pos), nil
}
