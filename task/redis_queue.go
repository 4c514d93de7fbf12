package task

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const queueKey = "queue:pending"

// RedisQueue is a Redis list of task ids (RPUSH/BLPOP), kept in its own
// namespace so clearing it never touches task records.
type RedisQueue struct {
	client   *redis.Client
	capacity int
}

func NewRedisQueue(client *redis.Client, capacity int) *RedisQueue {
	return &RedisQueue{client: client, capacity: capacity}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	// LLEN+RPUSH is not atomic, so the bound is approximate under
	// concurrent submitters. The capacity exists to stop unbounded backlog
	// growth, not to enforce an exact count.
	size, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return fmt.Errorf("queue length: %w", err)
	}
	if int(size) >= q.capacity {
		return ErrQueueFull
	}
	if err := q.client.RPush(ctx, queueKey, id).Err(); err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	// BLPOP resolves in whole seconds and go-redis silently rounds
	// sub-second timeouts up to 1s. Clamp here so the floor is explicit
	// and both queue drivers poll with the same effective interval.
	if timeout > 0 && timeout < time.Second {
		timeout = time.Second
	}
	vals, err := q.client.BLPop(ctx, timeout, queueKey).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("dequeue: %w", err)
	}
	// BLPOP returns [key, value].
	if len(vals) != 2 {
		return "", fmt.Errorf("dequeue: unexpected reply of %d elements", len(vals))
	}
	return vals[1], nil
}

func (q *RedisQueue) Size(ctx context.Context) (int, error) {
	size, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return int(size), nil
}

func (q *RedisQueue) Capacity() int { return q.capacity }

func (q *RedisQueue) Clear(ctx context.Context) (int, error) {
	size, err := q.client.LLen(ctx, queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	if err := q.client.Del(ctx, queueKey).Err(); err != nil {
		return 0, fmt.Errorf("clear queue: %w", err)
	}
	return int(size), nil
}

// Close is a no-op; the connection belongs to the store.
func (q *RedisQueue) Close() error { return nil }
