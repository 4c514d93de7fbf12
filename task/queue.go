package task

import (
	"context"
	"time"
)

// Queue is an ordered, bounded, at-least-once channel of task ids awaiting
// pickup. It carries identifiers only; the durable state stays in the
// Store, so clearing the queue never destroys task history.
type Queue interface {
	// Enqueue adds a task id. ErrQueueFull when at capacity; callers
	// surface that as a submission-time rejection, never a silent drop.
	Enqueue(ctx context.Context, id string) error
	// Dequeue blocks up to timeout for an entry. Returns "" (and no error)
	// on timeout so worker loops can idle-poll.
	Dequeue(ctx context.Context, timeout time.Duration) (string, error)
	Size(ctx context.Context) (int, error)
	Capacity() int
	// Clear drains all pending entries and reports how many were removed.
	// Administrative use only.
	Clear(ctx context.Context) (int, error)
	Close() error
}

// MemoryQueue is a buffered-channel Queue for tests and single-process
// deployments.
type MemoryQueue struct {
	ch       chan string
	capacity int
}

func NewMemoryQueue(capacity int) *MemoryQueue {
	return &MemoryQueue{
		ch:       make(chan string, capacity),
		capacity: capacity,
	}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, id string) error {
	select {
	case q.ch <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *MemoryQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case id := <-q.ch:
		return id, nil
	case <-timer.C:
		return "", nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (q *MemoryQueue) Size(ctx context.Context) (int, error) {
	return len(q.ch), nil
}

func (q *MemoryQueue) Capacity() int { return q.capacity }

func (q *MemoryQueue) Clear(ctx context.Context) (int, error) {
	removed := 0
	for {
		select {
		case <-q.ch:
			removed++
		default:
			return removed, nil
		}
	}
}

func (q *MemoryQueue) Close() error { return nil }
