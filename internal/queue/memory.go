package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// MemoryQueue is a buffered channel queue for tests and harnesses that run the
// producer and the worker pool in one process. Jobs do not survive a restart.
type MemoryQueue struct {
	jobs   chan Job
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

var (
	_ Enqueuer = (*MemoryQueue)(nil)
	_ Consumer = (*MemoryQueue)(nil)
)

// NewMemoryQueue creates a queue holding at most size pending jobs.
func NewMemoryQueue(size int, logger *slog.Logger) *MemoryQueue {
	if size <= 0 {
		size = 1
	}
	return &MemoryQueue{
		jobs:   make(chan Job, size),
		logger: logger.With("component", "memory_queue"),
	}
}

// Enqueue adds a job without blocking. It fails when the buffer is full or
// the queue is closed.
func (q *MemoryQueue) Enqueue(_ context.Context, job Job) error {
	if job.TaskID == "" {
		return fmt.Errorf("%w: empty task id", ErrInvalidJob)
	}
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.jobs <- job:
		q.logger.Debug("job enqueued",
			"task_id", job.TaskID,
			"queue_len", len(q.jobs),
			"queue_cap", cap(q.jobs))
		return nil
	default:
		return fmt.Errorf("%w: queue capacity %d reached", ErrQueueFull, cap(q.jobs))
	}
}

// Receive implements Consumer.
func (q *MemoryQueue) Receive(ctx context.Context) (Delivery, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case job, ok := <-q.jobs:
		if !ok {
			return nil, ErrQueueClosed
		}
		return &memoryDelivery{queue: q, job: job}, nil
	}
}

// Len returns the number of pending jobs.
func (q *MemoryQueue) Len() int { return len(q.jobs) }

// Close stops accepting jobs. Pending jobs can still be received.
func (q *MemoryQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
		q.logger.Info("job queue closed")
	}
}

type memoryDelivery struct {
	queue *MemoryQueue
	job   Job
}

func (d *memoryDelivery) Job() Job { return d.job }

func (d *memoryDelivery) Ack(context.Context) error { return nil }

func (d *memoryDelivery) Reject(ctx context.Context, requeue bool) error {
	if !requeue {
		return nil
	}
	return d.queue.Enqueue(ctx, d.job)
}
