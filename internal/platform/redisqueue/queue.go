// Package redisqueue implements the job queue on Redis lists. Producers
// LPUSH encoded jobs; consumers atomically move a job into a processing list
// with BLMOVE and remove it from there on ack, so a crashed worker's jobs can
// be recovered.
package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/ziwei-api/internal/queue"
	"github.com/phrazzld/ziwei-api/internal/redact"
	"github.com/redis/go-redis/v9"
)

// pollTimeout bounds each BLMOVE so Receive notices context cancellation.
const pollTimeout = 2 * time.Second

// Queue is a Redis-backed job queue.
type Queue struct {
	client     *redis.Client
	name       string
	processing string
	logger     *slog.Logger
}

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Consumer = (*Queue)(nil)
)

// Dial connects to the Redis server at url and verifies the connection.
func Dial(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %s", redact.Error(err))
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to ping redis: %s", redact.Error(err))
	}
	return client, nil
}

// New creates a queue on the list name. The processing list is
// name + ":processing".
func New(client *redis.Client, name string, logger *slog.Logger) *Queue {
	return &Queue{
		client:     client,
		name:       name,
		processing: name + ":processing",
		logger:     logger.With("component", "redis_queue", "queue", name),
	}
}

// Enqueue implements queue.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	payload, err := job.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, q.name, payload).Err(); err != nil {
		return fmt.Errorf("failed to push job for task %s: %w", job.TaskID, err)
	}
	q.logger.DebugContext(ctx, "job enqueued", slog.String("task_id", job.TaskID))
	return nil
}

// Receive implements queue.Consumer.
func (q *Queue) Receive(ctx context.Context) (queue.Delivery, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		payload, err := q.client.BLMove(ctx, q.name, q.processing, "RIGHT", "LEFT", pollTimeout).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, redis.ErrClosed) {
				return nil, queue.ErrQueueClosed
			}
			return nil, fmt.Errorf("failed to receive job: %w", err)
		}

		job, err := queue.DecodeJob([]byte(payload))
		if err != nil {
			q.logger.ErrorContext(ctx, "dropping undecodable job",
				slog.String("error", err.Error()))
			if remErr := q.client.LRem(ctx, q.processing, 1, payload).Err(); remErr != nil {
				q.logger.ErrorContext(ctx, "failed to drop undecodable job",
					slog.String("error", remErr.Error()))
			}
			continue
		}
		return &delivery{queue: q, job: job, payload: payload}, nil
	}
}

// Recover moves every job left in the processing list back onto the queue.
// Call it on startup before consumers run; returns how many were moved.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	moved := 0
	for {
		err := q.client.LMove(ctx, q.processing, q.name, "RIGHT", "RIGHT").Err()
		if errors.Is(err, redis.Nil) {
			break
		}
		if err != nil {
			return moved, fmt.Errorf("failed to recover processing jobs: %w", err)
		}
		moved++
	}
	if moved > 0 {
		q.logger.InfoContext(ctx, "recovered unfinished jobs", slog.Int("count", moved))
	}
	return moved, nil
}

// Len returns the number of pending jobs.
func (q *Queue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.name).Result()
}

// Ping checks the Redis connection.
func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

type delivery struct {
	queue   *Queue
	job     queue.Job
	payload string
}

func (d *delivery) Job() queue.Job { return d.job }

func (d *delivery) Ack(ctx context.Context) error {
	if err := d.queue.client.LRem(ctx, d.queue.processing, 1, d.payload).Err(); err != nil {
		return fmt.Errorf("failed to ack job for task %s: %w", d.job.TaskID, err)
	}
	return nil
}

func (d *delivery) Reject(ctx context.Context, requeue bool) error {
	_, err := d.queue.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, d.queue.processing, 1, d.payload)
		if requeue {
			pipe.LPush(ctx, d.queue.name, d.payload)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to reject job for task %s: %w", d.job.TaskID, err)
	}
	return nil
}
