// Package rabbitmq implements the job queue on a durable RabbitMQ queue with
// persistent messages and manual acknowledgement.
package rabbitmq

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/ziwei-api/internal/queue"
	"github.com/phrazzld/ziwei-api/internal/redact"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue publishes and consumes jobs on one durable queue. Publishing and
// consuming use separate channels; publishes are serialized because an AMQP
// channel is not safe for concurrent use.
type Queue struct {
	conn     *amqp.Connection
	name     string
	prefetch int
	logger   *slog.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel

	consumeOnce sync.Once
	consumeErr  error
	consumeCh   *amqp.Channel
	deliveries  <-chan amqp.Delivery
}

var (
	_ queue.Enqueuer = (*Queue)(nil)
	_ queue.Consumer = (*Queue)(nil)
)

// Dial connects to the broker.
func Dial(url string) (*amqp.Connection, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %s", redact.Error(err))
	}
	return conn, nil
}

// New declares the durable queue name and returns a Queue on it. prefetch
// caps unacknowledged deliveries held by this process and should match the
// worker count.
func New(conn *amqp.Connection, name string, prefetch int, logger *slog.Logger) (*Queue, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("failed to open publish channel: %w", err)
	}
	if _, err := ch.QueueDeclare(name, true, false, false, false, nil); err != nil {
		_ = ch.Close()
		return nil, fmt.Errorf("failed to declare queue %q: %w", name, err)
	}
	if prefetch <= 0 {
		prefetch = 1
	}
	return &Queue{
		conn:     conn,
		name:     name,
		prefetch: prefetch,
		logger:   logger.With("component", "rabbitmq_queue", "queue", name),
		pubCh:    ch,
	}, nil
}

// Enqueue implements queue.Enqueuer.
func (q *Queue) Enqueue(ctx context.Context, job queue.Job) error {
	body, err := job.Encode()
	if err != nil {
		return err
	}

	q.pubMu.Lock()
	defer q.pubMu.Unlock()
	err = q.pubCh.PublishWithContext(ctx, "", q.name, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    job.TaskID,
		Timestamp:    time.Now(),
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("failed to publish job for task %s: %w", job.TaskID, err)
	}
	q.logger.DebugContext(ctx, "job published", slog.String("task_id", job.TaskID))
	return nil
}

func (q *Queue) startConsuming() error {
	q.consumeOnce.Do(func() {
		ch, err := q.conn.Channel()
		if err != nil {
			q.consumeErr = fmt.Errorf("failed to open consume channel: %w", err)
			return
		}
		if err := ch.Qos(q.prefetch, 0, false); err != nil {
			_ = ch.Close()
			q.consumeErr = fmt.Errorf("failed to set prefetch: %w", err)
			return
		}
		deliveries, err := ch.Consume(q.name, "", false, false, false, false, nil)
		if err != nil {
			_ = ch.Close()
			q.consumeErr = fmt.Errorf("failed to register consumer: %w", err)
			return
		}
		q.consumeCh = ch
		q.deliveries = deliveries
	})
	return q.consumeErr
}

// Receive implements queue.Consumer.
func (q *Queue) Receive(ctx context.Context) (queue.Delivery, error) {
	if err := q.startConsuming(); err != nil {
		return nil, err
	}
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case d, ok := <-q.deliveries:
			if !ok {
				return nil, queue.ErrQueueClosed
			}
			job, err := queue.DecodeJob(d.Body)
			if err != nil {
				q.logger.ErrorContext(ctx, "dropping undecodable message",
					slog.Uint64("delivery_tag", d.DeliveryTag),
					slog.String("error", err.Error()))
				if nackErr := d.Nack(false, false); nackErr != nil {
					q.logger.ErrorContext(ctx, "failed to drop undecodable message",
						slog.String("error", nackErr.Error()))
				}
				continue
			}
			return &delivery{d: d, job: job}, nil
		}
	}
}

// Ping reports whether the connection is still open.
func (q *Queue) Ping(context.Context) error {
	if q.conn.IsClosed() {
		return fmt.Errorf("rabbitmq connection closed")
	}
	return nil
}

// Close closes both channels. The connection belongs to the caller.
func (q *Queue) Close() error {
	q.pubMu.Lock()
	err := q.pubCh.Close()
	q.pubMu.Unlock()
	if q.consumeCh != nil {
		if cerr := q.consumeCh.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

type delivery struct {
	d   amqp.Delivery
	job queue.Job
}

func (d *delivery) Job() queue.Job { return d.job }

func (d *delivery) Ack(context.Context) error {
	if err := d.d.Ack(false); err != nil {
		return fmt.Errorf("failed to ack job for task %s: %w", d.job.TaskID, err)
	}
	return nil
}

func (d *delivery) Reject(_ context.Context, requeue bool) error {
	if err := d.d.Nack(false, requeue); err != nil {
		return fmt.Errorf("failed to reject job for task %s: %w", d.job.TaskID, err)
	}
	return nil
}
