package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/ziwei-api/internal/queue"
)

// Job outcomes reported to the JobObserver.
const (
	OutcomeAcked    = "acked"
	OutcomeRejected = "rejected"
	OutcomeAckError = "ack_error"
)

// receiveBackoff is how long a worker waits after a receive error.
const receiveBackoff = time.Second

// JobHandler runs the task named by a job.
type JobHandler interface {
	Run(ctx context.Context, taskID string) error
}

// WorkerPoolConfig holds configuration options for the worker pool.
type WorkerPoolConfig struct {
	// WorkerCount is the number of concurrent workers. Values below one
	// mean one.
	WorkerCount int
	// DefaultTimeout bounds a job that carries no timeout of its own.
	DefaultTimeout time.Duration
}

// WorkerPool consumes jobs with a fixed number of workers. Each job runs
// under its own timeout; jobs in flight when the pool is stopped run to
// completion.
type WorkerPool struct {
	consumer queue.Consumer
	handler  JobHandler
	config   WorkerPoolConfig
	observer JobObserver
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewWorkerPool creates a pool. A nil observer is allowed.
func NewWorkerPool(consumer queue.Consumer, handler JobHandler, config WorkerPoolConfig, observer JobObserver, logger *slog.Logger) *WorkerPool {
	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if observer == nil {
		observer = noopObserver{}
	}
	return &WorkerPool{
		consumer: consumer,
		handler:  handler,
		config:   config,
		observer: observer,
		logger:   logger.With("component", "worker_pool"),
	}
}

// Run starts the workers and blocks until ctx is done and every worker has
// finished its current job.
func (p *WorkerPool) Run(ctx context.Context) {
	p.logger.Info("starting worker pool", "worker_count", p.config.WorkerCount)
	for i := 0; i < p.config.WorkerCount; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	log := p.logger.With("worker_id", id)
	log.Debug("starting worker")

	for {
		d, err := p.consumer.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Debug("stopping worker")
				return
			}
			if errors.Is(err, queue.ErrQueueClosed) {
				log.Debug("queue closed, stopping worker")
				return
			}
			log.Error("failed to receive job", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(receiveBackoff):
			}
			continue
		}
		p.process(ctx, d, log)
	}
}

// process runs one job. The job context is detached from the pool context
// so shutdown lets it finish, and bounded by the job timeout.
func (p *WorkerPool) process(ctx context.Context, d queue.Delivery, log *slog.Logger) {
	job := d.Job()
	log = log.With("task_id", job.TaskID)

	timeout := job.Timeout
	if timeout <= 0 {
		timeout = p.config.DefaultTimeout
	}
	jobCtx := context.WithoutCancel(ctx)
	cancel := func() {}
	if timeout > 0 {
		jobCtx, cancel = context.WithTimeout(jobCtx, timeout)
	}
	defer cancel()

	settleCtx := context.WithoutCancel(ctx)
	err := p.runJob(jobCtx, job.TaskID, log)
	if err != nil {
		log.Error("job failed", "error", err)
		if rerr := d.Reject(settleCtx, false); rerr != nil {
			log.Error("failed to reject job", "error", rerr)
			p.observer.JobProcessed(OutcomeAckError)
			return
		}
		p.observer.JobProcessed(OutcomeRejected)
		return
	}

	if aerr := d.Ack(settleCtx); aerr != nil {
		log.Error("failed to ack job", "error", aerr)
		p.observer.JobProcessed(OutcomeAckError)
		return
	}
	p.observer.JobProcessed(OutcomeAcked)
}

func (p *WorkerPool) runJob(ctx context.Context, taskID string, log *slog.Logger) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("job panicked", "panic", rec)
			err = errors.New("job panicked")
		}
	}()
	return p.handler.Run(ctx, taskID)
}
