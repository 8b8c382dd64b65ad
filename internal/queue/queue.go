// Package queue defines the job queue seam between the dispatcher, which
// enqueues one job per task attempt, and the worker pool that consumes them.
// Backends live in internal/platform (Redis, RabbitMQ); an in-process
// implementation is provided here.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Common errors returned by queue backends.
var (
	ErrQueueClosed = errors.New("job queue is closed")
	ErrQueueFull   = errors.New("job queue is full")
	ErrInvalidJob  = errors.New("invalid job")
)

// Job asks a worker to run one task attempt.
type Job struct {
	TaskID string `json:"task_id"`
	// Timeout bounds the whole attempt. Zero means the worker default.
	Timeout    time.Duration `json:"timeout"`
	EnqueuedAt time.Time     `json:"enqueued_at"`
}

// NewJob creates a job for taskID.
func NewJob(taskID string, timeout time.Duration) Job {
	return Job{TaskID: taskID, Timeout: timeout, EnqueuedAt: time.Now().UTC()}
}

// Encode serializes a job for a wire backend.
func (j Job) Encode() ([]byte, error) {
	if j.TaskID == "" {
		return nil, fmt.Errorf("%w: empty task id", ErrInvalidJob)
	}
	return json.Marshal(j)
}

// DecodeJob parses a job produced by Encode.
func DecodeJob(data []byte) (Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return Job{}, fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	if j.TaskID == "" {
		return Job{}, fmt.Errorf("%w: empty task id", ErrInvalidJob)
	}
	return j, nil
}

// Enqueuer publishes jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// Delivery is a received job that must be settled exactly once.
type Delivery interface {
	Job() Job
	// Ack removes the job from the queue.
	Ack(ctx context.Context) error
	// Reject gives up on the job, putting it back when requeue is set.
	Reject(ctx context.Context, requeue bool) error
}

// Consumer receives jobs. Receive blocks until a job arrives, ctx is done,
// or the queue is closed.
type Consumer interface {
	Receive(ctx context.Context) (Delivery, error)
}
