package store

import (
	"context"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// TaskStore persists analysis tasks and applies their state transitions.
//
// Every mutating method is a conditional update: it only writes when the
// task's current status satisfies the transition's precondition, and returns
// ErrTransitionRejected otherwise (ErrTaskNotFound if the task is missing).
// Implementations must apply each method atomically so concurrent cancel,
// retry and runner updates cannot interleave inside one transition.
type TaskStore interface {
	// Create inserts a new task.
	Create(ctx context.Context, task *domain.Task) error

	// Get returns a task by id.
	Get(ctx context.Context, taskID string) (*domain.Task, error)

	// Status returns just the status of a task. It backs cancellation checkpoints.
	Status(ctx context.Context, taskID string) (domain.TaskStatus, error)

	// FindActiveByFingerprint returns the most recent queued or running task
	// for the fingerprint, or ErrTaskNotFound.
	FindActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.Task, error)

	// MarkRunning moves a queued task to running.
	MarkRunning(ctx context.Context, taskID, step string, progress int) error

	// UpdateProgress sets step and progress on a running task whose progress
	// is not above the new value.
	UpdateProgress(ctx context.Context, taskID, step string, progress int) error

	// MarkSucceeded completes a running task with its result.
	MarkSucceeded(ctx context.Context, taskID string, resultID int64) error

	// MarkFailed records a failure on a queued or running task. retryable is
	// kept with the error so callers can tell a transient failure from a
	// permanent one that shares its code.
	MarkFailed(ctx context.Context, taskID, code, message string, retryable bool) error

	// MarkCancelled cancels a queued or running task.
	MarkCancelled(ctx context.Context, taskID string) error

	// Requeue resets a failed task to queued and increments its retry count,
	// provided the count stays within maxRetry.
	Requeue(ctx context.Context, taskID string, maxRetry int) error

	// ListStale returns running tasks whose last update is older than the
	// cutoff, oldest first.
	ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Task, error)
}
