package task

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// ErrTaskCancelled is returned at a checkpoint once the task was cancelled.
var ErrTaskCancelled = errors.New("task cancelled")

// CancelChecker is consulted at each pipeline checkpoint.
type CancelChecker interface {
	Check(ctx context.Context, taskID string) error
}

// StoreCancelChecker reads the task status from the store.
type StoreCancelChecker struct {
	tasks store.TaskStore
}

// NewStoreCancelChecker creates a checker backed by tasks.
func NewStoreCancelChecker(tasks store.TaskStore) *StoreCancelChecker {
	return &StoreCancelChecker{tasks: tasks}
}

// Check returns ErrTaskCancelled for a cancelled task and a NotFound error
// for a missing one.
func (c *StoreCancelChecker) Check(ctx context.Context, taskID string) error {
	status, err := c.tasks.Status(ctx, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		return domain.NotFoundError("task not found")
	}
	if err != nil {
		return fmt.Errorf("failed to check task status: %w", err)
	}
	if status == domain.TaskStatusCancelled {
		return ErrTaskCancelled
	}
	return nil
}
