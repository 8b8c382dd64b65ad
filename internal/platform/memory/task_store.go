// Package memory provides in-process implementations of the store
// interfaces for tests and single-process harnesses. They apply the same
// conditional-transition rules as the Postgres stores.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// TaskStore is a mutex-guarded map of tasks.
type TaskStore struct {
	mu    sync.RWMutex
	tasks map[string]*domain.Task
	now   func() time.Time
}

var _ store.TaskStore = (*TaskStore)(nil)

// NewTaskStore creates an empty task store.
func NewTaskStore() *TaskStore {
	return &TaskStore{
		tasks: make(map[string]*domain.Task),
		now:   time.Now,
	}
}

// Create implements store.TaskStore.
func (s *TaskStore) Create(_ context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("%w: task %s", store.ErrDuplicate, task.ID)
	}
	s.tasks[task.ID] = task.Clone()
	return nil
}

// Get implements store.TaskStore.
func (s *TaskStore) Get(_ context.Context, taskID string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return nil, store.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// Status implements store.TaskStore.
func (s *TaskStore) Status(_ context.Context, taskID string) (domain.TaskStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return "", store.ErrTaskNotFound
	}
	return t.Status, nil
}

// FindActiveByFingerprint implements store.TaskStore.
func (s *TaskStore) FindActiveByFingerprint(_ context.Context, fingerprint string) (*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var found *domain.Task
	for _, t := range s.tasks {
		if t.Fingerprint != fingerprint || !t.Status.IsActive() {
			continue
		}
		if found == nil || t.CreatedAt.After(found.CreatedAt) {
			found = t
		}
	}
	if found == nil {
		return nil, store.ErrTaskNotFound
	}
	return found.Clone(), nil
}

// mutate applies fn to the stored task under the write lock. Domain
// transition errors become store.ErrTransitionRejected and leave the task
// unchanged.
func (s *TaskStore) mutate(taskID string, fn func(*domain.Task, time.Time) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[taskID]
	if !ok {
		return store.ErrTaskNotFound
	}
	next := t.Clone()
	if err := fn(next, s.now()); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) ||
			errors.Is(err, domain.ErrProgressRegression) ||
			errors.Is(err, domain.ErrRetryBudgetExhausted) {
			return fmt.Errorf("%w: %v", store.ErrTransitionRejected, err)
		}
		return err
	}
	s.tasks[taskID] = next
	return nil
}

// MarkRunning implements store.TaskStore.
func (s *TaskStore) MarkRunning(_ context.Context, taskID, step string, progress int) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.Start(step, progress, now)
	})
}

// UpdateProgress implements store.TaskStore.
func (s *TaskStore) UpdateProgress(_ context.Context, taskID, step string, progress int) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.UpdateProgress(step, progress, now)
	})
}

// MarkSucceeded implements store.TaskStore.
func (s *TaskStore) MarkSucceeded(_ context.Context, taskID string, resultID int64) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.Succeed(resultID, now)
	})
}

// MarkFailed implements store.TaskStore.
func (s *TaskStore) MarkFailed(_ context.Context, taskID, code, message string, retryable bool) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.Fail(code, message, retryable, now)
	})
}

// MarkCancelled implements store.TaskStore.
func (s *TaskStore) MarkCancelled(_ context.Context, taskID string) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.Cancel(now)
	})
}

// Requeue implements store.TaskStore.
func (s *TaskStore) Requeue(_ context.Context, taskID string, maxRetry int) error {
	return s.mutate(taskID, func(t *domain.Task, now time.Time) error {
		return t.Retry(maxRetry, now)
	})
}

// ListStale implements store.TaskStore.
func (s *TaskStore) ListStale(_ context.Context, updatedBefore time.Time) ([]*domain.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var stale []*domain.Task
	for _, t := range s.tasks {
		if t.Status == domain.TaskStatusRunning && t.UpdatedAt.Before(updatedBefore) {
			stale = append(stale, t.Clone())
		}
	}
	sort.Slice(stale, func(i, j int) bool { return stale[i].UpdatedAt.Before(stale[j].UpdatedAt) })
	return stale, nil
}
