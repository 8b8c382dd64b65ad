package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// TaskStatus represents the lifecycle state of an analysis task.
type TaskStatus string

// Valid task statuses.
const (
	TaskStatusQueued    TaskStatus = "queued"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusSucceeded TaskStatus = "succeeded"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsActive reports whether the status counts toward the one-active-task-per-
// fingerprint rule.
func (s TaskStatus) IsActive() bool {
	return s == TaskStatusQueued || s == TaskStatusRunning
}

// IsTerminal reports whether no further automatic transition is possible.
// Failed is terminal unless a user retries it.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusSucceeded || s == TaskStatusFailed || s == TaskStatusCancelled
}

func (s TaskStatus) isValid() bool {
	switch s {
	case TaskStatusQueued, TaskStatusRunning, TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Pipeline steps recorded on a task.
const (
	StepQueued        = "queued"
	StepGenerateChart = "generate_chart"
	StepLLMBatch      = "llm_batch"
	StepPersistResult = "persist_result"
	StepDone          = "done"
)

// Progress marks for each step.
const (
	ProgressQueued   = 0
	ProgressChart    = 15
	ProgressLLMBatch = 80
	ProgressPersist  = 95
	ProgressDone     = 100
)

// BatchProgress maps the number of finished sub-analyses onto the span
// between ProgressLLMBatch and ProgressPersist without reaching either end.
func BatchProgress(done, total int) int {
	if total <= 0 {
		return ProgressLLMBatch
	}
	span := ProgressPersist - ProgressLLMBatch
	return ProgressLLMBatch + done*span/(total+1)
}

// Task is one attempt, or chain of retried attempts, to produce a Result.
type Task struct {
	ID             string
	Status         TaskStatus
	Progress       int
	Step           string
	Request        RequestSnapshot
	Provider       string
	Model          string
	PromptVersion  string
	Fingerprint    string
	ResultID       *int64
	ErrorCode      string
	ErrorMessage   string
	// ErrorRetryable is the Retryable bit of the error that failed the task.
	ErrorRetryable bool
	RetryCount     int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	StartedAt      *time.Time
	FinishedAt     *time.Time
}

// NewTaskID returns an opaque id of the form task_<16 hex chars>.
func NewTaskID() string {
	return "task_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

// NewTask creates a queued task for a normalized request.
func NewTask(req NormalizedRequest, now time.Time) (*Task, error) {
	t := &Task{
		ID:            NewTaskID(),
		Status:        TaskStatusQueued,
		Progress:      ProgressQueued,
		Step:          StepQueued,
		Request:       req.Snapshot,
		Provider:      req.Backend.Provider,
		Model:         req.Backend.Model,
		PromptVersion: req.Backend.PromptVersion,
		Fingerprint:   req.Fingerprint,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

// Validate checks the task's structural invariants.
func (t *Task) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("%w: task id cannot be empty", ErrValidation)
	}
	if !t.Status.isValid() {
		return fmt.Errorf("%w: invalid task status %q", ErrValidation, t.Status)
	}
	if t.Progress < 0 || t.Progress > ProgressDone {
		return fmt.Errorf("%w: progress %d out of range", ErrValidation, t.Progress)
	}
	if t.Fingerprint == "" {
		return fmt.Errorf("%w: fingerprint cannot be empty", ErrValidation)
	}
	if (t.ResultID != nil) != (t.Status == TaskStatusSucceeded) {
		return fmt.Errorf("%w: result reference must be set exactly when succeeded", ErrValidation)
	}
	if t.RetryCount < 0 {
		return fmt.Errorf("%w: negative retry count", ErrValidation)
	}
	return nil
}

// Backend returns the provider triple the task runs against.
func (t *Task) Backend() Backend {
	return Backend{Provider: t.Provider, Model: t.Model, PromptVersion: t.PromptVersion}
}

func (t *Task) transitionError(op string) error {
	return fmt.Errorf("%w: cannot %s task in status %s", ErrInvalidTransition, op, t.Status)
}

// Start moves a queued task to running. The first start time is kept across
// retries and previous error fields are cleared.
func (t *Task) Start(step string, progress int, now time.Time) error {
	if t.Status != TaskStatusQueued {
		return t.transitionError("start")
	}
	t.Status = TaskStatusRunning
	t.Step = step
	t.Progress = max(t.Progress, progress)
	t.clearError()
	if t.StartedAt == nil {
		started := now
		t.StartedAt = &started
	}
	t.UpdatedAt = now
	return nil
}

// UpdateProgress records the current step of a running task.
func (t *Task) UpdateProgress(step string, progress int, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return t.transitionError("update progress of")
	}
	if progress < t.Progress {
		return fmt.Errorf("%w: %d < %d", ErrProgressRegression, progress, t.Progress)
	}
	t.Step = step
	t.Progress = progress
	t.UpdatedAt = now
	return nil
}

// Succeed marks a running task done with its result.
func (t *Task) Succeed(resultID int64, now time.Time) error {
	if t.Status != TaskStatusRunning {
		return t.transitionError("complete")
	}
	id := resultID
	t.Status = TaskStatusSucceeded
	t.Step = StepDone
	t.Progress = ProgressDone
	t.ResultID = &id
	t.UpdatedAt = now
	t.FinishedAt = &now
	return nil
}

// Fail records a failure on a queued or running task.
func (t *Task) Fail(code, message string, retryable bool, now time.Time) error {
	if !t.Status.IsActive() {
		return t.transitionError("fail")
	}
	t.Status = TaskStatusFailed
	t.ErrorCode = code
	t.ErrorMessage = message
	t.ErrorRetryable = retryable
	t.UpdatedAt = now
	t.FinishedAt = &now
	return nil
}

// Cancel stops a queued or running task.
func (t *Task) Cancel(now time.Time) error {
	if !t.Status.IsActive() {
		return t.transitionError("cancel")
	}
	t.Status = TaskStatusCancelled
	t.UpdatedAt = now
	t.FinishedAt = &now
	return nil
}

// Retry requeues a failed task if the retry budget allows one more attempt.
// The task is left untouched when it returns an error.
func (t *Task) Retry(maxRetry int, now time.Time) error {
	if t.Status != TaskStatusFailed {
		return t.transitionError("retry")
	}
	if t.RetryCount+1 > maxRetry {
		return fmt.Errorf("%w: %d of %d", ErrRetryBudgetExhausted, t.RetryCount, maxRetry)
	}
	t.RetryCount++
	t.Status = TaskStatusQueued
	t.Step = StepQueued
	t.Progress = ProgressQueued
	t.clearError()
	t.FinishedAt = nil
	t.UpdatedAt = now
	return nil
}

func (t *Task) clearError() {
	t.ErrorCode = ""
	t.ErrorMessage = ""
	t.ErrorRetryable = false
}

// Clone returns a deep copy.
func (t *Task) Clone() *Task {
	c := *t
	if t.ResultID != nil {
		id := *t.ResultID
		c.ResultID = &id
	}
	if t.StartedAt != nil {
		s := *t.StartedAt
		c.StartedAt = &s
	}
	if t.FinishedAt != nil {
		f := *t.FinishedAt
		c.FinishedAt = &f
	}
	return &c
}
