package domain

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTask(t *testing.T) *Task {
	t.Helper()
	req, err := BirthRequest{
		Date:     "1990-01-01",
		Timezone: 8,
		Gender:   GenderMale,
		Calendar: CalendarSolar,
	}.Normalize(Defaults{Provider: "mock", Model: "mock-v1", PromptVersion: "v1"})
	require.NoError(t, err)

	task, err := NewTask(req, time.Now())
	require.NoError(t, err)
	return task
}

func TestNewTask(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)

	assert.Regexp(t, `^task_[0-9a-f]{16}$`, task.ID)
	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Equal(t, StepQueued, task.Step)
	assert.Equal(t, "mock", task.Provider)
	assert.Nil(t, task.ResultID)
	assert.Nil(t, task.StartedAt)
	assert.NotEqual(t, NewTaskID(), NewTaskID())
}

func TestTaskHappyPath(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	now := time.Now()

	require.NoError(t, task.Start(StepGenerateChart, ProgressChart, now))
	assert.Equal(t, TaskStatusRunning, task.Status)
	require.NotNil(t, task.StartedAt)

	progress := []int{task.Progress}
	require.NoError(t, task.UpdateProgress(StepLLMBatch, ProgressLLMBatch, now))
	progress = append(progress, task.Progress)
	for done := 1; done <= 3; done++ {
		require.NoError(t, task.UpdateProgress(StepLLMBatch, BatchProgress(done, 3), now))
		progress = append(progress, task.Progress)
	}
	require.NoError(t, task.UpdateProgress(StepPersistResult, ProgressPersist, now))
	progress = append(progress, task.Progress)
	require.NoError(t, task.Succeed(42, now))
	progress = append(progress, task.Progress)

	assert.Equal(t, []int{15, 80, 83, 87, 91, 95, 100}, progress)
	assert.IsNonDecreasing(t, progress)
	assert.Equal(t, TaskStatusSucceeded, task.Status)
	assert.Equal(t, StepDone, task.Step)
	require.NotNil(t, task.ResultID)
	assert.Equal(t, int64(42), *task.ResultID)
	assert.NotNil(t, task.FinishedAt)
	assert.NoError(t, task.Validate())
}

func TestTaskProgressCannotDecrease(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	require.NoError(t, task.Start(StepGenerateChart, ProgressChart, time.Now()))
	require.NoError(t, task.UpdateProgress(StepLLMBatch, ProgressLLMBatch, time.Now()))

	err := task.UpdateProgress(StepLLMBatch, 45, time.Now())
	assert.ErrorIs(t, err, ErrProgressRegression)
	assert.Equal(t, ProgressLLMBatch, task.Progress)
}

func TestTaskCancel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		prepare func(*Task)
		wantErr bool
	}{
		{name: "queued", prepare: func(*Task) {}},
		{name: "running", prepare: func(tk *Task) { _ = tk.Start(StepGenerateChart, ProgressChart, time.Now()) }},
		{
			name: "succeeded",
			prepare: func(tk *Task) {
				_ = tk.Start(StepGenerateChart, ProgressChart, time.Now())
				_ = tk.Succeed(1, time.Now())
			},
			wantErr: true,
		},
		{name: "failed", prepare: func(tk *Task) { _ = tk.Fail(CodeInternal, "boom", false, time.Now()) }, wantErr: true},
		{name: "cancelled", prepare: func(tk *Task) { _ = tk.Cancel(time.Now()) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			task := newTestTask(t)
			tt.prepare(task)
			before := task.Clone()

			err := task.Cancel(time.Now())
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidTransition)
				assert.Equal(t, before, task)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TaskStatusCancelled, task.Status)
			assert.NotNil(t, task.FinishedAt)
		})
	}
}

func TestTaskRetryBudget(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	fail := func() {
		require.NoError(t, task.Start(StepGenerateChart, ProgressChart, time.Now()))
		require.NoError(t, task.Fail(CodeChartUnavailable, "down", true, time.Now()))
	}

	assert.ErrorIs(t, task.Retry(2, time.Now()), ErrInvalidTransition, "queued task cannot be retried")

	fail()
	require.NoError(t, task.Retry(2, time.Now()))
	assert.Equal(t, 1, task.RetryCount)
	assert.Equal(t, TaskStatusQueued, task.Status)
	assert.Equal(t, 0, task.Progress)
	assert.Empty(t, task.ErrorCode)
	assert.False(t, task.ErrorRetryable)
	assert.Nil(t, task.FinishedAt)

	fail()
	require.NoError(t, task.Retry(2, time.Now()))
	assert.Equal(t, 2, task.RetryCount)

	fail()
	before := task.Clone()
	err := task.Retry(2, time.Now())
	assert.True(t, errors.Is(err, ErrRetryBudgetExhausted))
	assert.Equal(t, before, task)
}

func TestTaskStartKeepsFirstStartTime(t *testing.T) {
	t.Parallel()

	task := newTestTask(t)
	first := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, task.Start(StepGenerateChart, ProgressChart, first))
	require.NoError(t, task.Fail(CodeLLMTimeout, "slow", true, first))
	require.NoError(t, task.Retry(2, first))

	require.NoError(t, task.Start(StepGenerateChart, ProgressChart, first.Add(time.Hour)))
	assert.Equal(t, first, *task.StartedAt)
	assert.Empty(t, task.ErrorMessage)
}

func TestBatchProgress(t *testing.T) {
	t.Parallel()

	assert.Equal(t, 80, BatchProgress(0, 3))
	assert.Equal(t, 83, BatchProgress(1, 3))
	assert.Equal(t, 87, BatchProgress(2, 3))
	assert.Equal(t, 91, BatchProgress(3, 3))
	assert.Equal(t, 80, BatchProgress(1, 0))
}
