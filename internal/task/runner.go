package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/phrazzld/ziwei-api/internal/generation"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
	"github.com/phrazzld/ziwei-api/internal/redact"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// errNotRunnable means the task left the queued state before this attempt
// could claim it, so another attempt or a user action owns it.
var errNotRunnable = errors.New("task is not runnable")

// RunnerDeps are the collaborators of a Runner.
type RunnerDeps struct {
	Tasks     store.TaskStore
	Results   store.ResultStore
	Charts    ChartDescriber
	Providers generation.Registry
	Executor  *Executor
	// Checker defaults to a StoreCancelChecker on Tasks.
	Checker CancelChecker
	// Emitter defaults to events.Discard.
	Emitter events.EventEmitter
	Logger  *slog.Logger
}

// Runner executes one task attempt end to end.
type Runner struct {
	tasks     store.TaskStore
	results   store.ResultStore
	charts    ChartDescriber
	providers generation.Registry
	executor  *Executor
	checker   CancelChecker
	emitter   events.EventEmitter
	logger    *slog.Logger
}

// NewRunner creates a Runner.
func NewRunner(deps RunnerDeps) *Runner {
	if deps.Checker == nil {
		deps.Checker = NewStoreCancelChecker(deps.Tasks)
	}
	if deps.Emitter == nil {
		deps.Emitter = events.Discard
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Runner{
		tasks:     deps.Tasks,
		results:   deps.Results,
		charts:    deps.Charts,
		providers: deps.Providers,
		executor:  deps.Executor,
		checker:   deps.Checker,
		emitter:   deps.Emitter,
		logger:    deps.Logger.With("component", "runner"),
	}
}

// Run executes the task. Failures of the pipeline itself are recorded on the
// task and Run returns nil; an error means the outcome could not be recorded.
// A missing task is ignored.
func (r *Runner) Run(ctx context.Context, taskID string) error {
	log := r.logger.With(slog.String("task_id", taskID))
	ctx = logger.WithLogger(ctx, log)

	task, err := r.tasks.Get(ctx, taskID)
	if errors.Is(err, store.ErrTaskNotFound) {
		log.WarnContext(ctx, "task not found, dropping job")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to load task %s: %w", taskID, err)
	}
	log = log.With(slog.String("fingerprint", task.Fingerprint))
	ctx = logger.WithLogger(ctx, log)

	start := time.Now()
	resultID, err := r.execute(ctx, task)
	return r.finish(ctx, task, start, resultID, err)
}

func (r *Runner) execute(ctx context.Context, task *domain.Task) (int64, error) {
	if err := r.checker.Check(ctx, task.ID); err != nil {
		return 0, err
	}
	if err := r.tasks.MarkRunning(ctx, task.ID, domain.StepGenerateChart, domain.ProgressChart); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			return 0, errNotRunnable
		}
		return 0, err
	}
	r.emit(ctx, task, events.TaskStarted, func(e *events.TaskEvent) {
		e.Step, e.Progress = domain.StepGenerateChart, domain.ProgressChart
	})

	description, err := r.charts.Describe(ctx, task.Request)
	if err != nil {
		return 0, err
	}

	if err := r.advance(ctx, task, domain.StepLLMBatch, domain.ProgressLLMBatch); err != nil {
		return 0, err
	}
	provider, err := r.providers.Provider(task.Provider, task.Model)
	if err != nil {
		return 0, err
	}
	batch, err := r.executor.Run(ctx, provider, description, func(ctx context.Context, step string, progress int) error {
		return r.advance(ctx, task, step, progress)
	})
	if err != nil {
		return 0, err
	}

	if err := r.advance(ctx, task, domain.StepPersistResult, domain.ProgressPersist); err != nil {
		return 0, err
	}
	resultID, err := r.results.Save(ctx, &domain.Result{
		Fingerprint:        task.Fingerprint,
		Request:            task.Request,
		Provider:           task.Provider,
		Model:              task.Model,
		PromptVersion:      task.PromptVersion,
		Description:        description,
		Items:              batch.Items,
		TotalExecutionTime: batch.TotalExecutionTime,
		TotalTokenCount:    batch.TotalTokenCount,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to save result: %w", err)
	}

	if err := r.tasks.MarkSucceeded(ctx, task.ID, resultID); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			// Cancelled while persisting: the result stays available to
			// later submissions but this task keeps its cancelled status.
			if cerr := r.checker.Check(ctx, task.ID); cerr != nil {
				return resultID, cerr
			}
		}
		return resultID, err
	}
	return resultID, nil
}

// advance checks for cancellation and then records progress.
func (r *Runner) advance(ctx context.Context, task *domain.Task, step string, progress int) error {
	if err := r.checker.Check(ctx, task.ID); err != nil {
		return err
	}
	if err := r.tasks.UpdateProgress(ctx, task.ID, step, progress); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			if cerr := r.checker.Check(ctx, task.ID); cerr != nil {
				return cerr
			}
		}
		return err
	}
	r.emit(ctx, task, events.TaskProgressed, func(e *events.TaskEvent) {
		e.Step, e.Progress = step, progress
	})
	return nil
}

// finish records the outcome. Final writes use a context detached from the
// job's deadline so a timed-out attempt can still be marked failed.
func (r *Runner) finish(ctx context.Context, task *domain.Task, start time.Time, resultID int64, err error) error {
	log := logger.FromContextOrDefault(ctx, r.logger)
	elapsed := time.Since(start)

	if err == nil {
		log.InfoContext(ctx, "task succeeded",
			slog.Int64("result_id", resultID),
			slog.Duration("duration", elapsed))
		r.emit(ctx, task, events.TaskSucceeded, func(e *events.TaskEvent) {
			e.ResultID, e.Progress, e.Step, e.Duration = resultID, domain.ProgressDone, domain.StepDone, elapsed
		})
		return nil
	}
	if errors.Is(err, errNotRunnable) {
		log.InfoContext(ctx, "task no longer queued, skipping")
		return nil
	}

	wctx := context.WithoutCancel(ctx)

	// The cancel event belongs to whoever performs the transition. A user
	// cancel has already emitted it, so only a cancel recorded here is
	// announced.
	if errors.Is(err, ErrTaskCancelled) {
		merr := r.tasks.MarkCancelled(wctx, task.ID)
		switch {
		case merr == nil:
			log.InfoContext(ctx, "task cancelled", slog.Duration("duration", elapsed))
			r.emit(wctx, task, events.TaskCancelled, func(e *events.TaskEvent) { e.Duration = elapsed })
		case errors.Is(merr, store.ErrTransitionRejected):
			log.InfoContext(ctx, "task was cancelled, attempt abandoned", slog.Duration("duration", elapsed))
		default:
			return fmt.Errorf("failed to record cancellation of task %s: %w", task.ID, merr)
		}
		return nil
	}

	de := domain.Classify(err)
	message := redact.String(de.Message)
	if merr := r.tasks.MarkFailed(wctx, task.ID, de.Code, message, de.Retryable); merr != nil {
		if errors.Is(merr, store.ErrTransitionRejected) {
			log.InfoContext(ctx, "task already settled, failure not recorded",
				slog.String("code", de.Code),
				slog.String("error", redact.Error(err)))
			return nil
		}
		return fmt.Errorf("failed to record failure of task %s: %w", task.ID, merr)
	}

	log.ErrorContext(ctx, "task failed",
		slog.String("code", de.Code),
		slog.Bool("retryable", de.Retryable),
		slog.String("error", redact.Error(err)),
		slog.Duration("duration", elapsed))
	r.emit(wctx, task, events.TaskFailed, func(e *events.TaskEvent) {
		e.ErrorCode, e.Duration = de.Code, elapsed
	})
	return nil
}

func (r *Runner) emit(ctx context.Context, task *domain.Task, t events.EventType, fill func(*events.TaskEvent)) {
	event := events.NewTaskEvent(t, task.ID, task.Fingerprint, task.Provider, task.Model)
	if fill != nil {
		fill(event)
	}
	if err := r.emitter.EmitEvent(ctx, event); err != nil {
		logger.FromContextOrDefault(ctx, r.logger).WarnContext(ctx, "failed to emit task event",
			slog.String("event_type", string(t)),
			slog.String("error", err.Error()))
	}
}
