package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// StaleTaskMessage is recorded on tasks failed by the reaper.
const StaleTaskMessage = "task exceeded job timeout"

// ReaperConfig controls stale task detection.
type ReaperConfig struct {
	// MaxIdle is how long a running task may go without an update.
	MaxIdle time.Duration
	// Interval between sweeps. Defaults to one minute.
	Interval time.Duration
}

// Reaper periodically fails running tasks whose worker stopped updating
// them, so a lost job does not leave its task running forever.
type Reaper struct {
	tasks    store.TaskStore
	cfg      ReaperConfig
	observer ReapObserver
	emitter  events.EventEmitter
	logger   *slog.Logger
	now      func() time.Time
}

// NewReaper creates a reaper. Nil observer and emitter are allowed.
func NewReaper(tasks store.TaskStore, cfg ReaperConfig, observer ReapObserver, emitter events.EventEmitter, logger *slog.Logger) *Reaper {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if observer == nil {
		observer = noopObserver{}
	}
	if emitter == nil {
		emitter = events.Discard
	}
	return &Reaper{
		tasks:    tasks,
		cfg:      cfg,
		observer: observer,
		emitter:  emitter,
		logger:   logger.With("component", "reaper"),
		now:      time.Now,
	}
}

// Run sweeps every Interval until ctx is done.
func (r *Reaper) Run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.ReapOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.ErrorContext(ctx, "stale task sweep failed", slog.String("error", err.Error()))
			}
		}
	}
}

// ReapOnce fails every stale running task and returns how many it failed.
func (r *Reaper) ReapOnce(ctx context.Context) (int, error) {
	stale, err := r.tasks.ListStale(ctx, r.now().Add(-r.cfg.MaxIdle))
	if err != nil {
		return 0, fmt.Errorf("failed to list stale tasks: %w", err)
	}

	reaped := 0
	for _, t := range stale {
		err := r.tasks.MarkFailed(ctx, t.ID, domain.CodeLLMTimeout, StaleTaskMessage, true)
		if errors.Is(err, store.ErrTransitionRejected) || errors.Is(err, store.ErrTaskNotFound) {
			continue
		}
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to fail stale task",
				slog.String("task_id", t.ID),
				slog.String("error", err.Error()))
			continue
		}
		reaped++
		r.logger.WarnContext(ctx, "failed stale task",
			slog.String("task_id", t.ID),
			slog.String("step", t.Step),
			slog.Time("updated_at", t.UpdatedAt))

		event := events.NewTaskEvent(events.TaskFailed, t.ID, t.Fingerprint, t.Provider, t.Model)
		event.ErrorCode = domain.CodeLLMTimeout
		if t.StartedAt != nil {
			event.Duration = r.now().Sub(*t.StartedAt)
		}
		if err := r.emitter.EmitEvent(ctx, event); err != nil {
			r.logger.WarnContext(ctx, "failed to emit task event", slog.String("error", err.Error()))
		}
	}
	if reaped > 0 {
		r.observer.TasksReaped(reaped)
	}
	return reaped, nil
}
