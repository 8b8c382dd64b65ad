package analysis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/events"
	"github.com/phrazzld/ziwei-api/internal/platform/logger"
	"github.com/phrazzld/ziwei-api/internal/queue"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// History paging bounds.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Config holds dispatcher settings.
type Config struct {
	Defaults domain.Defaults
	// MaxTaskRetry bounds user-triggered retries per task.
	MaxTaskRetry int
	// JobTimeout is carried on every enqueued job.
	JobTimeout time.Duration
	// PollAfterMs is the back-off hint returned with queued tasks.
	PollAfterMs int
}

// Service implements submission, deduplication and the user-facing task and
// result operations. It never runs the pipeline itself.
type Service struct {
	tasks    store.TaskStore
	results  store.ResultStore
	enqueuer queue.Enqueuer
	emitter  events.EventEmitter
	cfg      Config
	logger   *slog.Logger
}

// NewService creates a Service. It returns an error if a required
// dependency is nil. A nil emitter discards events.
func NewService(
	tasks store.TaskStore,
	results store.ResultStore,
	enqueuer queue.Enqueuer,
	emitter events.EventEmitter,
	cfg Config,
	logger *slog.Logger,
) (*Service, error) {
	switch {
	case tasks == nil:
		return nil, errors.New("analysis service: tasks cannot be nil")
	case results == nil:
		return nil, errors.New("analysis service: results cannot be nil")
	case enqueuer == nil:
		return nil, errors.New("analysis service: enqueuer cannot be nil")
	case logger == nil:
		return nil, errors.New("analysis service: logger cannot be nil")
	}
	if emitter == nil {
		emitter = events.Discard
	}
	if cfg.PollAfterMs <= 0 {
		cfg.PollAfterMs = 2000
	}
	return &Service{
		tasks:    tasks,
		results:  results,
		enqueuer: enqueuer,
		emitter:  emitter,
		cfg:      cfg,
		logger:   logger.With("component", "analysis_service"),
	}, nil
}

// Submit returns a cached result, an in-flight task for the same
// fingerprint, or a newly queued task.
//
// The in-flight check is a read followed by a write, so two simultaneous
// first submissions can both create a task. Both tasks then compute the same
// result and the result store keeps the first one persisted.
func (s *Service) Submit(ctx context.Context, req domain.BirthRequest) (*SubmissionResult, error) {
	norm, err := req.Normalize(s.cfg.Defaults)
	if err != nil {
		return nil, err
	}
	log := s.log(ctx).With(slog.String("fingerprint", norm.Fingerprint))

	cached, err := s.results.GetByFingerprint(ctx, norm.Fingerprint)
	switch {
	case err == nil:
		log.DebugContext(ctx, "submission served from cache", slog.Int64("result_id", cached.ID))
		s.emit(ctx, events.TaskCacheHit, "", norm, func(e *events.TaskEvent) { e.ResultID = cached.ID })
		id := cached.ID
		return &SubmissionResult{HitCache: true, ResultID: &id}, nil
	case !errors.Is(err, store.ErrResultNotFound):
		return nil, s.internal("failed to look up cached result", err)
	}

	active, err := s.tasks.FindActiveByFingerprint(ctx, norm.Fingerprint)
	switch {
	case err == nil:
		log.DebugContext(ctx, "submission joined active task", slog.String("task_id", active.ID))
		s.emit(ctx, events.TaskReused, active.ID, norm, nil)
		return &SubmissionResult{
			TaskID:      active.ID,
			Status:      active.Status,
			PollAfterMs: s.cfg.PollAfterMs,
			ReusedTask:  true,
		}, nil
	case !errors.Is(err, store.ErrTaskNotFound):
		return nil, s.internal("failed to look up active task", err)
	}

	task, err := domain.NewTask(norm, time.Now().UTC())
	if err != nil {
		return nil, s.internal("failed to build task", err)
	}
	if err := s.tasks.Create(ctx, task); err != nil {
		return nil, s.internal("failed to create task", err)
	}
	log = log.With(slog.String("task_id", task.ID))

	if err := s.enqueue(ctx, task.ID); err != nil {
		log.ErrorContext(ctx, "failed to enqueue new task", slog.String("error", err.Error()))
		return nil, err
	}

	log.InfoContext(ctx, "task submitted",
		slog.String("provider", task.Provider),
		slog.String("model", task.Model))
	s.emit(ctx, events.TaskSubmitted, task.ID, norm, nil)
	return &SubmissionResult{
		TaskID:      task.ID,
		Status:      task.Status,
		PollAfterMs: s.cfg.PollAfterMs,
	}, nil
}

// CheckCache reports whether a result already exists for the request. It
// never creates tasks.
func (s *Service) CheckCache(ctx context.Context, req domain.BirthRequest) (*CacheLookupResult, error) {
	norm, err := req.Normalize(s.cfg.Defaults)
	if err != nil {
		return nil, err
	}

	result, err := s.results.GetByFingerprint(ctx, norm.Fingerprint)
	if errors.Is(err, store.ErrResultNotFound) {
		return &CacheLookupResult{}, nil
	}
	if err != nil {
		return nil, s.internal("failed to look up cached result", err)
	}

	cached := make(map[string]string, len(result.Items))
	for _, item := range result.OrderedItems() {
		cached[string(item.Type)] = cachedSummary(item)
	}
	id := result.ID
	return &CacheLookupResult{Hit: true, ResultID: &id, CachedResults: cached}, nil
}

// GetTask returns the current view of a task.
func (s *Service) GetTask(ctx context.Context, taskID string) (*TaskView, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	return newTaskView(task), nil
}

// CancelTask cancels a queued or running task. A running task stops at its
// next checkpoint; an LLM call already in flight is not interrupted.
func (s *Service) CancelTask(ctx context.Context, taskID string) (*TaskView, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if !task.Status.IsActive() {
		return nil, domain.ConflictError("task cannot be cancelled in current status", nil)
	}

	if err := s.tasks.MarkCancelled(ctx, taskID); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			return nil, domain.ConflictError("task cannot be cancelled in current status", err)
		}
		return nil, s.mapTaskError("failed to cancel task", err)
	}

	s.log(ctx).InfoContext(ctx, "task cancelled by user",
		slog.String("task_id", taskID),
		slog.String("previous_status", string(task.Status)))
	s.publish(ctx, events.NewTaskEvent(events.TaskCancelled, task.ID, task.Fingerprint, task.Provider, task.Model))
	return s.GetTask(ctx, taskID)
}

// RetryTask requeues a failed task while its retry budget lasts.
func (s *Service) RetryTask(ctx context.Context, taskID string) (*TaskView, error) {
	task, err := s.loadTask(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != domain.TaskStatusFailed {
		return nil, domain.ConflictError("only failed task can retry", nil)
	}
	if task.RetryCount+1 > s.cfg.MaxTaskRetry {
		return nil, domain.ConflictError("max retry reached", nil)
	}

	if err := s.tasks.Requeue(ctx, taskID, s.cfg.MaxTaskRetry); err != nil {
		if errors.Is(err, store.ErrTransitionRejected) {
			return nil, domain.ConflictError("task cannot be retried in current status", err)
		}
		return nil, s.mapTaskError("failed to requeue task", err)
	}
	if err := s.enqueue(ctx, taskID); err != nil {
		return nil, err
	}

	s.log(ctx).InfoContext(ctx, "task retried by user",
		slog.String("task_id", taskID),
		slog.Int("retry_count", task.RetryCount+1))
	event := events.NewTaskEvent(events.TaskRetried, task.ID, task.Fingerprint, task.Provider, task.Model)
	s.publish(ctx, event)
	return s.GetTask(ctx, taskID)
}

// GetResult returns a complete result.
func (s *Service) GetResult(ctx context.Context, resultID int64) (*ResultView, error) {
	result, err := s.loadResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	return newResultView(result), nil
}

// GetResultItem returns one analysis of a result.
func (s *Service) GetResultItem(ctx context.Context, resultID int64, analysisType string) (*ResultItemView, error) {
	at, err := domain.ParseAnalysisType(analysisType)
	if err != nil {
		return nil, err
	}
	item, err := s.results.GetItem(ctx, resultID, at)
	switch {
	case errors.Is(err, store.ErrResultItemNotFound):
		return nil, domain.NotFoundError("analysis item not found")
	case errors.Is(err, store.ErrResultNotFound):
		return nil, domain.NotFoundError("result not found")
	case err != nil:
		return nil, s.internal("failed to load result item", err)
	}
	return &ResultItemView{ResultID: resultID, Item: *item}, nil
}

// History lists results newest first. page starts at 1 and pageSize is
// clamped to [1, MaxPageSize].
func (s *Service) History(ctx context.Context, page, pageSize int) (*HistoryPage, error) {
	page = max(page, 1)
	pageSize = min(max(pageSize, 1), MaxPageSize)

	items, total, err := s.results.List(ctx, (page-1)*pageSize, pageSize)
	if err != nil {
		return nil, s.internal("failed to list results", err)
	}
	if items == nil {
		items = []domain.ResultSummary{}
	}
	return &HistoryPage{
		Items:    items,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasNext:  page*pageSize < total,
	}, nil
}

// ExportMarkdown renders a result as a Markdown report. scope is "full" or
// a single analysis type; empty means full.
func (s *Service) ExportMarkdown(ctx context.Context, resultID int64, scope string) (*MarkdownExport, error) {
	scope, err := parseScope(scope)
	if err != nil {
		return nil, err
	}
	result, err := s.loadResult(ctx, resultID)
	if err != nil {
		return nil, err
	}
	return &MarkdownExport{
		Filename: exportFilename(resultID, scope),
		Content:  RenderMarkdown(result, scope),
	}, nil
}

func (s *Service) loadTask(ctx context.Context, taskID string) (*domain.Task, error) {
	task, err := s.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, s.mapTaskError("failed to load task", err)
	}
	return task, nil
}

func (s *Service) loadResult(ctx context.Context, resultID int64) (*domain.Result, error) {
	result, err := s.results.Get(ctx, resultID)
	if errors.Is(err, store.ErrResultNotFound) {
		return nil, domain.NotFoundError("result not found")
	}
	if err != nil {
		return nil, s.internal("failed to load result", err)
	}
	return result, nil
}

// enqueue publishes a job for the task. If the queue refuses it the task is
// failed so it does not block its fingerprint as a phantom active task.
func (s *Service) enqueue(ctx context.Context, taskID string) error {
	err := s.enqueuer.Enqueue(ctx, queue.NewJob(taskID, s.cfg.JobTimeout))
	if err == nil {
		return nil
	}
	if merr := s.tasks.MarkFailed(context.WithoutCancel(ctx), taskID, domain.CodeInternal, "failed to enqueue task", false); merr != nil {
		s.log(ctx).ErrorContext(ctx, "failed to fail unqueued task",
			slog.String("task_id", taskID),
			slog.String("error", merr.Error()))
	}
	return domain.InternalError("failed to enqueue task", err)
}

func (s *Service) mapTaskError(message string, err error) error {
	if errors.Is(err, store.ErrTaskNotFound) {
		return domain.NotFoundError("task not found")
	}
	return s.internal(message, err)
}

func (s *Service) internal(message string, err error) error {
	return domain.InternalError(message, err)
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	return logger.FromContextOrDefault(ctx, s.logger)
}

func (s *Service) emit(ctx context.Context, t events.EventType, taskID string, norm domain.NormalizedRequest, fill func(*events.TaskEvent)) {
	event := events.NewTaskEvent(t, taskID, norm.Fingerprint, norm.Backend.Provider, norm.Backend.Model)
	if fill != nil {
		fill(event)
	}
	s.publish(ctx, event)
}

func (s *Service) publish(ctx context.Context, event *events.TaskEvent) {
	if err := s.emitter.EmitEvent(ctx, event); err != nil {
		s.log(ctx).WarnContext(ctx, "failed to emit task event",
			slog.String("event_type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
