package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// PostgresTaskStore implements store.TaskStore.
type PostgresTaskStore struct {
	db     store.DBTX
	logger *slog.Logger
}

var _ store.TaskStore = (*PostgresTaskStore)(nil)

// NewPostgresTaskStore creates a task store on db. A nil logger means the
// slog default.
func NewPostgresTaskStore(db store.DBTX, logger *slog.Logger) *PostgresTaskStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresTaskStore{
		db:     db,
		logger: logger.With(slog.String("component", "task_store")),
	}
}

const taskColumns = `id, status, progress, step, birth_info, provider, model, prompt_version,
	fingerprint, result_id, error_code, error_message, error_retryable, retry_count,
	created_at, updated_at, started_at, finished_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*domain.Task, error) {
	var (
		t        domain.Task
		birth    []byte
		resultID sql.NullInt64
		started  sql.NullTime
		finished sql.NullTime
	)
	err := row.Scan(&t.ID, &t.Status, &t.Progress, &t.Step, &birth, &t.Provider, &t.Model,
		&t.PromptVersion, &t.Fingerprint, &resultID, &t.ErrorCode, &t.ErrorMessage,
		&t.ErrorRetryable, &t.RetryCount, &t.CreatedAt, &t.UpdatedAt, &started, &finished)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(birth, &t.Request); err != nil {
		return nil, fmt.Errorf("failed to decode birth info of task %s: %w", t.ID, err)
	}
	if resultID.Valid {
		id := resultID.Int64
		t.ResultID = &id
	}
	if started.Valid {
		s := started.Time
		t.StartedAt = &s
	}
	if finished.Valid {
		f := finished.Time
		t.FinishedAt = &f
	}
	return &t, nil
}

// Create implements store.TaskStore.
func (s *PostgresTaskStore) Create(ctx context.Context, task *domain.Task) error {
	if err := task.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	birth, err := json.Marshal(task.Request)
	if err != nil {
		return fmt.Errorf("failed to encode birth info: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO analysis_tasks (id, status, progress, step, birth_info, provider, model,
			prompt_version, fingerprint, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		task.ID, task.Status, task.Progress, task.Step, birth, task.Provider, task.Model,
		task.PromptVersion, task.Fingerprint, task.RetryCount, task.CreatedAt.UTC(), task.UpdatedAt.UTC(),
	)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to insert task",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	return nil
}

// Get implements store.TaskStore.
func (s *PostgresTaskStore) Get(ctx context.Context, taskID string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks WHERE id = $1`, taskID)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task %s: %w", taskID, err)
	}
	return t, nil
}

// Status implements store.TaskStore.
func (s *PostgresTaskStore) Status(ctx context.Context, taskID string) (domain.TaskStatus, error) {
	var status domain.TaskStatus
	err := s.db.QueryRowContext(ctx, `SELECT status FROM analysis_tasks WHERE id = $1`, taskID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return "", store.ErrTaskNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to read status of task %s: %w", taskID, err)
	}
	return status, nil
}

// FindActiveByFingerprint implements store.TaskStore.
func (s *PostgresTaskStore) FindActiveByFingerprint(ctx context.Context, fingerprint string) (*domain.Task, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+taskColumns+` FROM analysis_tasks
		WHERE fingerprint = $1 AND status IN ('queued', 'running')
		ORDER BY created_at DESC
		LIMIT 1`, fingerprint)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrTaskNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active task: %w", err)
	}
	return t, nil
}

// transition runs a conditional UPDATE whose WHERE clause encodes the
// precondition. When nothing matched, it tells a missing task apart from a
// rejected one.
func (s *PostgresTaskStore) transition(ctx context.Context, op, taskID, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		s.logger.ErrorContext(ctx, "task transition failed",
			slog.String("op", op),
			slog.String("task_id", taskID),
			slog.String("error", err.Error()))
		return MapError(err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	status, err := s.Status(ctx, taskID)
	if err != nil {
		return err
	}
	return fmt.Errorf("%w: cannot %s task in status %s", store.ErrTransitionRejected, op, status)
}

// MarkRunning implements store.TaskStore.
func (s *PostgresTaskStore) MarkRunning(ctx context.Context, taskID, step string, progress int) error {
	now := time.Now().UTC()
	return s.transition(ctx, "start", taskID, `
		UPDATE analysis_tasks
		SET status = 'running', step = $2, progress = GREATEST(progress, $3),
			error_code = '', error_message = '', error_retryable = FALSE,
			started_at = COALESCE(started_at, $4), updated_at = $4
		WHERE id = $1 AND status = 'queued'`,
		taskID, step, progress, now)
}

// UpdateProgress implements store.TaskStore.
func (s *PostgresTaskStore) UpdateProgress(ctx context.Context, taskID, step string, progress int) error {
	return s.transition(ctx, "update progress of", taskID, `
		UPDATE analysis_tasks
		SET step = $2, progress = $3, updated_at = $4
		WHERE id = $1 AND status = 'running' AND progress <= $3`,
		taskID, step, progress, time.Now().UTC())
}

// MarkSucceeded implements store.TaskStore.
func (s *PostgresTaskStore) MarkSucceeded(ctx context.Context, taskID string, resultID int64) error {
	now := time.Now().UTC()
	return s.transition(ctx, "complete", taskID, `
		UPDATE analysis_tasks
		SET status = 'succeeded', step = $2, progress = $3, result_id = $4,
			updated_at = $5, finished_at = $5
		WHERE id = $1 AND status = 'running'`,
		taskID, domain.StepDone, domain.ProgressDone, resultID, now)
}

// MarkFailed implements store.TaskStore.
func (s *PostgresTaskStore) MarkFailed(ctx context.Context, taskID, code, message string, retryable bool) error {
	now := time.Now().UTC()
	return s.transition(ctx, "fail", taskID, `
		UPDATE analysis_tasks
		SET status = 'failed', error_code = $2, error_message = $3, error_retryable = $4,
			updated_at = $5, finished_at = $5
		WHERE id = $1 AND status IN ('queued', 'running')`,
		taskID, code, message, retryable, now)
}

// MarkCancelled implements store.TaskStore.
func (s *PostgresTaskStore) MarkCancelled(ctx context.Context, taskID string) error {
	now := time.Now().UTC()
	return s.transition(ctx, "cancel", taskID, `
		UPDATE analysis_tasks
		SET status = 'cancelled', updated_at = $2, finished_at = $2
		WHERE id = $1 AND status IN ('queued', 'running')`,
		taskID, now)
}

// Requeue implements store.TaskStore.
func (s *PostgresTaskStore) Requeue(ctx context.Context, taskID string, maxRetry int) error {
	return s.transition(ctx, "retry", taskID, `
		UPDATE analysis_tasks
		SET status = 'queued', step = $2, progress = $3, retry_count = retry_count + 1,
			error_code = '', error_message = '', error_retryable = FALSE, finished_at = NULL, updated_at = $4
		WHERE id = $1 AND status = 'failed' AND retry_count + 1 <= $5`,
		taskID, domain.StepQueued, domain.ProgressQueued, time.Now().UTC(), maxRetry)
}

// ListStale implements store.TaskStore.
func (s *PostgresTaskStore) ListStale(ctx context.Context, updatedBefore time.Time) ([]*domain.Task, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+taskColumns+` FROM analysis_tasks
		WHERE status = 'running' AND updated_at < $1
		ORDER BY updated_at ASC`, updatedBefore.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query stale tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan stale task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating stale tasks: %w", err)
	}
	return tasks, nil
}
