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

// PostgresResultStore implements store.ResultStore. Saving needs a
// transaction, so it holds a *sql.DB rather than a store.DBTX.
type PostgresResultStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ store.ResultStore = (*PostgresResultStore)(nil)

// NewPostgresResultStore creates a result store on db.
func NewPostgresResultStore(db *sql.DB, logger *slog.Logger) *PostgresResultStore {
	if db == nil {
		panic("db cannot be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresResultStore{
		db:     db,
		logger: logger.With(slog.String("component", "result_store")),
	}
}

// Save implements store.ResultStore. The header and all items are written in
// one transaction. A concurrent writer that loses the race on the fingerprint
// unique key gets the winner's id back.
func (s *PostgresResultStore) Save(ctx context.Context, result *domain.Result) (int64, error) {
	if err := result.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	birth, err := json.Marshal(result.Request)
	if err != nil {
		return 0, fmt.Errorf("failed to encode birth info: %w", err)
	}
	createdAt := result.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	var id int64
	err = store.RunInTransaction(ctx, s.db, func(ctx context.Context, tx *sql.Tx) error {
		err := tx.QueryRowContext(ctx, `
			INSERT INTO analysis_results (fingerprint, birth_info, provider, model, prompt_version,
				description, total_execution_time, total_token_count, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
			RETURNING id`,
			result.Fingerprint, birth, result.Provider, result.Model, result.PromptVersion,
			result.Description, result.TotalExecutionTime, result.TotalTokenCount, createdAt.UTC(),
		).Scan(&id)
		if err != nil {
			return err
		}

		for _, item := range result.OrderedItems() {
			_, err := tx.ExecContext(ctx, `
				INSERT INTO analysis_result_items (result_id, analysis_type, content,
					execution_time, input_tokens, output_tokens, token_count)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				id, item.Type, item.Content, item.ExecutionTime,
				item.InputTokens, item.OutputTokens, item.TokenCount)
			if err != nil {
				return fmt.Errorf("failed to insert %s item: %w", item.Type, err)
			}
		}
		return nil
	})

	if IsUniqueViolation(err) {
		existing, lookupErr := s.idByFingerprint(ctx, result.Fingerprint)
		if lookupErr != nil {
			return 0, lookupErr
		}
		s.logger.InfoContext(ctx, "result already persisted by another writer",
			slog.String("fingerprint", result.Fingerprint),
			slog.Int64("result_id", existing))
		return existing, nil
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to save result",
			slog.String("fingerprint", result.Fingerprint),
			slog.String("error", err.Error()))
		return 0, MapError(err)
	}
	return id, nil
}

func (s *PostgresResultStore) idByFingerprint(ctx context.Context, fingerprint string) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM analysis_results WHERE fingerprint = $1`, fingerprint).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, store.ErrResultNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to look up result by fingerprint: %w", err)
	}
	return id, nil
}

const resultColumns = `id, fingerprint, birth_info, provider, model, prompt_version,
	description, total_execution_time, total_token_count, created_at`

func (s *PostgresResultStore) getWhere(ctx context.Context, where string, arg any) (*domain.Result, error) {
	var (
		r     domain.Result
		birth []byte
	)
	err := s.db.QueryRowContext(ctx, `SELECT `+resultColumns+` FROM analysis_results WHERE `+where, arg).
		Scan(&r.ID, &r.Fingerprint, &birth, &r.Provider, &r.Model, &r.PromptVersion,
			&r.Description, &r.TotalExecutionTime, &r.TotalTokenCount, &r.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if err := json.Unmarshal(birth, &r.Request); err != nil {
		return nil, fmt.Errorf("failed to decode birth info of result %d: %w", r.ID, err)
	}

	items, err := s.items(ctx, r.ID)
	if err != nil {
		return nil, err
	}
	r.Items = items
	return &r, nil
}

func (s *PostgresResultStore) items(ctx context.Context, resultID int64) (map[domain.AnalysisType]domain.Item, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT analysis_type, content, execution_time, input_tokens, output_tokens, token_count
		FROM analysis_result_items WHERE result_id = $1`, resultID)
	if err != nil {
		return nil, fmt.Errorf("failed to query result items: %w", err)
	}
	defer rows.Close()

	items := make(map[domain.AnalysisType]domain.Item)
	for rows.Next() {
		var it domain.Item
		if err := rows.Scan(&it.Type, &it.Content, &it.ExecutionTime,
			&it.InputTokens, &it.OutputTokens, &it.TokenCount); err != nil {
			return nil, fmt.Errorf("failed to scan result item: %w", err)
		}
		items[it.Type] = it
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result items: %w", err)
	}
	return items, nil
}

// Get implements store.ResultStore.
func (s *PostgresResultStore) Get(ctx context.Context, id int64) (*domain.Result, error) {
	return s.getWhere(ctx, "id = $1", id)
}

// GetByFingerprint implements store.ResultStore.
func (s *PostgresResultStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Result, error) {
	return s.getWhere(ctx, "fingerprint = $1", fingerprint)
}

// GetItem implements store.ResultStore.
func (s *PostgresResultStore) GetItem(ctx context.Context, id int64, analysisType domain.AnalysisType) (*domain.Item, error) {
	var it domain.Item
	err := s.db.QueryRowContext(ctx, `
		SELECT analysis_type, content, execution_time, input_tokens, output_tokens, token_count
		FROM analysis_result_items WHERE result_id = $1 AND analysis_type = $2`,
		id, analysisType,
	).Scan(&it.Type, &it.Content, &it.ExecutionTime, &it.InputTokens, &it.OutputTokens, &it.TokenCount)
	if errors.Is(err, sql.ErrNoRows) {
		if _, idErr := s.Get(ctx, id); idErr != nil {
			return nil, idErr
		}
		return nil, store.ErrResultItemNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get result item: %w", err)
	}
	return &it, nil
}

// List implements store.ResultStore.
func (s *PostgresResultStore) List(ctx context.Context, offset, limit int) ([]domain.ResultSummary, int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM analysis_results`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count results: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, birth_info, provider, model, prompt_version,
			total_execution_time, total_token_count, created_at
		FROM analysis_results
		ORDER BY created_at DESC, id DESC
		OFFSET $1 LIMIT $2`, offset, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list results: %w", err)
	}
	defer rows.Close()

	summaries := make([]domain.ResultSummary, 0, limit)
	for rows.Next() {
		var (
			sum   domain.ResultSummary
			birth []byte
		)
		if err := rows.Scan(&sum.ID, &birth, &sum.Provider, &sum.Model, &sum.PromptVersion,
			&sum.TotalExecutionTime, &sum.TotalTokenCount, &sum.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan result summary: %w", err)
		}
		if err := json.Unmarshal(birth, &sum.Request); err != nil {
			return nil, 0, fmt.Errorf("failed to decode birth info of result %d: %w", sum.ID, err)
		}
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating results: %w", err)
	}
	return summaries, total, nil
}
