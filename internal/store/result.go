package store

import (
	"context"

	"github.com/phrazzld/ziwei-api/internal/domain"
)

// ResultStore persists completed analyses. Results are unique per fingerprint
// and immutable once written.
type ResultStore interface {
	// Save inserts the result with its items and returns its id. If a result
	// with the same fingerprint already exists, Save returns the existing id
	// and discards the given result. It is safe to call concurrently from
	// multiple processes.
	Save(ctx context.Context, result *domain.Result) (int64, error)

	// Get returns a result with all its items.
	Get(ctx context.Context, id int64) (*domain.Result, error)

	// GetByFingerprint returns the result for a fingerprint, or ErrResultNotFound.
	GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Result, error)

	// GetItem returns one analysis item of a result.
	GetItem(ctx context.Context, id int64, analysisType domain.AnalysisType) (*domain.Item, error)

	// List returns result summaries newest first, along with the total count.
	List(ctx context.Context, offset, limit int) ([]domain.ResultSummary, int, error)
}
