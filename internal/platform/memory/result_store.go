package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/phrazzld/ziwei-api/internal/domain"
	"github.com/phrazzld/ziwei-api/internal/store"
)

// ResultStore keeps results in memory with the same first-writer-wins
// semantics as the Postgres store.
type ResultStore struct {
	mu            sync.RWMutex
	nextID        int64
	byID          map[int64]*domain.Result
	byFingerprint map[string]int64
}

var _ store.ResultStore = (*ResultStore)(nil)

// NewResultStore creates an empty result store.
func NewResultStore() *ResultStore {
	return &ResultStore{
		byID:          make(map[int64]*domain.Result),
		byFingerprint: make(map[string]int64),
	}
}

func cloneResult(r *domain.Result) *domain.Result {
	c := *r
	c.Items = maps.Clone(r.Items)
	return &c
}

// Save implements store.ResultStore.
func (s *ResultStore) Save(_ context.Context, result *domain.Result) (int64, error) {
	if err := result.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byFingerprint[result.Fingerprint]; ok {
		return id, nil
	}
	s.nextID++
	stored := cloneResult(result)
	stored.ID = s.nextID
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.byID[stored.ID] = stored
	s.byFingerprint[stored.Fingerprint] = stored.ID
	return stored.ID, nil
}

// Get implements store.ResultStore.
func (s *ResultStore) Get(_ context.Context, id int64) (*domain.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.byID[id]
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return cloneResult(r), nil
}

// GetByFingerprint implements store.ResultStore.
func (s *ResultStore) GetByFingerprint(ctx context.Context, fingerprint string) (*domain.Result, error) {
	s.mu.RLock()
	id, ok := s.byFingerprint[fingerprint]
	s.mu.RUnlock()
	if !ok {
		return nil, store.ErrResultNotFound
	}
	return s.Get(ctx, id)
}

// GetItem implements store.ResultStore.
func (s *ResultStore) GetItem(ctx context.Context, id int64, analysisType domain.AnalysisType) (*domain.Item, error) {
	r, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	item, ok := r.Items[analysisType]
	if !ok {
		return nil, store.ErrResultItemNotFound
	}
	return &item, nil
}

// List implements store.ResultStore.
func (s *ResultStore) List(_ context.Context, offset, limit int) ([]domain.ResultSummary, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*domain.Result, 0, len(s.byID))
	for _, r := range s.byID {
		all = append(all, r)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID > all[j].ID })

	total := len(all)
	if offset >= total {
		return []domain.ResultSummary{}, total, nil
	}
	end := min(offset+limit, total)
	out := make([]domain.ResultSummary, 0, end-offset)
	for _, r := range all[offset:end] {
		out = append(out, r.Summary())
	}
	return out, total, nil
}
