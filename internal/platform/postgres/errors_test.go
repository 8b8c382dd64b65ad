package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/ziwei-api/internal/store"
	"github.com/stretchr/testify/assert"
)

func pgError(code string) *pgconn.PgError {
	return &pgconn.PgError{
		Code:           code,
		Message:        "error message",
		ColumnName:     "fingerprint",
		ConstraintName: "analysis_results_fingerprint_key",
	}
}

type fakeResult struct {
	rows int64
	err  error
}

func (f fakeResult) LastInsertId() (int64, error) { return 0, f.err }
func (f fakeResult) RowsAffected() (int64, error) { return f.rows, f.err }

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "no rows", err: sql.ErrNoRows, want: store.ErrNotFound},
		{name: "unique", err: pgError(uniqueViolationCode), want: store.ErrDuplicate},
		{name: "foreign key", err: pgError(foreignKeyViolationCode), want: store.ErrInvalidEntity},
		{name: "check", err: pgError(checkViolationCode), want: store.ErrInvalidEntity},
		{name: "not null", err: pgError(notNullViolationCode), want: store.ErrInvalidEntity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := MapError(tt.err)
			assert.ErrorIs(t, got, tt.want)
		})
	}

	assert.Nil(t, MapError(nil))
	plain := errors.New("connection reset")
	assert.Same(t, plain, MapError(plain))
}

func TestIsUniqueViolation(t *testing.T) {
	t.Parallel()

	assert.True(t, IsUniqueViolation(pgError(uniqueViolationCode)))
	assert.True(t, IsUniqueViolation(fmt.Errorf("insert: %w", pgError(uniqueViolationCode))))
	assert.False(t, IsUniqueViolation(pgError(checkViolationCode)))
	assert.False(t, IsUniqueViolation(nil))
}

func TestRowsAffected(t *testing.T) {
	t.Parallel()

	n, err := rowsAffected(fakeResult{rows: 2})
	assert.NoError(t, err)
	assert.Equal(t, int64(2), n)

	_, err = rowsAffected(fakeResult{err: errors.New("driver")})
	assert.Error(t, err)

	_, err = rowsAffected(nil)
	assert.Error(t, err)
}

func TestMapErrorKeepsDriverError(t *testing.T) {
	t.Parallel()

	pgErr := pgError(uniqueViolationCode)
	got := MapError(fmt.Errorf("insert result: %w", pgErr))

	var unwrapped *pgconn.PgError
	assert.True(t, errors.As(got, &unwrapped))
	assert.Same(t, pgErr, unwrapped)
	assert.Contains(t, got.Error(), "analysis_results_fingerprint_key")
}
