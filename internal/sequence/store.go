package sequence

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mpfootwear/backoffice/internal/platform/db"
)

// PGCounterStore advances counters in the sequence_counters table. It works
// over either a pool or an open transaction; in the pool case each advance
// is its own atomic statement, so a stream can skip a value when the
// surrounding business write fails, but can never repeat one.
type PGCounterStore struct {
	db db.DBTX
}

// NewPGCounterStore constructs the store.
func NewPGCounterStore(dbtx db.DBTX) *PGCounterStore {
	return &PGCounterStore{db: dbtx}
}

// Next inserts the counter at floor or advances it by one.
func (s *PGCounterStore) Next(ctx context.Context, key string, floor int64) (int64, error) {
	const q = `
		INSERT INTO sequence_counters (scope_key, last_value, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (scope_key) DO UPDATE
		SET last_value = sequence_counters.last_value + 1, updated_at = NOW()
		RETURNING last_value`
	var value int64
	if err := s.db.QueryRow(ctx, q, key, floor).Scan(&value); err != nil {
		return 0, err
	}
	return value, nil
}

// MapDuplicate translates a unique violation on a numbered insert into
// ErrDuplicateIdentifier so callers can tell a sequencing bug apart from
// other write failures. Any other error passes through unchanged.
func MapDuplicate(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%w: %s", ErrDuplicateIdentifier, pgErr.ConstraintName)
	}
	return err
}

// Raise lifts the counter to at least value without ever lowering it.
func (s *PGCounterStore) Raise(ctx context.Context, key string, value int64) error {
	const q = `
		INSERT INTO sequence_counters (scope_key, last_value, created_at, updated_at)
		VALUES ($1, $2, NOW(), NOW())
		ON CONFLICT (scope_key) DO UPDATE
		SET last_value = GREATEST(sequence_counters.last_value, EXCLUDED.last_value), updated_at = NOW()`
	_, err := s.db.Exec(ctx, q, key, value)
	return err
}
