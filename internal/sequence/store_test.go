package sequence

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestMapDuplicateUniqueViolation(t *testing.T) {
	pgErr := &pgconn.PgError{Code: "23505", ConstraintName: "orders_tenant_number_key"}

	err := MapDuplicate(pgErr)
	require.ErrorIs(t, err, ErrDuplicateIdentifier)
	require.Contains(t, err.Error(), "orders_tenant_number_key")

	wrapped := MapDuplicate(fmt.Errorf("insert order: %w", pgErr))
	require.ErrorIs(t, wrapped, ErrDuplicateIdentifier)
}

func TestMapDuplicatePassesOtherErrorsThrough(t *testing.T) {
	require.NoError(t, MapDuplicate(nil))

	serErr := &pgconn.PgError{Code: "40001"}
	require.Same(t, error(serErr), MapDuplicate(serErr))

	plain := errors.New("connection reset")
	require.Same(t, plain, MapDuplicate(plain))
}
