package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

func TestErrorClassification(t *testing.T) {
	unique := &pgconn.PgError{Code: "23505", ConstraintName: "uq_inventory_moves_batch_leg"}
	wrapped := fmt.Errorf("append move: %w", unique)

	require.True(t, IsUniqueViolation(wrapped))
	require.Equal(t, "uq_inventory_moves_batch_leg", ConstraintName(wrapped))
	require.False(t, IsRetryable(wrapped))

	require.True(t, IsRetryable(fmt.Errorf("commit: %w", &pgconn.PgError{Code: "40001"})))
	require.True(t, IsRetryable(&pgconn.PgError{Code: "40P01"}))

	plain := errors.New("connection reset")
	require.False(t, IsUniqueViolation(plain))
	require.False(t, IsRetryable(plain))
	require.Empty(t, ConstraintName(plain))
	require.False(t, IsUniqueViolation(nil))
}
