package shared

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type execCall struct {
	sql  string
	args []any
}

type fakeExecer struct {
	calls []execCall
	tag   pgconn.CommandTag
	err   error
}

func (f *fakeExecer) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.calls = append(f.calls, execCall{sql: sql, args: args})
	return f.tag, f.err
}

func TestAuditLoggerStampsTime(t *testing.T) {
	exec := &fakeExecer{}
	logger := NewAuditLogger(exec)
	at := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return at }

	err := logger.Record(context.Background(), AuditLog{
		ActorID: 7, Action: "inventory:purchase", Entity: "inventory_moves", EntityID: "12",
	})
	require.NoError(t, err)
	require.Len(t, exec.calls, 1)
	args := exec.calls[0].args
	require.Equal(t, int64(7), args[0])
	require.JSONEq(t, `{}`, string(args[4].([]byte)))
	require.Equal(t, at, args[5])

	var meta map[string]any
	err = logger.Record(context.Background(), AuditLog{
		Action: "inventory:sale", Entity: "inventory_moves", EntityID: "13",
		Meta: map[string]any{"item_id": 10}, At: at.Add(time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(exec.calls[1].args[4].([]byte), &meta))
	require.Equal(t, float64(10), meta["item_id"])
	require.Equal(t, at.Add(time.Hour), exec.calls[1].args[5])
}

func TestAuditLoggerValidates(t *testing.T) {
	exec := &fakeExecer{}
	require.Error(t, NewAuditLogger(exec).Record(context.Background(), AuditLog{Action: "x"}))
	require.Empty(t, exec.calls)

	var nilLogger *AuditLogger
	require.Error(t, nilLogger.Record(context.Background(), AuditLog{}))
}

func TestIdempotencyConflict(t *testing.T) {
	exec := &fakeExecer{err: &pgconn.PgError{Code: "23505", ConstraintName: "idempotency_keys_pkey"}}
	store := NewIdempotencyStore(exec)
	require.ErrorIs(t, store.CheckAndInsert(context.Background(), "po-1", "inventory"), ErrIdempotencyConflict)

	exec.err = errors.New("connection reset")
	err := store.CheckAndInsert(context.Background(), "po-1", "inventory")
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrIdempotencyConflict)

	require.Error(t, store.CheckAndInsert(context.Background(), "", "inventory"))
	require.Error(t, store.CheckAndInsert(context.Background(), "po-1", ""))
}

func TestIdempotencyCleanup(t *testing.T) {
	exec := &fakeExecer{tag: pgconn.NewCommandTag("DELETE 3")}
	store := NewIdempotencyStore(exec)
	now := time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	removed, err := store.Cleanup(context.Background(), 24*time.Hour)
	require.NoError(t, err)
	require.Equal(t, int64(3), removed)
	require.Equal(t, now.Add(-24*time.Hour), exec.calls[0].args[0])
}

func TestAuditLockKey(t *testing.T) {
	require.Equal(t, "stock:reconcile:all:lock", AuditLockKey(0))
	require.Equal(t, "stock:reconcile:location:4:lock", AuditLockKey(4))
}
