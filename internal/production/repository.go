package production

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// TxRepository extends the ledger writes with queue and recipe access.
type TxRepository interface {
	inventory.TxRepository
	ListRecipeRows(ctx context.Context, finishedGoodID int64) ([]RecipeRow, error)
	InsertQueueEntry(ctx context.Context, entry QueueEntry) (QueueEntry, error)
	GetQueueEntryForUpdate(ctx context.Context, entryID int64) (QueueEntry, error)
	UpdateQueueStatus(ctx context.Context, entryID int64, status QueueStatus) error
	SetOutputWeight(ctx context.Context, entryID int64, weight decimal.Decimal) error
	HasProductionCredit(ctx context.Context, batchID uuid.UUID, itemID int64) (bool, error)
}

// RepositoryPort is the storage surface the engine depends on.
type RepositoryPort interface {
	inventory.LedgerReader
	RecipeSource
	GetLocation(ctx context.Context, locationID int64) (inventory.Location, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetQueueEntry(ctx context.Context, entryID int64) (QueueEntry, error)
	ListDueEntries(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error)
	ListQueue(ctx context.Context, status QueueStatus, limit int) ([]QueueEntry, error)
}

// Repository persists recipes and the production queue in PostgreSQL.
type Repository struct {
	*inventory.Repository
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Repository: inventory.NewRepository(pool), pool: pool}
}

type pgTx struct {
	*inventory.PgTx
	tx pgx.Tx
}

// WithTx executes fn inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("production repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgTx{PgTx: inventory.NewPgTx(tx), tx: tx})
	})
}

const queueColumns = `id, finished_good_id, location_id, quantity, output_weight, started_at, completes_at, status, batch_id, estimated_cost`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (QueueEntry, error) {
	var e QueueEntry
	var status string
	err := row.Scan(&e.ID, &e.FinishedGoodID, &e.LocationID, &e.Quantity, &e.OutputWeight, &e.StartedAt, &e.CompletesAt, &status, &e.BatchID, &e.EstimatedCost)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return QueueEntry{}, ErrEntryNotFound
		}
		return QueueEntry{}, err
	}
	e.Status = QueueStatus(status)
	return e, nil
}

func collectEntries(rows pgx.Rows) ([]QueueEntry, error) {
	defer rows.Close()
	entries := []QueueEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func listRecipeRows(ctx context.Context, q querier, finishedGoodID int64) ([]RecipeRow, error) {
	rows, err := q.Query(ctx, `SELECT finished_good_id, ingredient_id, quantity, returns_to_raw, production_time_minutes
FROM recipes WHERE finished_good_id=$1 ORDER BY ingredient_id`, finishedGoodID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RecipeRow{}
	for rows.Next() {
		var row RecipeRow
		if err := rows.Scan(&row.FinishedGoodID, &row.IngredientID, &row.Quantity, &row.ReturnsToRaw, &row.ProductionTimeMinutes); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// ListRecipeRows returns the stored bill-of-materials rows.
func (r *Repository) ListRecipeRows(ctx context.Context, finishedGoodID int64) ([]RecipeRow, error) {
	return listRecipeRows(ctx, r.pool, finishedGoodID)
}

// GetQueueEntry loads a queue entry without locking it.
func (r *Repository) GetQueueEntry(ctx context.Context, entryID int64) (QueueEntry, error) {
	return scanEntry(r.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM production_queue WHERE id=$1`, entryID))
}

// ListDueEntries returns in-progress entries whose completion time has passed.
func (r *Repository) ListDueEntries(ctx context.Context, now time.Time, limit int) ([]QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+queueColumns+` FROM production_queue
WHERE status='in_progress' AND completes_at <= $1 ORDER BY completes_at, id LIMIT $2`, now, limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

// ListQueue lists entries, optionally filtered by status.
func (r *Repository) ListQueue(ctx context.Context, status QueueStatus, limit int) ([]QueueEntry, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+queueColumns+` FROM production_queue
WHERE ($1 = '' OR status = $1) ORDER BY id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (t *pgTx) ListRecipeRows(ctx context.Context, finishedGoodID int64) ([]RecipeRow, error) {
	return listRecipeRows(ctx, t.tx, finishedGoodID)
}

func (t *pgTx) InsertQueueEntry(ctx context.Context, entry QueueEntry) (QueueEntry, error) {
	err := t.tx.QueryRow(ctx, `INSERT INTO production_queue (finished_good_id, location_id, quantity, output_weight, started_at, completes_at, status, batch_id, estimated_cost)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		entry.FinishedGoodID, entry.LocationID, entry.Quantity, entry.OutputWeight, entry.StartedAt, entry.CompletesAt,
		string(entry.Status), entry.BatchID, entry.EstimatedCost).Scan(&entry.ID)
	if err != nil {
		return QueueEntry{}, err
	}
	return entry, nil
}

func (t *pgTx) GetQueueEntryForUpdate(ctx context.Context, entryID int64) (QueueEntry, error) {
	return scanEntry(t.tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM production_queue WHERE id=$1 FOR UPDATE`, entryID))
}

func (t *pgTx) UpdateQueueStatus(ctx context.Context, entryID int64, status QueueStatus) error {
	tag, err := t.tx.Exec(ctx, `UPDATE production_queue SET status=$2 WHERE id=$1`, entryID, string(status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryNotFound
	}
	return nil
}

func (t *pgTx) SetOutputWeight(ctx context.Context, entryID int64, weight decimal.Decimal) error {
	tag, err := t.tx.Exec(ctx, `UPDATE production_queue SET output_weight=$2 WHERE id=$1 AND status='in_progress'`, entryID, weight)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrEntryClosed
	}
	return nil
}

func (t *pgTx) HasProductionCredit(ctx context.Context, batchID uuid.UUID, itemID int64) (bool, error) {
	var exists bool
	err := t.tx.QueryRow(ctx, `SELECT EXISTS (
	SELECT 1 FROM inventory_moves
	WHERE batch_id=$1 AND item_id=$2 AND type='production' AND to_location_id IS NOT NULL AND quantity > 0
)`, batchID, itemID).Scan(&exists)
	return exists, err
}
