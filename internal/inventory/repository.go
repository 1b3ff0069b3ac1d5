package inventory

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/platform/db"
)

// TxRepository exposes transactional ledger operations used by the services.
type TxRepository interface {
	GetItemForUpdate(ctx context.Context, itemID int64) (Item, error)
	UpdateItemCost(ctx context.Context, itemID int64, unitCost, totalValue decimal.Decimal) error
	UpdateItemKind(ctx context.Context, itemID int64, kind ItemKind) error
	GetLocation(ctx context.Context, locationID int64) (Location, error)
	LockBalance(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error)
	PooledQuantity(ctx context.Context, itemID int64) (decimal.Decimal, error)
	AppendMove(ctx context.Context, move Move) (Move, error)
	GetMoveForUpdate(ctx context.Context, moveID int64) (Move, error)
	UpdateMoveSettlement(ctx context.Context, moveID int64, moveType MoveType, status PaymentStatus) error
}

// Repository persists the ledger in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// PgTx implements TxRepository on top of a pgx transaction. Other packages
// embed it to share the ledger writes inside their own transactions.
type PgTx struct {
	tx pgx.Tx
}

// NewPgTx wraps tx.
func NewPgTx(tx pgx.Tx) *PgTx {
	return &PgTx{tx: tx}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("inventory repository not initialised")
	}
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, NewPgTx(tx))
	})
}

// BatchLegConstraint is the unique index allowing one debit and one credit per
// item and production batch.
const BatchLegConstraint = "uq_inventory_moves_batch_leg"

const itemColumns = `id, name, kind, unit_cost, total_value, is_weighted, sale_price`

const moveColumns = `id, item_id, from_location_id, to_location_id, quantity, type, unit_price, batch_id, payment_status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (Item, error) {
	var item Item
	var kind string
	var salePrice decimal.NullDecimal
	err := row.Scan(&item.ID, &item.Name, &kind, &item.UnitCost, &item.TotalValue, &item.IsWeighted, &salePrice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Item{}, ErrItemNotFound
		}
		return Item{}, err
	}
	item.Kind = ItemKind(kind)
	// Catalog rows written outside this service may leave the price unset.
	item.SalePrice = salePrice.Decimal
	return item, nil
}

func scanMove(row rowScanner) (Move, error) {
	var m Move
	var moveType string
	var status *string
	err := row.Scan(&m.ID, &m.ItemID, &m.FromLocationID, &m.ToLocationID, &m.Quantity, &moveType, &m.UnitPrice, &m.BatchID, &status, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Move{}, ErrMoveNotFound
		}
		return Move{}, err
	}
	m.Type = MoveType(moveType)
	if status != nil {
		m.PaymentStatus = PaymentStatus(*status)
	}
	return m, nil
}

// GetItem loads an item.
func (r *Repository) GetItem(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.pool.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1`, itemID))
}

// ListItems returns every item ordered by id.
func (r *Repository) ListItems(ctx context.Context) ([]Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+itemColumns+` FROM items ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []Item{}
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

// GetLocation loads a location.
func (r *Repository) GetLocation(ctx context.Context, locationID int64) (Location, error) {
	return getLocation(ctx, r.pool, locationID)
}

// ListLocations returns every location ordered by id.
func (r *Repository) ListLocations(ctx context.Context) ([]Location, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, kind FROM locations ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locations := []Location{}
	for rows.Next() {
		var loc Location
		var kind string
		if err := rows.Scan(&loc.ID, &loc.Name, &kind); err != nil {
			return nil, err
		}
		loc.Kind = LocationKind(kind)
		locations = append(locations, loc)
	}
	return locations, rows.Err()
}

// ListMoves returns ledger entries in insertion order.
func (r *Repository) ListMoves(ctx context.Context, filter MoveFilter) ([]Move, error) {
	var where []string
	var args []any
	if filter.ItemID != 0 {
		args = append(args, filter.ItemID)
		where = append(where, fmt.Sprintf("item_id=$%d", len(args)))
	}
	if filter.LocationID != 0 {
		args = append(args, filter.LocationID)
		where = append(where, fmt.Sprintf("(from_location_id=$%d OR to_location_id=$%d)", len(args), len(args)))
	}
	if filter.BatchID.Valid {
		args = append(args, filter.BatchID.UUID)
		where = append(where, fmt.Sprintf("batch_id=$%d", len(args)))
	}
	query := `SELECT ` + moveColumns + ` FROM inventory_moves`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY id ASC`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	moves := []Move{}
	for rows.Next() {
		m, err := scanMove(rows)
		if err != nil {
			return nil, err
		}
		moves = append(moves, m)
	}
	return moves, rows.Err()
}

// ListBalances returns the materialised balances stored for a location.
func (r *Repository) ListBalances(ctx context.Context, locationID int64) ([]Balance, error) {
	rows, err := r.pool.Query(ctx, `SELECT item_id, location_id, quantity FROM inventory WHERE location_id=$1 ORDER BY item_id`, locationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	balances := []Balance{}
	for rows.Next() {
		var b Balance
		if err := rows.Scan(&b.ItemID, &b.LocationID, &b.Quantity); err != nil {
			return nil, err
		}
		balances = append(balances, b)
	}
	return balances, rows.Err()
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getLocation(ctx context.Context, q queryRower, locationID int64) (Location, error) {
	var loc Location
	var kind string
	err := q.QueryRow(ctx, `SELECT id, name, kind FROM locations WHERE id=$1`, locationID).Scan(&loc.ID, &loc.Name, &kind)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Location{}, ErrLocationNotFound
		}
		return Location{}, err
	}
	loc.Kind = LocationKind(kind)
	return loc, nil
}

func (r *PgTx) GetItemForUpdate(ctx context.Context, itemID int64) (Item, error) {
	return scanItem(r.tx.QueryRow(ctx, `SELECT `+itemColumns+` FROM items WHERE id=$1 FOR UPDATE`, itemID))
}

func (r *PgTx) UpdateItemCost(ctx context.Context, itemID int64, unitCost, totalValue decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET unit_cost=$2, total_value=$3 WHERE id=$1`, itemID, unitCost, totalValue)
	return err
}

func (r *PgTx) UpdateItemKind(ctx context.Context, itemID int64, kind ItemKind) error {
	_, err := r.tx.Exec(ctx, `UPDATE items SET kind=$2 WHERE id=$1`, itemID, string(kind))
	return err
}

func (r *PgTx) GetLocation(ctx context.Context, locationID int64) (Location, error) {
	return getLocation(ctx, r.tx, locationID)
}

func (r *PgTx) LockBalance(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT quantity FROM inventory WHERE item_id=$1 AND location_id=$2 FOR UPDATE`, itemID, locationID).Scan(&qty)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	return qty, err
}

func (r *PgTx) PooledQuantity(ctx context.Context, itemID int64) (decimal.Decimal, error) {
	var qty decimal.Decimal
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(i.quantity), 0)
FROM inventory i JOIN locations l ON l.id = i.location_id
WHERE i.item_id=$1 AND l.kind <> 'client'`, itemID).Scan(&qty)
	return qty, err
}

// AppendMove inserts the ledger row and applies it to the materialised balances.
func (r *PgTx) AppendMove(ctx context.Context, move Move) (Move, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO inventory_moves (item_id, from_location_id, to_location_id, quantity, type, unit_price, batch_id, payment_status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id, created_at`,
		move.ItemID, move.FromLocationID, move.ToLocationID, move.Quantity, string(move.Type), move.UnitPrice, move.BatchID, nullStatus(move.PaymentStatus)).
		Scan(&move.ID, &move.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) && db.ConstraintName(err) == BatchLegConstraint {
			return Move{}, ErrDuplicateCredit
		}
		return Move{}, err
	}
	if move.FromLocationID != nil {
		if err := r.adjustBalance(ctx, move.ItemID, *move.FromLocationID, move.Quantity.Neg()); err != nil {
			return Move{}, err
		}
	}
	if move.ToLocationID != nil {
		if err := r.adjustBalance(ctx, move.ItemID, *move.ToLocationID, move.Quantity); err != nil {
			return Move{}, err
		}
	}
	return move, nil
}

func (r *PgTx) adjustBalance(ctx context.Context, itemID, locationID int64, delta decimal.Decimal) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO inventory (item_id, location_id, quantity) VALUES ($1,$2,$3)
ON CONFLICT (item_id, location_id) DO UPDATE SET quantity = inventory.quantity + EXCLUDED.quantity`, itemID, locationID, delta)
	return err
}

func (r *PgTx) GetMoveForUpdate(ctx context.Context, moveID int64) (Move, error) {
	return scanMove(r.tx.QueryRow(ctx, `SELECT `+moveColumns+` FROM inventory_moves WHERE id=$1 FOR UPDATE`, moveID))
}

func (r *PgTx) UpdateMoveSettlement(ctx context.Context, moveID int64, moveType MoveType, status PaymentStatus) error {
	_, err := r.tx.Exec(ctx, `UPDATE inventory_moves SET type=$2, payment_status=$3 WHERE id=$1`, moveID, string(moveType), nullStatus(status))
	return err
}

func nullStatus(s PaymentStatus) any {
	if s == PaymentNone {
		return nil
	}
	return string(s)
}
