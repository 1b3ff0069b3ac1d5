// Package memstore is an in-memory, transactional implementation of the ledger,
// recipe and production queue storage. Transactions are serialised and run on
// a copy of the state that is swapped in only on success.
package memstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/production"
)

// Operation names accepted by Fail.
const (
	OpAppendMove        = "AppendMove"
	OpUpdateItemCost    = "UpdateItemCost"
	OpUpdateItemKind    = "UpdateItemKind"
	OpInsertQueueEntry  = "InsertQueueEntry"
	OpUpdateQueueStatus = "UpdateQueueStatus"
	OpSetOutputWeight   = "SetOutputWeight"
)

// ErrInjected is a convenient error for fault injection.
var ErrInjected = errors.New("memstore: injected failure")

type state struct {
	items       map[int64]inventory.Item
	locations   map[int64]inventory.Location
	balances    map[inventory.BalanceKey]decimal.Decimal
	moves       []inventory.Move
	recipes     map[int64][]production.RecipeRow
	queue       map[int64]production.QueueEntry
	nextMoveID  int64
	nextEntryID int64
}

func newState() *state {
	return &state{
		items:     make(map[int64]inventory.Item),
		locations: make(map[int64]inventory.Location),
		balances:  make(map[inventory.BalanceKey]decimal.Decimal),
		recipes:   make(map[int64][]production.RecipeRow),
		queue:     make(map[int64]production.QueueEntry),
	}
}

func (s *state) clone() *state {
	out := newState()
	for k, v := range s.items {
		out.items[k] = v
	}
	for k, v := range s.locations {
		out.locations[k] = v
	}
	for k, v := range s.balances {
		out.balances[k] = v
	}
	out.moves = append([]inventory.Move(nil), s.moves...)
	for k, v := range s.recipes {
		out.recipes[k] = append([]production.RecipeRow(nil), v...)
	}
	for k, v := range s.queue {
		out.queue[k] = v
	}
	out.nextMoveID = s.nextMoveID
	out.nextEntryID = s.nextEntryID
	return out
}

type fault struct {
	nth   int
	calls int
	err   error
}

// Store holds the whole dataset in memory.
type Store struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	st     *state
	faults map[string]*fault
	blind  bool
	now    func() time.Time
}

// New returns an empty store.
func New() *Store {
	return &Store{st: newState(), faults: make(map[string]*fault), now: time.Now}
}

// SetClock overrides the timestamp source for appended moves.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Fail makes the nth call (1-based) of op return err. n == 0 fails every call.
func (s *Store) Fail(op string, n int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[op] = &fault{nth: n, err: err}
}

// ClearFaults removes every injected fault.
func (s *Store) ClearFaults() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults = make(map[string]*fault)
}

// BlindCreditCheck makes HasProductionCredit always report false, so the
// unique credit constraint is the only guard left.
func (s *Store) BlindCreditCheck(blind bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blind = blind
}

func (s *Store) check(op string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.faults[op]
	if !ok {
		return nil
	}
	f.calls++
	if f.nth == 0 || f.calls == f.nth {
		return f.err
	}
	return nil
}

// PutItem inserts or replaces an item.
func (s *Store) PutItem(item inventory.Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.items[item.ID] = item
}

// PutLocation inserts or replaces a location.
func (s *Store) PutLocation(loc inventory.Location) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.locations[loc.ID] = loc
}

// PutRecipe replaces every recipe row of the finished good.
func (s *Store) PutRecipe(finishedGoodID int64, rows ...production.RecipeRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range rows {
		rows[i].FinishedGoodID = finishedGoodID
	}
	s.st.recipes[finishedGoodID] = rows
}

// CorruptBalance overwrites a materialised balance without writing a move.
func (s *Store) CorruptBalance(itemID, locationID int64, qty decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.st.balances[inventory.BalanceKey{ItemID: itemID, LocationID: locationID}] = qty
}

// StoredBalance returns the materialised balance of a pair.
func (s *Store) StoredBalance(itemID, locationID int64) decimal.Decimal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.st.balances[inventory.BalanceKey{ItemID: itemID, LocationID: locationID}]
}

func (s *Store) withTx(ctx context.Context, fn func(*tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.RLock()
	working := s.st.clone()
	s.mu.RUnlock()
	if err := fn(&tx{store: s, st: working}); err != nil {
		return err
	}
	s.mu.Lock()
	s.st = working
	s.mu.Unlock()
	return nil
}

// Inventory returns the store as an inventory.RepositoryPort.
func (s *Store) Inventory() *InventoryRepo {
	return &InventoryRepo{Store: s}
}

// Production returns the store as a production.RepositoryPort.
func (s *Store) Production() *ProductionRepo {
	return &ProductionRepo{Store: s}
}

// InventoryRepo adapts Store to inventory.RepositoryPort.
type InventoryRepo struct {
	*Store
}

// WithTx runs fn in a transaction.
func (r *InventoryRepo) WithTx(ctx context.Context, fn func(context.Context, inventory.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// ProductionRepo adapts Store to production.RepositoryPort.
type ProductionRepo struct {
	*Store
}

// WithTx runs fn in a transaction.
func (r *ProductionRepo) WithTx(ctx context.Context, fn func(context.Context, production.TxRepository) error) error {
	return r.withTx(ctx, func(t *tx) error { return fn(ctx, t) })
}

// GetItem loads an item.
func (s *Store) GetItem(_ context.Context, itemID int64) (inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.st.items[itemID]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

// ListItems returns every item ordered by id.
func (s *Store) ListItems(_ context.Context) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Item, 0, len(s.st.items))
	for _, item := range s.st.items {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetLocation loads a location.
func (s *Store) GetLocation(_ context.Context, locationID int64) (inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	loc, ok := s.st.locations[locationID]
	if !ok {
		return inventory.Location{}, inventory.ErrLocationNotFound
	}
	return loc, nil
}

// ListLocations returns every location ordered by id.
func (s *Store) ListLocations(_ context.Context) ([]inventory.Location, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]inventory.Location, 0, len(s.st.locations))
	for _, loc := range s.st.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMoves returns matching moves in insertion order.
func (s *Store) ListMoves(_ context.Context, filter inventory.MoveFilter) ([]inventory.Move, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []inventory.Move{}
	for _, m := range s.st.moves {
		if filter.ItemID != 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID != 0 && !m.Touches(filter.LocationID) {
			continue
		}
		if filter.BatchID.Valid && (!m.BatchID.Valid || m.BatchID.UUID != filter.BatchID.UUID) {
			continue
		}
		out = append(out, m)
		if filter.Limit > 0 && len(out) == filter.Limit {
			break
		}
	}
	return out, nil
}

// ListBalances returns the stored balances of a location ordered by item.
func (s *Store) ListBalances(_ context.Context, locationID int64) ([]inventory.Balance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []inventory.Balance{}
	for key, qty := range s.st.balances {
		if key.LocationID == locationID {
			out = append(out, inventory.Balance{ItemID: key.ItemID, LocationID: key.LocationID, Quantity: qty})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ItemID < out[j].ItemID })
	return out, nil
}

// ListRecipeRows returns the recipe rows of a finished good.
func (s *Store) ListRecipeRows(_ context.Context, finishedGoodID int64) ([]production.RecipeRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]production.RecipeRow(nil), s.st.recipes[finishedGoodID]...), nil
}

// GetQueueEntry loads a queue entry.
func (s *Store) GetQueueEntry(_ context.Context, entryID int64) (production.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.st.queue[entryID]
	if !ok {
		return production.QueueEntry{}, production.ErrEntryNotFound
	}
	return e, nil
}

// ListDueEntries returns in-progress entries with completes_at <= now.
func (s *Store) ListDueEntries(_ context.Context, now time.Time, limit int) ([]production.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []production.QueueEntry{}
	for _, e := range s.st.queue {
		if e.Status == production.QueueInProgress && !e.CompletesAt.After(now) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CompletesAt.Equal(out[j].CompletesAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CompletesAt.Before(out[j].CompletesAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListQueue lists entries newest first, optionally filtered by status.
func (s *Store) ListQueue(_ context.Context, status production.QueueStatus, limit int) ([]production.QueueEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []production.QueueEntry{}
	for _, e := range s.st.queue {
		if status == "" || e.Status == status {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type tx struct {
	store *Store
	st    *state
}

func (t *tx) GetItemForUpdate(_ context.Context, itemID int64) (inventory.Item, error) {
	item, ok := t.st.items[itemID]
	if !ok {
		return inventory.Item{}, inventory.ErrItemNotFound
	}
	return item, nil
}

func (t *tx) UpdateItemCost(_ context.Context, itemID int64, unitCost, totalValue decimal.Decimal) error {
	if err := t.store.check(OpUpdateItemCost); err != nil {
		return err
	}
	item, ok := t.st.items[itemID]
	if !ok {
		return inventory.ErrItemNotFound
	}
	item.UnitCost = unitCost
	item.TotalValue = totalValue
	t.st.items[itemID] = item
	return nil
}

func (t *tx) UpdateItemKind(_ context.Context, itemID int64, kind inventory.ItemKind) error {
	if err := t.store.check(OpUpdateItemKind); err != nil {
		return err
	}
	item, ok := t.st.items[itemID]
	if !ok {
		return inventory.ErrItemNotFound
	}
	item.Kind = kind
	t.st.items[itemID] = item
	return nil
}

func (t *tx) GetLocation(_ context.Context, locationID int64) (inventory.Location, error) {
	loc, ok := t.st.locations[locationID]
	if !ok {
		return inventory.Location{}, inventory.ErrLocationNotFound
	}
	return loc, nil
}

func (t *tx) LockBalance(_ context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	return t.st.balances[inventory.BalanceKey{ItemID: itemID, LocationID: locationID}], nil
}

func (t *tx) PooledQuantity(_ context.Context, itemID int64) (decimal.Decimal, error) {
	total := decimal.Zero
	for key, qty := range t.st.balances {
		if key.ItemID != itemID {
			continue
		}
		if loc, ok := t.st.locations[key.LocationID]; ok && loc.Kind == inventory.LocationClient {
			continue
		}
		total = total.Add(qty)
	}
	return total, nil
}

func (t *tx) AppendMove(_ context.Context, move inventory.Move) (inventory.Move, error) {
	if err := t.store.check(OpAppendMove); err != nil {
		return inventory.Move{}, err
	}
	if move.BatchID.Valid {
		inbound := move.ToLocationID != nil
		for _, m := range t.st.moves {
			if m.BatchID.Valid && m.BatchID.UUID == move.BatchID.UUID && m.ItemID == move.ItemID && (m.ToLocationID != nil) == inbound {
				return inventory.Move{}, inventory.ErrDuplicateCredit
			}
		}
	}
	t.st.nextMoveID++
	move.ID = t.st.nextMoveID
	t.store.mu.RLock()
	move.CreatedAt = t.store.now()
	t.store.mu.RUnlock()
	t.st.moves = append(t.st.moves, move)
	if move.FromLocationID != nil {
		key := inventory.BalanceKey{ItemID: move.ItemID, LocationID: *move.FromLocationID}
		t.st.balances[key] = t.st.balances[key].Sub(move.Quantity)
	}
	if move.ToLocationID != nil {
		key := inventory.BalanceKey{ItemID: move.ItemID, LocationID: *move.ToLocationID}
		t.st.balances[key] = t.st.balances[key].Add(move.Quantity)
	}
	return move, nil
}

func (t *tx) GetMoveForUpdate(_ context.Context, moveID int64) (inventory.Move, error) {
	for _, m := range t.st.moves {
		if m.ID == moveID {
			return m, nil
		}
	}
	return inventory.Move{}, inventory.ErrMoveNotFound
}

func (t *tx) UpdateMoveSettlement(_ context.Context, moveID int64, moveType inventory.MoveType, status inventory.PaymentStatus) error {
	for i, m := range t.st.moves {
		if m.ID == moveID {
			t.st.moves[i].Type = moveType
			t.st.moves[i].PaymentStatus = status
			return nil
		}
	}
	return inventory.ErrMoveNotFound
}

func (t *tx) ListRecipeRows(_ context.Context, finishedGoodID int64) ([]production.RecipeRow, error) {
	return append([]production.RecipeRow(nil), t.st.recipes[finishedGoodID]...), nil
}

func (t *tx) InsertQueueEntry(_ context.Context, entry production.QueueEntry) (production.QueueEntry, error) {
	if err := t.store.check(OpInsertQueueEntry); err != nil {
		return production.QueueEntry{}, err
	}
	t.st.nextEntryID++
	entry.ID = t.st.nextEntryID
	t.st.queue[entry.ID] = entry
	return entry, nil
}

func (t *tx) GetQueueEntryForUpdate(_ context.Context, entryID int64) (production.QueueEntry, error) {
	e, ok := t.st.queue[entryID]
	if !ok {
		return production.QueueEntry{}, production.ErrEntryNotFound
	}
	return e, nil
}

func (t *tx) UpdateQueueStatus(_ context.Context, entryID int64, status production.QueueStatus) error {
	if err := t.store.check(OpUpdateQueueStatus); err != nil {
		return err
	}
	e, ok := t.st.queue[entryID]
	if !ok {
		return production.ErrEntryNotFound
	}
	e.Status = status
	t.st.queue[entryID] = e
	return nil
}

func (t *tx) SetOutputWeight(_ context.Context, entryID int64, weight decimal.Decimal) error {
	if err := t.store.check(OpSetOutputWeight); err != nil {
		return err
	}
	e, ok := t.st.queue[entryID]
	if !ok || e.Status != production.QueueInProgress {
		return production.ErrEntryClosed
	}
	e.OutputWeight = decimal.NewNullDecimal(weight)
	t.st.queue[entryID] = e
	return nil
}

func (t *tx) HasProductionCredit(_ context.Context, batchID uuid.UUID, itemID int64) (bool, error) {
	t.store.mu.RLock()
	blind := t.store.blind
	t.store.mu.RUnlock()
	if blind {
		return false, nil
	}
	for _, m := range t.st.moves {
		if m.BatchID.Valid && m.BatchID.UUID == batchID && m.ItemID == itemID &&
			m.Type == inventory.MoveTypeProduction && m.ToLocationID != nil && m.Quantity.IsPositive() {
			return true, nil
		}
	}
	return false, nil
}
