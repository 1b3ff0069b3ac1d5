package inventory_test

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
	"github.com/odyssey-erp/odyssey-stock/internal/platform/memstore"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

const (
	warehouseID int64 = 1
	transitID   int64 = 2
	clientID    int64 = 3
	flourID     int64 = 10
	sugarID     int64 = 11
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireApprox(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w := d(want)
	require.Truef(t, w.Sub(got).Abs().LessThanOrEqual(decimal.New(1, -4)), "want %s, got %s", w, got)
}

type memoryAudit struct {
	mu   sync.Mutex
	logs []shared.AuditLog
}

func (a *memoryAudit) Record(_ context.Context, log shared.AuditLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memoryIdempotency struct {
	keys map[string]struct{}
}

func (m *memoryIdempotency) CheckAndInsert(_ context.Context, key, _ string) error {
	if _, ok := m.keys[key]; ok {
		return shared.ErrIdempotencyConflict
	}
	m.keys[key] = struct{}{}
	return nil
}

func (m *memoryIdempotency) Delete(_ context.Context, key string) error {
	delete(m.keys, key)
	return nil
}

func newFixture(t *testing.T) (*memstore.Store, *inventory.Service, *memoryAudit) {
	t.Helper()
	store := memstore.New()
	store.PutLocation(inventory.Location{ID: warehouseID, Name: "Main", Kind: inventory.LocationWarehouse})
	store.PutLocation(inventory.Location{ID: transitID, Name: "Van", Kind: inventory.LocationTransit})
	store.PutLocation(inventory.Location{ID: clientID, Name: "Cafe", Kind: inventory.LocationClient})
	store.PutItem(inventory.Item{ID: flourID, Name: "Flour", Kind: inventory.ItemKindRaw, IsWeighted: true})
	store.PutItem(inventory.Item{ID: sugarID, Name: "Sugar", Kind: inventory.ItemKindRaw})
	audit := &memoryAudit{}
	svc := inventory.NewService(store.Inventory(), audit, &memoryIdempotency{keys: map[string]struct{}{}}, nil)
	return store, svc, audit
}

func purchase(t *testing.T, svc *inventory.Service, itemID int64, qty, price string) inventory.Move {
	t.Helper()
	move, err := svc.PostPurchase(context.Background(), inventory.PurchaseInput{
		ItemID: itemID, LocationID: warehouseID, Qty: d(qty), UnitPrice: d(price),
	})
	require.NoError(t, err)
	return move
}

func TestPurchaseReaveragesCost(t *testing.T) {
	store, svc, audit := newFixture(t)
	ctx := context.Background()

	move := purchase(t, svc, flourID, "10", "100")
	require.Equal(t, inventory.MoveTypePurchase, move.Type)
	require.Equal(t, inventory.DirectionIn, move.Direction())
	purchase(t, svc, flourID, "5", "120")

	item, err := store.GetItem(ctx, flourID)
	require.NoError(t, err)
	requireApprox(t, "1600", item.TotalValue)
	requireApprox(t, "106.6667", item.UnitCost)

	qty, err := svc.Balance(ctx, flourID, warehouseID)
	require.NoError(t, err)
	requireApprox(t, "15", qty)
	requireApprox(t, "15", store.StoredBalance(flourID, warehouseID))
	require.Len(t, audit.logs, 2)
	require.Equal(t, "inventory:purchase", audit.logs[0].Action)
}

func TestPurchaseRejectsClientLocationAndBadInput(t *testing.T) {
	_, svc, _ := newFixture(t)
	ctx := context.Background()

	_, err := svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: flourID, LocationID: clientID, Qty: d("1"), UnitPrice: d("1")})
	require.ErrorIs(t, err, inventory.ErrInvalidLocation)
	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: flourID, LocationID: warehouseID, Qty: d("0"), UnitPrice: d("1")})
	require.ErrorIs(t, err, inventory.ErrInvalidQuantity)
	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: flourID, LocationID: warehouseID, Qty: d("1"), UnitPrice: d("-1")})
	require.ErrorIs(t, err, inventory.ErrInvalidUnitCost)
	_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{ItemID: 404, LocationID: warehouseID, Qty: d("1"), UnitPrice: d("1")})
	require.ErrorIs(t, err, inventory.ErrItemNotFound)
}

func TestPurchaseReferenceIsIdempotent(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	input := inventory.PurchaseInput{ItemID: flourID, LocationID: warehouseID, Qty: d("10"), UnitPrice: d("5"), Reference: "GRN-7"}

	_, err := svc.PostPurchase(ctx, input)
	require.NoError(t, err)
	_, err = svc.PostPurchase(ctx, input)
	require.ErrorIs(t, err, shared.ErrIdempotencyConflict)
	requireApprox(t, "10", store.StoredBalance(flourID, warehouseID))

	// A failed posting releases its reference so the retry goes through.
	retry := input
	retry.Reference = "GRN-8"
	store.Fail(memstore.OpAppendMove, 1, memstore.ErrInjected)
	_, err = svc.PostPurchase(ctx, retry)
	require.ErrorIs(t, err, inventory.ErrStorageWrite)
	store.ClearFaults()
	_, err = svc.PostPurchase(ctx, retry)
	require.NoError(t, err)
	requireApprox(t, "20", store.StoredBalance(flourID, warehouseID))
}

func TestStorageFailureLeavesStateUnchanged(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	purchase(t, svc, flourID, "100", "10")

	store.Fail(memstore.OpAppendMove, 1, memstore.ErrInjected)
	_, err := svc.PostSale(ctx, inventory.SaleInput{ItemID: flourID, FromLocationID: warehouseID, Qty: d("10")})
	require.ErrorIs(t, err, inventory.ErrStorageWrite)
	require.ErrorIs(t, err, memstore.ErrInjected)

	var storageErr *inventory.StorageError
	require.True(t, errors.As(err, &storageErr))
	require.Equal(t, "sale", storageErr.Op)

	item, err := store.GetItem(ctx, flourID)
	require.NoError(t, err)
	requireApprox(t, "1000", item.TotalValue)
	moves, err := svc.ListMoves(ctx, inventory.MoveFilter{ItemID: flourID})
	require.NoError(t, err)
	require.Len(t, moves, 1)
}

func TestTransferToClientRemovesValueAndReturnRestoresIt(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	purchase(t, svc, flourID, "100", "10")

	move, err := svc.PostTransfer(ctx, inventory.TransferInput{
		ItemID: flourID, FromLocationID: warehouseID, ToLocationID: clientID, Qty: d("40"), PaymentStatus: inventory.PaymentPending,
	})
	require.NoError(t, err)
	requireApprox(t, "10", move.UnitPrice)
	require.Equal(t, inventory.DirectionTransfer, move.Direction())

	item, _ := store.GetItem(ctx, flourID)
	requireApprox(t, "600", item.TotalValue)
	requireApprox(t, "10", item.UnitCost)

	pooled, err := svc.TotalOnHand(ctx, flourID, true)
	require.NoError(t, err)
	requireApprox(t, "60", pooled)
	all, err := svc.TotalOnHand(ctx, flourID, false)
	require.NoError(t, err)
	requireApprox(t, "100", all)

	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: flourID, FromLocationID: clientID, ToLocationID: warehouseID, Qty: d("10")})
	require.NoError(t, err)
	item, _ = store.GetItem(ctx, flourID)
	requireApprox(t, "700", item.TotalValue)
	requireApprox(t, "10", item.UnitCost)
	requireApprox(t, "30", store.StoredBalance(flourID, clientID))
}

func TestTransferBetweenPooledLocationsKeepsPool(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	purchase(t, svc, flourID, "100", "10")

	_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: flourID, FromLocationID: warehouseID, ToLocationID: transitID, Qty: d("30")})
	require.NoError(t, err)
	item, _ := store.GetItem(ctx, flourID)
	requireApprox(t, "1000", item.TotalValue)
	requireApprox(t, "70", store.StoredBalance(flourID, warehouseID))
	requireApprox(t, "30", store.StoredBalance(flourID, transitID))
}

func TestTransferValidation(t *testing.T) {
	_, svc, _ := newFixture(t)
	ctx := context.Background()
	purchase(t, svc, flourID, "10", "10")

	_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: flourID, FromLocationID: warehouseID, ToLocationID: warehouseID, Qty: d("1")})
	require.ErrorIs(t, err, inventory.ErrInvalidLocation)

	_, err = svc.PostTransfer(ctx, inventory.TransferInput{
		ItemID: flourID, FromLocationID: warehouseID, ToLocationID: transitID, Qty: d("1"), PaymentStatus: inventory.PaymentPaid,
	})
	require.ErrorIs(t, err, inventory.ErrInvalidPaymentStatus)

	_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: flourID, FromLocationID: warehouseID, ToLocationID: transitID, Qty: d("11")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
	var short *inventory.InsufficientStockError
	require.True(t, errors.As(err, &short))
	require.Equal(t, "Flour", short.ItemName)
	requireApprox(t, "10", short.Available)
	requireApprox(t, "11", short.Required)
}

func TestSaleCosting(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	purchase(t, svc, sugarID, "100", "10")
	_, err := svc.PostTransfer(ctx, inventory.TransferInput{ItemID: sugarID, FromLocationID: warehouseID, ToLocationID: clientID, Qty: d("40")})
	require.NoError(t, err)

	// Consigned stock already left the pool.
	sale, err := svc.PostSale(ctx, inventory.SaleInput{ItemID: sugarID, FromLocationID: clientID, Qty: d("40"), PaymentStatus: inventory.PaymentPaid})
	require.NoError(t, err)
	require.Equal(t, inventory.DirectionOut, sale.Direction())
	item, _ := store.GetItem(ctx, sugarID)
	requireApprox(t, "600", item.TotalValue)

	_, err = svc.PostSale(ctx, inventory.SaleInput{ItemID: sugarID, FromLocationID: warehouseID, Qty: d("10")})
	require.NoError(t, err)
	item, _ = store.GetItem(ctx, sugarID)
	requireApprox(t, "500", item.TotalValue)
	requireApprox(t, "10", item.UnitCost)

	_, err = svc.PostSale(ctx, inventory.SaleInput{ItemID: sugarID, FromLocationID: clientID, Qty: d("1")})
	require.ErrorIs(t, err, inventory.ErrInsufficientStock)
}

func TestUpdatePaymentStatus(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	bought := purchase(t, svc, flourID, "50", "2")
	consigned, err := svc.PostTransfer(ctx, inventory.TransferInput{
		ItemID: flourID, FromLocationID: warehouseID, ToLocationID: clientID, Qty: d("20"), PaymentStatus: inventory.PaymentPending,
	})
	require.NoError(t, err)

	partial, err := svc.UpdatePaymentStatus(ctx, consigned.ID, inventory.PaymentPartial, 7)
	require.NoError(t, err)
	require.Equal(t, inventory.MoveTypeTransfer, partial.Type)
	require.Equal(t, inventory.PaymentPartial, partial.PaymentStatus)

	paid, err := svc.UpdatePaymentStatus(ctx, consigned.ID, inventory.PaymentPaid, 7)
	require.NoError(t, err)
	require.Equal(t, inventory.MoveTypeSale, paid.Type)
	requireApprox(t, "20", paid.Quantity)
	requireApprox(t, "20", store.StoredBalance(flourID, clientID))

	moves, err := svc.ListMoves(ctx, inventory.MoveFilter{ItemID: flourID, LocationID: clientID})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	require.Equal(t, inventory.MoveTypeSale, moves[0].Type)

	_, err = svc.UpdatePaymentStatus(ctx, bought.ID, inventory.PaymentPaid, 7)
	require.ErrorIs(t, err, inventory.ErrInvalidPaymentStatus)
	_, err = svc.UpdatePaymentStatus(ctx, consigned.ID, "refunded", 7)
	require.ErrorIs(t, err, inventory.ErrInvalidPaymentStatus)
	_, err = svc.UpdatePaymentStatus(ctx, 999, inventory.PaymentPaid, 7)
	require.ErrorIs(t, err, inventory.ErrMoveNotFound)
}

func TestLedgerReconstructsMaterialisedBalances(t *testing.T) {
	store, svc, _ := newFixture(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(7))
	items := []int64{flourID, sugarID}
	locations := []int64{warehouseID, transitID, clientID}

	for step := 0; step < 300; step++ {
		itemID := items[rng.Intn(len(items))]
		qty := decimal.NewFromInt(int64(rng.Intn(40) + 1)).Div(decimal.NewFromInt(int64(rng.Intn(4) + 1)))
		var err error
		switch rng.Intn(3) {
		case 0:
			_, err = svc.PostPurchase(ctx, inventory.PurchaseInput{
				ItemID: itemID, LocationID: locations[rng.Intn(2)], Qty: qty, UnitPrice: decimal.NewFromInt(int64(rng.Intn(50))),
			})
		case 1:
			from := locations[rng.Intn(3)]
			to := locations[rng.Intn(3)]
			if from == to {
				continue
			}
			_, err = svc.PostTransfer(ctx, inventory.TransferInput{ItemID: itemID, FromLocationID: from, ToLocationID: to, Qty: qty})
		default:
			_, err = svc.PostSale(ctx, inventory.SaleInput{ItemID: itemID, FromLocationID: locations[rng.Intn(3)], Qty: qty})
		}
		if err != nil {
			require.ErrorIs(t, err, inventory.ErrInsufficientStock, "step %d", step)
		}

		for _, item := range items {
			for _, loc := range locations {
				folded, err := svc.Balance(ctx, item, loc)
				require.NoError(t, err)
				require.Truef(t, folded.Equal(store.StoredBalance(item, loc)), "step %d item %d loc %d", step, item, loc)
				require.False(t, folded.IsNegative())
			}
			current, err := store.GetItem(ctx, item)
			require.NoError(t, err)
			require.True(t, current.TotalValue.GreaterThanOrEqual(inventory.Epsilon.Neg()))
			require.False(t, current.UnitCost.IsNegative())
		}
	}
}
