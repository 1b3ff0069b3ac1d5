package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// LedgerReader exposes the read side of the move ledger.
type LedgerReader interface {
	ListMoves(ctx context.Context, filter MoveFilter) ([]Move, error)
	ListLocations(ctx context.Context) ([]Location, error)
}

// Projector derives on-hand quantities by folding the ledger. It never reads
// the materialised inventory table, so its answers define correctness.
type Projector struct {
	ledger LedgerReader
}

// NewProjector builds a Projector over the ledger.
func NewProjector(ledger LedgerReader) *Projector {
	return &Projector{ledger: ledger}
}

// FoldBalance sums credits minus debits for the (item, location) pair.
func FoldBalance(moves []Move, itemID, locationID int64) decimal.Decimal {
	total := decimal.Zero
	for _, m := range moves {
		if m.ItemID != itemID {
			continue
		}
		total = total.Add(m.Delta(locationID))
	}
	return total
}

// FoldBalances folds every pair touched by the moves.
func FoldBalances(moves []Move) map[BalanceKey]decimal.Decimal {
	out := make(map[BalanceKey]decimal.Decimal)
	for _, m := range moves {
		if m.ToLocationID != nil {
			key := BalanceKey{ItemID: m.ItemID, LocationID: *m.ToLocationID}
			out[key] = out[key].Add(m.Quantity)
		}
		if m.FromLocationID != nil {
			key := BalanceKey{ItemID: m.ItemID, LocationID: *m.FromLocationID}
			out[key] = out[key].Sub(m.Quantity)
		}
	}
	return out
}

// Balance returns the on-hand quantity of item at location. Pairs without
// moves have a zero balance.
func (p *Projector) Balance(ctx context.Context, itemID, locationID int64) (decimal.Decimal, error) {
	moves, err := p.ledger.ListMoves(ctx, MoveFilter{ItemID: itemID, LocationID: locationID})
	if err != nil {
		return decimal.Zero, err
	}
	return FoldBalance(moves, itemID, locationID), nil
}

// TotalOnHand sums the item's balance across locations, skipping client
// locations when excludeClient is set.
func (p *Projector) TotalOnHand(ctx context.Context, itemID int64, excludeClient bool) (decimal.Decimal, error) {
	moves, err := p.ledger.ListMoves(ctx, MoveFilter{ItemID: itemID})
	if err != nil {
		return decimal.Zero, err
	}
	kinds := map[int64]LocationKind{}
	if excludeClient {
		locations, err := p.ledger.ListLocations(ctx)
		if err != nil {
			return decimal.Zero, err
		}
		for _, loc := range locations {
			kinds[loc.ID] = loc.Kind
		}
	}
	total := decimal.Zero
	for key, qty := range FoldBalances(moves) {
		if excludeClient && kinds[key.LocationID] == LocationClient {
			continue
		}
		total = total.Add(qty)
	}
	return total, nil
}
