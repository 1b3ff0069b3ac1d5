package inventory

import (
	"context"

	"github.com/shopspring/decimal"
)

// CostPool holds the moving-average valuation of an item across all pooled
// locations. It is mutated only through ApplyInbound and ApplyOutbound.
type CostPool struct {
	TotalValue    decimal.Decimal
	TotalQuantity decimal.Decimal
	UnitCost      decimal.Decimal
}

// ApplyInbound adds quantity at totalCost and re-averages the unit cost.
func (p *CostPool) ApplyInbound(qty, totalCost decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return p.UnitCost, ErrInvalidQuantity
	}
	if totalCost.IsNegative() {
		return p.UnitCost, ErrInvalidUnitCost
	}
	p.TotalValue = p.TotalValue.Add(totalCost)
	p.TotalQuantity = p.TotalQuantity.Add(qty)
	if p.TotalQuantity.IsPositive() {
		p.UnitCost = p.TotalValue.Div(p.TotalQuantity)
	} else {
		p.UnitCost = decimal.Zero
	}
	return p.UnitCost, nil
}

// ApplyOutbound removes quantity at the current unit cost and returns that
// cost. The unit cost is unchanged; the remaining value is floored at zero and
// cleared once the pool is empty.
func (p *CostPool) ApplyOutbound(qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return p.UnitCost, ErrInvalidQuantity
	}
	if qty.Sub(p.TotalQuantity).GreaterThan(Epsilon) {
		return p.UnitCost, ErrInsufficientStock
	}
	used := p.UnitCost
	removed := qty.Mul(used)
	p.TotalValue = decimal.Max(decimal.Zero, p.TotalValue.Sub(removed))
	p.TotalQuantity = decimal.Max(decimal.Zero, p.TotalQuantity.Sub(qty))
	if p.TotalQuantity.IsZero() {
		p.TotalValue = decimal.Zero
	}
	return used, nil
}

// Value returns the money held for qty units at the current unit cost.
func (p CostPool) Value(qty decimal.Decimal) decimal.Decimal {
	return qty.Mul(p.UnitCost)
}

// Accountor loads and persists cost pools inside a storage transaction. It is
// the only writer of Item.UnitCost and Item.TotalValue.
type Accountor struct{}

// PoolFor builds the cost pool of an item locked inside tx. The quantity is
// the pre-move on-hand across pooled locations.
func (Accountor) PoolFor(ctx context.Context, tx TxRepository, itemID int64) (Item, CostPool, error) {
	item, err := tx.GetItemForUpdate(ctx, itemID)
	if err != nil {
		return Item{}, CostPool{}, err
	}
	qty, err := tx.PooledQuantity(ctx, itemID)
	if err != nil {
		return Item{}, CostPool{}, err
	}
	return item, CostPool{TotalValue: item.TotalValue, TotalQuantity: qty, UnitCost: item.UnitCost}, nil
}

// ApplyInbound credits qty at totalCost to the item's pool and persists it.
// It must run before the matching Move is appended.
func (a Accountor) ApplyInbound(ctx context.Context, tx TxRepository, itemID int64, qty, totalCost decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	_, pool, err := a.PoolFor(ctx, tx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	unitCost, err := pool.ApplyInbound(qty, totalCost)
	if err != nil {
		return decimal.Zero, err
	}
	if err := tx.UpdateItemCost(ctx, itemID, pool.UnitCost, pool.TotalValue); err != nil {
		return decimal.Zero, err
	}
	return unitCost, nil
}

// ApplyOutbound removes qty from the item's pool at the current unit cost and
// returns the unit cost used. It must run before the matching Move is appended.
func (a Accountor) ApplyOutbound(ctx context.Context, tx TxRepository, itemID int64, qty decimal.Decimal) (decimal.Decimal, error) {
	if !qty.IsPositive() {
		return decimal.Zero, ErrInvalidQuantity
	}
	item, pool, err := a.PoolFor(ctx, tx, itemID)
	if err != nil {
		return decimal.Zero, err
	}
	used, err := pool.ApplyOutbound(qty)
	if err != nil {
		if err == ErrInsufficientStock {
			return decimal.Zero, &InsufficientStockError{ItemID: itemID, ItemName: item.Name, Required: qty, Available: pool.TotalQuantity}
		}
		return decimal.Zero, err
	}
	if err := tx.UpdateItemCost(ctx, itemID, pool.UnitCost, pool.TotalValue); err != nil {
		return decimal.Zero, err
	}
	return used, nil
}
