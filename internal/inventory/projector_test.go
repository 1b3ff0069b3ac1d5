package inventory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type stubLedger struct {
	moves     []Move
	locations []Location
}

func (s stubLedger) ListMoves(_ context.Context, filter MoveFilter) ([]Move, error) {
	var out []Move
	for _, m := range s.moves {
		if filter.ItemID != 0 && m.ItemID != filter.ItemID {
			continue
		}
		if filter.LocationID != 0 && !m.Touches(filter.LocationID) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

func (s stubLedger) ListLocations(context.Context) ([]Location, error) {
	return s.locations, nil
}

func in(item, to int64, qty string) Move {
	return Move{ItemID: item, ToLocationID: int64Ptr(to), Quantity: dec(qty)}
}

func out(item, from int64, qty string) Move {
	return Move{ItemID: item, FromLocationID: int64Ptr(from), Quantity: dec(qty)}
}

func transfer(item, from, to int64, qty string) Move {
	return Move{ItemID: item, FromLocationID: int64Ptr(from), ToLocationID: int64Ptr(to), Quantity: dec(qty)}
}

func TestMoveDirection(t *testing.T) {
	require.Equal(t, DirectionIn, in(1, 1, "1").Direction())
	require.Equal(t, DirectionOut, out(1, 1, "1").Direction())
	require.Equal(t, DirectionTransfer, transfer(1, 1, 2, "1").Direction())
}

func TestFoldBalance(t *testing.T) {
	moves := []Move{
		in(1, 1, "100"),
		out(1, 1, "30"),
		transfer(1, 1, 2, "20"),
		in(2, 1, "7"),
		transfer(1, 2, 1, "5"),
	}
	requireApprox(t, "55", FoldBalance(moves, 1, 1))
	requireApprox(t, "15", FoldBalance(moves, 1, 2))
	requireApprox(t, "7", FoldBalance(moves, 2, 1))
	require.True(t, FoldBalance(moves, 2, 2).IsZero())

	all := FoldBalances(moves)
	requireApprox(t, "55", all[BalanceKey{ItemID: 1, LocationID: 1}])
	requireApprox(t, "15", all[BalanceKey{ItemID: 1, LocationID: 2}])
	require.Len(t, all, 3)
}

func TestProjectorBalanceWithoutMovesIsZero(t *testing.T) {
	p := NewProjector(stubLedger{})
	qty, err := p.Balance(context.Background(), 99, 1)
	require.NoError(t, err)
	require.True(t, qty.IsZero())
}

func TestProjectorTotalOnHandExcludesClients(t *testing.T) {
	ledger := stubLedger{
		moves: []Move{in(1, 1, "100"), transfer(1, 1, 3, "40"), transfer(1, 1, 2, "10")},
		locations: []Location{
			{ID: 1, Kind: LocationWarehouse},
			{ID: 2, Kind: LocationTransit},
			{ID: 3, Kind: LocationClient},
		},
	}
	p := NewProjector(ledger)
	ctx := context.Background()

	pooled, err := p.TotalOnHand(ctx, 1, true)
	require.NoError(t, err)
	requireApprox(t, "60", pooled)

	all, err := p.TotalOnHand(ctx, 1, false)
	require.NoError(t, err)
	requireApprox(t, "100", all)
}
