package inventory

import (
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireApprox(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	w := dec(want)
	require.Truef(t, w.Sub(got).Abs().LessThanOrEqual(decimal.New(1, -4)), "want %s, got %s", w, got)
}

func TestCostPoolInboundReaverages(t *testing.T) {
	var pool CostPool
	unit, err := pool.ApplyInbound(dec("10"), dec("1000"))
	require.NoError(t, err)
	requireApprox(t, "100", unit)

	unit, err = pool.ApplyInbound(dec("5"), dec("600"))
	require.NoError(t, err)
	requireApprox(t, "106.6667", unit)
	requireApprox(t, "1600", pool.TotalValue)
	requireApprox(t, "15", pool.TotalQuantity)
}

func TestCostPoolOutboundKeepsUnitCost(t *testing.T) {
	pool := CostPool{TotalValue: dec("1000"), TotalQuantity: dec("100"), UnitCost: dec("10")}
	used, err := pool.ApplyOutbound(dec("50"))
	require.NoError(t, err)
	requireApprox(t, "10", used)
	requireApprox(t, "500", pool.TotalValue)
	requireApprox(t, "50", pool.TotalQuantity)
	requireApprox(t, "10", pool.UnitCost)

	used, err = pool.ApplyOutbound(dec("50"))
	require.NoError(t, err)
	requireApprox(t, "10", used)
	require.True(t, pool.TotalQuantity.IsZero())
	require.True(t, pool.TotalValue.IsZero())
}

func TestCostPoolOutboundRejectsShortfall(t *testing.T) {
	pool := CostPool{TotalValue: dec("100"), TotalQuantity: dec("10"), UnitCost: dec("10")}
	_, err := pool.ApplyOutbound(dec("11"))
	require.ErrorIs(t, err, ErrInsufficientStock)
	requireApprox(t, "100", pool.TotalValue)
	requireApprox(t, "10", pool.TotalQuantity)

	// Gram arithmetic noise within epsilon is absorbed and the pool empties cleanly.
	_, err = pool.ApplyOutbound(dec("10.005"))
	require.NoError(t, err)
	require.True(t, pool.TotalQuantity.IsZero())
	require.True(t, pool.TotalValue.IsZero())
}

func TestCostPoolOutboundFloorsValue(t *testing.T) {
	pool := CostPool{TotalValue: dec("99.99"), TotalQuantity: dec("20"), UnitCost: dec("5")}
	_, err := pool.ApplyOutbound(dec("19.999"))
	require.NoError(t, err)
	require.False(t, pool.TotalValue.IsNegative())
}

func TestCostPoolRejectsInvalidInput(t *testing.T) {
	var pool CostPool
	_, err := pool.ApplyInbound(decimal.Zero, dec("10"))
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = pool.ApplyInbound(dec("-1"), dec("10"))
	require.ErrorIs(t, err, ErrInvalidQuantity)
	_, err = pool.ApplyInbound(dec("1"), dec("-10"))
	require.ErrorIs(t, err, ErrInvalidUnitCost)
	_, err = pool.ApplyOutbound(decimal.Zero)
	require.ErrorIs(t, err, ErrInvalidQuantity)
}

func TestCostPoolFreeInboundLowersAverage(t *testing.T) {
	pool := CostPool{TotalValue: dec("100"), TotalQuantity: dec("10"), UnitCost: dec("10")}
	unit, err := pool.ApplyInbound(dec("10"), decimal.Zero)
	require.NoError(t, err)
	requireApprox(t, "5", unit)
}

func TestCostPoolNeverGoesNegative(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	eps := Epsilon.Neg()
	var pool CostPool
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 || !pool.TotalQuantity.IsPositive() {
			qty := decimal.NewFromInt(int64(rng.Intn(500) + 1)).Div(decimal.NewFromInt(int64(rng.Intn(7) + 1)))
			cost := decimal.NewFromInt(int64(rng.Intn(10000))).Div(decimal.NewFromInt(3))
			_, err := pool.ApplyInbound(qty, cost)
			require.NoError(t, err)
		} else {
			frac := decimal.NewFromInt(int64(rng.Intn(100) + 1)).Div(decimal.NewFromInt(100))
			qty := pool.TotalQuantity.Mul(frac)
			if !qty.IsPositive() {
				continue
			}
			_, err := pool.ApplyOutbound(qty)
			require.NoError(t, err)
		}
		require.Truef(t, pool.TotalValue.GreaterThanOrEqual(eps), "step %d: total value %s", i, pool.TotalValue)
		require.Falsef(t, pool.UnitCost.IsNegative(), "step %d: unit cost %s", i, pool.UnitCost)
		if pool.TotalQuantity.IsZero() {
			require.True(t, pool.TotalValue.Abs().LessThanOrEqual(Epsilon))
		}
	}
}

func TestCostPoolValue(t *testing.T) {
	pool := CostPool{UnitCost: dec("12.5")}
	requireApprox(t, "50", pool.Value(dec("4")))
}
