// Package reconcile rebuilds balances from the move ledger and reports where
// the materialised inventory table or the cost pools have drifted. It never
// writes.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/reconcile")

// Store is the read-only view of the ledger the auditor needs.
type Store interface {
	inventory.LedgerReader
	ListBalances(ctx context.Context, locationID int64) ([]inventory.Balance, error)
	ListItems(ctx context.Context) ([]inventory.Item, error)
}

// Mismatch is one (item, location) whose stored balance disagrees with the ledger.
type Mismatch struct {
	ItemID     int64
	LocationID int64
	LedgerQty  decimal.Decimal
	BalanceQty decimal.Decimal
}

// Drift is the stored balance minus the ledger balance.
func (m Mismatch) Drift() decimal.Decimal {
	return m.BalanceQty.Sub(m.LedgerQty)
}

// Report is the audit result for one location.
type Report struct {
	LocationID          int64
	LocationName        string
	TotalMoves          int
	TotalBalanceRecords int
	Mismatches          []Mismatch
	GeneratedAt         time.Time
}

// Clean reports whether no mismatch was found.
func (r Report) Clean() bool {
	return len(r.Mismatches) == 0
}

// PoolProblem classifies a cost pool inconsistency.
type PoolProblem string

const (
	ProblemValueWithoutStock PoolProblem = "value_without_stock"
	ProblemNegativeValue     PoolProblem = "negative_value"
	ProblemNegativeUnitCost  PoolProblem = "negative_unit_cost"
	ProblemUnitCostDrift     PoolProblem = "unit_cost_drift"
)

// PoolIssue is one item whose cost pool breaks the moving-average invariants.
type PoolIssue struct {
	ItemID     int64
	ItemName   string
	OnHand     decimal.Decimal
	TotalValue decimal.Decimal
	UnitCost   decimal.Decimal
	Problem    PoolProblem
}

// Auditor compares the ledger fold with stored state.
type Auditor struct {
	store    Store
	epsilon  decimal.Decimal
	parallel int
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
}

// NewAuditor constructs Auditor. A non-positive epsilon falls back to inventory.Epsilon.
func NewAuditor(store Store, epsilon decimal.Decimal, logger *slog.Logger) *Auditor {
	if !epsilon.IsPositive() {
		epsilon = inventory.Epsilon
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Auditor{
		store:    store,
		epsilon:  epsilon,
		parallel: 4,
		logger:   logger.With(slog.String("component", "reconcile")),
		tracer:   tracer,
		now:      time.Now,
	}
}

// Audit folds every move touching locationID and diffs the result against the
// stored balances of that location.
func (a *Auditor) Audit(ctx context.Context, locationID int64) (report Report, err error) {
	ctx, span := a.tracer.Start(ctx, "reconcile.Audit", trace.WithAttributes(attribute.Int64("location_id", locationID)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	moves, err := a.store.ListMoves(ctx, inventory.MoveFilter{LocationID: locationID})
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list moves: %w", err)
	}
	balances, err := a.store.ListBalances(ctx, locationID)
	if err != nil {
		return Report{}, fmt.Errorf("reconcile: list balances: %w", err)
	}
	report = Report{
		LocationID:          locationID,
		TotalMoves:          len(moves),
		TotalBalanceRecords: len(balances),
		GeneratedAt:         a.now(),
	}

	ledger := make(map[int64]decimal.Decimal)
	for _, m := range moves {
		if !m.Touches(locationID) {
			continue
		}
		ledger[m.ItemID] = ledger[m.ItemID].Add(m.Delta(locationID))
	}
	stored := make(map[int64]decimal.Decimal, len(balances))
	for _, b := range balances {
		stored[b.ItemID] = stored[b.ItemID].Add(b.Quantity)
	}

	items := make(map[int64]struct{}, len(ledger)+len(stored))
	for id := range ledger {
		items[id] = struct{}{}
	}
	for id := range stored {
		items[id] = struct{}{}
	}
	for id := range items {
		want, got := ledger[id], stored[id]
		if want.Sub(got).Abs().GreaterThan(a.epsilon) {
			report.Mismatches = append(report.Mismatches, Mismatch{
				ItemID: id, LocationID: locationID, LedgerQty: want, BalanceQty: got,
			})
		}
	}
	sort.Slice(report.Mismatches, func(i, j int) bool { return report.Mismatches[i].ItemID < report.Mismatches[j].ItemID })

	for _, m := range report.Mismatches {
		a.logger.Warn("balance mismatch",
			slog.Int64("location_id", m.LocationID),
			slog.Int64("item_id", m.ItemID),
			slog.String("ledger_qty", m.LedgerQty.String()),
			slog.String("balance_qty", m.BalanceQty.String()))
	}
	span.SetAttributes(attribute.Int("mismatches", len(report.Mismatches)))
	return report, nil
}

// AuditAll audits every location concurrently and returns the reports ordered
// by location id.
func (a *Auditor) AuditAll(ctx context.Context) ([]Report, error) {
	locations, err := a.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list locations: %w", err)
	}
	sort.Slice(locations, func(i, j int) bool { return locations[i].ID < locations[j].ID })
	reports := make([]Report, len(locations))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.parallel)
	for i, loc := range locations {
		g.Go(func() error {
			report, err := a.Audit(gctx, loc.ID)
			if err != nil {
				return err
			}
			report.LocationName = loc.Name
			reports[i] = report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	mismatches := 0
	for _, r := range reports {
		mismatches += len(r.Mismatches)
	}
	a.logger.Info("ledger audit finished", slog.Int("locations", len(reports)), slog.Int("mismatches", mismatches))
	return reports, nil
}

// AuditCostPools checks every item's pool against the on-hand quantity folded
// over pooled locations.
func (a *Auditor) AuditCostPools(ctx context.Context) ([]PoolIssue, error) {
	items, err := a.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list items: %w", err)
	}
	locations, err := a.store.ListLocations(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list locations: %w", err)
	}
	moves, err := a.store.ListMoves(ctx, inventory.MoveFilter{})
	if err != nil {
		return nil, fmt.Errorf("reconcile: list moves: %w", err)
	}
	pooled := make(map[int64]bool, len(locations))
	for _, loc := range locations {
		pooled[loc.ID] = loc.Kind.Pooled()
	}
	onHand := make(map[int64]decimal.Decimal)
	for key, qty := range inventory.FoldBalances(moves) {
		if pooled[key.LocationID] {
			onHand[key.ItemID] = onHand[key.ItemID].Add(qty)
		}
	}

	var issues []PoolIssue
	for _, item := range items {
		qty := onHand[item.ID]
		issue := PoolIssue{ItemID: item.ID, ItemName: item.Name, OnHand: qty, TotalValue: item.TotalValue, UnitCost: item.UnitCost}
		switch {
		case item.TotalValue.LessThan(a.epsilon.Neg()):
			issue.Problem = ProblemNegativeValue
		case item.UnitCost.IsNegative():
			issue.Problem = ProblemNegativeUnitCost
		case qty.Abs().LessThanOrEqual(a.epsilon) && item.TotalValue.Abs().GreaterThan(a.epsilon):
			issue.Problem = ProblemValueWithoutStock
		case qty.GreaterThan(a.epsilon) && item.TotalValue.Div(qty).Sub(item.UnitCost).Abs().GreaterThan(a.epsilon):
			issue.Problem = ProblemUnitCostDrift
		default:
			continue
		}
		a.logger.Warn("cost pool issue",
			slog.Int64("item_id", item.ID),
			slog.String("problem", string(issue.Problem)),
			slog.String("on_hand", qty.String()),
			slog.String("total_value", item.TotalValue.String()))
		issues = append(issues, issue)
	}
	return issues, nil
}
