package production

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

var tracer = otel.Tracer("github.com/odyssey-erp/odyssey-stock/internal/production")

// Config tunes the engine.
type Config struct {
	// WarehouseID is the location ingredients are drawn from and output is
	// credited to when a request does not name one.
	WarehouseID     int64
	DefaultLeadTime time.Duration
	SweepLimit      int
}

// Engine runs production batches against the ledger.
type Engine struct {
	repo      RepositoryPort
	resolver  *Resolver
	projector *inventory.Projector
	accountor inventory.Accountor
	cfg       Config
	logger    *slog.Logger
	tracer    trace.Tracer
	now       func() time.Time
	sweeping  atomic.Bool
}

// NewEngine constructs Engine.
func NewEngine(repo RepositoryPort, cfg Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SweepLimit <= 0 {
		cfg.SweepLimit = 100
	}
	return &Engine{
		repo:      repo,
		resolver:  NewResolver(repo),
		projector: inventory.NewProjector(repo),
		cfg:       cfg,
		logger:    logger.With(slog.String("component", "production")),
		tracer:    tracer,
		now:       time.Now,
	}
}

// WithClock overrides the time source.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// Resolver exposes the recipe resolver.
func (e *Engine) Resolver() *Resolver {
	return e.resolver
}

// PlanRequest asks for requestedQty units of a finished good.
type PlanRequest struct {
	FinishedGoodID int64
	Quantity       decimal.Decimal
	LocationID     int64
}

// Plan resolves the recipe, checks every ingredient against the ledger balance
// and prices the batch at current average cost. It never writes.
func (e *Engine) Plan(ctx context.Context, req PlanRequest) (plan Plan, err error) {
	ctx, span := e.tracer.Start(ctx, "production.Plan", trace.WithAttributes(
		attribute.Int64("finished_good_id", req.FinishedGoodID),
		attribute.String("quantity", req.Quantity.String()),
	))
	defer func() { endSpan(span, err) }()

	if !req.Quantity.IsPositive() {
		return Plan{}, inventory.ErrInvalidQuantity
	}
	locationID := req.LocationID
	if locationID == 0 {
		locationID = e.cfg.WarehouseID
	}
	loc, err := e.repo.GetLocation(ctx, locationID)
	if err != nil {
		return Plan{}, err
	}
	if !loc.Kind.Pooled() {
		return Plan{}, inventory.ErrInvalidLocation
	}
	recipe, err := e.resolver.Resolve(ctx, req.FinishedGoodID)
	if err != nil {
		return Plan{}, err
	}
	plan = Plan{
		FinishedGoodID:      req.FinishedGoodID,
		Quantity:            req.Quantity,
		LocationID:          locationID,
		TotalEstimatedCost:  decimal.Zero,
		ReturnsToRaw:        recipe.ReturnsToRaw,
		RequiresMeasurement: recipe.RequiresMeasurement(),
		LeadTime:            recipe.LeadTime(e.cfg.DefaultLeadTime),
		PlannedAt:           e.now(),
	}
	for _, line := range recipe.Lines {
		required := line.QuantityPerUnit.Mul(req.Quantity)
		available, err := e.projector.Balance(ctx, line.IngredientID, locationID)
		if err != nil {
			return Plan{}, err
		}
		if available.LessThan(required) {
			return Plan{}, &inventory.InsufficientStockError{
				ItemID: line.IngredientID, ItemName: line.Name, Required: required, Available: available,
			}
		}
		lineCost := required.Mul(line.UnitCost)
		plan.Lines = append(plan.Lines, PlanLine{
			IngredientID: line.IngredientID,
			Name:         line.Name,
			IsWeighted:   line.IsWeighted,
			Required:     required,
			Available:    available,
			UnitCost:     line.UnitCost,
			LineCost:     lineCost,
		})
		plan.TotalEstimatedCost = plan.TotalEstimatedCost.Add(lineCost)
	}
	return plan, nil
}

// Commit writes one production debit per ingredient and the queue entry in a
// single transaction. Availability is re-checked under row locks, and the
// entry carries the cost actually removed from the ingredient pools.
func (e *Engine) Commit(ctx context.Context, plan Plan) (entry QueueEntry, err error) {
	ctx, span := e.tracer.Start(ctx, "production.Commit", trace.WithAttributes(
		attribute.Int64("finished_good_id", plan.FinishedGoodID),
	))
	defer func() { endSpan(span, err) }()

	if !plan.Quantity.IsPositive() {
		return QueueEntry{}, inventory.ErrInvalidQuantity
	}
	if len(plan.Lines) == 0 {
		return QueueEntry{}, ErrEmptyPlan
	}
	lines := make([]PlanLine, len(plan.Lines))
	copy(lines, plan.Lines)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].IngredientID < lines[j].IngredientID })

	batchID := uuid.New()
	span.SetAttributes(attribute.String("batch_id", batchID.String()))
	started := e.now()
	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := requirePooled(ctx, tx, plan.LocationID); err != nil {
			return err
		}
		totalCost := decimal.Zero
		for _, line := range lines {
			if !line.Required.IsPositive() {
				return inventory.ErrInvalidQuantity
			}
			item, err := tx.GetItemForUpdate(ctx, line.IngredientID)
			if err != nil {
				return err
			}
			available, err := tx.LockBalance(ctx, line.IngredientID, plan.LocationID)
			if err != nil {
				return err
			}
			if available.LessThan(line.Required) {
				return &inventory.InsufficientStockError{
					ItemID: item.ID, ItemName: item.Name, Required: line.Required, Available: available,
				}
			}
			used, err := e.accountor.ApplyOutbound(ctx, tx, line.IngredientID, line.Required)
			if err != nil {
				return err
			}
			from := plan.LocationID
			if _, err := tx.AppendMove(ctx, inventory.Move{
				ItemID:         line.IngredientID,
				FromLocationID: &from,
				Quantity:       line.Required,
				Type:           inventory.MoveTypeProduction,
				UnitPrice:      used,
				BatchID:        uuid.NullUUID{UUID: batchID, Valid: true},
			}); err != nil {
				return err
			}
			totalCost = totalCost.Add(line.Required.Mul(used))
		}
		entry, err = tx.InsertQueueEntry(ctx, QueueEntry{
			FinishedGoodID: plan.FinishedGoodID,
			LocationID:     plan.LocationID,
			Quantity:       plan.Quantity,
			StartedAt:      started,
			CompletesAt:    started.Add(plan.LeadTime),
			Status:         QueueInProgress,
			BatchID:        batchID,
			EstimatedCost:  totalCost,
		})
		return err
	})
	if err != nil {
		return QueueEntry{}, wrapStorage("commit", err)
	}
	e.logger.Info("production batch committed",
		slog.Int64("entry_id", entry.ID),
		slog.String("batch_id", batchID.String()),
		slog.Int64("finished_good_id", entry.FinishedGoodID),
		slog.String("estimated_cost", entry.EstimatedCost.String()))
	return entry, nil
}

// RecordOutputWeight stores the measured output of an in-progress entry in its
// own transaction so a failed credit does not lose the measurement.
func (e *Engine) RecordOutputWeight(ctx context.Context, entryID int64, weight decimal.Decimal) (QueueEntry, error) {
	if !weight.IsPositive() {
		return QueueEntry{}, inventory.ErrInvalidQuantity
	}
	var entry QueueEntry
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		entry, err = tx.GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		if entry.Status != QueueInProgress {
			return ErrEntryClosed
		}
		if err := tx.SetOutputWeight(ctx, entryID, weight); err != nil {
			return err
		}
		entry.OutputWeight = decimal.NewNullDecimal(weight)
		return nil
	})
	if err != nil {
		return QueueEntry{}, wrapStorage("record output weight", err)
	}
	return entry, nil
}

// Complete credits the finished good of a queue entry and closes it. It is
// safe to call repeatedly and concurrently for the same entry: at most one
// production credit is ever written per batch. measured may be nil.
func (e *Engine) Complete(ctx context.Context, entryID int64, measured *decimal.Decimal) (result Completion, err error) {
	ctx, span := e.tracer.Start(ctx, "production.Complete", trace.WithAttributes(attribute.Int64("entry_id", entryID)))
	defer func() {
		span.SetAttributes(attribute.String("outcome", string(result.Outcome)))
		endSpan(span, err)
	}()

	if measured != nil {
		if _, err := e.RecordOutputWeight(ctx, entryID, *measured); err != nil {
			if errors.Is(err, ErrEntryClosed) {
				entry, getErr := e.repo.GetQueueEntry(ctx, entryID)
				if getErr != nil {
					return Completion{}, getErr
				}
				return Completion{Entry: entry, Outcome: OutcomeAlreadyClosed}, nil
			}
			return Completion{}, err
		}
	}

	err = e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		result = Completion{Entry: entry}
		if entry.Status != QueueInProgress {
			result.Outcome = OutcomeAlreadyClosed
			return nil
		}
		output, err := tx.GetItemForUpdate(ctx, entry.FinishedGoodID)
		if err != nil {
			return err
		}
		rows, err := tx.ListRecipeRows(ctx, entry.FinishedGoodID)
		if err != nil {
			return err
		}
		recipe := Recipe{OutputWeighted: output.IsWeighted}
		if len(rows) > 0 {
			header, err := recipeHeader(rows)
			if err != nil {
				return err
			}
			recipe.ReturnsToRaw = header.ReturnsToRaw
		}
		switch entry.State(recipe.RequiresMeasurement(), e.now()) {
		case StateAwaitingMeasurement:
			result.Outcome = OutcomeAwaitingMeasurement
			return nil
		case StateInProgress:
			result.Outcome = OutcomeNotDue
			return nil
		}

		credited, err := tx.HasProductionCredit(ctx, entry.BatchID, entry.FinishedGoodID)
		if err != nil {
			return err
		}
		if credited {
			if err := tx.UpdateQueueStatus(ctx, entry.ID, QueueCompleted); err != nil {
				return err
			}
			result.Entry.Status = QueueCompleted
			result.Outcome = OutcomeDuplicate
			return nil
		}

		if err := requirePooled(ctx, tx, entry.LocationID); err != nil {
			return err
		}
		finalQty := entry.FinalQuantity()
		if _, err := e.accountor.ApplyInbound(ctx, tx, output.ID, finalQty, entry.EstimatedCost); err != nil {
			return err
		}
		to := entry.LocationID
		credit, err := tx.AppendMove(ctx, inventory.Move{
			ItemID:       output.ID,
			ToLocationID: &to,
			Quantity:     finalQty,
			Type:         inventory.MoveTypeProduction,
			UnitPrice:    entry.EstimatedCost.Div(finalQty),
			BatchID:      uuid.NullUUID{UUID: entry.BatchID, Valid: true},
		})
		if err != nil {
			return err
		}
		if recipe.ReturnsToRaw && output.Kind != inventory.ItemKindRaw {
			if err := tx.UpdateItemKind(ctx, output.ID, inventory.ItemKindRaw); err != nil {
				return err
			}
		}
		if err := tx.UpdateQueueStatus(ctx, entry.ID, QueueCompleted); err != nil {
			return err
		}
		result.Entry.Status = QueueCompleted
		result.Outcome = OutcomeCompleted
		result.Credit = &credit
		return nil
	})
	if errors.Is(err, inventory.ErrDuplicateCredit) {
		// The unique index caught a concurrent credit for this batch.
		result, err = e.closeCredited(ctx, entryID)
	}
	if err != nil {
		return Completion{}, wrapStorage("complete", err)
	}
	if result.Outcome == OutcomeDuplicate {
		e.logger.Warn("production credit already recorded, closing entry without re-credit",
			slog.Int64("entry_id", result.Entry.ID),
			slog.String("batch_id", result.Entry.BatchID.String()))
	}
	if result.Outcome == OutcomeCompleted {
		e.logger.Info("production batch completed",
			slog.Int64("entry_id", result.Entry.ID),
			slog.String("batch_id", result.Entry.BatchID.String()),
			slog.String("quantity", result.Credit.Quantity.String()),
			slog.String("unit_price", result.Credit.UnitPrice.String()))
	}
	return result, nil
}

func (e *Engine) closeCredited(ctx context.Context, entryID int64) (Completion, error) {
	var result Completion
	err := e.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		entry, err := tx.GetQueueEntryForUpdate(ctx, entryID)
		if err != nil {
			return err
		}
		result = Completion{Entry: entry, Outcome: OutcomeAlreadyClosed}
		if entry.Status != QueueInProgress {
			return nil
		}
		if err := tx.UpdateQueueStatus(ctx, entry.ID, QueueCompleted); err != nil {
			return err
		}
		result.Entry.Status = QueueCompleted
		result.Outcome = OutcomeDuplicate
		return nil
	})
	return result, err
}

// Sweep completes every due in-progress entry. A sweep that is still running
// makes later calls return immediately with Skipped set. Per-entry failures are
// logged and counted; the entry stays in progress for the next sweep.
func (e *Engine) Sweep(ctx context.Context) (result SweepResult, err error) {
	if !e.sweeping.CompareAndSwap(false, true) {
		return SweepResult{Skipped: true}, nil
	}
	defer e.sweeping.Store(false)

	ctx, span := e.tracer.Start(ctx, "production.Sweep")
	defer func() { endSpan(span, err) }()

	entries, err := e.repo.ListDueEntries(ctx, e.now(), e.cfg.SweepLimit)
	if err != nil {
		return SweepResult{}, fmt.Errorf("production: list due entries: %w", err)
	}
	seen := make(map[int64]struct{}, len(entries))
	for _, entry := range entries {
		if _, ok := seen[entry.ID]; ok {
			continue
		}
		seen[entry.ID] = struct{}{}
		result.Due++
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		completion, err := e.Complete(ctx, entry.ID, nil)
		if err != nil {
			result.Failed++
			e.logger.Error("sweep entry failed",
				slog.Int64("entry_id", entry.ID),
				slog.String("batch_id", entry.BatchID.String()),
				slog.Any("error", err))
			continue
		}
		switch completion.Outcome {
		case OutcomeCompleted:
			result.Completed++
		case OutcomeDuplicate:
			result.Duplicates++
		case OutcomeAwaitingMeasurement, OutcomeNotDue:
			result.Pending++
		}
	}
	span.SetAttributes(attribute.Int("due", result.Due), attribute.Int("completed", result.Completed))
	e.logger.Info("production sweep finished",
		slog.Int("due", result.Due),
		slog.Int("completed", result.Completed),
		slog.Int("duplicates", result.Duplicates),
		slog.Int("pending", result.Pending),
		slog.Int("failed", result.Failed))
	return result, nil
}

// BatchView is a queue entry with its derived state.
type BatchView struct {
	Entry QueueEntry
	State BatchState
	Moves []inventory.Move
}

// Batch loads a queue entry, its derived state and the ledger moves of its batch.
func (e *Engine) Batch(ctx context.Context, entryID int64) (BatchView, error) {
	entry, err := e.repo.GetQueueEntry(ctx, entryID)
	if err != nil {
		return BatchView{}, err
	}
	requiresMeasurement := false
	if recipe, err := e.resolver.Resolve(ctx, entry.FinishedGoodID); err == nil {
		requiresMeasurement = recipe.RequiresMeasurement()
	} else if !errors.Is(err, ErrNoRecipe) {
		return BatchView{}, err
	}
	moves, err := e.repo.ListMoves(ctx, inventory.MoveFilter{BatchID: uuid.NullUUID{UUID: entry.BatchID, Valid: true}})
	if err != nil {
		return BatchView{}, err
	}
	return BatchView{Entry: entry, State: entry.State(requiresMeasurement, e.now()), Moves: moves}, nil
}

// Queue lists queue entries, newest first.
func (e *Engine) Queue(ctx context.Context, status QueueStatus, limit int) ([]QueueEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return e.repo.ListQueue(ctx, status, limit)
}

// requirePooled rejects locations whose stock is not valued in the cost pool.
func requirePooled(ctx context.Context, tx TxRepository, locationID int64) error {
	loc, err := tx.GetLocation(ctx, locationID)
	if err != nil {
		return err
	}
	if !loc.Kind.Pooled() {
		return inventory.ErrInvalidLocation
	}
	return nil
}

func wrapStorage(op string, err error) error {
	if err == nil || errors.Is(err, ErrEntryNotFound) || errors.Is(err, ErrEntryClosed) ||
		errors.Is(err, ErrNoRecipe) || errors.Is(err, ErrInconsistentRecipe) {
		return err
	}
	return inventory.WrapStorage(op, err)
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
