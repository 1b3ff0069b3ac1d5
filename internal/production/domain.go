package production

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-stock/internal/inventory"
)

// QueueStatus is the persisted status of a production queue entry.
type QueueStatus string

const (
	QueueInProgress QueueStatus = "in_progress"
	QueueCompleted  QueueStatus = "completed"
	// QueueCancelled is reserved; no operation produces it yet.
	QueueCancelled QueueStatus = "cancelled"
)

// BatchState is the lifecycle state of a production batch.
type BatchState string

const (
	StateRequested           BatchState = "requested"
	StateIngredientsReserved BatchState = "ingredients_reserved"
	StateInProgress          BatchState = "in_progress"
	StateAwaitingMeasurement BatchState = "awaiting_measurement"
	StateReadyToComplete     BatchState = "ready_to_complete"
	StateCompleted           BatchState = "completed"
	StateCancelled           BatchState = "cancelled"
)

var transitions = map[BatchState][]BatchState{
	StateRequested:           {StateIngredientsReserved, StateCancelled},
	StateIngredientsReserved: {StateInProgress, StateCancelled},
	StateInProgress:          {StateAwaitingMeasurement, StateReadyToComplete},
	StateAwaitingMeasurement: {StateReadyToComplete},
	StateReadyToComplete:     {StateCompleted},
}

// CanTransition reports whether the state machine permits moving to next.
func (s BatchState) CanTransition(next BatchState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition exists.
func (s BatchState) Terminal() bool {
	return len(transitions[s]) == 0
}

// RecipeRow mirrors one stored recipes row.
type RecipeRow struct {
	FinishedGoodID        int64
	IngredientID          int64
	Quantity              decimal.Decimal
	ReturnsToRaw          bool
	ProductionTimeMinutes *int32
}

// RecipeLine is a resolved bill-of-materials line with current ingredient cost.
type RecipeLine struct {
	IngredientID    int64
	Name            string
	IsWeighted      bool
	UnitCost        decimal.Decimal
	QuantityPerUnit decimal.Decimal
}

// Recipe is the resolved bill of materials for a finished good.
type Recipe struct {
	FinishedGoodID int64
	OutputName     string
	OutputWeighted bool
	Lines          []RecipeLine
	ReturnsToRaw   bool
	TimingMinutes  *int32
}

// RequiresMeasurement reports whether output quantity is only known once weighed.
func (r Recipe) RequiresMeasurement() bool {
	return r.ReturnsToRaw || r.OutputWeighted
}

// LeadTime returns the recipe timing or fallback when the recipe has none.
func (r Recipe) LeadTime(fallback time.Duration) time.Duration {
	if r.TimingMinutes == nil || *r.TimingMinutes < 0 {
		return fallback
	}
	return time.Duration(*r.TimingMinutes) * time.Minute
}

// PlanLine is one ingredient requirement of a plan.
type PlanLine struct {
	IngredientID int64
	Name         string
	IsWeighted   bool
	Required     decimal.Decimal
	Available    decimal.Decimal
	UnitCost     decimal.Decimal
	LineCost     decimal.Decimal
}

// Plan is a costed, availability-checked production request. It performs no
// writes; Commit turns it into ledger moves and a queue entry.
type Plan struct {
	FinishedGoodID      int64
	Quantity            decimal.Decimal
	LocationID          int64
	Lines               []PlanLine
	TotalEstimatedCost  decimal.Decimal
	ReturnsToRaw        bool
	RequiresMeasurement bool
	LeadTime            time.Duration
	PlannedAt           time.Time
}

// QueueEntry is a production run between commit and completion.
type QueueEntry struct {
	ID             int64
	FinishedGoodID int64
	LocationID     int64
	Quantity       decimal.Decimal
	OutputWeight   decimal.NullDecimal
	StartedAt      time.Time
	CompletesAt    time.Time
	Status         QueueStatus
	BatchID        uuid.UUID
	EstimatedCost  decimal.Decimal
}

// State derives the batch state from the persisted entry. A recorded output
// weight makes the entry ready regardless of its schedule.
func (e QueueEntry) State(requiresMeasurement bool, now time.Time) BatchState {
	switch e.Status {
	case QueueCompleted:
		return StateCompleted
	case QueueCancelled:
		return StateCancelled
	}
	if e.OutputWeight.Valid {
		return StateReadyToComplete
	}
	if requiresMeasurement {
		return StateAwaitingMeasurement
	}
	if now.Before(e.CompletesAt) {
		return StateInProgress
	}
	return StateReadyToComplete
}

// FinalQuantity is the measured output when present, else the requested quantity.
func (e QueueEntry) FinalQuantity() decimal.Decimal {
	if e.OutputWeight.Valid {
		return e.OutputWeight.Decimal
	}
	return e.Quantity
}

// Outcome describes what a Complete call did.
type Outcome string

const (
	OutcomeCompleted           Outcome = "completed"
	OutcomeDuplicate           Outcome = "duplicate"
	OutcomeAlreadyClosed       Outcome = "already_closed"
	OutcomeAwaitingMeasurement Outcome = "awaiting_measurement"
	OutcomeNotDue              Outcome = "not_due"
)

// Completion is the result of Complete.
type Completion struct {
	Entry   QueueEntry
	Outcome Outcome
	Credit  *inventory.Move
}

// SweepResult summarises one sweep pass.
type SweepResult struct {
	Due        int
	Completed  int
	Duplicates int
	Pending    int
	Failed     int
	Skipped    bool
}

var (
	// ErrNoRecipe indicates the finished good has no bill of materials.
	ErrNoRecipe = errors.New("production: no recipe for item")
	// ErrInconsistentRecipe indicates recipe lines disagree on returns_to_raw.
	ErrInconsistentRecipe = errors.New("production: recipe lines disagree on returns_to_raw")
	// ErrEntryNotFound indicates a missing queue entry.
	ErrEntryNotFound = errors.New("production: queue entry not found")
	// ErrEntryClosed indicates the entry is no longer in progress.
	ErrEntryClosed = errors.New("production: queue entry is not in progress")
	// ErrEmptyPlan indicates a plan without ingredient lines.
	ErrEmptyPlan = errors.New("production: plan has no lines")
)
