package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueCritical carries the production sweep so it is not starved by audits.
	QueueCritical = "critical"

	// TaskProductionSweep completes due production batches.
	TaskProductionSweep = "production:sweep"
	// TaskLedgerAudit rebuilds balances from the ledger and reports drift.
	TaskLedgerAudit = "reconcile:audit"
)

// ProductionSweepPayload carries scheduling metadata.
type ProductionSweepPayload struct {
	RequestedAt time.Time `json:"requested_at"`
}

// LedgerAuditPayload scopes an audit. LocationID zero audits every location.
type LedgerAuditPayload struct {
	LocationID int64 `json:"location_id,omitempty"`
	CostPools  bool  `json:"cost_pools"`
}

// NewProductionSweepTask constructs the sweep task. A failed sweep is not
// retried; the next scheduled run picks up whatever is still due.
func NewProductionSweepTask(at time.Time) (*asynq.Task, error) {
	body, err := json.Marshal(ProductionSweepPayload{RequestedAt: at.UTC()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskProductionSweep, body,
		asynq.Queue(QueueCritical),
		asynq.MaxRetry(0),
		asynq.Timeout(5*time.Minute),
	), nil
}

// NewLedgerAuditTask constructs an audit task.
func NewLedgerAuditTask(locationID int64, costPools bool) (*asynq.Task, error) {
	body, err := json.Marshal(LedgerAuditPayload{LocationID: locationID, CostPools: costPools})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskLedgerAudit, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
