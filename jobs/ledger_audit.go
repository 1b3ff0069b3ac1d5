package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/reconcile"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Auditor is the read-only reconciliation surface the audit job drives.
type Auditor interface {
	Audit(ctx context.Context, locationID int64) (reconcile.Report, error)
	AuditAll(ctx context.Context) ([]reconcile.Report, error)
	AuditCostPools(ctx context.Context) ([]reconcile.PoolIssue, error)
}

// AuditOutcome is what one audit run found.
type AuditOutcome struct {
	Reports    []reconcile.Report
	PoolIssues []reconcile.PoolIssue
	Skipped    bool
}

// Mismatches counts drifted balances across all reports.
func (o AuditOutcome) Mismatches() int {
	total := 0
	for _, report := range o.Reports {
		total += len(report.Mismatches)
	}
	return total
}

// LedgerAuditJob replays the move ledger against stored balances and exports
// the drift as metrics. It only reads; repairs stay a manual decision.
type LedgerAuditJob struct {
	Auditor Auditor
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerAuditJob constructs the audit job handler.
func NewLedgerAuditJob(auditor Auditor, locker Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerAuditJob {
	if lockTTL <= 0 {
		lockTTL = 5 * time.Minute
	}
	return &LedgerAuditJob{Auditor: auditor, Locker: locker, LockTTL: lockTTL, Logger: logger, Metrics: metrics, clock: time.Now}
}

// WithClock overrides the time source used for the completion stamp.
func (j *LedgerAuditJob) WithClock(clock func() time.Time) *LedgerAuditJob {
	if clock != nil {
		j.clock = clock
	}
	return j
}

// Handle decodes the payload and runs the audit.
func (j *LedgerAuditJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload LedgerAuditPayload
	if task != nil && len(task.Payload()) > 0 {
		if err := json.Unmarshal(task.Payload(), &payload); err != nil {
			return fmt.Errorf("decode audit payload: %w: %w", err, asynq.SkipRetry)
		}
	}
	_, err := j.Run(ctx, payload)
	return err
}

// Run audits the location named by the payload, or every location when it
// is zero.
func (j *LedgerAuditJob) Run(ctx context.Context, payload LedgerAuditPayload) (outcome AuditOutcome, err error) {
	if j == nil || j.Auditor == nil {
		return AuditOutcome{}, errors.New("ledger audit: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskLedgerAudit)
	defer func() { err = tracker.End(err) }()

	logger := j.log().With(slog.Int64("location_id", payload.LocationID))
	if j.Locker != nil {
		lock, lockErr := j.Locker.Obtain(ctx, shared.AuditLockKey(payload.LocationID), j.LockTTL, nil)
		if errors.Is(lockErr, redislock.ErrNotObtained) {
			logger.Info("audit already running, skipping")
			return AuditOutcome{Skipped: true}, nil
		}
		if lockErr != nil {
			return AuditOutcome{}, lockErr
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
				logger.Warn("release audit lock", slog.Any("error", relErr))
			}
		}()
	}

	if payload.LocationID != 0 {
		report, err := j.Auditor.Audit(ctx, payload.LocationID)
		if err != nil {
			return AuditOutcome{}, err
		}
		outcome.Reports = []reconcile.Report{report}
	} else {
		outcome.Reports, err = j.Auditor.AuditAll(ctx)
		if err != nil {
			return AuditOutcome{}, err
		}
	}
	// The auditor logs each mismatch; the job only counts them.
	for _, report := range outcome.Reports {
		j.Metrics.AddMismatches(report.LocationID, len(report.Mismatches))
	}

	if payload.CostPools {
		outcome.PoolIssues, err = j.Auditor.AuditCostPools(ctx)
		if err != nil {
			return outcome, err
		}
		for _, issue := range outcome.PoolIssues {
			j.Metrics.AddPoolIssue(string(issue.Problem))
		}
	}

	j.Metrics.AuditFinished(j.now())
	logger.Info("ledger audit finished",
		slog.Int("reports", len(outcome.Reports)),
		slog.Int("mismatches", outcome.Mismatches()),
		slog.Int("pool_issues", len(outcome.PoolIssues)))
	return outcome, nil
}

func (j *LedgerAuditJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now()
}

func (j *LedgerAuditJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerAudit))
	}
	return slog.Default().With(slog.String("job", TaskLedgerAudit))
}
