package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/odyssey-stock/internal/jobs"
	"github.com/odyssey-erp/odyssey-stock/internal/production"
	"github.com/odyssey-erp/odyssey-stock/internal/shared"
)

// Sweeper completes due production batches.
type Sweeper interface {
	Sweep(ctx context.Context) (production.SweepResult, error)
}

// Locker obtains a distributed lock. *redislock.Client satisfies it.
type Locker interface {
	Obtain(ctx context.Context, key string, ttl time.Duration, opt *redislock.Options) (*redislock.Lock, error)
}

// ProductionSweepJob runs the sweep under a redis lock so that only one worker
// replica sweeps at a time. The engine's own guard covers a single process.
type ProductionSweepJob struct {
	Sweeper Sweeper
	Locker  Locker
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewProductionSweepJob constructs the job handler. A nil locker runs without
// cross-process exclusion.
func NewProductionSweepJob(sweeper Sweeper, locker Locker, lockTTL time.Duration, logger *slog.Logger, metrics *jobmetrics.Metrics) *ProductionSweepJob {
	if lockTTL <= 0 {
		lockTTL = 30 * time.Second
	}
	return &ProductionSweepJob{Sweeper: sweeper, Locker: locker, LockTTL: lockTTL, Logger: logger, Metrics: metrics}
}

// Handle executes one sweep.
func (j *ProductionSweepJob) Handle(ctx context.Context, _ *asynq.Task) error {
	_, err := j.Run(ctx)
	return err
}

// Run executes one sweep and returns its tally. A sweep skipped because the
// lock is held elsewhere reports Skipped and no error.
func (j *ProductionSweepJob) Run(ctx context.Context) (result production.SweepResult, err error) {
	if j == nil || j.Sweeper == nil {
		return production.SweepResult{}, errors.New("production sweep: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskProductionSweep)
	defer func() { err = tracker.End(err) }()

	if j.Locker != nil {
		lock, lockErr := j.Locker.Obtain(ctx, shared.SweepLockKey, j.LockTTL, nil)
		if errors.Is(lockErr, redislock.ErrNotObtained) {
			j.Metrics.SweepSkipped()
			j.log().Info("sweep lock held by another worker, skipping")
			return production.SweepResult{Skipped: true}, nil
		}
		if lockErr != nil {
			j.log().Error("obtain sweep lock", slog.Any("error", lockErr))
			return production.SweepResult{}, lockErr
		}
		defer func() {
			if relErr := lock.Release(context.WithoutCancel(ctx)); relErr != nil && !errors.Is(relErr, redislock.ErrLockNotHeld) {
				j.log().Warn("release sweep lock", slog.Any("error", relErr))
			}
		}()
	}

	result, err = j.Sweeper.Sweep(ctx)
	if err != nil {
		j.log().Error("sweep", slog.Any("error", err))
		return result, err
	}
	if result.Skipped {
		j.Metrics.SweepSkipped()
		return result, nil
	}
	j.Metrics.SweepOutcome(string(production.OutcomeCompleted), result.Completed)
	j.Metrics.SweepOutcome(string(production.OutcomeDuplicate), result.Duplicates)
	j.Metrics.SweepOutcome("pending", result.Pending)
	j.Metrics.SweepOutcome("failed", result.Failed)
	return result, nil
}

func (j *ProductionSweepJob) log() *slog.Logger {
	if j != nil && j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskProductionSweep))
	}
	return slog.Default().With(slog.String("job", TaskProductionSweep))
}
