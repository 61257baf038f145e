package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/bsm/redislock"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

const scopeAll = "all"

// PeriodCloser is the part of periods.Service the close job drives.
type PeriodCloser interface {
	Close(ctx context.Context, in periods.CloseInput) (accounting.Ledger, error)
	CloseAll(ctx context.Context, start, end time.Time, actorID int64) (periods.CloseAllResult, error)
}

// PeriodCloseJob closes ledger periods under a Redis lock so that two workers
// never close the same scope concurrently.
type PeriodCloseJob struct {
	Periods PeriodCloser
	Locker  *redislock.Client
	LockTTL time.Duration
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewPeriodCloseJob constructs the job handler.
func NewPeriodCloseJob(closer PeriodCloser, locker *redislock.Client, logger *slog.Logger, metrics *jobmetrics.Metrics) *PeriodCloseJob {
	return &PeriodCloseJob{
		Periods: closer,
		Locker:  locker,
		LockTTL: 10 * time.Minute,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle executes the period close job.
func (j *PeriodCloseJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload PeriodClosePayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("period close: decode payload: %w", asynq.SkipRetry)
	}
	return j.Run(ctx, payload)
}

// Run closes the period described by payload.
func (j *PeriodCloseJob) Run(ctx context.Context, payload PeriodClosePayload) (resultErr error) {
	if j == nil || j.Periods == nil {
		return errors.New("period close: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskPeriodClose)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	start, end, err := j.bounds(payload)
	if err != nil {
		return fmt.Errorf("period close: %w: %w", err, asynq.SkipRetry)
	}
	scope := payload.AccountCode
	if scope == "" {
		scope = scopeAll
	}
	logger := j.log().With(slog.String("scope", scope), slog.String("start", start.Format(time.DateOnly)), slog.String("end", end.Format(time.DateOnly)))

	if j.Locker != nil {
		lock, err := j.Locker.Obtain(ctx, shared.FinanceLockKey(scope, start, end), j.LockTTL, nil)
		if errors.Is(err, redislock.ErrNotObtained) {
			logger.Info("period close already running elsewhere")
			tracker.Skip()
			return nil
		}
		if err != nil {
			return fmt.Errorf("period close: obtain lock: %w", err)
		}
		defer func() {
			if err := lock.Release(context.WithoutCancel(ctx)); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
				logger.Warn("release period close lock", slog.Any("error", err))
			}
		}()
	}

	if payload.AccountCode != "" {
		ledger, err := j.Periods.Close(ctx, periods.CloseInput{
			AccountCode: payload.AccountCode,
			Start:       start,
			End:         end,
			ActorID:     payload.ActorID,
		})
		if err != nil {
			logger.Error("close period", slog.Any("error", err))
			switch accounting.KindOf(err) {
			case accounting.KindValidation, accounting.KindNotFound, accounting.KindIntegrity:
				return fmt.Errorf("period close: %w: %w", err, asynq.SkipRetry)
			}
			return err
		}
		j.Metrics.AddCloseResults(1, 0)
		logger.Info("period closed", slog.String("ending_balance", accounting.FormatAmount(ledger.EndingBalance)))
		return nil
	}

	result, err := j.Periods.CloseAll(ctx, start, end, payload.ActorID)
	if err != nil {
		logger.Error("close all periods", slog.Any("error", err))
		return err
	}
	j.Metrics.AddCloseResults(len(result.Closed), len(result.Skipped))
	codes := make([]string, 0, len(result.Skipped))
	for code := range result.Skipped {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		logger.Warn("period close skipped account", slog.String("account", code), slog.Any("error", result.Skipped[code]))
	}
	logger.Info("periods closed", slog.Int("closed", len(result.Closed)), slog.Int("skipped", len(result.Skipped)))
	return nil
}

func (j *PeriodCloseJob) bounds(payload PeriodClosePayload) (time.Time, time.Time, error) {
	if payload.Start == "" && payload.End == "" {
		start, end := previousMonth(j.now())
		return start, end, nil
	}
	return parseBounds(payload.Start, payload.End)
}

func (j *PeriodCloseJob) now() time.Time {
	if j.clock == nil {
		return time.Now().UTC()
	}
	return j.clock()
}

func (j *PeriodCloseJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
