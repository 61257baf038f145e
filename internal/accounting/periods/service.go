// Package periods materialises per-account period summaries. Closing a period
// freezes its net activity into a Ledger row and blocks further postings into
// its dates; reopening lifts the block for corrections.
package periods

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Metrics receives close and reopen outcomes.
type Metrics interface {
	ObservePeriod(operation, outcome string, took time.Duration)
}

// Service orchestrates the per-account period lifecycle.
type Service struct {
	repo    accounting.RepositoryPort
	audit   accounting.AuditPort
	metrics Metrics
	logger  *slog.Logger
	retry   accounting.RetryPolicy
	now     func() time.Time
}

// Options carries the optional collaborators of the Service.
type Options struct {
	Audit   accounting.AuditPort
	Metrics Metrics
	Logger  *slog.Logger
	Retry   accounting.RetryPolicy
}

// NewService constructs a Service instance.
func NewService(repo accounting.RepositoryPort, opts Options) *Service {
	s := &Service{
		repo:    repo,
		audit:   opts.Audit,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		retry:   opts.Retry,
		now:     time.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.retry.Attempts == 0 {
		s.retry = accounting.DefaultRetryPolicy
	}
	return s
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// List returns the ledger rows of an account ordered by start date.
func (s *Service) List(ctx context.Context, code string) ([]accounting.Ledger, error) {
	var out []accounting.Ledger
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := tx.GetAccountByCode(ctx, code)
		if err != nil {
			return err
		}
		out, err = tx.ListPeriods(ctx, account.ID)
		return err
	})
	return out, err
}

// Get returns the ledger row with exactly the given bounds.
func (s *Service) Get(ctx context.Context, code string, start, end time.Time) (accounting.Ledger, error) {
	in := CloseInput{AccountCode: code, Start: start, End: end}
	from, to, err := in.bounds()
	if err != nil {
		return accounting.Ledger{}, err
	}
	var out accounting.Ledger
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := tx.GetAccountByCode(ctx, code)
		if err != nil {
			return err
		}
		existing, err := tx.ListPeriods(ctx, account.ID)
		if err != nil {
			return err
		}
		match := exact(existing, from, to)
		if match == nil {
			return fmt.Errorf("%w: %s %s..%s", accounting.ErrPeriodNotFound, code, from.Format(time.DateOnly), to.Format(time.DateOnly))
		}
		out = *match
		return nil
	})
	return out, err
}

// Close computes and stores the period summary of one detail account. Closing
// a CLOSED period again returns the stored row; a REOPENED row is recomputed.
func (s *Service) Close(ctx context.Context, in CloseInput) (accounting.Ledger, error) {
	start, end, err := in.bounds()
	if err != nil {
		return accounting.Ledger{}, err
	}
	began := time.Now()
	var (
		result  accounting.Ledger
		account accounting.Account
		changed bool
	)
	err = accounting.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			var err error
			account, err = tx.GetAccountByCode(ctx, in.AccountCode)
			if err != nil {
				return err
			}
			result, changed, err = s.closeIn(ctx, tx, account, start, end)
			return err
		})
	})
	if err != nil {
		s.observe("close", err, began)
		s.logger.WarnContext(ctx, "period close rejected",
			slog.String("account", in.AccountCode),
			slog.String("start", start.Format(time.DateOnly)),
			slog.String("end", end.Format(time.DateOnly)),
			slog.Any("error", err))
		return accounting.Ledger{}, err
	}
	s.observe("close", nil, began)
	if changed {
		s.logger.InfoContext(ctx, "period closed",
			slog.String("account", account.Code),
			slog.String("start", start.Format(time.DateOnly)),
			slog.String("end", end.Format(time.DateOnly)),
			slog.String("beginning", accounting.FormatAmount(result.BeginningBalance)),
			slog.String("ending", accounting.FormatAmount(result.EndingBalance)))
		s.record(ctx, in.ActorID, "period.close", account, result)
	}
	return result, nil
}

func (s *Service) closeIn(ctx context.Context, tx accounting.TxRepository, account accounting.Account, start, end time.Time) (accounting.Ledger, bool, error) {
	if account.Level != accounting.AccountLevelDetail {
		return accounting.Ledger{}, false, fmt.Errorf("%w: periods are closed on detail accounts, %s is a header", accounting.ErrInvalidInput, account.Code)
	}
	if err := tx.LockAccounts(ctx, []uuid.UUID{account.ID}, accounting.LockExclusive); err != nil {
		return accounting.Ledger{}, false, err
	}
	existing, err := tx.ListPeriods(ctx, account.ID)
	if err != nil {
		return accounting.Ledger{}, false, err
	}
	current := exact(existing, start, end)
	if err := shared.ValidatePeriodTransition(Status(current), shared.PeriodStatusClosed); err != nil {
		return accounting.Ledger{}, false, fmt.Errorf("%w: %v", accounting.ErrInvalidPeriodTransition, err)
	}
	if current != nil && current.Status == accounting.PeriodStatusClosed {
		return *current, false, nil
	}
	for _, p := range existing {
		if current != nil && p.ID == current.ID {
			continue
		}
		if p.Overlaps(start, end) {
			return accounting.Ledger{}, false, fmt.Errorf("%w: %s %s..%s", accounting.ErrOverlappingPeriod,
				account.Code, p.PeriodStart.Format(time.DateOnly), p.PeriodEnd.Format(time.DateOnly))
		}
		if p.PeriodStart.After(end) && p.Status == accounting.PeriodStatusClosed {
			return accounting.Ledger{}, false, fmt.Errorf("%w: %s from %s", accounting.ErrLaterPeriodClosed, account.Code, p.PeriodStart.Format(time.DateOnly))
		}
	}

	beginning, err := s.beginning(ctx, tx, account, existing, start)
	if err != nil {
		return accounting.Ledger{}, false, err
	}
	from, to := start, accounting.EndOfDay(end)
	activity, err := gl.Activity(ctx, tx, account, &from, &to)
	if err != nil {
		return accounting.Ledger{}, false, err
	}
	ending := accounting.RoundMinor(beginning.Add(activity))

	now := accounting.NormalizeInstant(s.now())
	if current == nil {
		row := accounting.Ledger{
			ID:               uuid.New(),
			AccountID:        account.ID,
			PeriodStart:      start,
			PeriodEnd:        end,
			BeginningBalance: beginning,
			EndingBalance:    ending,
			Status:           accounting.PeriodStatusClosed,
			ClosedAt:         &now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := tx.InsertPeriod(ctx, row); err != nil {
			return accounting.Ledger{}, false, err
		}
		return row, true, nil
	}
	row := *current
	row.BeginningBalance = beginning
	row.EndingBalance = ending
	row.Status = accounting.PeriodStatusClosed
	row.ClosedAt = &now
	row.UpdatedAt = now
	if err := tx.UpdatePeriod(ctx, row); err != nil {
		return accounting.Ledger{}, false, err
	}
	return row, true, nil
}

// beginning chains onto the contiguous predecessor. Without any earlier period
// the opening is everything posted before start.
func (s *Service) beginning(ctx context.Context, tx accounting.TxRepository, account accounting.Account, existing []accounting.Ledger, start time.Time) (decimal.Decimal, error) {
	var prev *accounting.Ledger
	for i := range existing {
		if existing[i].PeriodEnd.Before(start) {
			prev = &existing[i]
		}
	}
	if prev == nil {
		return gl.BalanceIn(ctx, tx, account, start.Add(-accounting.Tick))
	}
	if !prev.PeriodEnd.AddDate(0, 0, 1).Equal(start) {
		return decimal.Zero, fmt.Errorf("%w: %s has no period between %s and %s", accounting.ErrPriorPeriodOpen,
			account.Code, prev.PeriodEnd.Format(time.DateOnly), start.Format(time.DateOnly))
	}
	if prev.Status != accounting.PeriodStatusClosed {
		return decimal.Zero, fmt.Errorf("%w: %s %s..%s is %s", accounting.ErrPriorPeriodOpen, account.Code,
			prev.PeriodStart.Format(time.DateOnly), prev.PeriodEnd.Format(time.DateOnly), prev.Status)
	}
	return prev.EndingBalance, nil
}

// Reopen marks a CLOSED period REOPENED so postings into its dates are accepted
// again. Periods reopen newest first.
func (s *Service) Reopen(ctx context.Context, in CloseInput) (accounting.Ledger, error) {
	start, end, err := in.bounds()
	if err != nil {
		return accounting.Ledger{}, err
	}
	began := time.Now()
	var (
		result  accounting.Ledger
		account accounting.Account
	)
	err = accounting.Retry(ctx, s.retry, func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			var err error
			account, err = tx.GetAccountByCode(ctx, in.AccountCode)
			if err != nil {
				return err
			}
			if err := tx.LockAccounts(ctx, []uuid.UUID{account.ID}, accounting.LockExclusive); err != nil {
				return err
			}
			existing, err := tx.ListPeriods(ctx, account.ID)
			if err != nil {
				return err
			}
			current := exact(existing, start, end)
			if current == nil {
				return fmt.Errorf("%w: %s %s..%s", accounting.ErrPeriodNotFound, account.Code, start.Format(time.DateOnly), end.Format(time.DateOnly))
			}
			if err := shared.ValidatePeriodTransition(Status(current), shared.PeriodStatusReopened); err != nil {
				return fmt.Errorf("%w: %s is %s", accounting.ErrInvalidPeriodTransition, account.Code, current.Status)
			}
			for _, p := range existing {
				if p.PeriodStart.After(end) && p.Status == accounting.PeriodStatusClosed {
					return fmt.Errorf("%w: %s from %s", accounting.ErrLaterPeriodClosed, account.Code, p.PeriodStart.Format(time.DateOnly))
				}
			}
			now := accounting.NormalizeInstant(s.now())
			row := *current
			row.Status = accounting.PeriodStatusReopened
			row.ReopenedAt = &now
			row.UpdatedAt = now
			if err := tx.UpdatePeriod(ctx, row); err != nil {
				return err
			}
			result = row
			return nil
		})
	})
	s.observe("reopen", err, began)
	if err != nil {
		s.logger.WarnContext(ctx, "period reopen rejected", slog.String("account", in.AccountCode), slog.Any("error", err))
		return accounting.Ledger{}, err
	}
	s.logger.InfoContext(ctx, "period reopened",
		slog.String("account", account.Code),
		slog.String("start", start.Format(time.DateOnly)),
		slog.String("end", end.Format(time.DateOnly)))
	s.record(ctx, in.ActorID, "period.reopen", account, result)
	return result, nil
}

// CloseAll closes [start, end] for every active detail account. Accounts that
// fail are reported in Skipped and do not stop the run.
func (s *Service) CloseAll(ctx context.Context, start, end time.Time, actorID int64) (CloseAllResult, error) {
	var targets []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		all, err := tx.ListAccounts(ctx, false)
		if err != nil {
			return err
		}
		for _, a := range all {
			if a.IsPostable() {
				targets = append(targets, a)
			}
		}
		return nil
	})
	if err != nil {
		return CloseAllResult{}, err
	}
	result := CloseAllResult{Skipped: map[string]error{}}
	for _, a := range targets {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		row, err := s.Close(ctx, CloseInput{AccountCode: a.Code, Start: start, End: end, ActorID: actorID})
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return result, err
			}
			result.Skipped[a.Code] = err
			continue
		}
		result.Closed = append(result.Closed, row)
	}
	return result, nil
}

func exact(existing []accounting.Ledger, start, end time.Time) *accounting.Ledger {
	for i := range existing {
		if existing[i].SameBounds(start, end) {
			return &existing[i]
		}
	}
	return nil
}

func (s *Service) observe(operation string, err error, began time.Time) {
	if s.metrics == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = accounting.CodeOf(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	s.metrics.ObservePeriod(operation, outcome, time.Since(began))
}

func (s *Service) record(ctx context.Context, actorID int64, action string, account accounting.Account, row accounting.Ledger) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "ledger",
		EntityID: row.ID.String(),
		Meta: map[string]any{
			"account":   account.Code,
			"start":     row.PeriodStart.Format(time.DateOnly),
			"end":       row.PeriodEnd.Format(time.DateOnly),
			"beginning": accounting.FormatAmount(row.BeginningBalance),
			"ending":    accounting.FormatAmount(row.EndingBalance),
		},
		At: s.now(),
	})
	if err != nil {
		s.logger.WarnContext(ctx, "audit period", slog.String("account", account.Code), slog.Any("error", err))
	}
}
