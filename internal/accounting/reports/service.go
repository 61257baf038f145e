package reports

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// Service loads account balances and shapes them into reports.
type Service struct {
	repo accounting.RepositoryPort
}

// NewService constructs the reporting service.
func NewService(repo accounting.RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Balances returns every detail account that has GL activity up to asOf. When
// from is set, lines before it are folded into Opening and Debit/Credit cover
// [from, asOf] only. Tombstoned accounts with history are included.
func (s *Service) Balances(ctx context.Context, from *time.Time, asOf time.Time) ([]AccountBalance, *accounts.Tree, error) {
	end := accounting.NormalizeInstant(asOf)
	if from != nil && from.After(end) {
		return nil, nil, fmt.Errorf("%w: report start after end", accounting.ErrInvalidInput)
	}
	var (
		out  []AccountBalance
		tree *accounts.Tree
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		all, err := tx.ListAccounts(ctx, true)
		if err != nil {
			return err
		}
		tree = accounts.NewTree(all)
		for _, a := range tree.Accounts() {
			if a.Level != accounting.AccountLevelDetail {
				continue
			}
			b := AccountBalance{Account: a, Opening: decimal.Zero}
			if from != nil {
				before := from.Add(-accounting.Tick)
				opening, err := tx.SumLines(ctx, accounting.LineFilter{AccountIDs: ids(a), To: &before})
				if err != nil {
					return err
				}
				b.Opening = accounting.SignedBalance(a.Position, opening.Debit, opening.Credit)
			}
			window, err := tx.SumLines(ctx, accounting.LineFilter{AccountIDs: ids(a), From: from, To: &end})
			if err != nil {
				return err
			}
			b.Debit, b.Credit = window.Debit, window.Credit
			if window.Count == 0 && b.Opening.IsZero() {
				continue
			}
			out = append(out, b)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return out, tree, nil
}

// TrialBalance as of the end of date.
func (s *Service) TrialBalance(ctx context.Context, date time.Time) (TrialBalance, error) {
	balances, tree, err := s.Balances(ctx, nil, accounting.EndOfDay(date))
	if err != nil {
		return TrialBalance{}, err
	}
	return BuildTrialBalance(tree, balances)
}

// ProfitAndLoss over the calendar dates [from, to].
func (s *Service) ProfitAndLoss(ctx context.Context, from, to time.Time) (ProfitAndLoss, error) {
	start := accounting.DateOnly(from)
	balances, _, err := s.Balances(ctx, &start, accounting.EndOfDay(to))
	if err != nil {
		return ProfitAndLoss{}, err
	}
	return BuildProfitAndLoss(balances), nil
}

// BalanceSheet as of the end of date.
func (s *Service) BalanceSheet(ctx context.Context, date time.Time) (BalanceSheet, error) {
	balances, _, err := s.Balances(ctx, nil, accounting.EndOfDay(date))
	if err != nil {
		return BalanceSheet{}, err
	}
	return BuildBalanceSheet(balances), nil
}

func ids(a accounting.Account) []uuid.UUID {
	return []uuid.UUID{a.ID}
}
