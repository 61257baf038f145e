package gl

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// rollupIDs returns the detail accounts whose lines make up account's balance.
func rollupIDs(ctx context.Context, tx accounting.TxRepository, account accounting.Account) ([]uuid.UUID, error) {
	if account.Level == accounting.AccountLevelDetail {
		return []uuid.UUID{account.ID}, nil
	}
	tree, err := accounts.LoadTree(ctx, tx)
	if err != nil {
		return nil, err
	}
	leaves, err := tree.DetailLeaves(account.ID)
	if err != nil {
		return nil, err
	}
	return accounting.AccountIDs(leaves), nil
}

// Activity returns the signed net of GL lines with posting_date in [from, to],
// read through account's normal position. Nil bounds are open.
func Activity(ctx context.Context, tx accounting.TxRepository, account accounting.Account, from, to *time.Time) (decimal.Decimal, error) {
	ids, err := rollupIDs(ctx, tx, account)
	if err != nil {
		return decimal.Zero, err
	}
	if len(ids) == 0 {
		return accounting.RoundMinor(decimal.Zero), nil
	}
	totals, err := tx.SumLines(ctx, accounting.LineFilter{AccountIDs: ids, From: from, To: to})
	if err != nil {
		return decimal.Zero, err
	}
	return accounting.SignedBalance(account.Position, totals.Debit, totals.Credit), nil
}

// BalanceIn is balanceAsOf evaluated inside an existing transaction.
func BalanceIn(ctx context.Context, tx accounting.TxRepository, account accounting.Account, asOf time.Time) (decimal.Decimal, error) {
	at := accounting.NormalizeInstant(asOf)
	return Activity(ctx, tx, account, nil, &at)
}

// BalanceAsOf returns the signed balance of code from every live GL line
// posted at or before asOf. Header accounts roll up their detail descendants.
func (p *Poster) BalanceAsOf(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error) {
	var account accounting.Account
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		account, err = tx.GetAccountByCode(ctx, code)
		return err
	})
	if err != nil {
		return decimal.Zero, err
	}
	load := func(ctx context.Context) (decimal.Decimal, error) {
		var balance decimal.Decimal
		err := p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			var err error
			balance, err = BalanceIn(ctx, tx, account, asOf)
			return err
		})
		return balance, err
	}
	if account.Level != accounting.AccountLevelDetail {
		return load(ctx)
	}
	return p.cache.Fetch(ctx, account.ID, accounting.NormalizeInstant(asOf), load)
}

// StatementLine is a GL line with the running balance after it.
type StatementLine struct {
	accounting.GeneralLedgerLine
	AccountCode string
	Balance     decimal.Decimal
}

// Statement lists the GL activity of an account over calendar dates.
type Statement struct {
	Account accounting.Account
	From    time.Time
	To      time.Time
	Opening decimal.Decimal
	Lines   []StatementLine
	Closing decimal.Decimal
}

// Statement returns the lines of code between from and to (inclusive dates),
// ordered by (posting_date, sequence), with a running balance.
func (p *Poster) Statement(ctx context.Context, code string, from, to time.Time) (Statement, error) {
	from = accounting.DateOnly(from)
	to = accounting.DateOnly(to)
	if to.Before(from) {
		return Statement{}, fmt.Errorf("%w: statement end before start", accounting.ErrInvalidInput)
	}
	var st Statement
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		account, err := tx.GetAccountByCode(ctx, code)
		if err != nil {
			return err
		}
		ids, err := rollupIDs(ctx, tx, account)
		if err != nil {
			return err
		}
		opening, err := BalanceIn(ctx, tx, account, from.Add(-accounting.Tick))
		if err != nil {
			return err
		}
		end := accounting.EndOfDay(to)
		st = Statement{Account: account, From: from, To: to, Opening: opening, Closing: opening}
		if len(ids) == 0 {
			return nil
		}
		lines, err := tx.ListLines(ctx, accounting.LineFilter{AccountIDs: ids, From: &from, To: &end})
		if err != nil {
			return err
		}
		codes := map[uuid.UUID]string{account.ID: account.Code}
		running := opening
		for _, l := range lines {
			code, ok := codes[l.AccountID]
			if !ok {
				leaf, err := tx.GetAccountByID(ctx, l.AccountID)
				if err != nil {
					return err
				}
				code = leaf.Code
				codes[l.AccountID] = code
			}
			running = running.Add(accounting.SignedBalance(account.Position, l.Debit, l.Credit))
			st.Lines = append(st.Lines, StatementLine{GeneralLedgerLine: l, AccountCode: code, Balance: running})
		}
		st.Closing = running
		return nil
	})
	return st, err
}
