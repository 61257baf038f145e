package reports

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
)

// AccountBalance models a detail account with aggregated GL activity. Opening
// is signed through the account's normal position; Debit and Credit are the
// raw column totals of the window.
type AccountBalance struct {
	Account accounting.Account
	Opening decimal.Decimal
	Debit   decimal.Decimal
	Credit  decimal.Decimal
}

// Closing computes the signed closing balance for the account.
func (a AccountBalance) Closing() decimal.Decimal {
	return accounting.RoundMinor(a.Opening.Add(accounting.SignedBalance(a.Account.Position, a.Debit, a.Credit)))
}

// columns splits the closing balance into the debit or credit column.
func (a AccountBalance) columns() (decimal.Decimal, decimal.Decimal) {
	closing := a.Closing()
	if a.Account.Position == accounting.PositionCredit {
		closing = closing.Neg()
	}
	if closing.IsNegative() {
		return decimal.Zero, closing.Neg()
	}
	return closing, decimal.Zero
}

// TrialBalanceRow is one account of the trial balance. Header rows carry the
// roll-up of their detail descendants.
type TrialBalanceRow struct {
	Code   string
	Name   string
	Level  accounting.AccountLevel
	Depth  int
	Debit  decimal.Decimal
	Credit decimal.Decimal
}

// TrialBalance is the balance of every account as of a date.
type TrialBalance struct {
	Rows        []TrialBalanceRow
	TotalDebit  decimal.Decimal
	TotalCredit decimal.Decimal
}

// Balanced reports whether the detail rows net to zero.
func (tb TrialBalance) Balanced() bool {
	return tb.TotalDebit.Equal(tb.TotalCredit)
}

// BuildTrialBalance places every detail balance in its debit or credit column
// and adds it to each ancestor header. Rows come out in chart order.
func BuildTrialBalance(tree *accounts.Tree, balances []AccountBalance) (TrialBalance, error) {
	type totals struct{ debit, credit decimal.Decimal }
	rolled := make(map[string]*totals)
	add := func(code string, debit, credit decimal.Decimal) {
		t, ok := rolled[code]
		if !ok {
			t = &totals{debit: decimal.Zero, credit: decimal.Zero}
			rolled[code] = t
		}
		t.debit = t.debit.Add(debit)
		t.credit = t.credit.Add(credit)
	}

	result := TrialBalance{TotalDebit: decimal.Zero, TotalCredit: decimal.Zero}
	for _, b := range balances {
		if b.Account.Level != accounting.AccountLevelDetail {
			return TrialBalance{}, fmt.Errorf("%w: %s is not a detail account", accounting.ErrInvalidInput, b.Account.Code)
		}
		debit, credit := b.columns()
		add(b.Account.Code, debit, credit)
		ancestors, err := tree.Ancestors(b.Account.ID)
		if err != nil {
			return TrialBalance{}, err
		}
		for _, a := range ancestors {
			add(a.Code, debit, credit)
		}
		result.TotalDebit = result.TotalDebit.Add(debit)
		result.TotalCredit = result.TotalCredit.Add(credit)
	}

	var walk func(nodes []accounting.Account, depth int)
	walk = func(nodes []accounting.Account, depth int) {
		for _, n := range nodes {
			t, ok := rolled[n.Code]
			if !ok {
				continue
			}
			result.Rows = append(result.Rows, TrialBalanceRow{
				Code:   n.Code,
				Name:   n.Name,
				Level:  n.Level,
				Depth:  depth,
				Debit:  accounting.RoundMinor(t.debit),
				Credit: accounting.RoundMinor(t.credit),
			})
			walk(tree.Children(n.ID), depth+1)
		}
	}
	walk(tree.Roots(), 0)
	result.TotalDebit = accounting.RoundMinor(result.TotalDebit)
	result.TotalCredit = accounting.RoundMinor(result.TotalCredit)
	return result, nil
}
