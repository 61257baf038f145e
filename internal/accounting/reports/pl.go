package reports

import (
	"sort"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// ProfitAndLossAccount represents a revenue or expense account summary.
type ProfitAndLossAccount struct {
	Code   string
	Name   string
	Amount decimal.Decimal
}

// ProfitAndLossSection groups accounts by nature.
type ProfitAndLossSection struct {
	Label    string
	Accounts []ProfitAndLossAccount
	Total    decimal.Decimal
}

// ProfitAndLoss contains the structured output for the report.
type ProfitAndLoss struct {
	Revenue   ProfitAndLossSection
	Expense   ProfitAndLossSection
	NetIncome decimal.Decimal
}

// BuildProfitAndLoss aggregates the window activity of revenue and expense
// accounts. Amounts are read through each account's normal side, so a contra
// revenue account reduces the revenue total.
func BuildProfitAndLoss(balances []AccountBalance) ProfitAndLoss {
	revenue := ProfitAndLossSection{Label: "Revenue", Total: decimal.Zero}
	expense := ProfitAndLossSection{Label: "Expense", Total: decimal.Zero}

	for _, b := range balances {
		switch b.Account.Type {
		case accounting.AccountTypeRevenue:
			amount := accounting.SignedBalance(accounting.PositionCredit, b.Debit, b.Credit)
			revenue.Accounts = append(revenue.Accounts, ProfitAndLossAccount{Code: b.Account.Code, Name: b.Account.Name, Amount: amount})
			revenue.Total = revenue.Total.Add(amount)
		case accounting.AccountTypeExpense:
			amount := accounting.SignedBalance(accounting.PositionDebit, b.Debit, b.Credit)
			expense.Accounts = append(expense.Accounts, ProfitAndLossAccount{Code: b.Account.Code, Name: b.Account.Name, Amount: amount})
			expense.Total = expense.Total.Add(amount)
		}
	}

	sort.Slice(revenue.Accounts, func(i, j int) bool { return revenue.Accounts[i].Code < revenue.Accounts[j].Code })
	sort.Slice(expense.Accounts, func(i, j int) bool { return expense.Accounts[i].Code < expense.Accounts[j].Code })

	return ProfitAndLoss{
		Revenue:   revenue,
		Expense:   expense,
		NetIncome: revenue.Total.Sub(expense.Total),
	}
}
