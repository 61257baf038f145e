package accounts

import "github.com/odyssey-erp/odyssey-ledger/internal/accounting"

type seed struct {
	code, parent, name string
	typ                accounting.AccountType
	level              accounting.AccountLevel
	bankCash           bool
	contra             bool
}

var defaultChart = []seed{
	{code: "1000", name: "Assets", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelHeader},
	{code: "1100", parent: "1000", name: "Current Assets", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelHeader},
	{code: "1110", parent: "1100", name: "Cash on Hand", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail, bankCash: true},
	{code: "1120", parent: "1100", name: "Bank", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail, bankCash: true},
	{code: "1130", parent: "1100", name: "Accounts Receivable", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail},
	{code: "1140", parent: "1100", name: "Inventory", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail},
	{code: "1200", parent: "1000", name: "Fixed Assets", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelHeader},
	{code: "1210", parent: "1200", name: "Equipment", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail},
	{code: "1290", parent: "1200", name: "Accumulated Depreciation", typ: accounting.AccountTypeAsset, level: accounting.AccountLevelDetail, contra: true},
	{code: "2000", name: "Liabilities", typ: accounting.AccountTypeLiability, level: accounting.AccountLevelHeader},
	{code: "2100", parent: "2000", name: "Current Liabilities", typ: accounting.AccountTypeLiability, level: accounting.AccountLevelHeader},
	{code: "2110", parent: "2100", name: "Accounts Payable", typ: accounting.AccountTypeLiability, level: accounting.AccountLevelDetail},
	{code: "2120", parent: "2100", name: "Accrued Payroll", typ: accounting.AccountTypeLiability, level: accounting.AccountLevelDetail},
	{code: "2130", parent: "2100", name: "Tax Payable", typ: accounting.AccountTypeLiability, level: accounting.AccountLevelDetail},
	{code: "3000", name: "Equity", typ: accounting.AccountTypeEquity, level: accounting.AccountLevelHeader},
	{code: "3100", parent: "3000", name: "Owner Capital", typ: accounting.AccountTypeEquity, level: accounting.AccountLevelDetail},
	{code: "3200", parent: "3000", name: "Retained Earnings", typ: accounting.AccountTypeEquity, level: accounting.AccountLevelDetail},
	{code: "4000", name: "Revenue", typ: accounting.AccountTypeRevenue, level: accounting.AccountLevelHeader},
	{code: "4100", parent: "4000", name: "Sales Revenue", typ: accounting.AccountTypeRevenue, level: accounting.AccountLevelDetail},
	{code: "4200", parent: "4000", name: "Service Revenue", typ: accounting.AccountTypeRevenue, level: accounting.AccountLevelDetail},
	{code: "5000", name: "Expenses", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelHeader},
	{code: "5100", parent: "5000", name: "Cost of Goods Sold", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelDetail},
	{code: "5200", parent: "5000", name: "Salaries Expense", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelDetail},
	{code: "5300", parent: "5000", name: "Rent Expense", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelDetail},
	{code: "5400", parent: "5000", name: "Utilities Expense", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelDetail},
	{code: "5500", parent: "5000", name: "Depreciation Expense", typ: accounting.AccountTypeExpense, level: accounting.AccountLevelDetail},
}

var groupByType = map[accounting.AccountType]int16{
	accounting.AccountTypeAsset:     1,
	accounting.AccountTypeLiability: 2,
	accounting.AccountTypeEquity:    3,
	accounting.AccountTypeRevenue:   4,
	accounting.AccountTypeExpense:   5,
}

// DefaultChart returns the standard header/detail chart, parents before children.
func DefaultChart() []accounting.CreateAccountInput {
	out := make([]accounting.CreateAccountInput, 0, len(defaultChart))
	for _, s := range defaultChart {
		position := accounting.NormalPosition(s.typ)
		if s.contra {
			position = position.Opposite()
		}
		out = append(out, accounting.CreateAccountInput{
			Group:                 groupByType[s.typ],
			Code:                  s.code,
			Type:                  s.typ,
			Position:              position,
			Level:                 s.level,
			Name:                  s.name,
			ParentCode:            s.parent,
			IsBankCash:            s.bankCash,
			AllowPositionOverride: s.contra,
		})
	}
	return out
}
