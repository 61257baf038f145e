package integration

import (
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func money(value decimal.Decimal) decimal.Decimal {
	return accounting.RoundMinor(value)
}

func lineAmount(qty, unitPrice decimal.Decimal) decimal.Decimal {
	return money(qty.Mul(unitPrice))
}
