package accounting

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// MinorUnitPlaces is the currency precision of every stored amount (decimal(15,2)).
const MinorUnitPlaces int32 = 2

// Tick is the smallest distinguishable instant in storage (Postgres timestamp precision).
const Tick = time.Microsecond

// CheckAmount enforces a strictly positive amount at minor-unit precision.
func CheckAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: %s", ErrNonPositiveAmount, amount.String())
	}
	if !amount.Equal(amount.Round(MinorUnitPlaces)) {
		return fmt.Errorf("%w: %s", ErrInvalidAmountScale, amount.String())
	}
	return nil
}

// RoundMinor rescales d to the minor unit so equal values share one representation.
func RoundMinor(d decimal.Decimal) decimal.Decimal {
	return d.Round(MinorUnitPlaces)
}

// SignedBalance interprets debit and credit totals through the account's normal position.
func SignedBalance(normal Position, debit, credit decimal.Decimal) decimal.Decimal {
	if normal == PositionCredit {
		return RoundMinor(credit.Sub(debit))
	}
	return RoundMinor(debit.Sub(credit))
}

// FormatAmount renders an amount with exactly two decimals.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(MinorUnitPlaces)
}

// NormalizeInstant stores instants in UTC at storage precision.
func NormalizeInstant(t time.Time) time.Time {
	return t.UTC().Truncate(Tick)
}

// DateOnly keeps the calendar date of t as midnight UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// EndOfDay is the last storable instant of the calendar date.
func EndOfDay(date time.Time) time.Time {
	return DateOnly(date).AddDate(0, 0, 1).Add(-Tick)
}
