package shared

import "errors"

// Period statuses. OPEN has no ledger row; the others are persisted.
const (
	PeriodStatusOpen     = "OPEN"
	PeriodStatusClosed   = "CLOSED"
	PeriodStatusReopened = "REOPENED"
)

// ErrInvalidPeriodTransition indicates status change not allowed.
var ErrInvalidPeriodTransition = errors.New("period transition invalid")

// ValidatePeriodTransition checks OPEN -> CLOSED -> (REOPENED -> CLOSED)*.
// Closing a CLOSED period again is allowed and leaves the row as stored.
func ValidatePeriodTransition(current, target string) error {
	switch current {
	case PeriodStatusOpen, PeriodStatusReopened:
		if target == PeriodStatusClosed {
			return nil
		}
	case PeriodStatusClosed:
		if target == PeriodStatusClosed || target == PeriodStatusReopened {
			return nil
		}
	}
	return ErrInvalidPeriodTransition
}
