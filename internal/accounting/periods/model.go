package periods

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// CloseInput identifies the per-account period to close or reopen. Start and
// End are calendar dates; End is inclusive.
type CloseInput struct {
	AccountCode string
	Start       time.Time
	End         time.Time
	ActorID     int64
}

func (in CloseInput) bounds() (time.Time, time.Time, error) {
	start := accounting.DateOnly(in.Start)
	end := accounting.DateOnly(in.End)
	if in.AccountCode == "" || in.Start.IsZero() || in.End.IsZero() {
		return start, end, fmt.Errorf("%w: account and period bounds required", accounting.ErrInvalidInput)
	}
	if end.Before(start) {
		return start, end, fmt.Errorf("%w: period end before start", accounting.ErrInvalidInput)
	}
	return start, end, nil
}

// Status reports the state of a ledger row. Accounts without a row for a
// range are OPEN for it.
func Status(l *accounting.Ledger) string {
	if l == nil {
		return shared.PeriodStatusOpen
	}
	return string(l.Status)
}

// CloseAllResult summarises a CloseAll run.
type CloseAllResult struct {
	Closed  []accounting.Ledger
	Skipped map[string]error
}
