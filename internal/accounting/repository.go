package accounting

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RepositoryPort abstracts transactional repository behaviour. fn runs atomically:
// either every write it performs commits or none does.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// LockMode selects the per-account advisory lock flavour.
type LockMode int

const (
	// LockShared is held by postings; postings on one account do not block each other.
	LockShared LockMode = iota
	// LockExclusive is held by period close and reopen.
	LockExclusive
)

// LineFilter narrows general ledger queries. To and From are inclusive; nil means unbounded.
type LineFilter struct {
	AccountIDs    []uuid.UUID
	From          *time.Time
	To            *time.Time
	IncludeVoided bool
}

// LineTotals aggregates debit and credit columns.
type LineTotals struct {
	Debit  decimal.Decimal
	Credit decimal.Decimal
	Count  int
}

// JournalFilter narrows journal entry scans by transaction date.
type JournalFilter struct {
	From          *time.Time
	To            *time.Time
	IncludeVoided bool
}

// TxRepository exposes transactional operations.
type TxRepository interface {
	InsertAccount(ctx context.Context, account Account) error
	GetAccountByCode(ctx context.Context, code string) (Account, error)
	// GetAccountByID also returns tombstoned rows so history stays resolvable.
	GetAccountByID(ctx context.Context, id uuid.UUID) (Account, error)
	ListAccounts(ctx context.Context, includeDeleted bool) ([]Account, error)
	// UpdateAccount persists the mutable columns: status, parent, deleted_at, updated_at.
	UpdateAccount(ctx context.Context, account Account) error

	LockAccounts(ctx context.Context, ids []uuid.UUID, mode LockMode) error

	InsertPosting(ctx context.Context, posting Posting) error
	InsertJournalEntries(ctx context.Context, entries []JournalEntry) error
	GetPosting(ctx context.Context, id uuid.UUID) (Posting, error)
	MarkPostingReversed(ctx context.Context, id, reversalID uuid.UUID) error
	VoidPosting(ctx context.Context, id uuid.UUID, at time.Time) error
	ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error)

	// InsertLedgerLines stores derived lines and returns them with their insertion sequence.
	InsertLedgerLines(ctx context.Context, lines []GeneralLedgerLine) ([]GeneralLedgerLine, error)
	SumLines(ctx context.Context, filter LineFilter) (LineTotals, error)
	// ListLines orders by (posting_date, sequence).
	ListLines(ctx context.Context, filter LineFilter) ([]GeneralLedgerLine, error)

	// ListPeriods orders by period_start.
	ListPeriods(ctx context.Context, accountID uuid.UUID) ([]Ledger, error)
	InsertPeriod(ctx context.Context, period Ledger) error
	UpdatePeriod(ctx context.Context, period Ledger) error
	// LatestClosedPeriod returns the CLOSED period with the greatest period_end.
	LatestClosedPeriod(ctx context.Context, accountID uuid.UUID) (Ledger, bool, error)
}

// AccountIDs returns the distinct ids in first-seen order.
func AccountIDs(accounts []Account) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(accounts))
	out := make([]uuid.UUID, 0, len(accounts))
	for _, a := range accounts {
		if _, ok := seen[a.ID]; ok {
			continue
		}
		seen[a.ID] = struct{}{}
		out = append(out, a.ID)
	}
	return out
}
