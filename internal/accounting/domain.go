package accounting

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType enumerates CoA categories.
type AccountType string

const (
	AccountTypeAsset     AccountType = "asset"
	AccountTypeLiability AccountType = "liability"
	AccountTypeEquity    AccountType = "equity"
	AccountTypeRevenue   AccountType = "revenue"
	AccountTypeExpense   AccountType = "expense"
)

// Valid reports whether t is one of the five account types.
func (t AccountType) Valid() bool {
	switch t {
	case AccountTypeAsset, AccountTypeLiability, AccountTypeEquity, AccountTypeRevenue, AccountTypeExpense:
		return true
	}
	return false
}

// Position is the debit or credit side of an entry or an account's normal balance.
type Position string

const (
	PositionDebit  Position = "debit"
	PositionCredit Position = "credit"
)

// Valid reports whether p is debit or credit.
func (p Position) Valid() bool {
	return p == PositionDebit || p == PositionCredit
}

// Opposite flips the side.
func (p Position) Opposite() Position {
	if p == PositionDebit {
		return PositionCredit
	}
	return PositionDebit
}

// NormalPosition returns the conventional normal side for an account type.
func NormalPosition(t AccountType) Position {
	switch t {
	case AccountTypeAsset, AccountTypeExpense:
		return PositionDebit
	default:
		return PositionCredit
	}
}

// AccountLevel distinguishes summary headers from postable detail accounts.
type AccountLevel string

const (
	AccountLevelHeader AccountLevel = "H"
	AccountLevelDetail AccountLevel = "D"
)

// AccountStatus toggles an account without deleting it.
type AccountStatus string

const (
	AccountStatusActive   AccountStatus = "active"
	AccountStatusInactive AccountStatus = "inactive"
)

// Account models a chart of accounts node. ParentID links into the same table.
type Account struct {
	ID         uuid.UUID
	Group      int16
	Code       string
	Type       AccountType
	Position   Position
	SubType    string
	ParentCode string
	Level      AccountLevel
	Name       string
	Currency   *string
	IsBankCash bool
	Status     AccountStatus
	ParentID   *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// IsPostable is true for active, non-deleted detail accounts.
func (a Account) IsPostable() bool {
	return a.Level == AccountLevelDetail && a.Status == AccountStatusActive && a.DeletedAt == nil
}

// IsDeleted reports whether the account carries a tombstone.
func (a Account) IsDeleted() bool {
	return a.DeletedAt != nil
}

// Posting is one balanced group of journal entries recorded atomically.
type Posting struct {
	ID              uuid.UUID
	TransactionDate time.Time
	ReferenceNumber string
	Memo            string
	SourceModule    string
	SourceRef       string
	ReversalOf      *uuid.UUID
	ReversedBy      *uuid.UUID
	PostedBy        int64
	CreatedAt       time.Time
	DeletedAt       *time.Time
	Entries         []JournalEntry
}

// IsVoided reports whether the posting was tombstoned.
func (p Posting) IsVoided() bool {
	return p.DeletedAt != nil
}

// JournalEntry is one immutable debit or credit row of a posting.
type JournalEntry struct {
	ID              uuid.UUID
	PostingID       uuid.UUID
	LineNo          int
	TransactionDate time.Time
	ReferenceNumber string
	Position        Position
	Amount          decimal.Decimal
	Description     string
	PaymentMethod   string
	AccountID       uuid.UUID
	CreatedAt       time.Time
	DeletedAt       *time.Time
}

// GeneralLedgerLine is the account-oriented projection of a journal entry.
type GeneralLedgerLine struct {
	ID          uuid.UUID
	Sequence    int64
	AccountID   uuid.UUID
	PostingDate time.Time
	Description string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	JournalID   uuid.UUID
	PostingID   uuid.UUID
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// Amount returns the nonzero side of the line.
func (l GeneralLedgerLine) Amount() (Position, decimal.Decimal) {
	if l.Debit.IsPositive() {
		return PositionDebit, l.Debit
	}
	return PositionCredit, l.Credit
}

// PeriodStatus enumerates the per-account period states that have a ledger row.
type PeriodStatus string

const (
	PeriodStatusClosed   PeriodStatus = "CLOSED"
	PeriodStatusReopened PeriodStatus = "REOPENED"
)

// Ledger is the per-account period summary materialised at close.
type Ledger struct {
	ID               uuid.UUID
	AccountID        uuid.UUID
	PeriodStart      time.Time
	PeriodEnd        time.Time
	BeginningBalance decimal.Decimal
	EndingBalance    decimal.Decimal
	Status           PeriodStatus
	ClosedAt         *time.Time
	ReopenedAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Covers reports whether the instant falls inside the period's calendar days.
func (l Ledger) Covers(at time.Time) bool {
	return !at.Before(l.PeriodStart) && !at.After(EndOfDay(l.PeriodEnd))
}

// Overlaps reports whether [start, end] intersects the period.
func (l Ledger) Overlaps(start, end time.Time) bool {
	return !start.After(l.PeriodEnd) && !end.Before(l.PeriodStart)
}

// SameBounds reports whether the period has exactly these bounds.
func (l Ledger) SameBounds(start, end time.Time) bool {
	return l.PeriodStart.Equal(start) && l.PeriodEnd.Equal(end)
}
