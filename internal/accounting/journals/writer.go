package journals

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Writer appends balanced postings to the journal inside a caller-owned
// transaction. It is the only producer of JournalEntry rows.
type Writer struct {
	now func() time.Time
}

// NewWriter returns a Writer using now for creation timestamps.
func NewWriter(now func() time.Time) *Writer {
	if now == nil {
		now = time.Now
	}
	return &Writer{now: now}
}

// Appended is the result of Append: the stored posting plus the accounts its lines touch.
type Appended struct {
	Posting  accounting.Posting
	Accounts map[uuid.UUID]accounting.Account
}

// Append validates in, locks every touched account in shared mode and writes one
// posting header plus one entry per line. Nothing is written when any check fails.
func (w *Writer) Append(ctx context.Context, tx accounting.TxRepository, in accounting.PostingInput, reversalOf *uuid.UUID) (Appended, error) {
	if err := in.Validate(); err != nil {
		return Appended{}, err
	}
	accounts := make(map[uuid.UUID]accounting.Account, len(in.Lines))
	lineAccounts := make([]accounting.Account, len(in.Lines))
	for idx, line := range in.Lines {
		account, err := tx.GetAccountByCode(ctx, strings.TrimSpace(line.AccountCode))
		if err != nil {
			return Appended{}, fmt.Errorf("line %d: %w", idx, err)
		}
		if !account.IsPostable() {
			return Appended{}, fmt.Errorf("%w: line %d account %s", accounting.ErrAccountNotPostable, idx, account.Code)
		}
		accounts[account.ID] = account
		lineAccounts[idx] = account
	}
	if err := tx.LockAccounts(ctx, accounting.AccountIDs(lineAccounts), accounting.LockShared); err != nil {
		return Appended{}, err
	}

	date := accounting.NormalizeInstant(in.TransactionDate)
	for id, account := range accounts {
		period, closed, err := ClosedThrough(ctx, tx, id, date)
		if err != nil {
			return Appended{}, err
		}
		if closed {
			return Appended{}, fmt.Errorf("%w: account %s period %s..%s", accounting.ErrPeriodClosed, account.Code,
				period.PeriodStart.Format(time.DateOnly), period.PeriodEnd.Format(time.DateOnly))
		}
	}

	now := accounting.NormalizeInstant(w.now())
	posting := accounting.Posting{
		ID:              uuid.New(),
		TransactionDate: date,
		ReferenceNumber: strings.TrimSpace(in.ReferenceNumber),
		Memo:            in.Memo,
		SourceModule:    strings.TrimSpace(in.SourceModule),
		SourceRef:       strings.TrimSpace(in.SourceRef),
		ReversalOf:      reversalOf,
		PostedBy:        in.PostedBy,
		CreatedAt:       now,
	}
	if err := tx.InsertPosting(ctx, posting); err != nil {
		return Appended{}, err
	}
	entries := make([]accounting.JournalEntry, 0, len(in.Lines))
	for idx, line := range in.Lines {
		entries = append(entries, accounting.JournalEntry{
			ID:              uuid.New(),
			PostingID:       posting.ID,
			LineNo:          idx + 1,
			TransactionDate: date,
			ReferenceNumber: posting.ReferenceNumber,
			Position:        line.Position,
			Amount:          accounting.RoundMinor(line.Amount),
			Description:     line.Description,
			PaymentMethod:   line.PaymentMethod,
			AccountID:       lineAccounts[idx].ID,
			CreatedAt:       now,
		})
	}
	if err := tx.InsertJournalEntries(ctx, entries); err != nil {
		return Appended{}, err
	}
	posting.Entries = entries
	return Appended{Posting: posting, Accounts: accounts}, nil
}

// ReversalInput flips every line of original. codes maps account ids to codes.
func ReversalInput(original accounting.Posting, codes map[uuid.UUID]string, date time.Time, memo string, actorID int64) (accounting.PostingInput, error) {
	if memo == "" {
		memo = "Reversal of " + original.ID.String()
		if original.ReferenceNumber != "" {
			memo = "Reversal of " + original.ReferenceNumber
		}
	}
	in := accounting.PostingInput{
		TransactionDate: date,
		ReferenceNumber: original.ReferenceNumber,
		Memo:            memo,
		PostedBy:        actorID,
		Lines:           make([]accounting.PostingLineInput, 0, len(original.Entries)),
	}
	for _, e := range original.Entries {
		code, ok := codes[e.AccountID]
		if !ok {
			return accounting.PostingInput{}, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, e.AccountID)
		}
		in.Lines = append(in.Lines, accounting.PostingLineInput{
			AccountCode:   code,
			Position:      e.Position.Opposite(),
			Amount:        e.Amount,
			Description:   e.Description,
			PaymentMethod: e.PaymentMethod,
		})
	}
	return in, nil
}

// ClosedThrough reports the account's latest CLOSED period when at falls on or
// before its end. CLOSED periods always form a prefix of the account's periods
// (close forward, reopen backward), so every instant up to that end is frozen,
// including dates before the first period.
func ClosedThrough(ctx context.Context, tx accounting.TxRepository, accountID uuid.UUID, at time.Time) (accounting.Ledger, bool, error) {
	period, ok, err := tx.LatestClosedPeriod(ctx, accountID)
	if err != nil || !ok {
		return accounting.Ledger{}, false, err
	}
	return period, !at.After(accounting.EndOfDay(period.PeriodEnd)), nil
}

// LivePosting loads a posting and rejects voided ones as not found.
func LivePosting(ctx context.Context, tx accounting.TxRepository, id uuid.UUID) (accounting.Posting, error) {
	posting, err := tx.GetPosting(ctx, id)
	if err != nil {
		return accounting.Posting{}, err
	}
	if posting.IsVoided() {
		return accounting.Posting{}, fmt.Errorf("%w: %s is voided", accounting.ErrPostingNotFound, id)
	}
	return posting, nil
}
