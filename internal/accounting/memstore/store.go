// Package memstore keeps the whole ledger in process memory. Transactions are
// serialised by a single mutex and roll back by restoring a snapshot, which makes
// it suitable for tests, the CLI dry-run mode and local tooling.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

type state struct {
	accounts map[uuid.UUID]accounting.Account
	codes    map[string]uuid.UUID
	postings map[uuid.UUID]accounting.Posting
	sources  map[string]uuid.UUID
	journals []accounting.JournalEntry
	lines    []accounting.GeneralLedgerLine
	ledgers  []accounting.Ledger
	sequence int64
}

func newState() state {
	return state{
		accounts: make(map[uuid.UUID]accounting.Account),
		codes:    make(map[string]uuid.UUID),
		postings: make(map[uuid.UUID]accounting.Posting),
		sources:  make(map[string]uuid.UUID),
	}
}

func (s state) clone() state {
	out := state{
		accounts: make(map[uuid.UUID]accounting.Account, len(s.accounts)),
		codes:    make(map[string]uuid.UUID, len(s.codes)),
		postings: make(map[uuid.UUID]accounting.Posting, len(s.postings)),
		sources:  make(map[string]uuid.UUID, len(s.sources)),
		journals: append([]accounting.JournalEntry(nil), s.journals...),
		lines:    append([]accounting.GeneralLedgerLine(nil), s.lines...),
		ledgers:  append([]accounting.Ledger(nil), s.ledgers...),
		sequence: s.sequence,
	}
	for k, v := range s.accounts {
		out.accounts[k] = v
	}
	for k, v := range s.codes {
		out.codes[k] = v
	}
	for k, v := range s.postings {
		out.postings[k] = v
	}
	for k, v := range s.sources {
		out.sources[k] = v
	}
	return out
}

// Store is an in-memory accounting.RepositoryPort.
type Store struct {
	mu       sync.Mutex
	data     state
	failures int
}

// New returns an empty Store.
func New() *Store {
	return &Store{data: newState()}
}

// InjectSerializationFailures makes the next n transactions fail at commit
// with accounting.ErrSerializationFailure.
func (s *Store) InjectSerializationFailures(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = n
}

// WithTx runs fn against a working copy and publishes it only when fn succeeds.
func (s *Store) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &txStore{data: s.data.clone()}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: injected", accounting.ErrSerializationFailure)
	}
	s.data = tx.data
	return nil
}

type txStore struct {
	data state
}

func (t *txStore) InsertAccount(_ context.Context, a accounting.Account) error {
	if _, ok := t.data.codes[a.Code]; ok {
		return fmt.Errorf("%w: %s", accounting.ErrDuplicateCode, a.Code)
	}
	t.data.accounts[a.ID] = a
	t.data.codes[a.Code] = a.ID
	return nil
}

func (t *txStore) GetAccountByCode(_ context.Context, code string) (accounting.Account, error) {
	id, ok := t.data.codes[code]
	if ok {
		if a := t.data.accounts[id]; !a.IsDeleted() {
			return a, nil
		}
	}
	return accounting.Account{}, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, code)
}

func (t *txStore) GetAccountByID(_ context.Context, id uuid.UUID) (accounting.Account, error) {
	a, ok := t.data.accounts[id]
	if !ok {
		return accounting.Account{}, fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, id)
	}
	return a, nil
}

func (t *txStore) ListAccounts(_ context.Context, includeDeleted bool) ([]accounting.Account, error) {
	out := make([]accounting.Account, 0, len(t.data.accounts))
	for _, a := range t.data.accounts {
		if a.IsDeleted() && !includeDeleted {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out, nil
}

func (t *txStore) UpdateAccount(_ context.Context, a accounting.Account) error {
	cur, ok := t.data.accounts[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrAccountNotFound, a.ID)
	}
	cur.Status = a.Status
	cur.ParentID = a.ParentID
	cur.ParentCode = a.ParentCode
	cur.DeletedAt = a.DeletedAt
	cur.UpdatedAt = a.UpdatedAt
	t.data.accounts[a.ID] = cur
	return nil
}

// LockAccounts is a no-op: WithTx already holds the store-wide mutex.
func (t *txStore) LockAccounts(context.Context, []uuid.UUID, accounting.LockMode) error {
	return nil
}

func (t *txStore) InsertPosting(_ context.Context, p accounting.Posting) error {
	if p.SourceModule != "" {
		key := p.SourceModule + "|" + p.SourceRef
		if _, ok := t.data.sources[key]; ok {
			return fmt.Errorf("%w: %s/%s", accounting.ErrSourceAlreadyLinked, p.SourceModule, p.SourceRef)
		}
		t.data.sources[key] = p.ID
	}
	p.Entries = nil
	t.data.postings[p.ID] = p
	return nil
}

func (t *txStore) InsertJournalEntries(_ context.Context, entries []accounting.JournalEntry) error {
	for _, e := range entries {
		if _, ok := t.data.postings[e.PostingID]; !ok {
			return fmt.Errorf("%w: %s", accounting.ErrPostingNotFound, e.PostingID)
		}
		t.data.journals = append(t.data.journals, e)
	}
	return nil
}

func (t *txStore) GetPosting(_ context.Context, id uuid.UUID) (accounting.Posting, error) {
	p, ok := t.data.postings[id]
	if !ok {
		return accounting.Posting{}, fmt.Errorf("%w: %s", accounting.ErrPostingNotFound, id)
	}
	for _, e := range t.data.journals {
		if e.PostingID == id {
			p.Entries = append(p.Entries, e)
		}
	}
	sort.Slice(p.Entries, func(i, j int) bool { return p.Entries[i].LineNo < p.Entries[j].LineNo })
	return p, nil
}

func (t *txStore) MarkPostingReversed(_ context.Context, id, reversalID uuid.UUID) error {
	p, ok := t.data.postings[id]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrPostingNotFound, id)
	}
	if p.ReversedBy != nil || p.IsVoided() {
		return fmt.Errorf("%w: posting %s reversed or voided concurrently", accounting.ErrSerializationFailure, id)
	}
	p.ReversedBy = &reversalID
	t.data.postings[id] = p
	return nil
}

func (t *txStore) VoidPosting(_ context.Context, id uuid.UUID, at time.Time) error {
	p, ok := t.data.postings[id]
	if !ok {
		return fmt.Errorf("%w: %s", accounting.ErrPostingNotFound, id)
	}
	if p.IsVoided() || p.ReversedBy != nil || p.ReversalOf != nil {
		return fmt.Errorf("%w: posting %s reversed or voided concurrently", accounting.ErrSerializationFailure, id)
	}
	p.DeletedAt = &at
	t.data.postings[id] = p
	for i := range t.data.journals {
		if t.data.journals[i].PostingID == id && t.data.journals[i].DeletedAt == nil {
			t.data.journals[i].DeletedAt = &at
		}
	}
	for i := range t.data.lines {
		if t.data.lines[i].PostingID == id && t.data.lines[i].DeletedAt == nil {
			t.data.lines[i].DeletedAt = &at
		}
	}
	return nil
}

func (t *txStore) ListJournalEntries(_ context.Context, filter accounting.JournalFilter) ([]accounting.JournalEntry, error) {
	var out []accounting.JournalEntry
	for _, e := range t.data.journals {
		if e.DeletedAt != nil && !filter.IncludeVoided {
			continue
		}
		if filter.From != nil && e.TransactionDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && e.TransactionDate.After(*filter.To) {
			continue
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].TransactionDate.Equal(out[j].TransactionDate) {
			return out[i].TransactionDate.Before(out[j].TransactionDate)
		}
		if out[i].PostingID != out[j].PostingID {
			return out[i].PostingID.String() < out[j].PostingID.String()
		}
		return out[i].LineNo < out[j].LineNo
	})
	return out, nil
}

func (t *txStore) InsertLedgerLines(_ context.Context, lines []accounting.GeneralLedgerLine) ([]accounting.GeneralLedgerLine, error) {
	out := make([]accounting.GeneralLedgerLine, 0, len(lines))
	for _, l := range lines {
		t.data.sequence++
		l.Sequence = t.data.sequence
		t.data.lines = append(t.data.lines, l)
		out = append(out, l)
	}
	return out, nil
}

func (t *txStore) matchLines(filter accounting.LineFilter) []accounting.GeneralLedgerLine {
	var ids map[uuid.UUID]struct{}
	if filter.AccountIDs != nil {
		ids = make(map[uuid.UUID]struct{}, len(filter.AccountIDs))
		for _, id := range filter.AccountIDs {
			ids[id] = struct{}{}
		}
	}
	var out []accounting.GeneralLedgerLine
	for _, l := range t.data.lines {
		if l.DeletedAt != nil && !filter.IncludeVoided {
			continue
		}
		if ids != nil {
			if _, ok := ids[l.AccountID]; !ok {
				continue
			}
		}
		if filter.From != nil && l.PostingDate.Before(*filter.From) {
			continue
		}
		if filter.To != nil && l.PostingDate.After(*filter.To) {
			continue
		}
		out = append(out, l)
	}
	return out
}

func (t *txStore) SumLines(_ context.Context, filter accounting.LineFilter) (accounting.LineTotals, error) {
	totals := accounting.LineTotals{Debit: decimal.Zero, Credit: decimal.Zero}
	for _, l := range t.matchLines(filter) {
		totals.Debit = totals.Debit.Add(l.Debit)
		totals.Credit = totals.Credit.Add(l.Credit)
		totals.Count++
	}
	totals.Debit = accounting.RoundMinor(totals.Debit)
	totals.Credit = accounting.RoundMinor(totals.Credit)
	return totals, nil
}

func (t *txStore) ListLines(_ context.Context, filter accounting.LineFilter) ([]accounting.GeneralLedgerLine, error) {
	out := t.matchLines(filter)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].PostingDate.Equal(out[j].PostingDate) {
			return out[i].PostingDate.Before(out[j].PostingDate)
		}
		return out[i].Sequence < out[j].Sequence
	})
	return out, nil
}

func (t *txStore) ListPeriods(_ context.Context, accountID uuid.UUID) ([]accounting.Ledger, error) {
	var out []accounting.Ledger
	for _, l := range t.data.ledgers {
		if l.AccountID == accountID {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].PeriodStart.Before(out[j].PeriodStart) })
	return out, nil
}

func (t *txStore) InsertPeriod(_ context.Context, l accounting.Ledger) error {
	for _, existing := range t.data.ledgers {
		if existing.AccountID == l.AccountID && existing.SameBounds(l.PeriodStart, l.PeriodEnd) {
			return fmt.Errorf("%w: period already recorded", accounting.ErrSerializationFailure)
		}
	}
	t.data.ledgers = append(t.data.ledgers, l)
	return nil
}

func (t *txStore) UpdatePeriod(_ context.Context, l accounting.Ledger) error {
	for i := range t.data.ledgers {
		if t.data.ledgers[i].ID == l.ID {
			cur := t.data.ledgers[i]
			cur.BeginningBalance = l.BeginningBalance
			cur.EndingBalance = l.EndingBalance
			cur.Status = l.Status
			cur.ClosedAt = l.ClosedAt
			cur.ReopenedAt = l.ReopenedAt
			cur.UpdatedAt = l.UpdatedAt
			t.data.ledgers[i] = cur
			return nil
		}
	}
	return fmt.Errorf("%w: %s", accounting.ErrPeriodNotFound, l.ID)
}

func (t *txStore) LatestClosedPeriod(_ context.Context, accountID uuid.UUID) (accounting.Ledger, bool, error) {
	var (
		latest accounting.Ledger
		found  bool
	)
	for _, l := range t.data.ledgers {
		if l.AccountID != accountID || l.Status != accounting.PeriodStatusClosed {
			continue
		}
		if !found || l.PeriodEnd.After(latest.PeriodEnd) {
			latest, found = l, true
		}
	}
	return latest, found, nil
}
