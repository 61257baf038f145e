package gl

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

var fixedNow = time.Date(2024, 3, 15, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store  *memstore.Store
	poster *Poster
	audit  *auditStub
	events *eventStub
	byCode map[string]accounting.Account
}

type auditStub struct{ logs []shared.AuditLog }

func (a *auditStub) Record(_ context.Context, log shared.AuditLog) error {
	a.logs = append(a.logs, log)
	return nil
}

type eventStub struct{ events []accounting.PostingEvent }

func (e *eventStub) Publish(_ context.Context, evt accounting.PostingEvent) error {
	e.events = append(e.events, evt)
	return nil
}

type metricsStub struct{ outcomes []string }

func (m *metricsStub) ObservePosting(operation, outcome string, _ int, _ time.Duration) {
	m.outcomes = append(m.outcomes, operation+":"+outcome)
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: memstore.New(), audit: &auditStub{}, events: &eventStub{}, byCode: map[string]accounting.Account{}}
	assets := f.add(t, "1000", accounting.AccountTypeAsset, accounting.AccountLevelHeader, nil)
	f.add(t, "1110", accounting.AccountTypeAsset, accounting.AccountLevelDetail, &assets.ID)
	f.add(t, "1120", accounting.AccountTypeAsset, accounting.AccountLevelDetail, &assets.ID)
	f.add(t, "2110", accounting.AccountTypeLiability, accounting.AccountLevelDetail, nil)
	f.add(t, "4100", accounting.AccountTypeRevenue, accounting.AccountLevelDetail, nil)
	f.add(t, "5100", accounting.AccountTypeExpense, accounting.AccountLevelDetail, nil)
	f.poster = NewPoster(f.store, Options{Audit: f.audit, Events: f.events, Retry: accounting.RetryPolicy{Attempts: 3}})
	f.poster.WithNow(func() time.Time { return fixedNow })
	return f
}

func (f *fixture) add(t *testing.T, code string, typ accounting.AccountType, level accounting.AccountLevel, parent *uuid.UUID) accounting.Account {
	t.Helper()
	a := accounting.Account{
		ID:       uuid.New(),
		Code:     code,
		Type:     typ,
		Position: accounting.NormalPosition(typ),
		Level:    level,
		Status:   accounting.AccountStatusActive,
		Name:     code,
		ParentID: parent,
	}
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.InsertAccount(ctx, a)
	}))
	f.byCode[code] = a
	return a
}

func (f *fixture) closePeriod(t *testing.T, code string, start, end time.Time) {
	t.Helper()
	require.NoError(t, f.store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.InsertPeriod(ctx, accounting.Ledger{
			ID:          uuid.New(),
			AccountID:   f.byCode[code].ID,
			PeriodStart: start,
			PeriodEnd:   end,
			Status:      accounting.PeriodStatusClosed,
		})
	}))
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func posting(date time.Time, ref, debit, credit, amount string) accounting.PostingInput {
	return accounting.PostingInput{
		TransactionDate: date,
		ReferenceNumber: ref,
		Lines: []accounting.PostingLineInput{
			{AccountCode: debit, Position: accounting.PositionDebit, Amount: amt(amount)},
			{AccountCode: credit, Position: accounting.PositionCredit, Amount: amt(amount)},
		},
	}
}

func TestPostDerivesOneLinePerEntry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	p, err := f.poster.Post(ctx, posting(day(2024, 1, 10), "INV-1", "1110", "4100", "1000.00"))
	require.NoError(t, err)
	require.Len(t, p.Entries, 2)

	var lines []accounting.GeneralLedgerLine
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		lines, err = tx.ListLines(ctx, accounting.LineFilter{})
		return err
	}))
	require.Len(t, lines, 2)
	for i, l := range lines {
		require.Equal(t, p.Entries[i].ID, l.JournalID)
		require.Equal(t, p.ID, l.PostingID)
		side, amount := l.Amount()
		require.Equal(t, p.Entries[i].Position, side)
		require.True(t, amount.Equal(amt("1000")))
	}

	cash, err := f.poster.BalanceAsOf(ctx, "1110", day(2024, 12, 31))
	require.NoError(t, err)
	require.Equal(t, "1000.00", accounting.FormatAmount(cash))
	revenue, err := f.poster.BalanceAsOf(ctx, "4100", day(2024, 12, 31))
	require.NoError(t, err)
	require.Equal(t, "1000.00", accounting.FormatAmount(revenue))

	require.Len(t, f.audit.logs, 1)
	require.Equal(t, "posting.post", f.audit.logs[0].Action)
	require.Len(t, f.events.events, 1)
	require.Equal(t, accounting.EventPostingCreated, f.events.events[0].Type)
	require.Equal(t, "1110", f.events.events[0].Lines[0].AccountCode)
}

func TestPostRejectionsLeaveNoTrace(t *testing.T) {
	f := newFixture(t)
	metrics := &metricsStub{}
	f.poster.metrics = metrics
	ctx := context.Background()

	unbalanced := posting(day(2024, 1, 10), "BAD", "1110", "4100", "10")
	unbalanced.Lines[1].Amount = amt("9.99")
	_, err := f.poster.Post(ctx, unbalanced)
	require.ErrorIs(t, err, accounting.ErrUnbalancedPosting)

	_, err = f.poster.Post(ctx, posting(day(2024, 1, 10), "HDR", "1000", "4100", "10"))
	require.ErrorIs(t, err, accounting.ErrAccountNotPostable)

	report, err := f.poster.VerifyIntegrity(ctx, nil, nil)
	require.NoError(t, err)
	require.Zero(t, report.Entries)
	require.Zero(t, report.Lines)
	require.Equal(t, []string{"post:UnbalancedPosting", "post:AccountNotPostable"}, metrics.outcomes)
	require.Empty(t, f.events.events)
}

func TestPostDuplicateSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	in := posting(day(2024, 1, 10), "INV-9", "1110", "4100", "50")
	in.SourceModule, in.SourceRef = "AR", "INV-9"

	_, err := f.poster.Post(ctx, in)
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, in)
	require.ErrorIs(t, err, accounting.ErrSourceAlreadyLinked)
}

func TestPostRetriesSerializationFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.store.InjectSerializationFailures(2)
	_, err := f.poster.Post(ctx, posting(day(2024, 1, 10), "R-1", "1110", "4100", "5"))
	require.NoError(t, err)

	f.store.InjectSerializationFailures(3)
	_, err = f.poster.Post(ctx, posting(day(2024, 1, 10), "R-2", "1110", "4100", "5"))
	require.ErrorIs(t, err, accounting.ErrConcurrentModification)

	balance, err := f.poster.BalanceAsOf(ctx, "1110", day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, "5.00", accounting.FormatAmount(balance))
}

func TestReverseMirrorsAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.poster.Post(ctx, posting(day(2024, 2, 5), "BILL-1", "5100", "2110", "250.00"))
	require.NoError(t, err)

	reversal, err := f.poster.Reverse(ctx, ReverseInput{PostingID: original.ID, ActorID: 7})
	require.NoError(t, err)
	require.Equal(t, original.ID, *reversal.ReversalOf)
	require.True(t, reversal.TransactionDate.Equal(original.TransactionDate))
	require.Equal(t, accounting.PositionCredit, reversal.Entries[0].Position)
	require.Equal(t, accounting.PositionDebit, reversal.Entries[1].Position)

	again, err := f.poster.Reverse(ctx, ReverseInput{PostingID: original.ID})
	require.NoError(t, err)
	require.Equal(t, reversal.ID, again.ID)

	for _, code := range []string{"5100", "2110"} {
		balance, err := f.poster.BalanceAsOf(ctx, code, day(2024, 12, 31))
		require.NoError(t, err)
		require.True(t, balance.IsZero(), code)
	}

	_, err = f.poster.Void(ctx, VoidInput{PostingID: original.ID})
	require.ErrorIs(t, err, accounting.ErrInvalidInput)
	_, err = f.poster.Void(ctx, VoidInput{PostingID: reversal.ID})
	require.ErrorIs(t, err, accounting.ErrInvalidInput)
}

func TestReverseIntoClosedPeriodMovesToNow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.poster.Post(ctx, posting(day(2024, 1, 20), "INV-2", "1110", "4100", "80"))
	require.NoError(t, err)
	f.closePeriod(t, "4100", day(2024, 1, 1), day(2024, 1, 31))

	reversal, err := f.poster.Reverse(ctx, ReverseInput{PostingID: original.ID})
	require.NoError(t, err)
	require.True(t, reversal.TransactionDate.Equal(fixedNow))

	explicit := day(2024, 1, 25)
	other, err := f.poster.Post(ctx, posting(day(2024, 2, 2), "INV-3", "1110", "4100", "10"))
	require.NoError(t, err)
	_, err = f.poster.Reverse(ctx, ReverseInput{PostingID: other.ID, Date: &explicit})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)

	_, err = f.poster.Reverse(ctx, ReverseInput{})
	require.ErrorIs(t, err, accounting.ErrInvalidInput)
}

func TestVoidRemovesLinesFromBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.poster.Post(ctx, posting(day(2024, 2, 1), "X-1", "1120", "4100", "12.50"))
	require.NoError(t, err)

	voided, err := f.poster.Void(ctx, VoidInput{PostingID: p.ID, Reason: "typo"})
	require.NoError(t, err)
	require.True(t, voided.IsVoided())

	balance, err := f.poster.BalanceAsOf(ctx, "1120", day(2024, 12, 31))
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	_, err = f.poster.Void(ctx, VoidInput{PostingID: p.ID})
	require.ErrorIs(t, err, accounting.ErrPostingNotFound)
	require.Equal(t, accounting.EventPostingVoided, f.events.events[len(f.events.events)-1].Type)
}

func TestVoidInClosedPeriodRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.poster.Post(ctx, posting(day(2024, 1, 5), "X-2", "1110", "4100", "3"))
	require.NoError(t, err)
	earlier, err := f.poster.Post(ctx, posting(day(2023, 12, 12), "X-0", "1110", "4100", "300"))
	require.NoError(t, err)
	f.closePeriod(t, "1110", day(2024, 1, 1), day(2024, 1, 31))

	_, err = f.poster.Void(ctx, VoidInput{PostingID: p.ID})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)
	_, err = f.poster.Void(ctx, VoidInput{PostingID: earlier.ID})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)
	_, err = f.poster.Post(ctx, posting(day(2023, 11, 30), "X-3", "1110", "4100", "1"))
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)
}

func TestHeaderBalanceRollsUpDetailLeaves(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.poster.Post(ctx, posting(day(2024, 1, 3), "A", "1110", "4100", "100"))
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, posting(day(2024, 1, 4), "B", "1120", "1110", "30"))
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, posting(day(2024, 1, 5), "C", "1120", "4100", "20"))
	require.NoError(t, err)

	header, err := f.poster.BalanceAsOf(ctx, "1000", day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, "120.00", accounting.FormatAmount(header))

	early, err := f.poster.BalanceAsOf(ctx, "1000", day(2024, 1, 3))
	require.NoError(t, err)
	require.Equal(t, "100.00", accounting.FormatAmount(early))
}

func TestBalanceAsOfIsInclusiveAtInstant(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := time.Date(2024, 1, 10, 12, 30, 0, 0, time.UTC)
	_, err := f.poster.Post(ctx, posting(at, "T", "1110", "4100", "1"))
	require.NoError(t, err)

	before, err := f.poster.BalanceAsOf(ctx, "1110", at.Add(-accounting.Tick))
	require.NoError(t, err)
	require.True(t, before.IsZero())
	exact, err := f.poster.BalanceAsOf(ctx, "1110", at)
	require.NoError(t, err)
	require.Equal(t, "1.00", accounting.FormatAmount(exact))

	_, err = f.poster.BalanceAsOf(ctx, "9999", at)
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
}

func TestStatementRunningBalance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.poster.Post(ctx, posting(day(2023, 12, 30), "OPEN", "1110", "4100", "40"))
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, posting(time.Date(2024, 1, 2, 15, 0, 0, 0, time.UTC), "S1", "1110", "4100", "10"))
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, posting(day(2024, 1, 2), "S2", "5100", "1110", "4"))
	require.NoError(t, err)
	_, err = f.poster.Post(ctx, posting(day(2024, 2, 1), "LATER", "1110", "4100", "99"))
	require.NoError(t, err)

	st, err := f.poster.Statement(ctx, "1110", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, "40.00", accounting.FormatAmount(st.Opening))
	require.Len(t, st.Lines, 2)
	require.Equal(t, "36.00", accounting.FormatAmount(st.Lines[0].Balance))
	require.Equal(t, "46.00", accounting.FormatAmount(st.Lines[1].Balance))
	require.Equal(t, "46.00", accounting.FormatAmount(st.Closing))

	_, err = f.poster.Statement(ctx, "1110", day(2024, 2, 1), day(2024, 1, 1))
	require.ErrorIs(t, err, accounting.ErrInvalidInput)
}

func TestIntegrityDetectsDamage(t *testing.T) {
	entryID, postingID := uuid.New(), uuid.New()
	account := uuid.New()
	entries := []accounting.JournalEntry{
		{ID: entryID, PostingID: postingID, AccountID: account, Position: accounting.PositionDebit, Amount: amt("10"), TransactionDate: day(2024, 1, 1)},
		{ID: uuid.New(), PostingID: postingID, AccountID: account, Position: accounting.PositionCredit, Amount: amt("9"), TransactionDate: day(2024, 1, 1)},
	}
	lines := []accounting.GeneralLedgerLine{
		{JournalID: entryID, PostingID: postingID, AccountID: account, Debit: amt("11"), Credit: decimal.Zero, PostingDate: day(2024, 1, 1)},
		{JournalID: uuid.New(), PostingID: uuid.New(), AccountID: account, Debit: amt("1"), Credit: decimal.Zero},
	}

	report := checkIntegrity(entries, lines)
	require.False(t, report.OK())
	kinds := make([]string, 0, len(report.Issues))
	for _, issue := range report.Issues {
		kinds = append(kinds, issue.Kind)
	}
	require.ElementsMatch(t, []string{IssueLineMismatch, IssueMissingLine, IssueOrphanLine, IssueUnbalanced}, kinds)
}

func TestIntegrityCleanAfterActivity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	p, err := f.poster.Post(ctx, posting(day(2024, 1, 3), "A", "1110", "4100", "100"))
	require.NoError(t, err)
	_, err = f.poster.Reverse(ctx, ReverseInput{PostingID: p.ID})
	require.NoError(t, err)
	v, err := f.poster.Post(ctx, posting(day(2024, 1, 4), "B", "5100", "1110", "7"))
	require.NoError(t, err)
	_, err = f.poster.Void(ctx, VoidInput{PostingID: v.ID})
	require.NoError(t, err)

	report, err := f.poster.VerifyIntegrity(ctx, nil, nil)
	require.NoError(t, err)
	require.True(t, report.OK(), "%+v", report.Issues)
	require.Equal(t, 2, report.Postings)
}

// lateReversal serves the first n posting reads as they were before a
// reversal committed by another session.
type lateReversal struct {
	*memstore.Store
	n int
}

func (s *lateReversal) WithTx(ctx context.Context, fn func(context.Context, accounting.TxRepository) error) error {
	return s.Store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return fn(ctx, &lateReversalTx{TxRepository: tx, owner: s})
	})
}

type lateReversalTx struct {
	accounting.TxRepository
	owner *lateReversal
}

func (t *lateReversalTx) GetPosting(ctx context.Context, id uuid.UUID) (accounting.Posting, error) {
	p, err := t.TxRepository.GetPosting(ctx, id)
	if err == nil && t.owner.n > 0 {
		t.owner.n--
		p.ReversedBy = nil
	}
	return p, err
}

func TestVoidLosingRaceToReversalIsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	original, err := f.poster.Post(ctx, posting(day(2024, 2, 5), "RACE-1", "1110", "4100", "60"))
	require.NoError(t, err)
	_, err = f.poster.Reverse(ctx, ReverseInput{PostingID: original.ID})
	require.NoError(t, err)

	racing := NewPoster(&lateReversal{Store: f.store, n: 1}, Options{Retry: accounting.RetryPolicy{Attempts: 3}})
	racing.WithNow(func() time.Time { return fixedNow })
	_, err = racing.Void(ctx, VoidInput{PostingID: original.ID})
	require.ErrorIs(t, err, accounting.ErrInvalidInput)

	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		stored, err := tx.GetPosting(ctx, original.ID)
		require.NoError(t, err)
		require.False(t, stored.IsVoided())
		require.NotNil(t, stored.ReversedBy)
		return nil
	}))
	balance, err := f.poster.BalanceAsOf(ctx, "1110", day(2024, 12, 31))
	require.NoError(t, err)
	require.True(t, balance.IsZero())
}
