package periods

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
)

var fixedNow = time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

type metricsStub struct{ outcomes []string }

func (m *metricsStub) ObservePeriod(operation, outcome string, _ time.Duration) {
	m.outcomes = append(m.outcomes, operation+":"+outcome)
}

type harness struct {
	store   *memstore.Store
	poster  *gl.Poster
	svc     *Service
	metrics *metricsStub
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{store: memstore.New(), metrics: &metricsStub{}}
	root := uuid.New()
	accounts := []accounting.Account{
		{ID: root, Code: "1000", Type: accounting.AccountTypeAsset, Position: accounting.PositionDebit, Level: accounting.AccountLevelHeader, Status: accounting.AccountStatusActive},
		{ID: uuid.New(), Code: "1110", Type: accounting.AccountTypeAsset, Position: accounting.PositionDebit, Level: accounting.AccountLevelDetail, Status: accounting.AccountStatusActive, ParentID: &root},
		{ID: uuid.New(), Code: "4100", Type: accounting.AccountTypeRevenue, Position: accounting.PositionCredit, Level: accounting.AccountLevelDetail, Status: accounting.AccountStatusActive},
		{ID: uuid.New(), Code: "5100", Type: accounting.AccountTypeExpense, Position: accounting.PositionDebit, Level: accounting.AccountLevelDetail, Status: accounting.AccountStatusInactive},
	}
	require.NoError(t, h.store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		for _, a := range accounts {
			if err := tx.InsertAccount(ctx, a); err != nil {
				return err
			}
		}
		return nil
	}))
	h.poster = gl.NewPoster(h.store, gl.Options{})
	h.svc = NewService(h.store, Options{Metrics: h.metrics})
	h.svc.WithNow(func() time.Time { return fixedNow })
	return h
}

func (h *harness) post(t *testing.T, date time.Time, debit, credit, amount string) accounting.Posting {
	t.Helper()
	p, err := h.poster.Post(context.Background(), accounting.PostingInput{
		TransactionDate: date,
		Lines: []accounting.PostingLineInput{
			{AccountCode: debit, Position: accounting.PositionDebit, Amount: decimal.RequireFromString(amount)},
			{AccountCode: credit, Position: accounting.PositionCredit, Amount: decimal.RequireFromString(amount)},
		},
	})
	require.NoError(t, err)
	return p
}

func day(m time.Month, d int) time.Time { return time.Date(2024, m, d, 0, 0, 0, 0, time.UTC) }

func closeIn(code string, start, end time.Time) CloseInput {
	return CloseInput{AccountCode: code, Start: start, End: end, ActorID: 1}
}

func TestCloseChainsBalances(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, day(1, 15), "1110", "4100", "1000")
	h.post(t, time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC), "1110", "4100", "5")
	h.post(t, day(2, 1), "1110", "4100", "20")

	jan, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.True(t, jan.BeginningBalance.IsZero())
	require.Equal(t, "1005.00", accounting.FormatAmount(jan.EndingBalance))
	require.Equal(t, accounting.PeriodStatusClosed, jan.Status)

	feb, err := h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)
	require.True(t, feb.BeginningBalance.Equal(jan.EndingBalance))
	require.Equal(t, "1025.00", accounting.FormatAmount(feb.EndingBalance))

	balance, err := h.poster.BalanceAsOf(ctx, "1110", accounting.EndOfDay(day(2, 29)))
	require.NoError(t, err)
	require.True(t, balance.Equal(feb.EndingBalance))

	rows, err := h.svc.List(ctx, "1110")
	require.NoError(t, err)
	require.Len(t, rows, 2)
}

func TestCloseIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, day(1, 15), "1110", "4100", "42.10")

	first, err := h.svc.Close(ctx, closeIn("4100", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	h.svc.WithNow(func() time.Time { return fixedNow.Add(time.Hour) })
	second, err := h.svc.Close(ctx, closeIn("4100", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, first, second)

	got, err := h.svc.Get(ctx, "4100", day(1, 1), day(1, 31))
	require.NoError(t, err)
	require.Equal(t, first, got)
}

func TestCloseOrderingRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)

	_, err = h.svc.Close(ctx, closeIn("1110", day(1, 15), day(2, 15)))
	require.ErrorIs(t, err, accounting.ErrOverlappingPeriod)

	_, err = h.svc.Close(ctx, closeIn("1110", day(3, 1), day(3, 31)))
	require.ErrorIs(t, err, accounting.ErrPriorPeriodOpen)

	_, err = h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)

	_, err = h.svc.Close(ctx, closeIn("4100", day(3, 1), day(3, 31)))
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, closeIn("4100", day(1, 1), day(1, 31)))
	require.ErrorIs(t, err, accounting.ErrLaterPeriodClosed)

	_, err = h.svc.Close(ctx, closeIn("1000", day(1, 1), day(1, 31)))
	require.ErrorIs(t, err, accounting.ErrInvalidInput)

	_, err = h.svc.Close(ctx, closeIn("1110", day(5, 1), day(4, 1)))
	require.ErrorIs(t, err, accounting.ErrInvalidInput)

	require.Contains(t, h.metrics.outcomes, "close:OverlappingPeriod")
	require.Contains(t, h.metrics.outcomes, "close:ok")
}

func TestClosedPeriodBlocksPostingUntilReopened(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, day(1, 10), "1110", "4100", "100")
	_, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)

	_, err = h.poster.Post(ctx, accounting.PostingInput{
		TransactionDate: day(1, 20),
		Lines: []accounting.PostingLineInput{
			{AccountCode: "1110", Position: accounting.PositionDebit, Amount: decimal.NewFromInt(1)},
			{AccountCode: "4100", Position: accounting.PositionCredit, Amount: decimal.NewFromInt(1)},
		},
	})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)

	reopened, err := h.svc.Reopen(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, accounting.PeriodStatusReopened, reopened.Status)
	require.NotNil(t, reopened.ReopenedAt)

	h.post(t, day(1, 20), "1110", "4100", "1")
	reclosed, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, "101.00", accounting.FormatAmount(reclosed.EndingBalance))
	require.Equal(t, reopened.ID, reclosed.ID)
}

func TestReopenRules(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	_, err := h.svc.Reopen(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.ErrorIs(t, err, accounting.ErrPeriodNotFound)

	_, err = h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)

	_, err = h.svc.Reopen(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.ErrorIs(t, err, accounting.ErrLaterPeriodClosed)

	_, err = h.svc.Reopen(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)
	_, err = h.svc.Reopen(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.ErrorIs(t, err, accounting.ErrInvalidPeriodTransition)

	_, err = h.svc.Reopen(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)

	_, err = h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.ErrorIs(t, err, accounting.ErrPriorPeriodOpen)
}

func TestFirstPeriodOpensWithPriorHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, time.Date(2023, 12, 31, 23, 0, 0, 0, time.UTC), "1110", "4100", "70")
	h.post(t, day(1, 2), "1110", "4100", "30")

	jan, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, "70.00", accounting.FormatAmount(jan.BeginningBalance))
	require.Equal(t, "100.00", accounting.FormatAmount(jan.EndingBalance))
}

func TestCloseAllSkipsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, day(1, 5), "1110", "4100", "9")
	_, err := h.svc.Close(ctx, closeIn("4100", day(2, 1), day(2, 29)))
	require.NoError(t, err)

	res, err := h.svc.CloseAll(ctx, day(1, 1), day(1, 31), 1)
	require.NoError(t, err)
	require.Len(t, res.Closed, 1)
	require.Equal(t, "9.00", accounting.FormatAmount(res.Closed[0].EndingBalance))
	require.ErrorIs(t, res.Skipped["4100"], accounting.ErrLaterPeriodClosed)
	require.NotContains(t, res.Skipped, "5100")
}

func TestCloseRetriesSerializationFailures(t *testing.T) {
	h := newHarness(t)
	h.svc.retry = accounting.RetryPolicy{Attempts: 2}
	ctx := context.Background()

	h.store.InjectSerializationFailures(1)
	_, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)

	h.store.InjectSerializationFailures(2)
	_, err = h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.ErrorIs(t, err, accounting.ErrConcurrentModification)

	rows, err := h.svc.List(ctx, "1110")
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestClosedPeriodsFreezeEarlierHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	december := h.post(t, time.Date(2023, 12, 12, 0, 0, 0, 0, time.UTC), "1110", "4100", "300")
	h.post(t, day(1, 10), "1110", "4100", "1000")

	jan, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, "300.00", accounting.FormatAmount(jan.BeginningBalance))
	feb, err := h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)

	for _, at := range []time.Time{time.Date(2023, 11, 2, 0, 0, 0, 0, time.UTC), day(1, 15), accounting.EndOfDay(day(2, 29))} {
		_, err = h.poster.Post(ctx, accounting.PostingInput{
			TransactionDate: at,
			Lines: []accounting.PostingLineInput{
				{AccountCode: "1110", Position: accounting.PositionDebit, Amount: decimal.NewFromInt(5)},
				{AccountCode: "4100", Position: accounting.PositionCredit, Amount: decimal.NewFromInt(5)},
			},
		})
		require.ErrorIs(t, err, accounting.ErrPeriodClosed, at)
	}
	_, err = h.poster.Void(ctx, gl.VoidInput{PostingID: december.ID})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)

	h.post(t, day(3, 1), "1110", "4100", "7")
	balance, err := h.poster.BalanceAsOf(ctx, "1110", accounting.EndOfDay(day(2, 29)))
	require.NoError(t, err)
	require.True(t, balance.Equal(feb.EndingBalance))

	h.svc.WithNow(func() time.Time { return fixedNow.Add(time.Hour) })
	again, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	require.Equal(t, jan, again)
	rows, err := h.svc.List(ctx, "1110")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.True(t, rows[1].BeginningBalance.Equal(rows[0].EndingBalance))
}

func TestReopenedPeriodAcceptsEarlierActivityAndRechains(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.post(t, day(1, 10), "1110", "4100", "1000")
	_, err := h.svc.Close(ctx, closeIn("1110", day(1, 1), day(1, 31)))
	require.NoError(t, err)
	_, err = h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)

	_, err = h.svc.Reopen(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)
	h.post(t, day(2, 14), "1110", "4100", "40")
	_, err = h.poster.Post(ctx, accounting.PostingInput{
		TransactionDate: day(1, 20),
		Lines: []accounting.PostingLineInput{
			{AccountCode: "1110", Position: accounting.PositionDebit, Amount: decimal.NewFromInt(1)},
			{AccountCode: "4100", Position: accounting.PositionCredit, Amount: decimal.NewFromInt(1)},
		},
	})
	require.ErrorIs(t, err, accounting.ErrPeriodClosed)

	feb, err := h.svc.Close(ctx, closeIn("1110", day(2, 1), day(2, 29)))
	require.NoError(t, err)
	require.Equal(t, "1000.00", accounting.FormatAmount(feb.BeginningBalance))
	require.Equal(t, "1040.00", accounting.FormatAmount(feb.EndingBalance))
}
