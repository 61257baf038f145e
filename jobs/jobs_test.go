package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/memstore"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newEngine(t *testing.T) *ledger.Engine {
	t.Helper()
	engine := ledger.New(memstore.New(), ledger.Options{})
	_, err := engine.Accounts.SeedDefaultChart(context.Background(), 1)
	require.NoError(t, err)
	_, err = engine.Post(context.Background(), accounting.PostingInput{
		TransactionDate: day(2024, 1, 15),
		ReferenceNumber: "CAP-1",
		Lines: []accounting.PostingLineInput{
			{AccountCode: "1110", Position: accounting.PositionDebit, Amount: decimal.RequireFromString("500")},
			{AccountCode: "3100", Position: accounting.PositionCredit, Amount: decimal.RequireFromString("500")},
		},
	})
	require.NoError(t, err)
	return engine
}

func newLocker(t *testing.T) *redislock.Client {
	t.Helper()
	srv := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return redislock.New(client)
}

func task(t *testing.T, typ string, payload any) *asynq.Task {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	return asynq.NewTask(typ, body)
}

func TestPeriodCloseJobClosesEveryDetailAccount(t *testing.T) {
	engine := newEngine(t)
	metrics := jobmetrics.NewMetrics(prometheus.NewRegistry())
	job := NewPeriodCloseJob(engine.Periods, newLocker(t), nil, metrics)

	err := job.Handle(context.Background(), task(t, TaskPeriodClose, PeriodClosePayload{Start: "2024-01-01", End: "2024-01-31"}))
	require.NoError(t, err)

	cash, err := engine.Periods.Get(context.Background(), "1110", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, "500.00", accounting.FormatAmount(cash.EndingBalance))
	capital, err := engine.Periods.Get(context.Background(), "3100", day(2024, 1, 1), day(2024, 1, 31))
	require.NoError(t, err)
	require.Equal(t, "500.00", accounting.FormatAmount(capital.EndingBalance))

	_, err = engine.Periods.Get(context.Background(), "1000", day(2024, 1, 1), day(2024, 1, 31))
	require.ErrorIs(t, err, accounting.ErrPeriodNotFound)
}

func TestPeriodCloseJobDefaultsToPreviousMonth(t *testing.T) {
	engine := newEngine(t)
	job := NewPeriodCloseJob(engine.Periods, nil, nil, nil)
	job.clock = func() time.Time { return time.Date(2024, 2, 3, 1, 0, 0, 0, time.UTC) }

	require.NoError(t, job.Run(context.Background(), PeriodClosePayload{AccountCode: "1110"}))
	ledgers, err := engine.Periods.List(context.Background(), "1110")
	require.NoError(t, err)
	require.Len(t, ledgers, 1)
	require.Equal(t, day(2024, 1, 1), ledgers[0].PeriodStart.UTC())
	require.Equal(t, day(2024, 1, 31), ledgers[0].PeriodEnd.UTC())
}

func TestPeriodCloseJobSkipsWhenLocked(t *testing.T) {
	engine := newEngine(t)
	locker := newLocker(t)
	held, err := locker.Obtain(context.Background(), shared.FinanceLockKey("1110", day(2024, 1, 1), day(2024, 1, 31)), time.Minute, nil)
	require.NoError(t, err)
	defer func() { _ = held.Release(context.Background()) }()

	registry := prometheus.NewRegistry()
	job := NewPeriodCloseJob(engine.Periods, locker, nil, jobmetrics.NewMetrics(registry))
	require.NoError(t, job.Run(context.Background(), PeriodClosePayload{AccountCode: "1110", Start: "2024-01-01", End: "2024-01-31"}))

	ledgers, err := engine.Periods.List(context.Background(), "1110")
	require.NoError(t, err)
	require.Empty(t, ledgers)

	series, err := testutil.GatherAndCount(registry, "ledger_jobs_total")
	require.NoError(t, err)
	require.Equal(t, 1, series)
}

func TestPeriodCloseJobRejectsPermanentFailures(t *testing.T) {
	engine := newEngine(t)
	job := NewPeriodCloseJob(engine.Periods, newLocker(t), nil, nil)

	err := job.Run(context.Background(), PeriodClosePayload{AccountCode: "1000", Start: "2024-01-01", End: "2024-01-31"})
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.ErrorIs(t, err, accounting.ErrInvalidInput)

	err = job.Run(context.Background(), PeriodClosePayload{Start: "2024-02-01", End: "2024-01-01"})
	require.ErrorIs(t, err, asynq.SkipRetry)

	err = job.Handle(context.Background(), asynq.NewTask(TaskPeriodClose, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestNewPeriodCloseTaskValidatesBounds(t *testing.T) {
	_, err := NewPeriodCloseTask(PeriodClosePayload{Start: "2024-01-01"})
	require.Error(t, err)
	_, err = NewPeriodCloseTask(PeriodClosePayload{Start: "2024-01-01", End: "01/31/2024"})
	require.Error(t, err)

	tk, err := NewPeriodCloseTask(PeriodClosePayload{})
	require.NoError(t, err)
	require.Equal(t, TaskPeriodClose, tk.Type())
}

func TestPreviousMonth(t *testing.T) {
	start, end := previousMonth(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC))
	require.Equal(t, day(2024, 2, 1), start)
	require.Equal(t, day(2024, 2, 29), end)

	start, end = previousMonth(time.Date(2024, 1, 20, 0, 0, 0, 0, time.UTC))
	require.Equal(t, day(2023, 12, 1), start)
	require.Equal(t, day(2023, 12, 31), end)
}

type verifierStub struct {
	report   gl.IntegrityReport
	err      error
	from, to *time.Time
}

func (v *verifierStub) VerifyIntegrity(_ context.Context, from, to *time.Time) (gl.IntegrityReport, error) {
	v.from, v.to = from, to
	return v.report, v.err
}

func TestGLIntegrityJobCleanLedger(t *testing.T) {
	engine := newEngine(t)
	job := NewGLIntegrityJob(engine.Poster, nil, nil)

	report, err := job.Run(context.Background(), GLIntegrityPayload{From: "2024-01-01", To: "2024-01-31"})
	require.NoError(t, err)
	require.Equal(t, 1, report.Postings)
	require.Equal(t, 2, report.Lines)
}

func TestGLIntegrityJobReportsIssues(t *testing.T) {
	stub := &verifierStub{report: gl.IntegrityReport{Issues: []gl.IntegrityIssue{
		{Kind: gl.IssueOrphanLine, PostingID: uuid.New(), JournalID: uuid.New()},
		{Kind: gl.IssueOrphanLine, PostingID: uuid.New(), JournalID: uuid.New()},
	}}}
	job := NewGLIntegrityJob(stub, nil, jobmetrics.NewMetrics(prometheus.NewRegistry()))

	err := job.Handle(context.Background(), task(t, TaskGLIntegrity, GLIntegrityPayload{To: "2024-01-31"}))
	require.ErrorIs(t, err, ErrIntegrityViolation)
	require.ErrorIs(t, err, asynq.SkipRetry)
	require.Nil(t, stub.from)
	require.Equal(t, accounting.EndOfDay(day(2024, 1, 31)), *stub.to)

	stub.err = errors.New("db down")
	_, err = job.Run(context.Background(), GLIntegrityPayload{})
	require.EqualError(t, err, "db down")

	_, err = job.Run(context.Background(), GLIntegrityPayload{From: "yesterday"})
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestTaskLoggingPassesResultThrough(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	boom := errors.New("boom")
	handler := taskLogging(logger)(asynq.HandlerFunc(func(context.Context, *asynq.Task) error { return boom }))

	err := handler.ProcessTask(context.Background(), asynq.NewTask(TaskGLIntegrity, nil))
	require.ErrorIs(t, err, boom)
	require.Contains(t, buf.String(), `"msg":"task finished"`)
	require.Contains(t, buf.String(), `"task":"ledger:gl_integrity"`)
	require.Contains(t, buf.String(), `"ok":false`)
}

func TestQueueHealthWithoutInspector(t *testing.T) {
	require.NoError(t, QueueHealth(nil)(context.Background()))
}
