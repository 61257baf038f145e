// Package ledger assembles the chart of accounts, journal, GL poster, period
// aggregator and reports over one repository. Binaries and integration hooks
// depend on the Engine rather than on the individual services.
package ledger

import (
	"context"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/mappings"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
)

// Options wires the optional collaborators shared by the services.
type Options struct {
	Audit           accounting.AuditPort
	Events          accounting.EventPublisher
	BalanceCache    gl.BalanceCache
	PostingMetrics  gl.Metrics
	PeriodMetrics   periods.Metrics
	Mappings        mappings.Repository
	Logger          *slog.Logger
	// AccountCacheTTL is the staleness window of IsPostable across processes.
	AccountCacheTTL time.Duration
	PostRetry       accounting.RetryPolicy
	CloseRetry      accounting.RetryPolicy
}

// Engine is the ledger core.
type Engine struct {
	Accounts *accounts.Service
	Journal  *journals.Service
	Poster   *gl.Poster
	Periods  *periods.Service
	Reports  *reports.Service
	Mappings *mappings.Service
}

// New builds an Engine over repo.
func New(repo accounting.RepositoryPort, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	mappingRepo := opts.Mappings
	if mappingRepo == nil {
		mappingRepo = mappings.NewMemoryRepository()
	}
	chart := accounts.NewService(repo, opts.Audit, logger.With(slog.String("component", "accounts")), opts.AccountCacheTTL)
	return &Engine{
		Accounts: chart,
		Journal:  journals.NewService(repo),
		Poster: gl.NewPoster(repo, gl.Options{
			Audit:   opts.Audit,
			Events:  opts.Events,
			Cache:   opts.BalanceCache,
			Metrics: opts.PostingMetrics,
			Logger:  logger.With(slog.String("component", "gl")),
			Retry:   opts.PostRetry,
		}),
		Periods: periods.NewService(repo, periods.Options{
			Audit:   opts.Audit,
			Metrics: opts.PeriodMetrics,
			Logger:  logger.With(slog.String("component", "periods")),
			Retry:   opts.CloseRetry,
		}),
		Reports:  reports.NewService(repo),
		Mappings: mappings.NewService(mappingRepo, chart),
	}
}

// WithNow overrides the clock of every service for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	e.Accounts.WithNow(now)
	e.Poster.WithNow(now)
	e.Periods.WithNow(now)
}

// CreateAccount adds an account to the chart.
func (e *Engine) CreateAccount(ctx context.Context, in accounting.CreateAccountInput) (accounting.Account, error) {
	return e.Accounts.Create(ctx, in)
}

// ResolveAccount looks a live account up by code.
func (e *Engine) ResolveAccount(ctx context.Context, code string) (accounting.Account, error) {
	return e.Accounts.Resolve(ctx, code)
}

// IsPostable reports whether account may receive journal entries.
func (e *Engine) IsPostable(account accounting.Account) bool {
	return accounts.IsPostable(account)
}

// Ancestors returns the chain from the root to the direct parent of code.
func (e *Engine) Ancestors(ctx context.Context, code string) ([]accounting.Account, error) {
	return e.Accounts.Ancestors(ctx, code)
}

// Deactivate retires an account without deleting it.
func (e *Engine) Deactivate(ctx context.Context, code string, actorID int64) (accounting.Account, error) {
	return e.Accounts.Deactivate(ctx, code, actorID)
}

// Post records a balanced posting.
func (e *Engine) Post(ctx context.Context, in accounting.PostingInput) (accounting.Posting, error) {
	return e.Poster.Post(ctx, in)
}

// Reverse posts the mirror image of an existing posting.
func (e *Engine) Reverse(ctx context.Context, in gl.ReverseInput) (accounting.Posting, error) {
	return e.Poster.Reverse(ctx, in)
}

// Void tombstones a posting.
func (e *Engine) Void(ctx context.Context, in gl.VoidInput) (accounting.Posting, error) {
	return e.Poster.Void(ctx, in)
}

// BalanceAsOf returns the signed balance of code at asOf.
func (e *Engine) BalanceAsOf(ctx context.Context, code string, asOf time.Time) (decimal.Decimal, error) {
	return e.Poster.BalanceAsOf(ctx, code, asOf)
}

// ClosePeriod closes [start, end] for one detail account.
func (e *Engine) ClosePeriod(ctx context.Context, code string, start, end time.Time, actorID int64) (accounting.Ledger, error) {
	return e.Periods.Close(ctx, periods.CloseInput{AccountCode: code, Start: start, End: end, ActorID: actorID})
}

// ReopenPeriod reopens a closed period.
func (e *Engine) ReopenPeriod(ctx context.Context, code string, start, end time.Time, actorID int64) (accounting.Ledger, error) {
	return e.Periods.Reopen(ctx, periods.CloseInput{AccountCode: code, Start: start, End: end, ActorID: actorID})
}
