// Package gl is the single write path of the ledger: it appends postings to the
// journal and derives the account-oriented general ledger lines in the same
// transaction, and it answers balance and statement queries over those lines.
package gl

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/journals"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Metrics receives posting outcomes.
type Metrics interface {
	ObservePosting(operation, outcome string, lines int, took time.Duration)
}

// Options carries the optional collaborators of the Poster.
type Options struct {
	Audit   accounting.AuditPort
	Events  accounting.EventPublisher
	Cache   BalanceCache
	Metrics Metrics
	Logger  *slog.Logger
	Retry   accounting.RetryPolicy
}

// Poster records balanced postings and derives their general ledger lines.
type Poster struct {
	repo    accounting.RepositoryPort
	journal *journals.Writer
	audit   accounting.AuditPort
	events  accounting.EventPublisher
	cache   BalanceCache
	metrics Metrics
	logger  *slog.Logger
	retry   accounting.RetryPolicy
	now     func() time.Time
}

// NewPoster constructs the GL poster.
func NewPoster(repo accounting.RepositoryPort, opts Options) *Poster {
	p := &Poster{
		repo:    repo,
		audit:   opts.Audit,
		events:  opts.Events,
		cache:   opts.Cache,
		metrics: opts.Metrics,
		logger:  opts.Logger,
		retry:   opts.Retry,
		now:     time.Now,
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.cache == nil {
		p.cache = NopBalanceCache{}
	}
	if p.retry.Attempts == 0 {
		p.retry = accounting.DefaultRetryPolicy
	}
	p.journal = journals.NewWriter(func() time.Time { return p.now() })
	return p
}

// WithNow overrides the clock for testing.
func (p *Poster) WithNow(now func() time.Time) {
	if now != nil {
		p.now = now
	}
}

// ReverseInput selects the posting to reverse. Date defaults to the original
// transaction date, or now when that date lies in a closed period.
type ReverseInput struct {
	PostingID uuid.UUID
	Date      *time.Time
	Memo      string
	ActorID   int64
}

// VoidInput selects the posting to tombstone.
type VoidInput struct {
	PostingID uuid.UUID
	Reason    string
	ActorID   int64
}

// Post validates and records a balanced posting, deriving one GL line per entry.
func (p *Poster) Post(ctx context.Context, in accounting.PostingInput) (accounting.Posting, error) {
	start := time.Now()
	var result journals.Appended
	err := accounting.Retry(ctx, p.retry, func(ctx context.Context) error {
		return p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			appended, err := p.journal.Append(ctx, tx, in, nil)
			if err != nil {
				return err
			}
			if err := p.derive(ctx, tx, &appended.Posting); err != nil {
				return err
			}
			result = appended
			return nil
		})
	})
	if err != nil {
		p.rejected(ctx, "post", err, len(in.Lines), start)
		return accounting.Posting{}, err
	}
	p.committed(ctx, "post", accounting.EventPostingCreated, result, in.PostedBy, start, map[string]any{
		"reference":     result.Posting.ReferenceNumber,
		"source_module": result.Posting.SourceModule,
		"source_ref":    result.Posting.SourceRef,
	})
	return result.Posting, nil
}

// Reverse posts the mirror image of an existing posting. Reversing twice
// returns the reversal created the first time.
func (p *Poster) Reverse(ctx context.Context, in ReverseInput) (accounting.Posting, error) {
	if in.PostingID == uuid.Nil {
		return accounting.Posting{}, fmt.Errorf("%w: posting id required", accounting.ErrInvalidInput)
	}
	start := time.Now()
	var (
		result   journals.Appended
		existing bool
	)
	err := accounting.Retry(ctx, p.retry, func(ctx context.Context) error {
		existing = false
		return p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			original, err := journals.LivePosting(ctx, tx, in.PostingID)
			if err != nil {
				return err
			}
			if original.ReversedBy != nil {
				prior, err := tx.GetPosting(ctx, *original.ReversedBy)
				if err != nil {
					return err
				}
				result = journals.Appended{Posting: prior}
				existing = true
				return nil
			}
			codes := make(map[uuid.UUID]string, len(original.Entries))
			for _, e := range original.Entries {
				account, err := tx.GetAccountByID(ctx, e.AccountID)
				if err != nil {
					return err
				}
				codes[account.ID] = account.Code
			}
			date, err := p.reversalDate(ctx, tx, original, in.Date)
			if err != nil {
				return err
			}
			req, err := journals.ReversalInput(original, codes, date, in.Memo, in.ActorID)
			if err != nil {
				return err
			}
			appended, err := p.journal.Append(ctx, tx, req, &original.ID)
			if err != nil {
				return err
			}
			if err := tx.MarkPostingReversed(ctx, original.ID, appended.Posting.ID); err != nil {
				return err
			}
			if err := p.derive(ctx, tx, &appended.Posting); err != nil {
				return err
			}
			result = appended
			return nil
		})
	})
	if err != nil {
		p.rejected(ctx, "reverse", err, 0, start)
		return accounting.Posting{}, err
	}
	if existing {
		p.logger.InfoContext(ctx, "posting already reversed",
			slog.String("posting_id", in.PostingID.String()),
			slog.String("reversal_id", result.Posting.ID.String()))
		return result.Posting, nil
	}
	p.committed(ctx, "reverse", accounting.EventPostingCreated, result, in.ActorID, start, map[string]any{
		"reversal_of": in.PostingID.String(),
	})
	return result.Posting, nil
}

func (p *Poster) reversalDate(ctx context.Context, tx accounting.TxRepository, original accounting.Posting, requested *time.Time) (time.Time, error) {
	if requested != nil {
		return *requested, nil
	}
	for _, e := range original.Entries {
		_, closed, err := journals.ClosedThrough(ctx, tx, e.AccountID, original.TransactionDate)
		if err != nil {
			return time.Time{}, err
		}
		if closed {
			return p.now(), nil
		}
	}
	return original.TransactionDate, nil
}

// Void tombstones a posting with its entries and GL lines. Postings that were
// reversed, and reversals themselves, keep their audit chain and cannot be voided.
func (p *Poster) Void(ctx context.Context, in VoidInput) (accounting.Posting, error) {
	if in.PostingID == uuid.Nil {
		return accounting.Posting{}, fmt.Errorf("%w: posting id required", accounting.ErrInvalidInput)
	}
	start := time.Now()
	var result journals.Appended
	err := accounting.Retry(ctx, p.retry, func(ctx context.Context) error {
		return p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			posting, err := journals.LivePosting(ctx, tx, in.PostingID)
			if err != nil {
				return err
			}
			if posting.ReversedBy != nil || posting.ReversalOf != nil {
				return fmt.Errorf("%w: posting %s is part of a reversal pair", accounting.ErrInvalidInput, posting.ID)
			}
			ids := make([]uuid.UUID, 0, len(posting.Entries))
			for _, e := range posting.Entries {
				ids = append(ids, e.AccountID)
			}
			if err := tx.LockAccounts(ctx, ids, accounting.LockShared); err != nil {
				return err
			}
			accounts := make(map[uuid.UUID]accounting.Account, len(ids))
			for _, id := range ids {
				if _, done := accounts[id]; done {
					continue
				}
				account, err := tx.GetAccountByID(ctx, id)
				if err != nil {
					return err
				}
				accounts[id] = account
				if period, closed, err := journals.ClosedThrough(ctx, tx, id, posting.TransactionDate); err != nil {
					return err
				} else if closed {
					return fmt.Errorf("%w: account %s closed through %s", accounting.ErrPeriodClosed, account.Code,
						period.PeriodEnd.Format(time.DateOnly))
				}
			}
			at := accounting.NormalizeInstant(p.now())
			if err := tx.VoidPosting(ctx, posting.ID, at); err != nil {
				return err
			}
			posting.DeletedAt = &at
			result = journals.Appended{Posting: posting, Accounts: accounts}
			return nil
		})
	})
	if err != nil {
		p.rejected(ctx, "void", err, 0, start)
		return accounting.Posting{}, err
	}
	p.committed(ctx, "void", accounting.EventPostingVoided, result, in.ActorID, start, map[string]any{"reason": in.Reason})
	return result.Posting, nil
}

// DeriveLines projects journal entries onto GL lines, one per entry.
func DeriveLines(posting accounting.Posting) []accounting.GeneralLedgerLine {
	lines := make([]accounting.GeneralLedgerLine, 0, len(posting.Entries))
	for _, e := range posting.Entries {
		line := accounting.GeneralLedgerLine{
			ID:          uuid.New(),
			AccountID:   e.AccountID,
			PostingDate: e.TransactionDate,
			Description: e.Description,
			Debit:       decimal.Zero,
			Credit:      decimal.Zero,
			JournalID:   e.ID,
			PostingID:   posting.ID,
			CreatedAt:   e.CreatedAt,
		}
		if line.Description == "" {
			line.Description = posting.Memo
		}
		if e.Position == accounting.PositionDebit {
			line.Debit = e.Amount
		} else {
			line.Credit = e.Amount
		}
		lines = append(lines, line)
	}
	return lines
}

func (p *Poster) derive(ctx context.Context, tx accounting.TxRepository, posting *accounting.Posting) error {
	_, err := tx.InsertLedgerLines(ctx, DeriveLines(*posting))
	return err
}

func (p *Poster) committed(ctx context.Context, operation, eventType string, result journals.Appended, actorID int64, start time.Time, meta map[string]any) {
	posting := result.Posting
	ids := make([]uuid.UUID, 0, len(result.Accounts))
	for id := range result.Accounts {
		ids = append(ids, id)
	}
	if err := p.cache.Invalidate(ctx, ids...); err != nil {
		p.logger.WarnContext(ctx, "balance cache invalidate", slog.String("posting_id", posting.ID.String()), slog.Any("error", err))
	}
	if p.metrics != nil {
		p.metrics.ObservePosting(operation, "accepted", len(posting.Entries), time.Since(start))
	}
	p.logger.InfoContext(ctx, "posting "+operation,
		slog.String("posting_id", posting.ID.String()),
		slog.String("reference", posting.ReferenceNumber),
		slog.Int("lines", len(posting.Entries)))
	if p.audit != nil {
		meta["transaction_date"] = posting.TransactionDate.Format(time.DateOnly)
		err := p.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "posting." + operation,
			Entity:   "posting",
			EntityID: posting.ID.String(),
			Meta:     meta,
			At:       p.now(),
		})
		if err != nil {
			p.logger.WarnContext(ctx, "audit posting", slog.String("posting_id", posting.ID.String()), slog.Any("error", err))
		}
	}
	if p.events != nil {
		evt := accounting.PostingEvent{
			Type:            eventType,
			PostingID:       posting.ID,
			ReversalOf:      posting.ReversalOf,
			TransactionDate: posting.TransactionDate,
			ReferenceNumber: posting.ReferenceNumber,
			SourceModule:    posting.SourceModule,
			SourceRef:       posting.SourceRef,
			OccurredAt:      p.now(),
		}
		for _, e := range posting.Entries {
			evt.Lines = append(evt.Lines, accounting.EventLine{
				AccountCode: result.Accounts[e.AccountID].Code,
				Position:    e.Position,
				Amount:      accounting.FormatAmount(e.Amount),
			})
		}
		if err := p.events.Publish(ctx, evt); err != nil {
			p.logger.WarnContext(ctx, "publish posting event", slog.String("posting_id", posting.ID.String()), slog.Any("error", err))
		}
	}
}

func (p *Poster) rejected(ctx context.Context, operation string, err error, lines int, start time.Time) {
	code := accounting.CodeOf(err)
	if code == "" {
		code = string(accounting.KindOf(err))
	}
	if p.metrics != nil {
		p.metrics.ObservePosting(operation, code, lines, time.Since(start))
	}
	p.logger.WarnContext(ctx, "posting rejected", slog.String("operation", operation), slog.String("code", code), slog.Any("error", err))
}
