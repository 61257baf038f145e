package gl

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// IntegrityIssue describes one inconsistency between the journal and the GL.
type IntegrityIssue struct {
	Kind      string
	PostingID uuid.UUID
	JournalID uuid.UUID
	Detail    string
}

const (
	IssueUnbalanced   = "unbalanced_posting"
	IssueMissingLine  = "missing_gl_line"
	IssueLineMismatch = "gl_line_mismatch"
	IssueOrphanLine   = "orphan_gl_line"
)

// IntegrityReport summarises a scan over live postings.
type IntegrityReport struct {
	Postings int
	Entries  int
	Lines    int
	Issues   []IntegrityIssue
}

// OK reports whether the scan found nothing.
func (r IntegrityReport) OK() bool { return len(r.Issues) == 0 }

// VerifyIntegrity cross-checks journal entries and GL lines dated within
// [from, to]. Nil bounds are open.
func (p *Poster) VerifyIntegrity(ctx context.Context, from, to *time.Time) (IntegrityReport, error) {
	var report IntegrityReport
	err := p.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var end *time.Time
		if to != nil {
			e := accounting.EndOfDay(*to)
			end = &e
		}
		entries, err := tx.ListJournalEntries(ctx, accounting.JournalFilter{From: from, To: end})
		if err != nil {
			return err
		}
		lines, err := tx.ListLines(ctx, accounting.LineFilter{From: from, To: end})
		if err != nil {
			return err
		}
		report = checkIntegrity(entries, lines)
		return nil
	})
	if err != nil {
		return IntegrityReport{}, err
	}
	if !report.OK() {
		p.logger.WarnContext(ctx, "ledger integrity issues", "issues", len(report.Issues), "postings", report.Postings)
	}
	return report, nil
}

func checkIntegrity(entries []accounting.JournalEntry, lines []accounting.GeneralLedgerLine) IntegrityReport {
	report := IntegrityReport{Entries: len(entries), Lines: len(lines)}
	type sums struct{ debit, credit decimal.Decimal }
	byPosting := make(map[uuid.UUID]*sums)
	byJournal := make(map[uuid.UUID]accounting.GeneralLedgerLine, len(lines))
	for _, l := range lines {
		byJournal[l.JournalID] = l
	}
	seen := make(map[uuid.UUID]struct{}, len(entries))
	for _, e := range entries {
		seen[e.ID] = struct{}{}
		s, ok := byPosting[e.PostingID]
		if !ok {
			s = &sums{}
			byPosting[e.PostingID] = s
		}
		if e.Position == accounting.PositionDebit {
			s.debit = s.debit.Add(e.Amount)
		} else {
			s.credit = s.credit.Add(e.Amount)
		}
		line, ok := byJournal[e.ID]
		if !ok {
			report.Issues = append(report.Issues, IntegrityIssue{Kind: IssueMissingLine, PostingID: e.PostingID, JournalID: e.ID})
			continue
		}
		side, amount := line.Amount()
		if line.AccountID != e.AccountID || side != e.Position || !amount.Equal(e.Amount) || !line.PostingDate.Equal(e.TransactionDate) {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:      IssueLineMismatch,
				PostingID: e.PostingID,
				JournalID: e.ID,
				Detail:    fmt.Sprintf("entry %s %s, line %s %s", e.Position, accounting.FormatAmount(e.Amount), side, accounting.FormatAmount(amount)),
			})
		}
	}
	for _, l := range lines {
		if _, ok := seen[l.JournalID]; !ok {
			report.Issues = append(report.Issues, IntegrityIssue{Kind: IssueOrphanLine, PostingID: l.PostingID, JournalID: l.JournalID})
		}
	}
	for id, s := range byPosting {
		if !s.debit.Equal(s.credit) {
			report.Issues = append(report.Issues, IntegrityIssue{
				Kind:      IssueUnbalanced,
				PostingID: id,
				Detail:    fmt.Sprintf("debit %s credit %s", accounting.FormatAmount(s.debit), accounting.FormatAmount(s.credit)),
			})
		}
	}
	report.Postings = len(byPosting)
	sort.SliceStable(report.Issues, func(i, j int) bool {
		if report.Issues[i].Kind != report.Issues[j].Kind {
			return report.Issues[i].Kind < report.Issues[j].Kind
		}
		return report.Issues[i].PostingID.String() < report.Issues[j].PostingID.String()
	})
	return report
}
