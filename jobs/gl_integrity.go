package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	jobmetrics "github.com/odyssey-erp/odyssey-ledger/internal/jobs"
)

// ErrIntegrityViolation is returned when the scan found divergent GL lines.
var ErrIntegrityViolation = errors.New("gl integrity: journal and general ledger diverge")

// IntegrityVerifier re-derives GL lines from the journal.
type IntegrityVerifier interface {
	VerifyIntegrity(ctx context.Context, from, to *time.Time) (gl.IntegrityReport, error)
}

// GLIntegrityJob runs the integrity scan and reports findings.
type GLIntegrityJob struct {
	Verifier IntegrityVerifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// NewGLIntegrityJob constructs the job handler.
func NewGLIntegrityJob(verifier IntegrityVerifier, logger *slog.Logger, metrics *jobmetrics.Metrics) *GLIntegrityJob {
	return &GLIntegrityJob{Verifier: verifier, Logger: logger, Metrics: metrics}
}

// Handle executes the integrity job.
func (j *GLIntegrityJob) Handle(ctx context.Context, task *asynq.Task) error {
	var payload GLIntegrityPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("gl integrity: decode payload: %w", asynq.SkipRetry)
	}
	_, err := j.Run(ctx, payload)
	if errors.Is(err, ErrIntegrityViolation) {
		return fmt.Errorf("%w: %w", err, asynq.SkipRetry)
	}
	return err
}

// Run scans the requested window. Findings are logged one per issue and the
// returned error wraps ErrIntegrityViolation.
func (j *GLIntegrityJob) Run(ctx context.Context, payload GLIntegrityPayload) (report gl.IntegrityReport, resultErr error) {
	if j == nil || j.Verifier == nil {
		return report, errors.New("gl integrity: dependencies not configured")
	}
	tracker := j.Metrics.Track(TaskGLIntegrity)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	var from, to *time.Time
	if payload.From != "" {
		d, err := parseDate(payload.From)
		if err != nil {
			return report, fmt.Errorf("gl integrity: %v: %w", err, asynq.SkipRetry)
		}
		from = &d
	}
	if payload.To != "" {
		d, err := parseDate(payload.To)
		if err != nil {
			return report, fmt.Errorf("gl integrity: %v: %w", err, asynq.SkipRetry)
		}
		end := accounting.EndOfDay(d)
		to = &end
	}

	start := time.Now()
	report, err := j.Verifier.VerifyIntegrity(ctx, from, to)
	if err != nil {
		j.log().Error("gl integrity scan", slog.Any("error", err))
		return report, err
	}

	counts := map[string]int{}
	for _, issue := range report.Issues {
		counts[issue.Kind]++
		j.log().Error("gl integrity issue",
			slog.String("kind", issue.Kind),
			slog.String("posting_id", issue.PostingID.String()),
			slog.String("journal_id", issue.JournalID.String()),
			slog.String("detail", issue.Detail))
	}
	for kind, n := range counts {
		j.Metrics.AddIntegrityIssues(kind, n)
	}

	j.log().Info("gl integrity check executed",
		slog.Int("postings", report.Postings),
		slog.Int("entries", report.Entries),
		slog.Int("lines", report.Lines),
		slog.Int("issues", len(report.Issues)),
		slog.Duration("duration", time.Since(start)))
	if !report.OK() {
		return report, fmt.Errorf("%w: %d issue(s)", ErrIntegrityViolation, len(report.Issues))
	}
	return report, nil
}

func (j *GLIntegrityJob) log() *slog.Logger {
	if j.Logger != nil {
		return j.Logger
	}
	return slog.Default()
}
