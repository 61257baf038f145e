package journals

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Service exposes read access to the journal. Writes go through the GL poster.
type Service struct {
	repo accounting.RepositoryPort
}

func NewService(repo accounting.RepositoryPort) *Service {
	return &Service{repo: repo}
}

// Get returns a posting with its entries, voided ones included for audit.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (accounting.Posting, error) {
	var posting accounting.Posting
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		posting, err = tx.GetPosting(ctx, id)
		return err
	})
	return posting, err
}

// List returns journal entries whose transaction date falls in [from, to].
func (s *Service) List(ctx context.Context, from, to *time.Time, includeVoided bool) ([]accounting.JournalEntry, error) {
	filter := accounting.JournalFilter{IncludeVoided: includeVoided}
	if from != nil {
		start := accounting.DateOnly(*from)
		filter.From = &start
	}
	if to != nil {
		end := accounting.EndOfDay(*to)
		filter.To = &end
	}
	var entries []accounting.JournalEntry
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		var err error
		entries, err = tx.ListJournalEntries(ctx, filter)
		return err
	})
	return entries, err
}
