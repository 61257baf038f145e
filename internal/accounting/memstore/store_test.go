package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

func detail(code string) accounting.Account {
	return accounting.Account{
		ID:       uuid.New(),
		Code:     code,
		Type:     accounting.AccountTypeAsset,
		Position: accounting.PositionDebit,
		Level:    accounting.AccountLevelDetail,
		Status:   accounting.AccountStatusActive,
		Name:     code,
	}
}

func TestWithTxRollsBackOnError(t *testing.T) {
	store := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		require.NoError(t, tx.InsertAccount(ctx, detail("1110")))
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		_, err := tx.GetAccountByCode(ctx, "1110")
		return err
	})
	require.ErrorIs(t, err, accounting.ErrAccountNotFound)
}

func TestDuplicateCodeIncludesTombstones(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct := detail("1110")
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.InsertAccount(ctx, acct); err != nil {
			return err
		}
		now := time.Now()
		acct.DeletedAt = &now
		return tx.UpdateAccount(ctx, acct)
	}))

	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.InsertAccount(ctx, detail("1110"))
	})
	require.ErrorIs(t, err, accounting.ErrDuplicateCode)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		_, err := tx.GetAccountByCode(ctx, "1110")
		require.ErrorIs(t, err, accounting.ErrAccountNotFound)
		got, err := tx.GetAccountByID(ctx, acct.ID)
		require.NoError(t, err)
		require.True(t, got.IsDeleted())
		return nil
	}))
}

func TestSourceLinkUnique(t *testing.T) {
	store := New()
	ctx := context.Background()
	insert := func() error {
		return store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			return tx.InsertPosting(ctx, accounting.Posting{ID: uuid.New(), SourceModule: "AR", SourceRef: "INV-1"})
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), accounting.ErrSourceAlreadyLinked)
}

func TestLedgerLineSequenceAndSums(t *testing.T) {
	store := New()
	ctx := context.Background()
	acct := uuid.New()
	day := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		lines, err := tx.InsertLedgerLines(ctx, []accounting.GeneralLedgerLine{
			{ID: uuid.New(), AccountID: acct, PostingDate: day, Debit: decimal.NewFromInt(10), Credit: decimal.Zero},
			{ID: uuid.New(), AccountID: acct, PostingDate: day.AddDate(0, 0, 1), Debit: decimal.Zero, Credit: decimal.NewFromInt(4)},
		})
		require.NoError(t, err)
		require.Equal(t, int64(1), lines[0].Sequence)
		require.Equal(t, int64(2), lines[1].Sequence)
		return nil
	}))

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		to := accounting.EndOfDay(day)
		totals, err := tx.SumLines(ctx, accounting.LineFilter{AccountIDs: []uuid.UUID{acct}, To: &to})
		require.NoError(t, err)
		require.Equal(t, "10.00", accounting.FormatAmount(totals.Debit))
		require.Equal(t, 1, totals.Count)

		all, err := tx.SumLines(ctx, accounting.LineFilter{})
		require.NoError(t, err)
		require.Equal(t, "4.00", accounting.FormatAmount(all.Credit))
		return nil
	}))
}

func TestInjectedSerializationFailure(t *testing.T) {
	store := New()
	ctx := context.Background()
	store.InjectSerializationFailures(1)
	write := func() error {
		return store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
			return tx.InsertAccount(ctx, detail("2000"))
		})
	}
	require.ErrorIs(t, write(), accounting.ErrSerializationFailure)
	require.NoError(t, write())
}

func TestCancelledContextDiscardsWrites(t *testing.T) {
	store := New()
	ctx, cancel := context.WithCancel(context.Background())
	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		require.NoError(t, tx.InsertAccount(ctx, detail("3000")))
		cancel()
		return nil
	})
	require.ErrorIs(t, err, context.Canceled)

	require.NoError(t, store.WithTx(context.Background(), func(ctx context.Context, tx accounting.TxRepository) error {
		accounts, err := tx.ListAccounts(ctx, true)
		require.Empty(t, accounts)
		return err
	}))
}

func TestVoidAndReversalExcludeEachOther(t *testing.T) {
	store := New()
	ctx := context.Background()
	reversed, voided, reversal := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		for _, p := range []accounting.Posting{{ID: reversed}, {ID: voided}, {ID: reversal, ReversalOf: &reversed}} {
			if err := tx.InsertPosting(ctx, p); err != nil {
				return err
			}
		}
		return tx.MarkPostingReversed(ctx, reversed, reversal)
	}))

	err := store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.VoidPosting(ctx, reversed, time.Now())
	})
	require.ErrorIs(t, err, accounting.ErrSerializationFailure)
	err = store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.VoidPosting(ctx, reversal, time.Now())
	})
	require.ErrorIs(t, err, accounting.ErrSerializationFailure)

	require.NoError(t, store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.VoidPosting(ctx, voided, time.Now())
	}))
	err = store.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		return tx.MarkPostingReversed(ctx, voided, uuid.New())
	})
	require.ErrorIs(t, err, accounting.ErrSerializationFailure)
}
