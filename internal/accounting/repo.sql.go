package accounting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/platform/db"
	"github.com/odyssey-erp/odyssey-ledger/internal/shared"
)

// Repository persists ledger entities in PostgreSQL.
type Repository struct {
	pool        *pgxpool.Pool
	lockTimeout time.Duration
}

// NewRepository constructs Repository. A zero lockTimeout keeps the server default.
func NewRepository(pool *pgxpool.Pool, lockTimeout time.Duration) *Repository {
	return &Repository{pool: pool, lockTimeout: lockTimeout}
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes fn within a read-committed transaction. Per-account advisory
// locks taken through LockAccounts serialise the conflicting writers.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("accounting repository not initialised")
	}
	opts := db.TxOptions{IsoLevel: pgx.ReadCommitted, LockTimeout: r.lockTimeout}
	err := db.WithTx(ctx, r.pool, opts, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
	return mapPgError(err)
}

// mapPgError translates retryable SQLSTATEs into ErrSerializationFailure.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "40001", "40P01", "55P03":
		return fmt.Errorf("%w: %s", ErrSerializationFailure, pgErr.Message)
	}
	return err
}

func uniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}

const accountColumns = `id, "group", code, type, position, sub_type, parent_code, level, name, currency, is_bank_cash, status, parent_id, created_at, updated_at, deleted_at`

func scanAccount(row pgx.Row) (Account, error) {
	var a Account
	err := row.Scan(&a.ID, &a.Group, &a.Code, &a.Type, &a.Position, &a.SubType, &a.ParentCode, &a.Level, &a.Name,
		&a.Currency, &a.IsBankCash, &a.Status, &a.ParentID, &a.CreatedAt, &a.UpdatedAt, &a.DeletedAt)
	return a, err
}

func (r *txRepository) InsertAccount(ctx context.Context, a Account) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO accounts (`+accountColumns+`)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		a.ID, a.Group, a.Code, a.Type, a.Position, a.SubType, a.ParentCode, a.Level, a.Name, a.Currency,
		a.IsBankCash, a.Status, a.ParentID, a.CreatedAt, a.UpdatedAt, a.DeletedAt)
	if err != nil {
		if uniqueViolation(err, "accounts_code_key") {
			return fmt.Errorf("%w: %s", ErrDuplicateCode, a.Code)
		}
		return err
	}
	return nil
}

func (r *txRepository) GetAccountByCode(ctx context.Context, code string) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE code=$1 AND deleted_at IS NULL`, code))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, code)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) GetAccountByID(ctx context.Context, id uuid.UUID) (Account, error) {
	a, err := scanAccount(r.tx.QueryRow(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
		}
		return Account{}, err
	}
	return a, nil
}

func (r *txRepository) ListAccounts(ctx context.Context, includeDeleted bool) ([]Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts`
	if !includeDeleted {
		query += ` WHERE deleted_at IS NULL`
	}
	rows, err := r.tx.Query(ctx, query+` ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

func (r *txRepository) UpdateAccount(ctx context.Context, a Account) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE accounts SET status=$2, parent_id=$3, parent_code=$4, deleted_at=$5, updated_at=$6 WHERE id=$1`,
		a.ID, a.Status, a.ParentID, a.ParentCode, a.DeletedAt, a.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, a.ID)
	}
	return nil
}

func (r *txRepository) LockAccounts(ctx context.Context, ids []uuid.UUID, mode LockMode) error {
	keys := make([]int64, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, shared.AccountLockKey(id))
	}
	// Ascending key order keeps concurrent lockers from deadlocking.
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	fn := "pg_advisory_xact_lock_shared"
	if mode == LockExclusive {
		fn = "pg_advisory_xact_lock"
	}
	var prev *int64
	for i := range keys {
		if prev != nil && *prev == keys[i] {
			continue
		}
		if _, err := r.tx.Exec(ctx, `SELECT `+fn+`($1)`, keys[i]); err != nil {
			return err
		}
		prev = &keys[i]
	}
	return nil
}

func (r *txRepository) InsertPosting(ctx context.Context, p Posting) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO postings (id, transaction_date, reference_number, memo, source_module, source_ref, reversal_of, posted_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		p.ID, p.TransactionDate, p.ReferenceNumber, p.Memo, p.SourceModule, p.SourceRef, p.ReversalOf, nullInt(p.PostedBy), p.CreatedAt)
	if err != nil {
		if uniqueViolation(err, "uq_postings_source") {
			return fmt.Errorf("%w: %s/%s", ErrSourceAlreadyLinked, p.SourceModule, p.SourceRef)
		}
		return err
	}
	return nil
}

func (r *txRepository) InsertJournalEntries(ctx context.Context, entries []JournalEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(`INSERT INTO journals (id, posting_id, line_no, transaction_date, reference_number, position, amount, description, payment_method, account_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
			e.ID, e.PostingID, e.LineNo, e.TransactionDate, e.ReferenceNumber, e.Position, toNumeric(e.Amount),
			e.Description, e.PaymentMethod, e.AccountID, e.CreatedAt)
	}
	return r.tx.SendBatch(ctx, batch).Close()
}

const journalColumns = `id, posting_id, line_no, transaction_date, reference_number, position, amount, description, payment_method, account_id, created_at, deleted_at`

func scanJournal(row pgx.Row) (JournalEntry, error) {
	var e JournalEntry
	err := row.Scan(&e.ID, &e.PostingID, &e.LineNo, &e.TransactionDate, &e.ReferenceNumber, &e.Position, &e.Amount,
		&e.Description, &e.PaymentMethod, &e.AccountID, &e.CreatedAt, &e.DeletedAt)
	return e, err
}

func (r *txRepository) GetPosting(ctx context.Context, id uuid.UUID) (Posting, error) {
	var (
		p        Posting
		postedBy *int64
	)
	err := r.tx.QueryRow(ctx, `SELECT id, transaction_date, reference_number, memo, source_module, source_ref, reversal_of, reversed_by, posted_by, created_at, deleted_at
FROM postings WHERE id=$1`, id).
		Scan(&p.ID, &p.TransactionDate, &p.ReferenceNumber, &p.Memo, &p.SourceModule, &p.SourceRef, &p.ReversalOf, &p.ReversedBy, &postedBy, &p.CreatedAt, &p.DeletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Posting{}, fmt.Errorf("%w: %s", ErrPostingNotFound, id)
		}
		return Posting{}, err
	}
	if postedBy != nil {
		p.PostedBy = *postedBy
	}
	rows, err := r.tx.Query(ctx, `SELECT `+journalColumns+` FROM journals WHERE posting_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Posting{}, err
	}
	defer rows.Close()
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return Posting{}, err
		}
		p.Entries = append(p.Entries, e)
	}
	return p, rows.Err()
}

func (r *txRepository) MarkPostingReversed(ctx context.Context, id, reversalID uuid.UUID) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE postings SET reversed_by=$2 WHERE id=$1 AND reversed_by IS NULL AND deleted_at IS NULL`, id, reversalID)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: posting %s reversed or voided concurrently", ErrSerializationFailure, id)
	}
	return nil
}

func (r *txRepository) VoidPosting(ctx context.Context, id uuid.UUID, at time.Time) error {
	// The row is re-checked under its lock; a reversal committed since the
	// caller read the posting leaves zero rows and the caller retries.
	cmd, err := r.tx.Exec(ctx, `UPDATE postings SET deleted_at=$2
WHERE id=$1 AND deleted_at IS NULL AND reversed_by IS NULL AND reversal_of IS NULL`, id, at)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: posting %s reversed or voided concurrently", ErrSerializationFailure, id)
	}
	if _, err := r.tx.Exec(ctx, `UPDATE journals SET deleted_at=$2 WHERE posting_id=$1 AND deleted_at IS NULL`, id, at); err != nil {
		return err
	}
	_, err = r.tx.Exec(ctx, `UPDATE general_ledgers SET deleted_at=$2 WHERE posting_id=$1 AND deleted_at IS NULL`, id, at)
	return err
}

func (r *txRepository) ListJournalEntries(ctx context.Context, filter JournalFilter) ([]JournalEntry, error) {
	var (
		conds []string
		args  []any
	)
	if !filter.IncludeVoided {
		conds = append(conds, "deleted_at IS NULL")
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("transaction_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("transaction_date <= $%d", len(args)))
	}
	rows, err := r.tx.Query(ctx, `SELECT `+journalColumns+` FROM journals`+where(conds)+` ORDER BY transaction_date, posting_id, line_no`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var entries []JournalEntry
	for rows.Next() {
		e, err := scanJournal(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (r *txRepository) InsertLedgerLines(ctx context.Context, lines []GeneralLedgerLine) ([]GeneralLedgerLine, error) {
	out := make([]GeneralLedgerLine, 0, len(lines))
	for _, l := range lines {
		err := r.tx.QueryRow(ctx, `INSERT INTO general_ledgers (id, account_id, posting_date, description, debit, credit, journal_id, posting_id, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING sequence`,
			l.ID, l.AccountID, l.PostingDate, l.Description, toNumeric(l.Debit), toNumeric(l.Credit), l.JournalID, l.PostingID, l.CreatedAt).
			Scan(&l.Sequence)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}

func lineConditions(filter LineFilter) ([]string, []any) {
	var (
		conds []string
		args  []any
	)
	if !filter.IncludeVoided {
		conds = append(conds, "deleted_at IS NULL")
	}
	if filter.AccountIDs != nil {
		args = append(args, filter.AccountIDs)
		conds = append(conds, fmt.Sprintf("account_id = ANY($%d)", len(args)))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		conds = append(conds, fmt.Sprintf("posting_date >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conds = append(conds, fmt.Sprintf("posting_date <= $%d", len(args)))
	}
	return conds, args
}

func (r *txRepository) SumLines(ctx context.Context, filter LineFilter) (LineTotals, error) {
	conds, args := lineConditions(filter)
	var totals LineTotals
	err := r.tx.QueryRow(ctx, `SELECT COALESCE(SUM(debit),0), COALESCE(SUM(credit),0), COUNT(*) FROM general_ledgers`+where(conds), args...).
		Scan(&totals.Debit, &totals.Credit, &totals.Count)
	if err != nil {
		return LineTotals{}, err
	}
	totals.Debit = RoundMinor(totals.Debit)
	totals.Credit = RoundMinor(totals.Credit)
	return totals, nil
}

func (r *txRepository) ListLines(ctx context.Context, filter LineFilter) ([]GeneralLedgerLine, error) {
	conds, args := lineConditions(filter)
	rows, err := r.tx.Query(ctx, `SELECT id, sequence, account_id, posting_date, description, debit, credit, journal_id, posting_id, created_at, deleted_at
FROM general_ledgers`+where(conds)+` ORDER BY posting_date, sequence`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var lines []GeneralLedgerLine
	for rows.Next() {
		var l GeneralLedgerLine
		if err := rows.Scan(&l.ID, &l.Sequence, &l.AccountID, &l.PostingDate, &l.Description, &l.Debit, &l.Credit,
			&l.JournalID, &l.PostingID, &l.CreatedAt, &l.DeletedAt); err != nil {
			return nil, err
		}
		lines = append(lines, l)
	}
	return lines, rows.Err()
}

const ledgerColumns = `id, account_id, period_start, period_end, beginning_balance, ending_balance, status, closed_at, reopened_at, created_at, updated_at`

func scanLedger(row pgx.Row) (Ledger, error) {
	var l Ledger
	err := row.Scan(&l.ID, &l.AccountID, &l.PeriodStart, &l.PeriodEnd, &l.BeginningBalance, &l.EndingBalance,
		&l.Status, &l.ClosedAt, &l.ReopenedAt, &l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return Ledger{}, err
	}
	l.PeriodStart = DateOnly(l.PeriodStart)
	l.PeriodEnd = DateOnly(l.PeriodEnd)
	return l, nil
}

func (r *txRepository) ListPeriods(ctx context.Context, accountID uuid.UUID) ([]Ledger, error) {
	rows, err := r.tx.Query(ctx, `SELECT `+ledgerColumns+` FROM ledgers WHERE account_id=$1 ORDER BY period_start`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var periods []Ledger
	for rows.Next() {
		l, err := scanLedger(rows)
		if err != nil {
			return nil, err
		}
		periods = append(periods, l)
	}
	return periods, rows.Err()
}

func (r *txRepository) InsertPeriod(ctx context.Context, l Ledger) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO ledgers (`+ledgerColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)`,
		l.ID, l.AccountID, l.PeriodStart, l.PeriodEnd, toNumeric(l.BeginningBalance), toNumeric(l.EndingBalance),
		l.Status, l.ClosedAt, l.ReopenedAt, l.CreatedAt, l.UpdatedAt)
	if err != nil {
		if uniqueViolation(err, "uq_ledgers_account_period") {
			return fmt.Errorf("%w: period already recorded", ErrSerializationFailure)
		}
		return err
	}
	return nil
}

func (r *txRepository) UpdatePeriod(ctx context.Context, l Ledger) error {
	cmd, err := r.tx.Exec(ctx, `UPDATE ledgers SET beginning_balance=$2, ending_balance=$3, status=$4, closed_at=$5, reopened_at=$6, updated_at=$7 WHERE id=$1`,
		l.ID, toNumeric(l.BeginningBalance), toNumeric(l.EndingBalance), l.Status, l.ClosedAt, l.ReopenedAt, l.UpdatedAt)
	if err != nil {
		return err
	}
	if cmd.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", ErrPeriodNotFound, l.ID)
	}
	return nil
}

func (r *txRepository) LatestClosedPeriod(ctx context.Context, accountID uuid.UUID) (Ledger, bool, error) {
	l, err := scanLedger(r.tx.QueryRow(ctx, `SELECT `+ledgerColumns+` FROM ledgers
WHERE account_id=$1 AND status='CLOSED'
ORDER BY period_end DESC LIMIT 1`, accountID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Ledger{}, false, nil
		}
		return Ledger{}, false, err
	}
	return l, true, nil
}

func where(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}

func nullInt(val int64) any {
	if val == 0 {
		return nil
	}
	return val
}

func toNumeric(v decimal.Decimal) any {
	return FormatAmount(v)
}
