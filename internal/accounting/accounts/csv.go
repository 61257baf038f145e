package accounts

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

var csvHeader = []string{"code", "name", "type", "position", "level", "parent_code", "group", "sub_type", "currency", "is_bank_cash", "status"}

const (
	colCode = iota
	colName
	colType
	colPosition
	colLevel
	colParent
	colGroup
	colSubType
	colCurrency
	colBankCash
	colStatus
)

// WriteAccounts writes the chart as CSV.
func WriteAccounts(w io.Writer, accounts []accounting.Account) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for i, a := range accounts {
		row := make([]string, len(csvHeader))
		row[colCode] = a.Code
		row[colName] = a.Name
		row[colType] = string(a.Type)
		row[colPosition] = string(a.Position)
		row[colLevel] = string(a.Level)
		row[colParent] = a.ParentCode
		row[colGroup] = strconv.Itoa(int(a.Group))
		row[colSubType] = a.SubType
		if a.Currency != nil {
			row[colCurrency] = *a.Currency
		}
		row[colBankCash] = strconv.FormatBool(a.IsBankCash)
		row[colStatus] = string(a.Status)
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing row %d: %w", i+2, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadAccounts parses a chart CSV into creation requests. Positions that differ
// from the type's normal side are read as explicit overrides.
func ReadAccounts(r io.Reader) ([]accounting.CreateAccountInput, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("%w: reading accounts CSV: %v", accounting.ErrInvalidInput, err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	out := make([]accounting.CreateAccountInput, 0, len(records)-1)
	for i, rec := range records[1:] {
		in := accounting.CreateAccountInput{
			Code:       rec[colCode],
			Name:       rec[colName],
			Type:       accounting.AccountType(rec[colType]),
			Position:   accounting.Position(rec[colPosition]),
			Level:      accounting.AccountLevel(rec[colLevel]),
			ParentCode: rec[colParent],
			SubType:    rec[colSubType],
			Currency:   rec[colCurrency],
		}
		if rec[colGroup] != "" {
			group, err := strconv.ParseInt(rec[colGroup], 10, 16)
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: group %q", accounting.ErrInvalidInput, i+2, rec[colGroup])
			}
			in.Group = int16(group)
		}
		if rec[colBankCash] != "" {
			flag, err := strconv.ParseBool(rec[colBankCash])
			if err != nil {
				return nil, fmt.Errorf("%w: row %d: is_bank_cash %q", accounting.ErrInvalidInput, i+2, rec[colBankCash])
			}
			in.IsBankCash = flag
		}
		in.AllowPositionOverride = in.Type.Valid() && accounting.NormalPosition(in.Type) != in.Position
		out = append(out, in)
	}
	return out, nil
}

// Import creates every row atomically. Parents must appear before their children.
func (s *Service) Import(ctx context.Context, inputs []accounting.CreateAccountInput, actorID int64) ([]accounting.Account, error) {
	for i, in := range inputs {
		if err := in.Validate(); err != nil {
			return nil, fmt.Errorf("row %d: %w", i+2, err)
		}
	}
	var created []accounting.Account
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx accounting.TxRepository) error {
		if err := tx.LockAccounts(ctx, []uuid.UUID{chartLockID}, accounting.LockExclusive); err != nil {
			return err
		}
		created = created[:0]
		for i, in := range inputs {
			account, err := s.insert(ctx, tx, in)
			if err != nil {
				return fmt.Errorf("row %d: %w", i+2, err)
			}
			created = append(created, account)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.invalidate()
	for _, a := range created {
		s.record(ctx, actorID, "account.create", a, map[string]any{"import": true})
	}
	return created, nil
}
