package accounting

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func structValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

func checkStruct(v any) error {
	if err := structValidator().Struct(v); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) {
			fields := make([]string, 0, len(fieldErrs))
			for _, fe := range fieldErrs {
				fields = append(fields, fmt.Sprintf("%s(%s)", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalidInput, strings.Join(fields, ", "))
		}
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// CreateAccountInput captures the fields required to add a chart of accounts node.
type CreateAccountInput struct {
	Group      int16        `validate:"gte=0"`
	Code       string       `validate:"required,max=10"`
	Type       AccountType  `validate:"required,oneof=asset liability equity revenue expense"`
	Position   Position     `validate:"required,oneof=debit credit"`
	Level      AccountLevel `validate:"required,oneof=H D"`
	Name       string       `validate:"required,max=255"`
	SubType    string       `validate:"max=64"`
	ParentCode string       `validate:"max=10"`
	Currency   string       `validate:"omitempty,len=3,uppercase"`
	IsBankCash bool
	// AllowPositionOverride accepts a position contrary to the type's normal side.
	AllowPositionOverride bool
	ActorID               int64
}

// Validate checks shape and the type/position convention.
func (in CreateAccountInput) Validate() error {
	in.Code = strings.TrimSpace(in.Code)
	in.Name = strings.TrimSpace(in.Name)
	if err := checkStruct(in); err != nil {
		return err
	}
	if in.Currency != "" {
		if _, err := currency.ParseISO(in.Currency); err != nil {
			return fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidInput, in.Currency)
		}
	}
	if !in.AllowPositionOverride && NormalPosition(in.Type) != in.Position {
		return fmt.Errorf("%w: %s accounts are %s-normal", ErrTypePositionMismatch, in.Type, NormalPosition(in.Type))
	}
	return nil
}

// PostingLineInput describes a journal line of a posting request.
type PostingLineInput struct {
	AccountCode   string   `validate:"required,max=10"`
	Position      Position `validate:"required,oneof=debit credit"`
	Amount        decimal.Decimal
	Description   string `validate:"max=255"`
	PaymentMethod string `validate:"max=255"`
}

// PostingInput groups fields required to create a balanced posting.
type PostingInput struct {
	TransactionDate time.Time `validate:"required"`
	ReferenceNumber string    `validate:"max=64"`
	Memo            string
	// SourceModule and SourceRef link the posting to an external document; the pair is unique.
	SourceModule string `validate:"required_with=SourceRef,max=64"`
	SourceRef    string `validate:"required_with=SourceModule,max=128"`
	PostedBy     int64
	Lines        []PostingLineInput `validate:"dive"`
}

// Validate enforces the posting preconditions that need no storage access.
func (in PostingInput) Validate() error {
	if len(in.Lines) < 2 {
		return ErrEmptyPosting
	}
	if err := checkStruct(in); err != nil {
		return err
	}
	debit := decimal.Zero
	credit := decimal.Zero
	for idx, line := range in.Lines {
		if err := CheckAmount(line.Amount); err != nil {
			return fmt.Errorf("line %d: %w", idx, err)
		}
		if line.Position == PositionDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("%w: debit %s credit %s", ErrUnbalancedPosting, FormatAmount(debit), FormatAmount(credit))
	}
	return nil
}

// Totals returns the debit and credit sums of the request.
func (in PostingInput) Totals() (decimal.Decimal, decimal.Decimal) {
	debit := decimal.Zero
	credit := decimal.Zero
	for _, line := range in.Lines {
		if line.Position == PositionDebit {
			debit = debit.Add(line.Amount)
		} else {
			credit = credit.Add(line.Amount)
		}
	}
	return debit, credit
}
