package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
)

// Ledger exposes posting operations required by integrations.
type Ledger interface {
	Post(ctx context.Context, in accounting.PostingInput) (accounting.Posting, error)
}

// AccountMappings resolves module/key pairs to account codes.
type AccountMappings interface {
	AccountCode(ctx context.Context, module, key string) (string, error)
}

// Mapping keys consumed by the hooks.
const (
	ModuleAR      = "AR"
	ModulePayroll = "PAYROLL"

	KeyInvoiceReceivable = "ar.invoice.receivable"
	KeyInvoiceRevenue    = "ar.invoice.revenue"
	KeyInvoiceTax        = "ar.invoice.tax"
	KeyPaymentCash       = "ar.payment.cash"
	KeyPaymentReceivable = "ar.payment.receivable"
	KeyPayrollExpense    = "payroll.accrual.expense"
	KeyPayrollLiability  = "payroll.accrual.liability"
)

// InvoiceLine is one billed line of an invoice.
type InvoiceLine struct {
	Qty       decimal.Decimal `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
}

// InvoiceIssuedEvent is emitted by invoicing when an invoice is issued.
type InvoiceIssuedEvent struct {
	ID       string          `json:"id"`
	Number   string          `json:"number"`
	IssuedAt time.Time       `json:"issued_at"`
	Lines    []InvoiceLine   `json:"lines"`
	Tax      decimal.Decimal `json:"tax"`
}

// PaymentReceivedEvent is emitted when a customer payment settles.
type PaymentReceivedEvent struct {
	ID         string          `json:"id"`
	Number     string          `json:"number"`
	ReceivedAt time.Time       `json:"received_at"`
	Amount     decimal.Decimal `json:"amount"`
	Method     string          `json:"method"`
}

// PayrollAccruedEvent is emitted when payroll for a period is accrued.
type PayrollAccruedEvent struct {
	ID        string          `json:"id"`
	Period    string          `json:"period"`
	AccruedAt time.Time       `json:"accrued_at"`
	Gross     decimal.Decimal `json:"gross"`
}

// Hooks wires domain events from operational modules into the general ledger.
type Hooks struct {
	ledger   Ledger
	mappings AccountMappings
	logger   *slog.Logger

	// retryDelay is the first pause before a failed event is dispatched again.
	retryDelay time.Duration
}

// NewHooks constructs integration hooks.
func NewHooks(ledger Ledger, mappings AccountMappings, logger *slog.Logger) *Hooks {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hooks{ledger: ledger, mappings: mappings, logger: logger, retryDelay: time.Second}
}

func (h *Hooks) resolveAccount(ctx context.Context, module, key string) (string, error) {
	code, err := h.mappings.AccountCode(ctx, module, key)
	if err != nil {
		return "", fmt.Errorf("integration: mapping %s/%s: %w", module, key, err)
	}
	return code, nil
}

// post absorbs redelivery: a source that is already linked was posted before.
func (h *Hooks) post(ctx context.Context, input accounting.PostingInput) error {
	if input.SourceRef == "" {
		return fmt.Errorf("%w: source ref required", ErrMalformedEvent)
	}
	_, err := h.ledger.Post(ctx, input)
	if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
		h.logger.InfoContext(ctx, "integration event already posted",
			slog.String("source_module", input.SourceModule),
			slog.String("source_ref", input.SourceRef))
		return nil
	}
	return err
}

func (h *Hooks) ready() bool {
	return h != nil && h.ledger != nil && h.mappings != nil
}

// HandleInvoiceIssued debits receivables and credits revenue and tax payable.
func (h *Hooks) HandleInvoiceIssued(ctx context.Context, evt InvoiceIssuedEvent) error {
	if !h.ready() {
		return nil
	}
	if evt.IssuedAt.IsZero() {
		return fmt.Errorf("%w: invoice issue date required", ErrMalformedEvent)
	}
	subtotal := decimal.Zero
	for _, line := range evt.Lines {
		subtotal = subtotal.Add(lineAmount(line.Qty, line.UnitPrice))
	}
	tax := money(evt.Tax)
	total := subtotal.Add(tax)
	if !total.IsPositive() {
		return nil
	}
	receivable, err := h.resolveAccount(ctx, ModuleAR, KeyInvoiceReceivable)
	if err != nil {
		return err
	}
	revenue, err := h.resolveAccount(ctx, ModuleAR, KeyInvoiceRevenue)
	if err != nil {
		return err
	}
	lines := []accounting.PostingLineInput{
		{AccountCode: receivable, Position: accounting.PositionDebit, Amount: total},
	}
	if subtotal.IsPositive() {
		lines = append(lines, accounting.PostingLineInput{AccountCode: revenue, Position: accounting.PositionCredit, Amount: subtotal})
	}
	if tax.IsPositive() {
		taxAccount, err := h.resolveAccount(ctx, ModuleAR, KeyInvoiceTax)
		if err != nil {
			return err
		}
		lines = append(lines, accounting.PostingLineInput{AccountCode: taxAccount, Position: accounting.PositionCredit, Amount: tax})
	}
	return h.post(ctx, accounting.PostingInput{
		TransactionDate: evt.IssuedAt,
		ReferenceNumber: evt.Number,
		Memo:            fmt.Sprintf("Invoice %s", evt.Number),
		SourceModule:    "AR.INVOICE",
		SourceRef:       evt.ID,
		Lines:           lines,
	})
}

// HandlePaymentReceived debits cash and credits receivables.
func (h *Hooks) HandlePaymentReceived(ctx context.Context, evt PaymentReceivedEvent) error {
	if !h.ready() {
		return nil
	}
	if evt.ReceivedAt.IsZero() {
		return fmt.Errorf("%w: payment date required", ErrMalformedEvent)
	}
	amount := money(evt.Amount)
	if !amount.IsPositive() {
		return nil
	}
	cash, err := h.resolveAccount(ctx, ModuleAR, KeyPaymentCash)
	if err != nil {
		return err
	}
	receivable, err := h.resolveAccount(ctx, ModuleAR, KeyPaymentReceivable)
	if err != nil {
		return err
	}
	return h.post(ctx, accounting.PostingInput{
		TransactionDate: evt.ReceivedAt,
		ReferenceNumber: evt.Number,
		Memo:            fmt.Sprintf("Payment %s", evt.Number),
		SourceModule:    "AR.PAYMENT",
		SourceRef:       evt.ID,
		Lines: []accounting.PostingLineInput{
			{AccountCode: cash, Position: accounting.PositionDebit, Amount: amount, PaymentMethod: evt.Method},
			{AccountCode: receivable, Position: accounting.PositionCredit, Amount: amount, PaymentMethod: evt.Method},
		},
	})
}

// HandlePayrollAccrued debits salaries expense and credits accrued payroll.
func (h *Hooks) HandlePayrollAccrued(ctx context.Context, evt PayrollAccruedEvent) error {
	if !h.ready() {
		return nil
	}
	if evt.AccruedAt.IsZero() {
		return fmt.Errorf("%w: payroll accrual date required", ErrMalformedEvent)
	}
	gross := money(evt.Gross)
	if !gross.IsPositive() {
		return nil
	}
	expense, err := h.resolveAccount(ctx, ModulePayroll, KeyPayrollExpense)
	if err != nil {
		return err
	}
	liability, err := h.resolveAccount(ctx, ModulePayroll, KeyPayrollLiability)
	if err != nil {
		return err
	}
	return h.post(ctx, accounting.PostingInput{
		TransactionDate: evt.AccruedAt,
		ReferenceNumber: evt.Period,
		Memo:            fmt.Sprintf("Payroll accrual %s", evt.Period),
		SourceModule:    "PAYROLL.ACCRUAL",
		SourceRef:       evt.ID,
		Lines: []accounting.PostingLineInput{
			{AccountCode: expense, Position: accounting.PositionDebit, Amount: gross},
			{AccountCode: liability, Position: accounting.PositionCredit, Amount: gross},
		},
	})
}
