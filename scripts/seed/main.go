package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
	"github.com/odyssey-erp/odyssey-ledger/internal/integration"
	"github.com/odyssey-erp/odyssey-ledger/internal/ledger"
)

// seedActor is recorded as the author of every seeded row.
const seedActor = 1

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	rt, err := app.Open(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		log.Fatalf("open ledger: %v", err)
	}
	defer rt.Close()

	fmt.Println("→ Applying schema...")
	if err := rt.InitSchema(ctx); err != nil {
		log.Fatalf("apply schema: %v", err)
	}

	// Phase 1: Chart of accounts
	fmt.Println("→ Seeding chart of accounts...")
	created, err := rt.Engine.Accounts.SeedDefaultChart(ctx, seedActor)
	if err != nil {
		log.Fatalf("seed chart: %v", err)
	}
	fmt.Printf("  %d account(s) created\n", len(created))

	// Phase 2: Integration mappings
	fmt.Println("→ Seeding account mappings...")
	if err := seedMappings(ctx, rt.Engine); err != nil {
		log.Fatalf("seed mappings: %v", err)
	}

	// Phase 3: Demo activity for the previous month
	fmt.Println("→ Seeding demo postings...")
	if err := seedPostings(ctx, rt.Engine, time.Now().UTC()); err != nil {
		log.Fatalf("seed postings: %v", err)
	}

	fmt.Println("✓ Seed complete at", time.Now().Format(time.RFC3339))
}

func seedMappings(ctx context.Context, engine *ledger.Engine) error {
	bindings := []struct{ module, key, code string }{
		{integration.ModuleAR, integration.KeyInvoiceReceivable, "1130"},
		{integration.ModuleAR, integration.KeyInvoiceRevenue, "4100"},
		{integration.ModuleAR, integration.KeyInvoiceTax, "2130"},
		{integration.ModuleAR, integration.KeyPaymentCash, "1120"},
		{integration.ModuleAR, integration.KeyPaymentReceivable, "1130"},
		{integration.ModulePayroll, integration.KeyPayrollExpense, "5200"},
		{integration.ModulePayroll, integration.KeyPayrollLiability, "2120"},
	}
	for _, b := range bindings {
		if err := engine.Mappings.Set(ctx, b.module, b.key, b.code); err != nil {
			return fmt.Errorf("%s/%s: %w", b.module, b.key, err)
		}
	}
	return nil
}

func seedPostings(ctx context.Context, engine *ledger.Engine, now time.Time) error {
	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	day := func(d int) time.Time { return first.AddDate(0, 0, d-1) }

	postings := []struct {
		ref   string
		date  time.Time
		memo  string
		lines [][3]string
	}{
		{"SEED-CAP", day(1), "Owner capital", [][3]string{{"1120", "debit", "50000"}, {"3100", "credit", "50000"}}},
		{"SEED-EQP", day(3), "Office equipment", [][3]string{{"1210", "debit", "12000"}, {"1120", "credit", "12000"}}},
		{"SEED-INV", day(5), "Stock purchase on credit", [][3]string{{"1140", "debit", "8000"}, {"2110", "credit", "8000"}}},
		{"SEED-SALE", day(12), "Cash sale", [][3]string{{"1110", "debit", "5500"}, {"4100", "credit", "5000"}, {"2130", "credit", "500"}}},
		{"SEED-COGS", day(12), "Cost of goods sold", [][3]string{{"5100", "debit", "3000"}, {"1140", "credit", "3000"}}},
		{"SEED-RENT", day(15), "Office rent", [][3]string{{"5300", "debit", "2500"}, {"1120", "credit", "2500"}}},
		{"SEED-DEP", day(28), "Monthly depreciation", [][3]string{{"5500", "debit", "200"}, {"1290", "credit", "200"}}},
	}
	for _, p := range postings {
		in := accounting.PostingInput{
			TransactionDate: p.date,
			ReferenceNumber: p.ref,
			Memo:            p.memo,
			SourceModule:    "SEED",
			SourceRef:       p.ref,
			PostedBy:        seedActor,
		}
		for _, l := range p.lines {
			in.Lines = append(in.Lines, accounting.PostingLineInput{
				AccountCode: l[0],
				Position:    accounting.Position(l[1]),
				Amount:      decimal.RequireFromString(l[2]),
			})
		}
		if _, err := engine.Post(ctx, in); err != nil {
			if errors.Is(err, accounting.ErrSourceAlreadyLinked) {
				continue
			}
			return fmt.Errorf("%s: %w", p.ref, err)
		}
	}

	hooks := integration.NewHooks(engine, engine.Mappings, nil)
	return hooks.HandlePayrollAccrued(ctx, integration.PayrollAccruedEvent{
		ID:        "seed-payroll",
		Period:    first.Format("2006-01"),
		AccruedAt: day(25),
		Gross:     decimal.NewFromInt(9000),
	})
}
