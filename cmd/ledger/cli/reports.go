package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/reports"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newTrialBalanceCommand(st *state) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:     "tb",
		Aliases: []string{"trial-balance"},
		Short:   "Print the trial balance as of a date",
		Args:    cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			date, err := reportDate(asOf)
			if err != nil {
				return err
			}
			tb, err := rt.Engine.Reports.TrialBalance(ctx, date)
			if err != nil {
				return err
			}
			if st.asJSON {
				return writeJSON(cmd.OutOrStdout(), tb)
			}
			tw := newTable(cmd.OutOrStdout(), "CODE", "NAME", "DEBIT", "CREDIT")
			for _, r := range tb.Rows {
				row(tw, r.Code, strings.Repeat("  ", r.Depth)+r.Name, r.Debit, r.Credit)
			}
			row(tw, "", "Total", tb.TotalDebit, tb.TotalCredit)
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "report date (defaults to today)")
	return cmd
}

func newProfitAndLossCommand(st *state) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:     "pl",
		Aliases: []string{"profit-and-loss"},
		Short:   "Print revenue, expense and net income for a date range",
		Args:    cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			start, err := parseDate(from)
			if err != nil {
				return err
			}
			end, err := parseDate(to)
			if err != nil {
				return err
			}
			pl, err := rt.Engine.Reports.ProfitAndLoss(ctx, start, end)
			if err != nil {
				return err
			}
			if st.asJSON {
				return writeJSON(cmd.OutOrStdout(), pl)
			}
			w := cmd.OutOrStdout()
			for _, section := range []reports.ProfitAndLossSection{pl.Revenue, pl.Expense} {
				tw := newTable(w, section.Label, "", "AMOUNT")
				for _, a := range section.Accounts {
					row(tw, a.Code, a.Name, a.Amount)
				}
				row(tw, "", "Total", section.Total)
				if err := tw.Flush(); err != nil {
					return err
				}
				fmt.Fprintln(w)
			}
			fmt.Fprintf(w, "Net income\t%s\n", accounting.FormatAmount(pl.NetIncome))
			return nil
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (required)")
	cmd.Flags().StringVar(&to, "to", "", "last date, inclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newBalanceSheetCommand(st *state) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:     "bs",
		Aliases: []string{"balance-sheet"},
		Short:   "Print assets, liabilities and equity as of a date",
		Args:    cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			date, err := reportDate(asOf)
			if err != nil {
				return err
			}
			bs, err := rt.Engine.Reports.BalanceSheet(ctx, date)
			if err != nil {
				return err
			}
			if st.asJSON {
				return writeJSON(cmd.OutOrStdout(), bs)
			}
			return printBalanceSheet(cmd.OutOrStdout(), bs)
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "report date (defaults to today)")
	return cmd
}

func printBalanceSheet(w io.Writer, bs reports.BalanceSheet) error {
	for _, section := range []reports.BalanceSheetSection{bs.Assets, bs.Liabilities, bs.Equity} {
		tw := newTable(w, section.Label, "", "BALANCE")
		for _, a := range section.Accounts {
			row(tw, a.Code, a.Name, a.Balance)
		}
		if section.Label == bs.Equity.Label {
			row(tw, "", "Current earnings", bs.CurrentEarnings)
		}
		row(tw, "", "Total", section.Total)
		if err := tw.Flush(); err != nil {
			return err
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintf(w, "Liabilities and equity\t%s\n", accounting.FormatAmount(bs.TotalLiabilitiesAndEquity))
	if !bs.Balanced() {
		fmt.Fprintln(w, "WARNING: balance sheet does not balance")
	}
	return nil
}

// reportDate reads a calendar date, defaulting to today in UTC.
func reportDate(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return accounting.DateOnly(time.Now().UTC()), nil
	}
	return parseDate(raw)
}
