package cli

import (
	"context"
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/periods"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newPeriodsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "periods",
		Short: "Close, reopen and inspect per-account periods",
	}
	cmd.AddCommand(newPeriodCloseCommand(st), newPeriodReopenCommand(st), newPeriodListCommand(st))
	return cmd
}

type periodFlags struct {
	start string
	end   string
}

func (f *periodFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.start, "start", "", "first day of the period (required)")
	cmd.Flags().StringVar(&f.end, "end", "", "last day of the period (required)")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
}

func (f *periodFlags) input(code string, actorID int64) (periods.CloseInput, error) {
	start, err := parseDate(f.start)
	if err != nil {
		return periods.CloseInput{}, err
	}
	end, err := parseDate(f.end)
	if err != nil {
		return periods.CloseInput{}, err
	}
	return periods.CloseInput{AccountCode: code, Start: start, End: end, ActorID: actorID}, nil
}

func newPeriodCloseCommand(st *state) *cobra.Command {
	var (
		flags periodFlags
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "close [CODE]",
		Short: "Close a period for one account, or for every detail account with --all",
		Args:  cobra.MaximumNArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			if all == (len(args) == 1) {
				return fmt.Errorf("%w: give an account code or --all", accounting.ErrInvalidInput)
			}
			var code string
			if len(args) == 1 {
				code = args[0]
			}
			in, err := flags.input(code, st.actorID)
			if err != nil {
				return err
			}
			if !all {
				row, err := rt.Engine.Periods.Close(ctx, in)
				if err != nil {
					return err
				}
				return printLedgers(cmd.OutOrStdout(), st.asJSON, []accounting.Ledger{row})
			}
			result, err := rt.Engine.Periods.CloseAll(ctx, in.Start, in.End, st.actorID)
			if err != nil {
				return err
			}
			return printCloseAll(cmd.OutOrStdout(), st.asJSON, result)
		}),
	}
	flags.bind(cmd)
	cmd.Flags().BoolVar(&all, "all", false, "close every postable account")
	return cmd
}

func newPeriodReopenCommand(st *state) *cobra.Command {
	var flags periodFlags
	cmd := &cobra.Command{
		Use:   "reopen CODE",
		Short: "Reopen the latest closed period of an account",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			in, err := flags.input(args[0], st.actorID)
			if err != nil {
				return err
			}
			row, err := rt.Engine.Periods.Reopen(ctx, in)
			if err != nil {
				return err
			}
			return printLedgers(cmd.OutOrStdout(), st.asJSON, []accounting.Ledger{row})
		}),
	}
	flags.bind(cmd)
	return cmd
}

func newPeriodListCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "list CODE",
		Short: "List the ledger rows of an account",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			rows, err := rt.Engine.Periods.List(ctx, args[0])
			if err != nil {
				return err
			}
			return printLedgers(cmd.OutOrStdout(), st.asJSON, rows)
		}),
	}
}

func printLedgers(w io.Writer, asJSON bool, rows []accounting.Ledger) error {
	if asJSON {
		return writeJSON(w, rows)
	}
	tw := newTable(w, "START", "END", "STATUS", "BEGINNING", "ENDING")
	for i := range rows {
		r := rows[i]
		row(tw, r.PeriodStart, r.PeriodEnd, periods.Status(&r), r.BeginningBalance, r.EndingBalance)
	}
	return tw.Flush()
}

func printCloseAll(w io.Writer, asJSON bool, result periods.CloseAllResult) error {
	codes := make([]string, 0, len(result.Skipped))
	for code := range result.Skipped {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	if asJSON {
		skipped := make(map[string]string, len(codes))
		for _, code := range codes {
			skipped[code] = result.Skipped[code].Error()
		}
		return writeJSON(w, map[string]any{"closed": result.Closed, "skipped": skipped})
	}
	fmt.Fprintf(w, "closed %d account(s)\n", len(result.Closed))
	for _, code := range codes {
		fmt.Fprintf(w, "skipped %s: %v\n", code, result.Skipped[code])
	}
	return nil
}
