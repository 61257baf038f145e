package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/gl"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newPostCommand(st *state) *cobra.Command {
	var (
		date  string
		lines []string
		in    accounting.PostingInput
	)
	cmd := &cobra.Command{
		Use:   "post",
		Short: "Record a balanced posting",
		Example: `  ledger post --date 2024-01-15 --ref INV-1 \
    --line 1130:debit:110 --line 4100:credit:100 --line 2130:credit:10`,
		Args: cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			d, err := parseDate(date)
			if err != nil {
				return err
			}
			in.TransactionDate = d
			in.PostedBy = st.actorID
			in.Lines = in.Lines[:0]
			for _, raw := range lines {
				line, err := parseLine(raw)
				if err != nil {
					return err
				}
				in.Lines = append(in.Lines, line)
			}
			posting, err := rt.Engine.Post(ctx, in)
			if err != nil {
				return err
			}
			return printPosting(cmd.OutOrStdout(), st.asJSON, posting)
		}),
	}
	cmd.Flags().StringVar(&date, "date", time.Now().UTC().Format(time.DateOnly), "transaction date")
	cmd.Flags().StringVar(&in.ReferenceNumber, "ref", "", "reference number")
	cmd.Flags().StringVar(&in.Memo, "memo", "", "memo")
	cmd.Flags().StringVar(&in.SourceModule, "source-module", "", "originating module")
	cmd.Flags().StringVar(&in.SourceRef, "source-ref", "", "originating document; unique per module")
	cmd.Flags().StringArrayVar(&lines, "line", nil, "CODE:debit|credit:AMOUNT[:description], repeatable")
	_ = cmd.MarkFlagRequired("line")
	return cmd
}

func newReverseCommand(st *state) *cobra.Command {
	var date, memo string
	cmd := &cobra.Command{
		Use:   "reverse POSTING_ID",
		Short: "Post the mirror image of a posting",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			id, err := parsePostingID(args[0])
			if err != nil {
				return err
			}
			in := gl.ReverseInput{PostingID: id, Memo: memo, ActorID: st.actorID}
			if date != "" {
				d, err := parseDate(date)
				if err != nil {
					return err
				}
				in.Date = &d
			}
			posting, err := rt.Engine.Reverse(ctx, in)
			if err != nil {
				return err
			}
			return printPosting(cmd.OutOrStdout(), st.asJSON, posting)
		}),
	}
	cmd.Flags().StringVar(&date, "date", "", "reversal date (defaults to the original date)")
	cmd.Flags().StringVar(&memo, "memo", "", "memo")
	return cmd
}

func newVoidCommand(st *state) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "void POSTING_ID",
		Short: "Tombstone a posting in an open period",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			id, err := parsePostingID(args[0])
			if err != nil {
				return err
			}
			posting, err := rt.Engine.Void(ctx, gl.VoidInput{PostingID: id, Reason: reason, ActorID: st.actorID})
			if err != nil {
				return err
			}
			return printPosting(cmd.OutOrStdout(), st.asJSON, posting)
		}),
	}
	cmd.Flags().StringVar(&reason, "reason", "", "recorded in the audit trail")
	return cmd
}

func newBalanceCommand(st *state) *cobra.Command {
	var asOf string
	cmd := &cobra.Command{
		Use:   "balance CODE",
		Short: "Print the balance of an account on its normal side",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			at, err := parseInstant(asOf, time.Now().UTC())
			if err != nil {
				return err
			}
			bal, err := rt.Engine.BalanceAsOf(ctx, args[0], at)
			if err != nil {
				return err
			}
			if st.asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]string{
					"account": args[0],
					"as_of":   at.Format(time.RFC3339Nano),
					"balance": accounting.FormatAmount(bal),
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), accounting.FormatAmount(bal))
			return nil
		}),
	}
	cmd.Flags().StringVar(&asOf, "as-of", "", "date or RFC 3339 instant (defaults to now)")
	return cmd
}

func newStatementCommand(st *state) *cobra.Command {
	var from, to string
	cmd := &cobra.Command{
		Use:   "statement CODE",
		Short: "List GL lines of an account with a running balance",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			start, err := parseDate(from)
			if err != nil {
				return err
			}
			end, err := parseDate(to)
			if err != nil {
				return err
			}
			stmt, err := rt.Engine.Poster.Statement(ctx, args[0], start, end)
			if err != nil {
				return err
			}
			if st.asJSON {
				return writeJSON(cmd.OutOrStdout(), stmt)
			}
			tw := newTable(cmd.OutOrStdout(), "DATE", "POSTING", "DESCRIPTION", "DEBIT", "CREDIT", "BALANCE")
			row(tw, stmt.From, "", "opening", "", "", stmt.Opening)
			for _, l := range stmt.Lines {
				row(tw, l.PostingDate, l.PostingID, l.Description, l.Debit, l.Credit, l.Balance)
			}
			row(tw, stmt.To, "", "closing", "", "", stmt.Closing)
			return tw.Flush()
		}),
	}
	cmd.Flags().StringVar(&from, "from", "", "first date (required)")
	cmd.Flags().StringVar(&to, "to", "", "last date, inclusive (required)")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func parsePostingID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: posting id %q", accounting.ErrInvalidInput, raw)
	}
	return id, nil
}

func printPosting(w io.Writer, asJSON bool, p accounting.Posting) error {
	if asJSON {
		return writeJSON(w, p)
	}
	fmt.Fprintf(w, "posting %s on %s", p.ID, p.TransactionDate.UTC().Format(time.DateOnly))
	if p.ReversalOf != nil {
		fmt.Fprintf(w, " (reverses %s)", *p.ReversalOf)
	}
	if p.IsVoided() {
		fmt.Fprint(w, " [voided]")
	}
	fmt.Fprintln(w)
	tw := newTable(w, "LINE", "SIDE", "AMOUNT", "DESCRIPTION")
	for _, e := range p.Entries {
		row(tw, e.LineNo, e.Position, e.Amount, e.Description)
	}
	return tw.Flush()
}
