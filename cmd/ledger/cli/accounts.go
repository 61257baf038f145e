package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/accounting"
	"github.com/odyssey-erp/odyssey-ledger/internal/accounting/accounts"
	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newAccountsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "accounts",
		Aliases: []string{"coa"},
		Short:   "Maintain the chart of accounts",
	}
	cmd.AddCommand(
		newAccountCreateCommand(st),
		newAccountListCommand(st),
		&cobra.Command{
			Use:   "seed",
			Short: "Install the default chart, skipping codes that already exist",
			Args:  cobra.NoArgs,
			RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
				created, err := rt.Engine.Accounts.SeedDefaultChart(ctx, st.actorID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d account(s)\n", len(created))
				return nil
			}),
		},
		newAccountMutationCommand(st, "deactivate", "Retire an account without deleting it", func(ctx context.Context, rt *app.Runtime, code string) (accounting.Account, error) {
			return rt.Engine.Deactivate(ctx, code, st.actorID)
		}),
		newAccountMutationCommand(st, "activate", "Re-activate a retired account", func(ctx context.Context, rt *app.Runtime, code string) (accounting.Account, error) {
			return rt.Engine.Accounts.Activate(ctx, code, st.actorID)
		}),
		newAccountMutationCommand(st, "delete", "Tombstone an account without children", func(ctx context.Context, rt *app.Runtime, code string) (accounting.Account, error) {
			return rt.Engine.Accounts.Delete(ctx, code, st.actorID)
		}),
		newAccountReparentCommand(st),
		newAccountTreeCommand(st, "ancestors", "Print the chain from the root to the direct parent", func(ctx context.Context, rt *app.Runtime, code string) ([]accounting.Account, error) {
			return rt.Engine.Ancestors(ctx, code)
		}),
		newAccountTreeCommand(st, "children", "Print the direct children", func(ctx context.Context, rt *app.Runtime, code string) ([]accounting.Account, error) {
			return rt.Engine.Accounts.Children(ctx, code)
		}),
		newAccountTreeCommand(st, "descendants", "Print every account below", func(ctx context.Context, rt *app.Runtime, code string) ([]accounting.Account, error) {
			return rt.Engine.Accounts.Descendants(ctx, code)
		}),
		newAccountImportCommand(st),
		newAccountExportCommand(st),
	)
	return cmd
}

func newAccountCreateCommand(st *state) *cobra.Command {
	var (
		in       accounting.CreateAccountInput
		typ      string
		position string
		level    string
	)
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Add an account to the chart",
		Args:  cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			in.Type = accounting.AccountType(strings.ToLower(typ))
			in.Level = accounting.AccountLevel(strings.ToUpper(level))
			if position == "" {
				in.Position = accounting.NormalPosition(in.Type)
			} else {
				in.Position = accounting.Position(strings.ToLower(position))
			}
			in.ActorID = st.actorID
			account, err := rt.Engine.CreateAccount(ctx, in)
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), st.asJSON, []accounting.Account{account})
		}),
	}
	cmd.Flags().StringVar(&in.Code, "code", "", "account code (required)")
	cmd.Flags().StringVar(&in.Name, "name", "", "account name (required)")
	cmd.Flags().StringVar(&typ, "type", "", "asset, liability, equity, revenue or expense (required)")
	cmd.Flags().StringVar(&level, "level", "D", "H for header, D for detail")
	cmd.Flags().StringVar(&position, "position", "", "debit or credit (defaults to the type's normal side)")
	cmd.Flags().BoolVar(&in.AllowPositionOverride, "allow-position-override", false, "accept a position contrary to the type")
	cmd.Flags().StringVar(&in.ParentCode, "parent", "", "parent header code")
	cmd.Flags().Int16Var(&in.Group, "group", 0, "reporting group")
	cmd.Flags().StringVar(&in.SubType, "sub-type", "", "free-form sub type")
	cmd.Flags().StringVar(&in.Currency, "currency", "", "ISO currency code")
	cmd.Flags().BoolVar(&in.IsBankCash, "bank-cash", false, "mark as a bank or cash account")
	_ = cmd.MarkFlagRequired("code")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newAccountListCommand(st *state) *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List accounts ordered by code",
		Args:  cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			list, err := rt.Engine.Accounts.List(ctx, all)
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), st.asJSON, list)
		}),
	}
	cmd.Flags().BoolVar(&all, "all", false, "include deleted accounts")
	return cmd
}

func newAccountMutationCommand(st *state, use, short string, fn func(context.Context, *app.Runtime, string) (accounting.Account, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CODE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			account, err := fn(ctx, rt, args[0])
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), st.asJSON, []accounting.Account{account})
		}),
	}
}

func newAccountReparentCommand(st *state) *cobra.Command {
	var parent string
	cmd := &cobra.Command{
		Use:   "reparent CODE",
		Short: "Move an account under another header, or to the root without --parent",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			account, err := rt.Engine.Accounts.Reparent(ctx, args[0], parent, st.actorID)
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), st.asJSON, []accounting.Account{account})
		}),
	}
	cmd.Flags().StringVar(&parent, "parent", "", "new parent header code")
	return cmd
}

func newAccountTreeCommand(st *state, use, short string, fn func(context.Context, *app.Runtime, string) ([]accounting.Account, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " CODE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			list, err := fn(ctx, rt, args[0])
			if err != nil {
				return err
			}
			return printAccounts(cmd.OutOrStdout(), st.asJSON, list)
		}),
	}
}

func newAccountImportCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "import FILE",
		Short: "Create accounts from a CSV file, parents before children",
		Args:  cobra.ExactArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			inputs, err := accounts.ReadAccounts(f)
			if err != nil {
				return err
			}
			created, err := rt.Engine.Accounts.Import(ctx, inputs, st.actorID)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d account(s)\n", len(created))
			return nil
		}),
	}
}

func newAccountExportCommand(st *state) *cobra.Command {
	return &cobra.Command{
		Use:   "export [FILE]",
		Short: "Write the live chart as CSV to FILE or stdout",
		Args:  cobra.MaximumNArgs(1),
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
			list, err := rt.Engine.Accounts.List(ctx, false)
			if err != nil {
				return err
			}
			var w io.Writer = cmd.OutOrStdout()
			if len(args) == 1 {
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}
			return accounts.WriteAccounts(w, list)
		}),
	}
}

func printAccounts(w io.Writer, asJSON bool, list []accounting.Account) error {
	if asJSON {
		return writeJSON(w, list)
	}
	tw := newTable(w, "CODE", "NAME", "TYPE", "POSITION", "LEVEL", "PARENT", "STATUS")
	for _, a := range list {
		status := string(a.Status)
		if a.DeletedAt != nil {
			status = "deleted"
		}
		row(tw, a.Code, a.Name, a.Type, a.Position, a.Level, a.ParentCode, status)
	}
	return tw.Flush()
}
