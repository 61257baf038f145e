// Package cli implements the ledger command line: chart maintenance, postings,
// balances, period close and job triggers.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

// Opener builds the runtime a command runs against.
type Opener func(ctx context.Context) (*app.Runtime, error)

// DefaultOpener loads configuration from the environment and connects the
// configured store.
func DefaultOpener(ctx context.Context) (*app.Runtime, error) {
	cfg, err := app.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Open(ctx, cfg, app.NewLogger(cfg))
}

type state struct {
	open    Opener
	rt      *app.Runtime
	actorID int64
	asJSON  bool
}

func (s *state) runtime(ctx context.Context) (*app.Runtime, error) {
	if s.rt != nil {
		return s.rt, nil
	}
	rt, err := s.open(ctx)
	if err != nil {
		return nil, err
	}
	s.rt = rt
	return rt, nil
}

func (s *state) close() error {
	if s.rt == nil {
		return nil
	}
	err := s.rt.Close()
	s.rt = nil
	return err
}

// run adapts a runtime-consuming function to cobra's RunE.
func (s *state) run(fn func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		rt, err := s.runtime(cmd.Context())
		if err != nil {
			return err
		}
		return fn(cmd.Context(), cmd, rt, args)
	}
}

// newRootCommand creates the root CLI command with all subcommands registered.
func newRootCommand(st *state) *cobra.Command {
	root := &cobra.Command{
		Use:   "ledger",
		Short: "General ledger and chart of accounts",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	root.PersistentFlags().Int64Var(&st.actorID, "actor", 0, "actor id recorded in the audit trail")
	root.PersistentFlags().BoolVar(&st.asJSON, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newDBCommand(st),
		newAccountsCommand(st),
		newMappingsCommand(st),
		newPostCommand(st),
		newReverseCommand(st),
		newVoidCommand(st),
		newBalanceCommand(st),
		newStatementCommand(st),
		newPeriodsCommand(st),
		newTrialBalanceCommand(st),
		newProfitAndLossCommand(st),
		newBalanceSheetCommand(st),
		newJobsCommand(st),
	)
	return root
}

// Run executes the command line in args and releases the runtime afterwards.
func Run(ctx context.Context, open Opener, args []string, stdout, stderr io.Writer) error {
	st := &state{open: open}
	root := newRootCommand(st)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	if closeErr := st.close(); err == nil {
		err = closeErr
	}
	return err
}
