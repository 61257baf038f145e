package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newMappingsCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mappings",
		Short: "Bind integration keys to account codes",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "set MODULE KEY CODE",
			Short: "Bind MODULE/KEY to an account code",
			Args:  cobra.ExactArgs(3),
			RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, args []string) error {
				return rt.Engine.Mappings.Set(ctx, args[0], args[1], args[2])
			}),
		},
		&cobra.Command{
			Use:   "list",
			Short: "List every binding",
			Args:  cobra.NoArgs,
			RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
				list, err := rt.Engine.Mappings.List(ctx)
				if err != nil {
					return err
				}
				if st.asJSON {
					return writeJSON(cmd.OutOrStdout(), list)
				}
				tw := newTable(cmd.OutOrStdout(), "MODULE", "KEY", "ACCOUNT")
				for _, m := range list {
					row(tw, m.Module, m.Key, m.AccountCode)
				}
				return tw.Flush()
			}),
		},
	)
	return cmd
}
