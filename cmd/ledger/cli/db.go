package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-ledger/internal/app"
)

func newDBCommand(st *state) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database maintenance",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the ledger tables, indexes and triggers",
		Args:  cobra.NoArgs,
		RunE: st.run(func(ctx context.Context, cmd *cobra.Command, rt *app.Runtime, _ []string) error {
			if err := rt.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "schema applied")
			return nil
		}),
	})
	return cmd
}
