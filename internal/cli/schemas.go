package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbsetup/internal/introspect"
	"dbsetup/internal/report"
)

func newSchemasCmd(a *app) *cobra.Command {
	var (
		only   []string
		output string
	)
	cmd := &cobra.Command{
		Use:   "schemas",
		Short: "List schemas and their tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			client, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(a.logger, "store", client.Close)

			inv, err := introspect.New(client, introspect.Options{
				SchemasProcedure: a.cfg.SchemasProcedure,
				TablesProcedure:  a.cfg.TablesProcedure,
				Only:             only,
				Logger:           a.logger,
			}).Walk(ctx)
			if err != nil {
				return err
			}
			if err := report.Inventory(cmd.OutOrStdout(), inv, output); err != nil {
				return err
			}
			if failed := inv.Failed(); len(failed) > 0 {
				return fmt.Errorf("tables of %d schema(s) could not be listed", len(failed))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&only, "schema", nil, "only list these schemas (repeatable)")
	addOutputFlag(cmd, &output)
	return cmd
}
