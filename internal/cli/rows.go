package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"dbsetup/internal/refresh"
	"dbsetup/internal/report"
)

func newRowsCmd(a *app) *cobra.Command {
	var output string
	job := refresh.DefaultJob()
	cmd := &cobra.Command{
		Use:       "rows <table>",
		Short:     "Print every row of a refreshed table",
		Args:      cobra.ExactArgs(1),
		ValidArgs: job.Names(),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			table := args[0]
			if !job.Has(table) {
				return fmt.Errorf("unknown table %q (one of %s)", table, strings.Join(job.Names(), ", "))
			}
			ctx := cmd.Context()
			client, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(a.logger, "store", client.Close)

			rows, err := client.Select(ctx, table)
			if err != nil {
				return err
			}
			return report.Rows(cmd.OutOrStdout(), rows, output)
		},
	}
	addOutputFlag(cmd, &output)
	return cmd
}
