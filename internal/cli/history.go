package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"dbsetup/internal/report"
)

func newHistoryCmd(a *app) *cobra.Command {
	var (
		limit  int
		runID  string
		output string
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recorded script and refresh runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			ctx := cmd.Context()
			jr, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			if jr == nil {
				return errors.New("run journal is disabled (journal_path is empty)")
			}
			defer closeQuietly(a.logger, "journal", jr.Close)

			out := cmd.OutOrStdout()
			if runID != "" {
				entries, err := jr.Entries(ctx, runID)
				if err != nil {
					return err
				}
				return report.Entries(out, entries, output)
			}
			runs, err := jr.List(ctx, limit)
			if err != nil {
				return err
			}
			return report.Runs(out, runs, output)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs to show (0 for all)")
	cmd.Flags().StringVar(&runID, "run", "", "show the entries of one run")
	addOutputFlag(cmd, &output)
	return cmd
}
