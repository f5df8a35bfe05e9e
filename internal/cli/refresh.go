package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dbsetup/internal/refresh"
	"dbsetup/internal/report"
)

func newRefreshCmd(a *app) *cobra.Command {
	var (
		dryRun bool
		noTx   bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "refresh",
		Short: "Clear and reload the companies and procedures tables",
		Long: `Deletes all rows from procedure_companies, procedures and companies (in that
order) and reloads them from data_dir in the reverse order. The first failing
step stops the refresh. By default all steps share one transaction, so a
failure leaves the tables untouched.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			job := refresh.DefaultJob()
			transactional := a.cfg.RefreshTransactional && !noTx
			out := cmd.OutOrStdout()

			if dryRun {
				steps, err := job.Plan()
				if err != nil {
					return err
				}
				return report.Plan(out, steps, transactional, output)
			}

			ctx := cmd.Context()
			client, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(a.logger, "store", client.Close)

			jr, err := a.openJournal(ctx)
			if err != nil {
				return err
			}
			defer closeQuietly(a.logger, "journal", jr.Close)

			coord, err := refresh.New(client, refresh.NewFileSource(a.cfg.DataDir), job, refresh.Options{
				Transactional: transactional,
				Logger:        a.logger,
			})
			if err != nil {
				return err
			}
			res := coord.Refresh(ctx)
			if err := jr.RecordRefresh(ctx, res); err != nil {
				a.logger.Warn("journal write failed", "run_id", res.RunID.String(), "error", err)
			}
			if err := report.Refresh(out, res, output); err != nil {
				return err
			}
			if !res.Success {
				return refreshError(res)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the steps without touching the store")
	cmd.Flags().BoolVar(&noTx, "no-tx", false, "run each step on its own instead of in one transaction")
	addOutputFlag(cmd, &output)
	return cmd
}

// refreshError names the failed step once. A *refresh.StepError already
// starts with the step.
func refreshError(res refresh.Result) error {
	var stepErr *refresh.StepError
	switch {
	case errors.As(res.Err, &stepErr):
		return fmt.Errorf("refresh failed: %w", res.Err)
	case res.Err != nil:
		return fmt.Errorf("refresh failed at %s: %w", res.FailedStep, res.Err)
	default:
		return fmt.Errorf("refresh failed at %s: %s", res.FailedStep, res.Error)
	}
}
