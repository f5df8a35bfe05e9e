package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"dbsetup/internal/report"
	"dbsetup/internal/script"
)

// ErrStatementsFailed is returned by exec --strict when any statement failed.
var ErrStatementsFailed = errors.New("one or more statements failed")

func newExecCmd(a *app) *cobra.Command {
	var (
		naive  bool
		strict bool
		output string
	)
	cmd := &cobra.Command{
		Use:   "exec [script]",
		Short: "Run a SQL script one statement at a time",
		Long: `Splits the script into statements and runs them in order. A statement that
fails because its object already exists is reported as skipped and the run
continues; any other failure is reported and the run also continues.

The script defaults to script_path from the configuration.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkOutput(output); err != nil {
				return err
			}
			if err := a.cfg.RequireStore(); err != nil {
				return err
			}
			path := a.cfg.ScriptPath
			if len(args) == 1 {
				path = args[0]
			}
			s, err := script.ReadFile(path)
			if err != nil {
				return err
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

			out := cmd.OutOrStdout()
			opts := script.Options{
				Naive:            naive,
				BackslashEscapes: client.Provider() == "mysql",
				StatementTimeout: a.cfg.StatementTimeout,
				Logger:           a.logger,
			}
			if output == report.FormatText {
				opts.OnOutcome = func(o script.Outcome) { report.Outcome(out, o) }
			}

			rep, execErr := script.New(client, opts).Execute(ctx, s)
			if rep != nil {
				if err := jr.RecordScript(ctx, rep); err != nil {
					a.logger.Warn("journal write failed", "run_id", rep.RunID.String(), "error", err)
				}
			}
			if execErr != nil {
				return fmt.Errorf("script %s interrupted: %w", s.Name, execErr)
			}

			if output == report.FormatJSON {
				err = report.Script(out, rep, output)
			} else {
				err = report.Summary(out, rep)
			}
			if err != nil {
				return err
			}
			if strict && rep.Failed() {
				return ErrStatementsFailed
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&naive, "naive-split", false, "split on every semicolon, ignoring quotes and comments")
	cmd.Flags().BoolVar(&strict, "strict", false, "exit non-zero when any statement failed")
	cmd.Flags().Duration("statement-timeout", 0, "per-statement timeout (0 disables)")
	addOutputFlag(cmd, &output)
	return cmd
}
