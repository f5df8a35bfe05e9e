// Package cli wires configuration, the store and the run journal into the
// dbsetup command tree.
package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"dbsetup/internal/config"
	"dbsetup/internal/db"
	"dbsetup/internal/journal"
	"dbsetup/internal/logging"
	"dbsetup/internal/report"
)

// Version is set at build time.
var Version = "dev"

type app struct {
	cfgFile string
	cfg     config.Config
	logger  *slog.Logger
}

// NewRootCmd builds the dbsetup command tree.
func NewRootCmd() *cobra.Command {
	a := &app{logger: slog.New(slog.DiscardHandler)}

	root := &cobra.Command{
		Use:   "dbsetup",
		Short: "Provision and refresh a relational database",
		Long: `dbsetup runs SQL setup scripts statement by statement, lists schemas and
tables through server-side procedures, and refreshes the companies and
procedures data set from local files.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			switch cmd.Name() {
			case "help", "completion", "__complete", "init-config":
				return nil
			}
			cfg, err := config.Load(a.cfgFile, cmd.Flags())
			if err != nil {
				return err
			}
			a.cfg = cfg
			a.logger = logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
			if cfg.File != "" {
				a.logger.Debug("config loaded", "file", cfg.File)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.cfgFile, "config", "", "config file (default: ./dbsetup.yaml)")
	flags.String("log-level", "", "log level (debug|info|warn|error)")
	flags.String("log-format", "", "log format (text|json)")
	flags.String("data-dir", "", "directory holding refresh data files")
	flags.String("journal", "", "run journal database; empty disables it")

	root.AddCommand(
		newExecCmd(a),
		newSchemasCmd(a),
		newRefreshCmd(a),
		newRowsCmd(a),
		newHistoryCmd(a),
		newServeCmd(a),
		newInitConfigCmd(),
	)
	return root
}

func (a *app) openStore(ctx context.Context) (*db.SQLClient, error) {
	if err := a.cfg.RequireStore(); err != nil {
		return nil, err
	}
	return db.Open(ctx, db.Options{
		Provider:     a.cfg.StoreProvider,
		URL:          a.cfg.StoreURL,
		Key:          a.cfg.StoreKey,
		MaxOpenConns: a.cfg.MaxOpenConns,
		BatchSize:    a.cfg.InsertBatchSize,
		Logger:       a.logger,
	})
}

// openJournal returns a nil journal when journal_path is empty.
func (a *app) openJournal(ctx context.Context) (*journal.Journal, error) {
	jr, err := journal.Open(ctx, a.cfg.JournalPath)
	if err != nil {
		return nil, err
	}
	if jr == nil {
		a.logger.Debug("run journal disabled")
	}
	return jr, nil
}

func addOutputFlag(cmd *cobra.Command, target *string) {
	cmd.Flags().StringVarP(target, "output", "o", report.FormatText, "output format (text|json)")
	_ = cmd.RegisterFlagCompletionFunc("output", func(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
		return []string{report.FormatText, report.FormatJSON}, cobra.ShellCompDirectiveNoFileComp
	})
}

func checkOutput(format string) error {
	if !report.ValidFormat(format) {
		return fmt.Errorf("output %q is not one of text, json", format)
	}
	return nil
}

func closeQuietly(logger *slog.Logger, what string, close func() error) {
	if err := close(); err != nil {
		logger.Warn("close failed", "resource", what, "error", err)
	}
}
