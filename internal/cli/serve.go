package cli

import (
	"github.com/spf13/cobra"

	httpserver "dbsetup/internal/http"
	"dbsetup/internal/introspect"
	"dbsetup/internal/refresh"
	"dbsetup/internal/script"
)

func newServeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the JSON API and Prometheus metrics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			job := refresh.DefaultJob()
			coord, err := refresh.New(client, refresh.NewFileSource(a.cfg.DataDir), job, refresh.Options{
				Transactional: a.cfg.RefreshTransactional,
				Logger:        a.logger,
			})
			if err != nil {
				return err
			}
			deps := httpserver.Deps{
				Store: client,
				Scripts: script.New(client, script.Options{
					BackslashEscapes: client.Provider() == "mysql",
					StatementTimeout: a.cfg.StatementTimeout,
					Logger:           a.logger,
				}),
				Refresher: coord,
				Inspector: introspect.New(client, introspect.Options{
					SchemasProcedure: a.cfg.SchemasProcedure,
					TablesProcedure:  a.cfg.TablesProcedure,
					Logger:           a.logger,
				}),
				Journal: jr,
				Tables:  job.Names(),
			}
			if a.cfg.HTTPToken == "" {
				a.logger.Warn("http_token is empty; the API is unauthenticated")
			}
			return httpserver.New(httpserver.Options{
				Addr:   a.cfg.HTTPAddr,
				Token:  a.cfg.HTTPToken,
				Logger: a.logger,
			}, deps).Start(ctx)
		},
	}
	cmd.Flags().String("addr", "", "listen address (default from http_addr)")
	return cmd
}
