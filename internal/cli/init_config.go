package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"dbsetup/internal/config"
)

func newInitConfigCmd() *cobra.Command {
	var path, provider string
	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a starter dbsetup.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.WriteSample(path, provider); err != nil {
				return err
			}
			_, err := fmt.Fprintln(cmd.OutOrStdout(), "sample config written to", path)
			return err
		},
	}
	cmd.Flags().StringVar(&path, "path", "dbsetup.yaml", "where to write the sample config")
	cmd.Flags().StringVar(&provider, "provider", "postgres", "store provider (postgres|mysql)")
	return cmd
}
