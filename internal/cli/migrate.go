package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kirinyoku/pelada/internal/config"
	"github.com/kirinyoku/pelada/internal/postgres"
)

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New()
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.StoreDriverPostgres {
				return errors.New("migrate needs STORE_DRIVER=postgres")
			}

			ctx := cmd.Context()
			pool, err := postgres.New(ctx, cfg.Postgres)
			if err != nil {
				return err
			}
			defer pool.Close()

			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				return err
			}
			if len(applied) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "schema is up to date")
				return nil
			}
			for _, f := range applied {
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s\n", f)
			}
			return nil
		},
	}
}
