package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirinyoku/pelada/internal/config"
	"github.com/kirinyoku/pelada/internal/postgres"
)

const drainTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	var migrateUp bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, cfg, logger, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer func() {
				dctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
				defer cancel()
				if err := a.Close(dctx); err != nil {
					logger.Warn("shutdown incomplete", "err", err)
				}
			}()

			if migrateUp && cfg.Store.Driver == config.StoreDriverPostgres {
				applied, err := postgres.Migrate(ctx, a.Pool())
				if err != nil {
					return err
				}
				logger.Info("migrations applied", "files", applied)
			}

			if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&migrateUp, "migrate", true, "run database migrations on startup")
	return cmd
}
