package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirinyoku/pelada/internal/domain"
)

func newBillingCmd() *cobra.Command {
	var period string

	cmd := &cobra.Command{
		Use:   "billing",
		Short: "Charge the monthly fee to every active subscriber",
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
					logger.Warn("dispatcher drain incomplete", "err", err)
				}
			}()

			if period == "" {
				period = domain.BillingPeriod(time.Now().In(cfg.Schedule.Location))
			}

			sum, err := a.Services().Billing.RunMonthly(ctx, period)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), sum)
		},
	}

	cmd.Flags().StringVar(&period, "period", "", "billing period YYYY-MM (default: current month)")
	return cmd
}
