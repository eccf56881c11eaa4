package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"github.com/kirinyoku/pelada/internal/service/promotion"
)

func newPromoteCmd() *cobra.Command {
	var lookaheadHours, thresholdHours float64

	cmd := &cobra.Command{
		Use:   "promote",
		Short: "Promote waitlisted members of events about to start",
		Long: "Runs one promotion pass and prints the per-event results as JSON.\n" +
			"Meant to be invoked by an external cron.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, _, logger, err := openApp(ctx)
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

			// zero options fall back to PROMOTE_LOOKAHEAD_HOURS/PROMOTE_THRESHOLD_HOURS
			var opts promotion.Options
			if cmd.Flags().Changed("lookahead") {
				opts.Lookahead = hoursToDuration(lookaheadHours)
			}
			if cmd.Flags().Changed("threshold") {
				opts.Threshold = hoursToDuration(thresholdHours)
			}

			results, err := a.Services().Promotion.Promote(ctx, time.Now(), opts)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), results)
		},
	}

	cmd.Flags().Float64Var(&lookaheadHours, "lookahead", 24, "hours ahead to load events")
	cmd.Flags().Float64Var(&thresholdHours, "threshold", 4.5, "promote only events starting within this many hours")
	return cmd
}

func hoursToDuration(h float64) time.Duration {
	return time.Duration(h * float64(time.Hour))
}
