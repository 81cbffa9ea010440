package main

import (
	"fmt"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/config"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/PortNumber53/social-scheduler/internal/workers"
	"github.com/spf13/cobra"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var batchSize int
	var lookback time.Duration

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one publish trigger tick and exit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, stores store.Stores) error {
				log := ctx.logger(cmd.ErrOrStderr())
				trigger := workers.NewPublishTrigger(workers.PublishTriggerConfig{
					Lookback:        firstPositive(lookback, cfg.TriggerLookback),
					BatchSize:       firstPositiveInt(batchSize, cfg.TriggerBatchSize),
					SweepMaxRetries: -1,
				}, workers.PublishTriggerDeps{
					Content:    stores.Content,
					Watermarks: stores.Watermarks,
					Publisher:  ctx.newPublisher(cfg, stores, log),
					Logger:     log,
				})
				res, err := trigger.RunOnce(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "window %s .. %s\n", res.From.Format(time.RFC3339), res.To.Format(time.RFC3339))
				fmt.Fprintf(cmd.OutOrStdout(), "due=%d published=%d drafted=%d skipped=%d failed=%d\n",
					res.Due, res.Published, res.Drafted, res.Skipped, res.Failed)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Maximum items to publish in this tick")
	cmd.Flags().DurationVar(&lookback, "lookback", 0, "How far behind the last tick to look for due items")
	return cmd
}

func firstPositive(v, def time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return def
}

func firstPositiveInt(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}
