package main

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/PortNumber53/social-scheduler/internal/config"
	"github.com/PortNumber53/social-scheduler/internal/models"
	"github.com/PortNumber53/social-scheduler/internal/publisher"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/spf13/cobra"
)

func newPublishCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "publish <itemId>",
		Short: "Publish one content item to its connected accounts now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(cfg *config.Config, stores store.Stores) error {
				pub := ctx.newPublisher(cfg, stores, ctx.logger(cmd.ErrOrStderr()))
				report, err := pub.Publish(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("publish %s: %w", args[0], err)
				}
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(report)
				}
				printReport(cmd.OutOrStdout(), report)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the publish report as JSON")
	return cmd
}

func outcomeOf(r *models.PublishReport) string {
	switch {
	case len(r.Results) == 0:
		return publisher.OutcomeNoAccounts
	case r.FailureCount == 0:
		return publisher.OutcomePublished
	case r.SuccessCount > 0:
		return publisher.OutcomePartial
	default:
		return publisher.OutcomeFailed
	}
}

func printReport(w io.Writer, r *models.PublishReport) {
	fmt.Fprintf(w, "item %s: %s (%d ok, %d failed)\n", r.ItemID, outcomeOf(r), r.SuccessCount, r.FailureCount)
	for _, res := range r.Results {
		if res.Success {
			id := ""
			if res.ExternalPostID != nil {
				id = *res.ExternalPostID
			}
			fmt.Fprintf(w, "  %-9s %s ok post=%s\n", res.Platform, res.AccountID, id)
			continue
		}
		msg := ""
		if res.Error != nil {
			msg = *res.Error
		}
		fmt.Fprintf(w, "  %-9s %s failed: %s\n", res.Platform, res.AccountID, msg)
	}
}
