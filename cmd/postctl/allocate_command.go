package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/PortNumber53/social-scheduler/internal/config"
	"github.com/PortNumber53/social-scheduler/internal/scheduling"
	"github.com/PortNumber53/social-scheduler/internal/store"
	"github.com/spf13/cobra"
)

func newAllocateCommand(ctx *commandContext) *cobra.Command {
	var userID string
	var count int
	var fromFlag string
	var usePreference bool

	cmd := &cobra.Command{
		Use:   "allocate",
		Short: "Preview the next free publishing slots for a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			userID = strings.TrimSpace(userID)
			if userID == "" {
				return errors.New("--user is required")
			}
			var from *time.Time
			if s := strings.TrimSpace(fromFlag); s != "" {
				t, err := time.Parse(time.RFC3339, s)
				if err != nil {
					return fmt.Errorf("invalid --from %q: %w", s, err)
				}
				from = &t
			}
			return ctx.withStores(func(cfg *config.Config, stores store.Stores) error {
				svc := scheduling.NewService(scheduling.ServiceDeps{
					Content:     stores.Content,
					Preferences: stores.Preferences,
					Allocator:   scheduling.NewAllocator(stores.Content, scheduling.WithLocation(cfg.Location())),
					Logger:      ctx.logger(cmd.ErrOrStderr()),
				})
				slots, err := svc.AllocateSlots(cmd.Context(), userID, count, from, usePreference)
				if err != nil {
					return err
				}
				for _, s := range slots {
					fmt.Fprintln(cmd.OutOrStdout(), s.At.Format(time.RFC3339))
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "User whose calendar to inspect")
	cmd.Flags().IntVar(&count, "count", 1, "Number of slots to return")
	cmd.Flags().StringVar(&fromFlag, "from", "", "Earliest instant to consider (RFC3339); defaults to now")
	cmd.Flags().BoolVar(&usePreference, "use-preference", true, "Follow the user's active schedule preference")
	return cmd
}
