package main

import (
	"errors"
	"fmt"

	"github.com/PortNumber53/social-scheduler/internal/database"
	"github.com/spf13/cobra"
)

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	var o database.Options

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			switch o.Direction {
			case "up", "down":
			default:
				return fmt.Errorf("invalid direction: %s (must be 'up' or 'down')", o.Direction)
			}
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cfg.DatabaseURL == "" {
				return errors.New("DATABASE_URL environment variable is required")
			}
			if ctx.env.openDB == nil || ctx.env.newMigrator == nil {
				return errors.New("database access is not configured")
			}
			db, err := ctx.env.openDB(cfg.DatabaseURL)
			if err != nil {
				return fmt.Errorf("failed to connect to database: %w", err)
			}
			defer db.Close()

			m, err := ctx.env.newMigrator(db)
			if err != nil {
				return err
			}
			msg, err := database.Run(m, o)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), msg)
			return nil
		},
	}
	cmd.Flags().StringVar(&o.Direction, "direction", "up", "Migration direction: up or down")
	cmd.Flags().IntVar(&o.Steps, "steps", 0, "Number of migration steps (0 = all)")
	cmd.Flags().IntVar(&o.Force, "force", -1, "Force set migration version (clears dirty state)")
	cmd.Flags().BoolVar(&o.ForceDirty, "force-dirty", false, "If the database is dirty, force it to the current version and exit")
	return cmd
}
