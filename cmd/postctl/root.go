package main

import (
	"github.com/spf13/cobra"
)

func newRootCommand(env environment) *cobra.Command {
	ctx := newCommandContext(env)

	rootCmd := &cobra.Command{
		Use:           "postctl",
		Short:         "Operate the social scheduler from the shell",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if cmd == cmd.Root() {
				return nil
			}
			_, err := ctx.ensureConfig()
			return err
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.AddCommand(newPublishCommand(ctx))
	rootCmd.AddCommand(newSweepCommand(ctx))
	rootCmd.AddCommand(newAllocateCommand(ctx))
	rootCmd.AddCommand(newMigrateCommand(ctx))

	return rootCmd
}
