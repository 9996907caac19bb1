package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd creates the root localsync command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "localsync",
		Short:         "Keep a local store in sync with a REST API and its push stream",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")

	cmd.AddCommand(
		newServeCmd(&configPath),
		newFetchCmd(&configPath),
		newTablesCmd(&configPath),
	)

	return cmd
}
