package main

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for the accountd CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accountd",
		Short: "accountd - account credential and verification service",
		Long: `accountd registers accounts, verifies email addresses with one-time
codes, issues session tokens and handles password resets.

Configuration is read from the environment and an optional .env file.`,
		SilenceUsage: true,
	}

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
