package main

import (
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/redmonkez12/accountd/internal/config"
	"github.com/redmonkez12/accountd/internal/database"
)

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage database migrations",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL migrations.`,
	}

	cmd.AddCommand(newMigrateDirectionCmd(database.MigrateUp, "Apply all pending migrations"))
	cmd.AddCommand(newMigrateDirectionCmd(database.MigrateDown, "Roll back the most recent migration"))
	cmd.AddCommand(newMigrateDirectionCmd(database.MigrateStatus, "Show the status of every migration"))

	return cmd
}

func newMigrateDirectionCmd(direction, short string) *cobra.Command {
	return &cobra.Command{
		Use:   direction,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runMigrate(cmd, direction)
		},
	}
}

func runMigrate(cmd *cobra.Command, direction string) error {
	cfg, err := config.Load()
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("operation", "load config").Wrap(err)
	}

	cmd.Println("Connecting to database...")
	db, err := database.Open(cfg.Database)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "connect to database").Wrap(err)
	}
	defer db.Close()

	if err := database.Migrate(cmd.Context(), db.DB, direction); err != nil {
		return oops.Code("MIGRATION_FAILED").With("operation", "migrate "+direction).Wrap(err)
	}

	if direction != database.MigrateStatus {
		cmd.Println("Migrations completed successfully")
	}
	return nil
}
