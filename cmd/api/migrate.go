package main

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/Tomlord1122/todo-service/internal/config"
	"github.com/Tomlord1122/todo-service/internal/database"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply or revert database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(database.Up)
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert the most recent migration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runMigrate(database.Down)
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(direction database.Direction) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	if cfg.DB.Driver == config.DriverMemory {
		log.Error("Migrations need DB_DRIVER=postgres")
		return errors.New("migrate: no database configured")
	}
	if err := database.Migrate(cfg.DB.DSN(), direction, log); err != nil {
		log.WithError(err).WithField("direction", direction.String()).Error("Migration failed")
		return err
	}
	return nil
}
