/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"github.com/nexocrm/authsvc/internal/db"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateDownSteps int

// migrateCmd represents the migrate command.
var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all up migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.MigrateUp(db.PostgresURL(cfg.Database)); err != nil {
			return err
		}
		log.Info().Msg("database schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back the most recent migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := db.MigrateDown(db.PostgresURL(cfg.Database), migrateDownSteps); err != nil {
			return err
		}
		log.Info().Int("steps", migrateDownSteps).Msg("migrations rolled back")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)

	migrateDownCmd.Flags().IntVar(&migrateDownSteps, "steps", 1, "number of migrations to roll back")
}
