package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ignite-health/funnel/internal/config"
	"github.com/ignite-health/funnel/internal/jobs"
	"github.com/ignite-health/funnel/internal/storage/postgres"
)

var errNoDatabase = errors.New("DATABASE_URL is not set")

var migrateSteps int

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the database schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending schema and River migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if !cfg.Database.Enabled() {
			return errNoDatabase
		}
		logger := config.NewLogger(cfg.Logging)

		if err := postgres.MigrateUp(cfg.Database.URL); err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), connectTimeout)
		defer cancel()
		pool, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer pool.Close()
		if err := jobs.Migrate(cmd.Context(), pool); err != nil {
			return err
		}

		version, dirty, err := postgres.MigrationVersion(cfg.Database.URL)
		if err != nil {
			return err
		}
		logger.Info().Uint("version", version).Bool("dirty", dirty).Msg("migrations applied")
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back schema migrations",
	Long:  `Roll back the last --steps schema migrations. River's tables are left in place.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("config error: %w", err)
		}
		if !cfg.Database.Enabled() {
			return errNoDatabase
		}
		if err := postgres.MigrateDown(cfg.Database.URL, migrateSteps); err != nil {
			return err
		}
		version, _, err := postgres.MigrationVersion(cfg.Database.URL)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema at version %d\n", version)
		return nil
	},
}

func init() {
	migrateDownCmd.Flags().IntVar(&migrateSteps, "steps", 1, "number of migrations to roll back")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
}
