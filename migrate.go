package main

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sweetline/sales-assistant/pkg/config"
	"github.com/sweetline/sales-assistant/pkg/database"
	"github.com/sweetline/sales-assistant/pkg/logging"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the sales schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationDB(cmd.Context(), func(db *sql.DB, cfg *config.Config, logger *zap.Logger) error {
			return database.RunMigrations(db, cfg.Migrations.Path, logger)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down [steps]",
	Short: "Roll back migrations (default 1 step)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		steps := 1
		if len(args) == 1 {
			n, err := strconv.Atoi(args[0])
			if err != nil || n < 1 {
				return fmt.Errorf("steps must be a positive integer, got %q", args[0])
			}
			steps = n
		}
		return withMigrationDB(cmd.Context(), func(db *sql.DB, cfg *config.Config, logger *zap.Logger) error {
			return database.RollbackMigrations(db, cfg.Migrations.Path, steps, logger)
		})
	},
}

var migrateVersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current schema version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withMigrationDB(cmd.Context(), func(db *sql.DB, cfg *config.Config, logger *zap.Logger) error {
			version, dirty, err := database.MigrationVersion(db, cfg.Migrations.Path, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %v)\n", version, dirty)
			return nil
		})
	},
}

func init() {
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd, migrateVersionCmd)
}

// withMigrationDB opens a database/sql handle over a pgx pool for golang-migrate.
func withMigrationDB(ctx context.Context, fn func(db *sql.DB, cfg *config.Config, logger *zap.Logger) error) error {
	cfg, err := config.Load(configPath, Version)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := logging.NewLogger(cfg.Env)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	pool, err := database.NewConnection(ctx, databaseConfig(cfg), logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer pool.Close()

	db := stdlib.OpenDBFromPool(pool.Pool)
	defer db.Close()

	return fn(db, cfg, logger)
}
