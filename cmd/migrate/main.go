// Package main provides a CLI tool for database migrations.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/helixir/submission-dedup-service/internal/config"
	"github.com/helixir/submission-dedup-service/internal/database"
	"github.com/helixir/submission-dedup-service/internal/observability"
)

var (
	migrationsPath string

	logger   zerolog.Logger
	db       *database.DB
	migrator *database.Migrator
)

var rootCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the submission dedup database schema",
	Long: `Apply, roll back and inspect database migrations.

Database settings are read from SUBDEDUP_* environment variables and the
optional config file. Without --path the migrations embedded in the binary
are used.`,
	SilenceUsage:       true,
	PersistentPreRunE:  openMigrator,
	PersistentPostRunE: closeMigrator,
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Info().Msg("running all pending migrations")
		if err := migrator.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		printVersion()
		return nil
	},
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.Warn().Msg("rolling back all migrations")
		if err := migrator.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		printVersion()
		return nil
	},
}

var stepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Run N migration steps (positive=up, negative=down)",
	Example: `  migrate steps 1
  migrate steps -- -1`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
		}
		logger.Info().Int("steps", n).Msg("running migration steps")
		if err := migrator.Steps(n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
		printVersion()
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current migration version",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		printVersion()
		return nil
	},
}

var forceCmd = &cobra.Command{
	Use:   "force V",
	Short: "Force set migration version (use to recover from failed migrations)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
		}
		logger.Warn().Int("version", v).Msg("forcing migration version")
		if err := migrator.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		printVersion()
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&migrationsPath, "path", "p", "",
		"migrations directory (default: embedded migrations, or database.migration_path)")
	rootCmd.AddCommand(upCmd, downCmd, stepsCmd, versionCmd, forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// openMigrator loads configuration, connects to the database and creates the migrator.
func openMigrator(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Console output for the CLI tool.
	logCfg := observability.DefaultLoggingConfig()
	logCfg.Format = "console"
	logger = observability.WithComponent(observability.NewLogger(logCfg), "migrate")

	dir := cfg.Database.MigrationPath
	if migrationsPath != "" {
		dir = migrationsPath
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	db, err = database.New(ctx, &cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("database connection established")

	migrator, err = database.NewMigrator(db, dir, logger)
	if err != nil {
		db.Close()
		return fmt.Errorf("create migrator: %w", err)
	}
	return nil
}

func closeMigrator(_ *cobra.Command, _ []string) error {
	if migrator != nil {
		if err := migrator.Close(); err != nil {
			logger.Error().Err(err).Msg("failed to close migrator")
		}
	}
	if db != nil {
		db.Close()
	}
	return nil
}

// printVersion logs the current migration version.
func printVersion() {
	v, dirty, err := migrator.Version()
	if err != nil {
		logger.Warn().Err(err).Msg("could not determine migration version")
		return
	}
	logger.Info().
		Uint("version", v).
		Bool("dirty", dirty).
		Msg("current migration version")
}
