// Package main provides a CLI tool for database migrations.
package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/spoton/recommendation-service/internal/config"
	"github.com/spoton/recommendation-service/internal/database"
	"github.com/spoton/recommendation-service/internal/observability"
)

var migrationsPath string

var rootCmd = &cobra.Command{
	Use:          "migrate",
	Short:        "Apply and inspect recommendation service database migrations",
	SilenceUsage: true,
	CompletionOptions: cobra.CompletionOptions{
		HiddenDefaultCmd: true,
	},
}

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Run all pending migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger, _ []string) error {
		logger.Info().Msg("running all pending migrations")
		if err := m.Up(); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return nil
	}),
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Roll back all migrations",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger, _ []string) error {
		logger.Warn().Msg("rolling back all migrations")
		if err := m.Down(); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return nil
	}),
}

var stepsCmd = &cobra.Command{
	Use:   "steps N",
	Short: "Run N migration steps (positive=up, negative=down)",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger, args []string) error {
		n, err := strconv.Atoi(args[0])
		if err != nil || n == 0 {
			return fmt.Errorf("steps must be a non-zero integer, got %q", args[0])
		}
		logger.Info().Int("steps", n).Msg("running migration steps")
		if err := m.Steps(n); err != nil {
			return fmt.Errorf("migrate steps: %w", err)
		}
		return nil
	}),
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the current migration version",
	Args:  cobra.NoArgs,
	RunE: withMigrator(func(*database.Migrator, zerolog.Logger, []string) error {
		return nil
	}),
}

var forceCmd = &cobra.Command{
	Use:   "force V",
	Short: "Force set migration version (use to recover from failed migrations)",
	Args:  cobra.ExactArgs(1),
	RunE: withMigrator(func(m *database.Migrator, logger zerolog.Logger, args []string) error {
		v, err := strconv.Atoi(args[0])
		if err != nil || v < 0 {
			return fmt.Errorf("version must be a non-negative integer, got %q", args[0])
		}
		logger.Warn().Int("version", v).Msg("forcing migration version")
		if err := m.Force(v); err != nil {
			return fmt.Errorf("force version: %w", err)
		}
		return nil
	}),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&migrationsPath, "path", "", "Override the migrations directory path")
	rootCmd.AddCommand(upCmd, downCmd, stepsCmd, versionCmd, forceCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type migratorAction func(m *database.Migrator, logger zerolog.Logger, args []string) error

// withMigrator opens a migrator, runs action and prints the resulting version.
func withMigrator(action migratorAction) func(*cobra.Command, []string) error {
	return func(_ *cobra.Command, args []string) error {
		dbCfg, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		// Set up structured logging with console output for the CLI tool.
		logCfg := observability.DefaultLoggingConfig()
		logCfg.Format = "console"
		logger := observability.NewLogger(logCfg)
		logger = logger.With().Str("component", "migrate").Logger()

		dir := dbCfg.MigrationPath
		if migrationsPath != "" {
			dir = migrationsPath
		}

		migrator, err := database.OpenMigrator(dbCfg.DSN(), dir, logger)
		if err != nil {
			return fmt.Errorf("create migrator: %w", err)
		}
		defer func() {
			if closeErr := migrator.Close(); closeErr != nil {
				logger.Error().Err(closeErr).Msg("failed to close migrator")
			}
		}()

		if err := action(migrator, logger, args); err != nil {
			return err
		}
		printVersion(migrator, logger)
		return nil
	}
}

// printVersion logs the current migration version.
func printVersion(migrator *database.Migrator, logger zerolog.Logger) {
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
