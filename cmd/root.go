package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/andresmejia3/facereel/internal/config"
	"github.com/andresmejia3/facereel/internal/logging"
	"github.com/andresmejia3/facereel/internal/store"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/cobra"
)

// Database needs of a command, set through the "db" annotation.
const (
	dbRequired = "required"
	dbOptional = "optional"
)

var (
	// DB is the run history store shared by subcommands. Nil when no database is configured.
	DB *store.Store
	// cfg is the configuration loaded for this invocation.
	cfg *config.Config
	// logger is the root structured logger.
	logger hclog.Logger

	cfgPath   string
	dbURL     string
	logLevel  string
	logFormat string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "facereel",
	Short:   "Face swap and enhancement pipeline for images and videos",
	Version: Version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		loaded, resolved, exists, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		cfg = loaded
		if err := cfg.Override(applyGlobalFlags); err != nil {
			return err
		}

		logger = logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: os.Stderr})
		limit := config.ApplyMemoryLimit(cfg.MemoryLimitBytes())
		logger.Debug("configuration loaded", "path", resolved, "exists", exists, "memory_limit", limit)

		return openDatabase(cmd)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// The command context may already be cancelled (Ctrl+C); closing still has to reach the server.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// applyGlobalFlags copies the persistent flags over the loaded configuration.
func applyGlobalFlags(c *config.Config) {
	if dbURL != "" {
		c.Database.URL = dbURL
	}
	if logLevel != "" {
		c.Logging.Level = logLevel
	}
	if logFormat != "" {
		c.Logging.Format = logFormat
	}
}

// openDatabase connects to PostgreSQL when the command uses run history. Commands that
// only record history keep working without it.
func openDatabase(cmd *cobra.Command) error {
	need := cmd.Annotations["db"]
	if need == "" {
		return nil
	}
	if cfg.Database.URL == "" {
		if need == dbRequired {
			return fmt.Errorf("%s needs a database: set [database] url, FACEREEL_DATABASE_URL or --db", cmd.Name())
		}
		return nil
	}

	var err error
	DB, err = store.New(cmd.Context(), cfg.Database.URL)
	if err != nil {
		if need == dbRequired {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		logger.Warn("run history disabled, database unavailable", "error", err)
		DB = nil
	}
	return nil
}

func Execute() {
	// Ctrl+C (SIGINT) or SIGTERM cancels the command context.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Config file (default: ~/.config/facereel/config.toml or ./facereel.toml)")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for run history")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "Log format (console or json)")
}
