// Package cmd defines and implements the CLI commands for the fanart-viewer
// executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nokosaaan/fanart-viewer/internal/config"
	"github.com/nokosaaan/fanart-viewer/internal/logging"
)

var cfgFile string

// NewRootCmd creates and configures the root command.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fanart-viewer",
		Short: "Fan-art catalog service with multi-strategy preview resolution",
		Long: `fanart-viewer serves a catalog of fan-art references and resolves the
best preview image for each item from its source URL, using direct fetch,
document scraping, the platform API, or a rendered browser session.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Load .env file if present (ignore errors)
			_ = godotenv.Load()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newImportCmd())
	cmd.AddCommand(newRestoreCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// bootstrap loads configuration and builds the process logger.
func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return config.Config{}, nil, fmt.Errorf("init logger: %w", err)
	}
	zap.ReplaceGlobals(logger)
	return cfg, logger, nil
}
