package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/keyward/keyward/cmd/keyward/commands"
	"github.com/keyward/keyward/internal/config"
	"github.com/keyward/keyward/internal/logging"
	"github.com/keyward/keyward/internal/rotation"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Global flags
	var (
		configFile string
		noColor    bool
		debug      bool
		metrics    bool
	)

	// Create config placeholder
	cfg := &config.Config{}

	rootCmd := &cobra.Command{
		Use:   "keyward",
		Short: "Key lifecycle management for encrypted environment files",
		Long: `keyward tracks the symmetric keys that protect values in your .env
files: it records key age and usage, warns before keys expire, and rotates
key material with a full re-encryption and audit trail.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Initialize logger with parsed flags
			logger := logging.New(debug, noColor)

			cfg.Path = configFile
			cfg.Logger = logger

			if metrics {
				rotation.InitMetrics()
			}
		},
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", config.DefaultPath, "Config file path")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&metrics, "metrics", false, "Register Prometheus metrics")

	rootCmd.AddCommand(
		commands.NewGenerateCommand(cfg),
		commands.NewEncryptCommand(cfg),
		commands.NewRotateCommand(cfg),
		commands.NewStatusCommand(cfg),
		commands.NewAuditCommand(cfg),
		commands.NewInfoCommand(cfg),
		commands.NewHistoryCommand(cfg),
		commands.NewStartupCheckCommand(cfg),
	)

	return rootCmd.Execute()
}
