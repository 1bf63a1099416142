// Package cmd provides the CLI commands for MediaMind.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/mediamind/mediamind/internal/config"
	"github.com/mediamind/mediamind/internal/logging"
	"github.com/mediamind/mediamind/pkg/version"
)

// Persistent flags shared by every subcommand.
var (
	flagConfig   string
	flagDataDir  string
	flagLogLevel string

	loggingCleanup func()
)

// NewRootCmd creates the root command for the mediamind CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mediamind",
		Short: "Local media indexing and hybrid search",
		Long: `MediaMind indexes local photos, videos and documents with AI-generated
descriptions and tags, and searches them with hybrid keyword + semantic
retrieval.

Analysis runs entirely locally through Ollama. Nothing leaves the machine.`,
		Version:       version.Version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	cmd.SetVersionTemplate("mediamind version {{.Version}}\n")

	cmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Config file path (default ~/.mediamind/config.yaml)")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "Data directory override")
	cmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level override: debug, info, warn, error")

	cmd.PersistentPreRunE = setupLogging
	cmd.PersistentPostRun = func(_ *cobra.Command, _ []string) {
		if loggingCleanup != nil {
			loggingCleanup()
			loggingCleanup = nil
		}
	}

	cmd.AddCommand(newInitCmd())
	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newSimilarCmd())
	cmd.AddCommand(newCollectionCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

// Execute runs the root command with signal-aware cancellation.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

// loadConfig builds the effective configuration from the config file, env
// vars and CLI flags.
func loadConfig() (*config.Config, error) {
	path := flagConfig
	if path == "" {
		path = defaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}

	if flagDataDir != "" {
		cfg.Storage.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.Logging.Level = flagLogLevel
	}
	return cfg, nil
}

func defaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".mediamind", "config.yaml")
}

// setupLogging wires slog before any command runs. Failures fall back to the
// default stderr handler rather than aborting the command.
func setupLogging(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		// Config errors surface again, with context, when the command
		// itself loads the config.
		return nil
	}

	logger, cleanup, err := logging.Setup(logging.Config{
		Level:         cfg.Logging.Level,
		FilePath:      cfg.LogPath(),
		MaxSizeMB:     cfg.Logging.MaxSizeMB,
		MaxFiles:      cfg.Logging.MaxFiles,
		WriteToStderr: false,
	})
	if err != nil {
		slog.Warn("failed to set up file logging", slog.String("error", err.Error()))
		return nil
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}
