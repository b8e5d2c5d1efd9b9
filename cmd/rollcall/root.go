package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/BadgerOps/rollcall/internal/backup"
	"github.com/BadgerOps/rollcall/internal/blob"
	"github.com/BadgerOps/rollcall/internal/config"
	"github.com/BadgerOps/rollcall/internal/metrics"
	"github.com/BadgerOps/rollcall/internal/store"
	"github.com/BadgerOps/rollcall/internal/tables"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath   string
	dataDir   string
	logLevel  string
	logFormat string
	quiet     bool
	globalCfg *config.Config
	logger    *slog.Logger

	// Global components
	globalStore   *store.Store
	globalMetrics *metrics.Metrics
	globalService *backup.Service
)

// initializeComponents opens the row store and blob store and wires the
// backup service on top of them.
func initializeComponents() error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	if err := os.MkdirAll(globalCfg.Server.DataDir, 0o750); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	st, err := store.New(globalCfg.DatabasePath(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	globalStore = st

	blobs, err := blob.NewFSStore(globalCfg.BlobRoot(), logger)
	if err != nil {
		return fmt.Errorf("failed to initialize blob store: %w", err)
	}

	globalMetrics = metrics.New()
	globalService, err = backup.NewService(tables.Program(), st, st, blobs, backup.Options{
		WorkerLimit: globalCfg.Backup.WorkerLimit,
		Compression: globalCfg.Backup.Compression,
		CreatedBy:   globalCfg.Backup.CreatedBy,
		Metrics:     globalMetrics,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backup service: %w", err)
	}

	logger.Debug("components initialized", "db", globalCfg.DatabasePath(), "blobs", globalCfg.BlobRoot())
	return nil
}

// shouldSkipComponentInit checks if a command should skip component initialization
func shouldSkipComponentInit(cmd *cobra.Command) bool {
	skipInitCmds := map[string]bool{
		"help":    true,
		"version": true,
		"config":  true,
		"tables":  true,
	}
	if cmd.HasParent() && skipInitCmds[cmd.Parent().Name()] {
		return true
	}
	return skipInitCmds[cmd.Name()]
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollcall",
		Short: "Backup, restore and period reset for the program's records",
		Long: `rollcall manages backups of the attendance, recitation, points and
equipment records kept for the program. It exports selected tables over a
date range, keeps a catalog of stored backups, restores them by merge or
full replace, rotates scheduled backups, and starts a new period after
taking a mandatory safety backup.`,
		Example: `  rollcall backup create --tables attendance,students --from 2024-01-01 --to 2024-01-31
  rollcall backup list
  rollcall backup import backup-20240131-120000.json --mode merge
  rollcall reset --confirm "START NEW PERIOD"
  rollcall serve --listen 0.0.0.0:8080`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// Initialize logging
			setupLogging()

			// Skip config loading for commands that don't need it
			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			// Load config
			if cfgPath == "" {
				var err error
				cfgPath, err = config.FindConfigFile()
				if err != nil {
					logger.Debug("config file not found, using defaults", "error", err)
				}
			}

			if cfgPath != "" {
				var err error
				globalCfg, err = config.Load(cfgPath)
				if err != nil {
					return fmt.Errorf("failed to load config: %w", err)
				}
			} else {
				globalCfg = config.DefaultConfig()
			}

			// Override with command-line flags if provided
			if dataDir != "" {
				globalCfg.Server.DataDir = dataDir
			}

			if !quiet {
				logger.Debug("config loaded", "path", cfgPath, "data_dir", globalCfg.Server.DataDir)
			}

			if !shouldSkipComponentInit(cmd) {
				if err := initializeComponents(); err != nil {
					return fmt.Errorf("failed to initialize components: %w", err)
				}
			}

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	// Add persistent flags
	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "override data directory")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress non-error output")

	// Add subcommands
	cmd.AddCommand(
		newServeCmd(),
		newTablesCmd(),
		newBackupCmd(),
		newResetCmd(),
		newConfigCmd(),
	)

	return cmd
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	if quiet && level < slog.LevelError {
		level = slog.LevelError
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":    true,
		"version": true,
	}
	return skipConfigCmds[cmdName]
}
