package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/logging"
)

var (
	configPath string
	schemaPath string
	logLevel   string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:          "droneops-fleet",
	Short:        "Drone fleet flight-control core",
	Long:         "droneops-fleet runs the fleet flight-control core against simulated telemetry and replays flight logs.",
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "configs/fleet.yaml", "Path to fleet configuration YAML")
	rootCmd.PersistentFlags().StringVar(&schemaPath, "schema", "", "Path to a CUE schema overriding the built-in one")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); overrides the config")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Write process logs to this rotated file instead of stderr")
	rootCmd.AddCommand(simulateCmd, replayCmd, validateCmd)
}

// loadConfig reads the config file and applies environment overrides.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath, schemaPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv(os.Getenv)
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	return cfg, nil
}

// newLogger builds the process logger. Without --log-file it writes to
// fallback. The returned closer releases the log file.
func newLogger(cfg *config.Config, fallback io.Writer) (*slog.Logger, func()) {
	if logFile == "" {
		return logging.New(cfg.Log.Level, cfg.Log.Format, fallback), func() {}
	}
	lj := &lumberjack.Logger{Filename: logFile, MaxSize: 20, MaxBackups: 3}
	return logging.New(cfg.Log.Level, cfg.Log.Format, lj), func() { lj.Close() }
}
