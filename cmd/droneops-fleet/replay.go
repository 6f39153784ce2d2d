package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/flightlog"
)

var (
	replayInput     string
	replaySpeed     float64
	replayPrintOnly bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a flight log file",
	Long:  "replay feeds entries from a JSONL flight log back into the configured sinks or STDOUT.",
	RunE: func(cmd *cobra.Command, args []string) error {
		if replayInput == "" {
			return fmt.Errorf("input file required")
		}
		cfg := &config.Config{}
		if !replayPrintOnly {
			var err error
			if cfg, err = loadConfig(); err != nil {
				return err
			}
		} else {
			cfg.ApplyDefaults()
		}
		logger, closeLog := newLogger(cfg, os.Stderr)
		defer closeLog()

		sink, cleanup, err := newSinks(cfg, replayPrintOnly, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		n, err := flightlog.ReplayFile(ctx, replayInput, sink, replaySpeed)
		logger.Info("replay finished", "input", replayInput, "entries", n)
		return err
	},
}

func init() {
	replayCmd.Flags().StringVar(&replayInput, "input", "", "Path to flight log file (JSONL)")
	replayCmd.Flags().Float64Var(&replaySpeed, "speed", 1.0, "Playback speed multiplier (0 replays without delay)")
	replayCmd.Flags().BoolVar(&replayPrintOnly, "print-only", false, "Print entries to STDOUT instead of the configured sinks")
	replayCmd.MarkFlagRequired("input")
}
