package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/monitor"
)

var (
	simPrintOnly bool
	simTick      time.Duration
	simPlain     bool
	simDuration  time.Duration
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the fleet core against simulated telemetry",
	Long: "simulate registers the configured drones, starts their flight plans and feeds the core " +
		"simulated telemetry. Fleet events are shown in a terminal monitor or printed line by line.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("tick") {
			cfg.TickInterval = simTick
		}

		tui := !simPlain && term.IsTerminal(int(os.Stdout.Fd()))
		var fallback io.Writer = os.Stderr
		if tui {
			fallback = io.Discard
		}
		logger, closeLog := newLogger(cfg, fallback)
		defer closeLog()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if simDuration > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, simDuration)
			defer cancel()
		}
		ctx = logging.NewContext(ctx, logger)

		sink, cleanup, err := newSinks(cfg, simPrintOnly, logger)
		if err != nil {
			return err
		}
		defer cleanup()

		f, simulator, err := bootstrap(ctx, cfg, sink, logger)
		if err != nil {
			return err
		}
		defer f.Stop()

		sub, err := f.Subscribe(hub.FleetTopic)
		if err != nil {
			return err
		}
		defer f.Unsubscribe(sub)

		go simulator.Run(ctx)

		if tui {
			err = monitor.Run(ctx, sub, cfg.ClusterID, simulator.ToggleChaos)
		} else {
			err = monitor.Print(ctx, sub, cmd.OutOrStdout(), false)
		}
		st := simulator.Stats()
		logger.Info("simulation stopped", "ticks", st.Ticks, "frames", st.Frames, "dropped", st.Dropped, "errors", st.Errors)
		return err
	},
}

func init() {
	simulateCmd.Flags().BoolVar(&simPrintOnly, "print-only", false, "Print flight log entries to STDOUT instead of the configured sinks")
	simulateCmd.Flags().DurationVar(&simTick, "tick", time.Second, "Telemetry tick interval (e.g. 500ms, 2s); overrides the config")
	simulateCmd.Flags().BoolVar(&simPlain, "plain", false, "Print events line by line instead of the terminal monitor")
	simulateCmd.Flags().DurationVar(&simDuration, "duration", 0, "Stop after this long (0 runs until interrupted)")
}
