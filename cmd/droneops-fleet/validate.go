package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"droneops-fleet/internal/telemetry"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a fleet configuration",
	Long:  "validate loads the configuration, checks it against the CUE schema and prints route estimates of its flight plans.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s: ok (cluster %s, %d drones, %d no-fly zones, %d flight plans)\n",
			configPath, cfg.ClusterID, len(cfg.Drones), len(cfg.NoFlyZones), len(cfg.FlightPlans))

		homes := make(map[string]telemetry.Position, len(cfg.Drones))
		models := make(map[string]string, len(cfg.Drones))
		for _, d := range cfg.Drones {
			r := d.Registry()
			homes[d.ID] = r.Home
			models[d.ID] = d.Model
		}
		for _, p := range cfg.FlightPlans {
			cruise := telemetry.ProfileFor(models[p.DroneID]).CruiseSpeedMPS
			est := p.Estimated(homes[p.DroneID], cruise)
			fmt.Fprintf(out, "  plan %s (%s): %d waypoints, %.0f m, ~%.0f s\n",
				p.ID, p.DroneID, len(p.Waypoints), est.DistanceM, est.DurationS)
		}
		return nil
	},
}
