package main

import (
	"context"
	"log/slog"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/fleet"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/sim"
)

// bootstrap builds and starts a fleet core from cfg: drones are
// registered, zones defined and configured flight plans started. The
// returned simulator is not running yet.
func bootstrap(ctx context.Context, cfg *config.Config, sink flightlog.Sink, logger *slog.Logger, opts ...sim.Option) (*fleet.Fleet, *sim.Simulator, error) {
	f, err := fleet.New(sink, cfg.FleetOptions(nil, logger))
	if err != nil {
		return nil, nil, err
	}
	f.Start(ctx)

	for _, d := range cfg.Drones {
		if _, err := f.RegisterDrone(ctx, d.Registry()); err != nil {
			f.Stop()
			return nil, nil, err
		}
	}
	for _, z := range cfg.NoFlyZones {
		gz, err := z.Geofence()
		if err == nil {
			err = f.DefineNoFlyZone(gz)
		}
		if err != nil {
			f.Stop()
			return nil, nil, err
		}
	}

	opts = append([]sim.Option{sim.WithFaults(cfg.Simulation.Faults)}, opts...)
	s := sim.NewSimulator(f, cfg.TickInterval, opts...)
	for id, faults := range cfg.DroneFaults() {
		s.SetFaults(id, faults)
	}

	for _, p := range cfg.FlightPlans {
		if _, err := f.StartFlightPlan(ctx, p); err != nil {
			logger.Warn("flight plan not started", "plan_id", p.ID, "drone_id", p.DroneID, "err", err)
		}
	}
	logger.Info("fleet ready", "cluster_id", cfg.ClusterID,
		"drones", len(cfg.Drones), "zones", len(cfg.NoFlyZones), "plans", len(f.ActivePlans()))
	return f, s, nil
}
