package config

import (
	"log/slog"
	"time"

	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/fleet"
	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/geofence"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/sim"
	"droneops-fleet/internal/telemetry"
)

// DispatcherConfig maps the dispatcher and safety sections.
func (c *Config) DispatcherConfig() dispatch.Config {
	dc := dispatch.DefaultConfig()
	dc.QueueCapacity = c.Dispatcher.QueueCapacity
	dc.MailboxCapacity = c.Dispatcher.MailboxCapacity
	dc.HistorySize = c.Dispatcher.HistorySize
	if c.Dispatcher.AutoExecute != nil {
		dc.AutoExecute = *c.Dispatcher.AutoExecute
	}
	dc.LinkLossTimeout = c.Safety.LinkLossTimeout
	dc.ArrivalTolerance = c.Safety.ArrivalToleranceM
	dc.AltitudeTolerance = c.Safety.AltitudeToleranceM
	dc.GroundAltitude = c.Safety.GroundAltitudeM
	dc.ReturnAltitude = c.Safety.ReturnAltitudeM
	return dc
}

// FleetLimits returns the fleet-wide geofence caps.
func (c *Config) FleetLimits() geofence.Limits {
	return geofence.Limits{MaxAltitude: c.Limits.MaxAltitudeM, MaxDistance: c.Limits.MaxDistanceM}
}

// FleetOptions builds the options of a fleet core.
func (c *Config) FleetOptions(now func() time.Time, logger *slog.Logger) fleet.Options {
	return fleet.Options{
		Dispatcher: c.DispatcherConfig(),
		Thresholds: c.Thresholds(),
		Limits:     c.FleetLimits(),
		HubBuffer:  c.Hub.BufferSize,
		Now:        now,
		Logger:     logger,
	}
}

// Registry converts a configured drone into a registry record.
func (d Drone) Registry() registry.Drone {
	home := telemetry.Position{Lat: d.Home.Lat, Lon: d.Home.Lon, Alt: d.Home.Alt}
	return registry.Drone{
		ID:      d.ID,
		Name:    d.Name,
		Model:   d.Model,
		Serial:  d.Serial,
		Armed:   d.Armed,
		Home:    home,
		Limits:  registry.Limits(d.Limits),
		Battery: telemetry.Battery{Percentage: d.BatteryPct},
	}
}

// Geofence converts a configured zone, checking its polygon.
func (z Zone) Geofence() (geofence.Zone, error) {
	pts := make([]geo.Point, len(z.Vertices))
	for i, v := range z.Vertices {
		pts[i] = geo.Point{Lat: v.Lat, Lon: v.Lon}
	}
	return geofence.NewZone(z.ID, z.Name, pts, z.MinAltitude, z.MaxAltitude)
}

// DroneFaults returns the drones that override the simulation faults.
func (c *Config) DroneFaults() map[string]sim.Faults {
	out := make(map[string]sim.Faults)
	for _, d := range c.Drones {
		if d.Faults != nil {
			out[d.ID] = *d.Faults
		}
	}
	return out
}
