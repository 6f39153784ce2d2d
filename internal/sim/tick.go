package sim

import (
	"context"
	"math"
	"time"

	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/logging"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// Run starts the simulation loop and stops when the context is done.
func (s *Simulator) Run(ctx context.Context) {
	log := logging.FromContext(ctx)
	log.Info("starting simulator", "tick_interval", s.tickInterval)
	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick(ctx, s.tickInterval)
		case <-ctx.Done():
			log.Info("stopping simulator")
			return
		}
	}
}

// tick advances every drone by dt, ingests the frames and runs the
// link-loss watchdog.
func (s *Simulator) tick(ctx context.Context, dt time.Duration) {
	log := logging.FromContext(ctx)

	s.mu.Lock()
	s.stats.Ticks++
	chaos := s.chaos
	s.mu.Unlock()

	for _, d := range s.core.Drones() {
		s.mu.Lock()
		frame, ok := s.step(d, dt, chaos)
		if ok {
			s.stats.Frames++
		} else {
			s.stats.Dropped++
		}
		s.mu.Unlock()
		if !ok {
			continue
		}
		if err := s.core.IngestTelemetry(ctx, d.ID, frame); err != nil {
			s.mu.Lock()
			s.stats.Errors++
			s.mu.Unlock()
			log.Error("ingest failed", "drone_id", d.ID, "err", err)
		}
	}
	s.core.CheckLinkLoss(ctx)
}

// step computes the next frame of one drone. It reports false when the
// frame is lost to an injected dropout. The caller holds s.mu.
func (s *Simulator) step(d registry.Drone, dt time.Duration, chaos bool) (telemetry.Frame, bool) {
	faults := s.faultsFor(d.ID)
	profile := telemetry.ProfileFor(d.Model)
	var target *telemetry.Position
	if d.Target != nil {
		t := d.Target.Position
		if d.Target.Orbit {
			t = orbitPoint(d, profile, dt)
		}
		target = &t
		if d.Target.Speed > 0 {
			profile.CruiseSpeedMPS = math.Min(profile.CruiseSpeedMPS, d.Target.Speed)
		}
	}
	if d.Limits.MaxSpeed > 0 {
		profile.CruiseSpeedMPS = math.Min(profile.CruiseSpeedMPS, d.Limits.MaxSpeed)
	}

	prev := telemetry.Frame{
		DroneID:  d.ID,
		Position: d.Position,
		Velocity: d.Velocity,
		Attitude: d.Attitude,
		Battery:  d.Battery,
	}
	frame := s.gen.Next(prev, profile, phaseOf(d.Status), target, dt)

	if d.Status == registry.StatusCharging {
		frame.Battery.Percentage += chargePctPerSec * dt.Seconds()
		frame.Battery = frame.Battery.Clamped()
	}
	if s.rand.Float64() < faults.SensorErrorRate {
		frame.Position.Lat += s.rand.Float64()*sensorErrorMaxOffset*2 - sensorErrorMaxOffset
		frame.Position.Lon += s.rand.Float64()*sensorErrorMaxOffset*2 - sensorErrorMaxOffset
	}
	if s.rand.Float64() < faults.BatteryAnomalyRate {
		frame.Battery.Percentage -= s.rand.Float64()*20 + 10
		frame.Battery = frame.Battery.Clamped()
	}
	dropout := faults.DropoutRate
	if chaos {
		frame.Battery.Percentage -= s.rand.Float64() * 5
		frame.Battery = frame.Battery.Clamped()
		dropout = math.Max(dropout, 0.1)
	}
	if s.rand.Float64() < dropout {
		return telemetry.Frame{}, false
	}
	return frame, true
}

func phaseOf(st registry.Status) telemetry.Phase {
	switch st {
	case registry.StatusTakeoff:
		return telemetry.PhaseClimbing
	case registry.StatusFlying:
		return telemetry.PhaseCruising
	case registry.StatusLanding, registry.StatusEmergency:
		return telemetry.PhaseDescending
	}
	return telemetry.PhaseGrounded
}

// orbitPoint is the point on the orbit circle the drone should reach after
// dt. Drones off the circle head for the nearest point on it first.
func orbitPoint(d registry.Drone, profile telemetry.Profile, dt time.Duration) telemetry.Position {
	center := d.Target.Position
	radius := d.Target.Radius
	from := geo.DistanceMeters(center.Point(), d.Position.Point())
	bearing := geo.BearingDeg(center.Point(), d.Position.Point())
	if from == 0 {
		bearing = 0
	}
	if math.Abs(from-radius) < profile.CruiseSpeedMPS*dt.Seconds() {
		bearing += profile.CruiseSpeedMPS * dt.Seconds() / radius * 180 / math.Pi
	}
	p := geo.Destination(center.Point(), math.Mod(bearing, 360), radius)
	return telemetry.Position{Lat: p.Lat, Lon: p.Lon, Alt: center.Alt}
}
