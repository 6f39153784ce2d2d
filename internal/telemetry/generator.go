package telemetry

import (
	"math"
	"math/rand"
	"time"

	"droneops-fleet/internal/geo"
)

// Phase tells the generator what the simulated airframe is doing.
type Phase int

const (
	PhaseGrounded Phase = iota
	PhaseClimbing
	PhaseCruising
	PhaseDescending
)

// Profile describes flight characteristics of a drone model.
type Profile struct {
	CruiseSpeedMPS  float64
	ClimbRateMPS    float64
	DrainPctPerSec  float64
	IdleDrainPerSec float64
	NominalVoltage  float64
	CapacitySeconds float64
	PositionJitterM float64
}

// ProfileFor returns the built-in profile of a model.
func ProfileFor(model string) Profile {
	switch model {
	case "small-fpv":
		return Profile{CruiseSpeedMPS: 15, ClimbRateMPS: 5, DrainPctPerSec: 0.5, IdleDrainPerSec: 0.01, NominalVoltage: 14.8, CapacitySeconds: 600}
	case "medium-uav":
		return Profile{CruiseSpeedMPS: 12, ClimbRateMPS: 4, DrainPctPerSec: 0.3, IdleDrainPerSec: 0.01, NominalVoltage: 22.2, CapacitySeconds: 1500}
	case "large-uav":
		return Profile{CruiseSpeedMPS: 10, ClimbRateMPS: 3, DrainPctPerSec: 0.2, IdleDrainPerSec: 0.01, NominalVoltage: 44.4, CapacitySeconds: 2400}
	default:
		return Profile{CruiseSpeedMPS: 10, ClimbRateMPS: 3, DrainPctPerSec: 0.4, IdleDrainPerSec: 0.01, NominalVoltage: 14.8, CapacitySeconds: 900}
	}
}

// Generator simulates telemetry for drones following dispatcher targets.
type Generator struct {
	rand *rand.Rand
	now  func() time.Time
}

// NewGenerator creates a generator. A nil rand or clock falls back to
// package defaults.
func NewGenerator(r *rand.Rand, now func() time.Time) *Generator {
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if now == nil {
		now = time.Now
	}
	return &Generator{rand: r, now: now}
}

// Next produces the frame following prev after dt has elapsed. target may
// be nil when the drone holds position.
func (g *Generator) Next(prev Frame, profile Profile, phase Phase, target *Position, dt time.Duration) Frame {
	secs := dt.Seconds()
	next := prev
	next.Timestamp = g.now().UTC()
	next.Velocity = Velocity{}

	switch phase {
	case PhaseClimbing:
		goal := prev.Position.Alt + profile.ClimbRateMPS*secs
		if target != nil {
			goal = math.Min(goal, target.Alt)
		}
		next.Position.Alt = goal
		next.Velocity.Z = (goal - prev.Position.Alt) / nonZero(secs)
	case PhaseDescending:
		next.Position.Alt = math.Max(0, prev.Position.Alt-profile.ClimbRateMPS*secs)
		next.Velocity.Z = (next.Position.Alt - prev.Position.Alt) / nonZero(secs)
	case PhaseCruising:
		if target != nil {
			next.Position = g.cruise(prev.Position, *target, profile, secs)
			heading := geo.BearingDeg(prev.Position.Point(), target.Point())
			speed := geo.DistanceMeters(prev.Position.Point(), next.Position.Point()) / nonZero(secs)
			next.Velocity.X = speed * math.Cos(heading*math.Pi/180)
			next.Velocity.Y = speed * math.Sin(heading*math.Pi/180)
			next.Velocity.Z = (next.Position.Alt - prev.Position.Alt) / nonZero(secs)
			next.Attitude.Yaw = heading
		}
		if profile.PositionJitterM > 0 {
			jitter := g.rand.Float64() * profile.PositionJitterM
			next.Position = withPoint(next.Position, geo.Destination(next.Position.Point(), g.rand.Float64()*360, jitter))
		}
	}

	drain := profile.IdleDrainPerSec
	if phase != PhaseGrounded {
		drain = profile.DrainPctPerSec
	}
	next.Battery.Percentage = prev.Battery.Percentage - drain*secs
	next.Battery = next.Battery.Clamped()
	next.Battery.Voltage = profile.NominalVoltage * (0.8 + 0.2*next.Battery.Percentage/100)
	next.Battery.RemainingSeconds = profile.CapacitySeconds * next.Battery.Percentage / 100
	if phase != PhaseGrounded {
		next.Battery.Current = 10 + g.rand.Float64()*5
		next.Battery.Temperature = 30 + g.rand.Float64()*5
	} else {
		next.Battery.Current = 0.2
		next.Battery.Temperature = 22
	}
	return next
}

func (g *Generator) cruise(pos, target Position, profile Profile, secs float64) Position {
	step := profile.CruiseSpeedMPS * secs
	p := geo.MoveToward(pos.Point(), target.Point(), step)
	alt := pos.Alt
	climb := profile.ClimbRateMPS * secs
	if d := target.Alt - alt; math.Abs(d) <= climb {
		alt = target.Alt
	} else if d > 0 {
		alt += climb
	} else {
		alt -= climb
	}
	return Position{Lat: p.Lat, Lon: p.Lon, Alt: alt}
}

func withPoint(p Position, pt geo.Point) Position {
	p.Lat, p.Lon = pt.Lat, pt.Lon
	return p
}

func nonZero(v float64) float64 {
	if v == 0 {
		return 1
	}
	return v
}
