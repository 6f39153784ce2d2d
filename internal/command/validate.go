package command

import (
	"fmt"
	"math"

	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// Bounds are the static limits a command is checked against at submission.
type Bounds struct {
	Home        telemetry.Position
	MaxAltitude float64
	MaxDistance float64
	MaxSpeed    float64
}

// BoundsFor derives the bounds from a drone record.
func BoundsFor(d registry.Drone) Bounds {
	return Bounds{Home: d.Home, MaxAltitude: d.Limits.MaxAltitude, MaxDistance: d.Limits.MaxDistance, MaxSpeed: d.Limits.MaxSpeed}
}

func finite(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }

// Validate checks an action's parameters against static bounds.
func Validate(a Action, b Bounds) error {
	switch a := a.(type) {
	case Takeoff:
		if !finite(a.Altitude) || a.Altitude <= 0 || a.Altitude > b.MaxAltitude {
			return invalid("altitude", a.Altitude, "must be in (0, %g]", b.MaxAltitude)
		}
	case Land, EmergencyLand:
	case Goto:
		if err := checkPosition("target", a.Target, b, 0); err != nil {
			return err
		}
		return checkSpeed(a.Speed, b)
	case Orbit:
		if !finite(a.Radius) || a.Radius <= 0 {
			return invalid("radius", a.Radius, "must be positive")
		}
		if err := checkPosition("center", a.Center, b, a.Radius); err != nil {
			return err
		}
		return checkSpeed(a.Speed, b)
	default:
		return fmt.Errorf("%w: unsupported action %T", ErrOutOfBounds, a)
	}
	return nil
}

func checkPosition(field string, p telemetry.Position, b Bounds, radius float64) error {
	if !p.Valid() {
		return invalid(field, p, "not a valid coordinate")
	}
	if p.Alt < 0 || p.Alt > b.MaxAltitude {
		return invalid(field+".alt", p.Alt, "must be in [0, %g]", b.MaxAltitude)
	}
	if d := geo.DistanceMeters(b.Home.Point(), p.Point()) + radius; d > b.MaxDistance {
		return invalid(field, p, "%.0fm from home exceeds %g", d, b.MaxDistance)
	}
	return nil
}

func checkSpeed(v float64, b Bounds) error {
	if !finite(v) || v < 0 || v > b.MaxSpeed {
		return invalid("speed", v, "must be in [0, %g]", b.MaxSpeed)
	}
	return nil
}

// Legal reports whether an action of kind k may execute from status s.
func Legal(k Kind, s registry.Status) bool {
	switch k {
	case KindTakeoff:
		return s == registry.StatusIdle
	case KindLand, KindEmergencyLand:
		return s.Airborne()
	case KindGoto, KindOrbit:
		return s == registry.StatusFlying
	}
	return false
}

// Deferred reports whether the command is not yet executable from s but
// will be once the drone finishes climbing.
func Deferred(k Kind, s registry.Status) bool {
	return k.Navigation() && s == registry.StatusTakeoff
}
