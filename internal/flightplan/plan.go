// Package flightplan sequences waypoint routes through the dispatcher.
package flightplan

import (
	"math"
	"strings"

	"github.com/pkg/errors"

	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/telemetry"
)

var ErrInvalidPlan = errors.New("invalid flight plan")

// Arrival actions.
const (
	ActionNone   = "none"
	ActionPhoto  = "photo"
	ActionHover  = "hover"
	ActionMarker = "marker"
)

// Waypoint is one point of a route.
type Waypoint struct {
	Lat             float64 `yaml:"lat" json:"lat"`
	Lon             float64 `yaml:"lon" json:"lon"`
	Altitude        float64 `yaml:"altitude" json:"altitude"`
	Speed           float64 `yaml:"speed" json:"speed,omitempty"`
	WaitSeconds     float64 `yaml:"wait_seconds" json:"wait_seconds,omitempty"`
	OnArrivalAction string  `yaml:"on_arrival_action" json:"on_arrival_action,omitempty"`
}

// Position returns the 3D target of the waypoint.
func (w Waypoint) Position() telemetry.Position {
	return telemetry.Position{Lat: w.Lat, Lon: w.Lon, Alt: w.Altitude}
}

// ParseAction splits an arrival action into its kind and marker text.
// "marker:<text>" yields ("marker", text).
func ParseAction(s string) (kind, text string, err error) {
	switch {
	case s == "" || s == ActionNone:
		return ActionNone, "", nil
	case s == ActionPhoto || s == ActionHover:
		return s, "", nil
	case strings.HasPrefix(s, ActionMarker+":"):
		text = strings.TrimPrefix(s, ActionMarker+":")
		if text == "" {
			return "", "", errors.Wrap(ErrInvalidPlan, "marker action needs text")
		}
		return ActionMarker, text, nil
	}
	return "", "", errors.Wrapf(ErrInvalidPlan, "unknown arrival action %q", s)
}

// Plan is an ordered route for one drone.
type Plan struct {
	ID        string     `yaml:"id" json:"id"`
	DroneID   string     `yaml:"drone_id" json:"drone_id"`
	Name      string     `yaml:"name" json:"name,omitempty"`
	Waypoints []Waypoint `yaml:"waypoints" json:"waypoints"`
}

// Validate checks the plan's shape. Limits are checked by the dispatcher
// when each goto is submitted.
func (p Plan) Validate() error {
	if p.DroneID == "" {
		return errors.Wrap(ErrInvalidPlan, "drone_id is required")
	}
	if len(p.Waypoints) == 0 {
		return errors.Wrapf(ErrInvalidPlan, "plan %s has no waypoints", p.ID)
	}
	for i, w := range p.Waypoints {
		if !w.Position().Valid() {
			return errors.Wrapf(ErrInvalidPlan, "waypoint %d: invalid coordinate", i)
		}
		if w.Altitude <= 0 {
			return errors.Wrapf(ErrInvalidPlan, "waypoint %d: altitude must be positive", i)
		}
		if w.Speed < 0 || w.WaitSeconds < 0 {
			return errors.Wrapf(ErrInvalidPlan, "waypoint %d: negative speed or wait", i)
		}
		if _, _, err := ParseAction(w.OnArrivalAction); err != nil {
			return errors.WithMessagef(err, "waypoint %d", i)
		}
	}
	return nil
}

// Estimate is the cumulative route length and flight time.
type Estimate struct {
	DistanceM float64 `json:"distance_m"`
	DurationS float64 `json:"duration_s"`
}

// Estimated measures the route from start through every waypoint. Legs
// without a waypoint speed use cruise; waits are added to the duration.
func (p Plan) Estimated(start telemetry.Position, cruise float64) Estimate {
	var est Estimate
	prev := start
	for _, w := range p.Waypoints {
		leg := math.Hypot(geo.DistanceMeters(prev.Point(), w.Position().Point()), w.Altitude-prev.Alt)
		speed := w.Speed
		if speed <= 0 {
			speed = cruise
		}
		est.DistanceM += leg
		if speed > 0 {
			est.DurationS += leg / speed
		}
		est.DurationS += w.WaitSeconds
		prev = w.Position()
	}
	return est
}
