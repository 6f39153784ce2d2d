package registry

import (
	"time"

	"droneops-fleet/internal/telemetry"
)

// FlightMode is the autopilot mode reported for a drone.
type FlightMode string

const (
	ModeManual     FlightMode = "manual"
	ModeAuto       FlightMode = "auto"
	ModeReturnHome FlightMode = "return_home"
	ModeFollowMe   FlightMode = "follow_me"
	ModeOrbit      FlightMode = "orbit"
	ModeWaypoint   FlightMode = "waypoint"
)

// Limits are the hard per-drone flight limits.
type Limits struct {
	MaxAltitude float64 `json:"max_altitude"`
	MaxDistance float64 `json:"max_distance"`
	MaxSpeed    float64 `json:"max_speed"`
}

// Target is the point the dispatcher expects the drone to converge toward.
type Target struct {
	CommandID  string             `json:"command_id"`
	Position   telemetry.Position `json:"position"`
	Speed      float64            `json:"speed,omitempty"`
	Orbit      bool               `json:"orbit,omitempty"`
	Radius     float64            `json:"radius,omitempty"`
	ReturnHome bool               `json:"return_home,omitempty"`
}

// Drone is the canonical record of one drone.
type Drone struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Model  string `json:"model"`
	Serial string `json:"serial"`

	Position telemetry.Position `json:"position"`
	Velocity telemetry.Velocity `json:"velocity"`
	Attitude telemetry.Attitude `json:"attitude"`
	Battery  telemetry.Battery  `json:"battery"`

	FlightMode FlightMode         `json:"flight_mode"`
	Status     Status             `json:"status"`
	Home       telemetry.Position `json:"home_position"`
	Limits     Limits             `json:"limits"`
	Armed      bool               `json:"armed"`
	Target     *Target            `json:"target,omitempty"`

	LastTelemetry time.Time `json:"last_telemetry"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func (d Drone) clone() Drone {
	if d.Target != nil {
		t := *d.Target
		d.Target = &t
	}
	return d
}

// DistanceFromHome is the great-circle distance to the home position.
func (d Drone) DistanceFromHome() float64 {
	return distance(d.Position, d.Home)
}
