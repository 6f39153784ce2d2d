// Telemetry value types shared by the registry, dispatcher and sinks
package telemetry

import (
	"math"
	"time"

	"droneops-fleet/internal/geo"
)

// Position holds latitude, longitude and altitude above home (meters).
type Position struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
	Alt float64 `json:"alt" yaml:"alt"`
}

// Point drops the altitude.
func (p Position) Point() geo.Point { return geo.Point{Lat: p.Lat, Lon: p.Lon} }

// Valid reports whether the position is finite and within WGS84 range.
func (p Position) Valid() bool {
	return p.Point().Valid() && !math.IsNaN(p.Alt) && !math.IsInf(p.Alt, 0)
}

// Velocity in m/s, x=north y=east z=up.
type Velocity struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Attitude in degrees.
type Attitude struct {
	Roll  float64 `json:"roll"`
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Battery is the battery part of a telemetry report.
type Battery struct {
	Voltage          float64 `json:"voltage"`
	Current          float64 `json:"current"`
	Percentage       float64 `json:"percentage"`
	Temperature      float64 `json:"temperature"`
	RemainingSeconds float64 `json:"remaining_seconds"`
}

// Clamped returns a copy with the percentage forced into [0, 100].
// NaN is treated as empty.
func (b Battery) Clamped() Battery {
	switch {
	case math.IsNaN(b.Percentage) || b.Percentage < 0:
		b.Percentage = 0
	case b.Percentage > 100:
		b.Percentage = 100
	}
	return b
}

// Frame is one telemetry report for a drone.
type Frame struct {
	DroneID   string    `json:"drone_id"`
	Position  Position  `json:"position"`
	Velocity  Velocity  `json:"velocity"`
	Attitude  Attitude  `json:"attitude"`
	Battery   Battery   `json:"battery"`
	Timestamp time.Time `json:"ts"`
}
