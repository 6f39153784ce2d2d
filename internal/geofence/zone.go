package geofence

import (
	"errors"
	"fmt"

	"droneops-fleet/internal/geo"
)

var (
	ErrInvalidZone  = errors.New("invalid no-fly zone")
	ErrZoneNotFound = errors.New("no-fly zone not found")
)

// Zone is a no-fly polygon active between MinAltitude and MaxAltitude.
type Zone struct {
	ID          string      `json:"id" yaml:"id"`
	Name        string      `json:"name,omitempty" yaml:"name"`
	Vertices    []geo.Point `json:"vertices" yaml:"vertices"`
	MinAltitude float64     `json:"min_altitude" yaml:"min_altitude"`
	MaxAltitude float64     `json:"max_altitude" yaml:"max_altitude"`

	bounds geo.BoundingBox
}

// NewZone validates the polygon and precomputes its bounding box.
func NewZone(id, name string, vertices []geo.Point, minAlt, maxAlt float64) (Zone, error) {
	z := Zone{ID: id, Name: name, Vertices: append([]geo.Point(nil), vertices...), MinAltitude: minAlt, MaxAltitude: maxAlt}
	if err := z.validate(); err != nil {
		return Zone{}, err
	}
	z.bounds = geo.Bounds(z.Vertices)
	return z, nil
}

func (z Zone) validate() error {
	if z.ID == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidZone)
	}
	if len(z.Vertices) < 3 {
		return fmt.Errorf("%w: %s needs at least 3 vertices, got %d", ErrInvalidZone, z.ID, len(z.Vertices))
	}
	for i, v := range z.Vertices {
		if !v.Valid() {
			return fmt.Errorf("%w: %s vertex %d out of range", ErrInvalidZone, z.ID, i)
		}
	}
	if z.MinAltitude < 0 || z.MaxAltitude < z.MinAltitude {
		return fmt.Errorf("%w: %s altitude band [%g, %g]", ErrInvalidZone, z.ID, z.MinAltitude, z.MaxAltitude)
	}
	return nil
}

// Contains reports whether the point lies inside the polygon and the
// altitude falls within the zone's band (inclusive).
func (z Zone) Contains(p geo.Point, alt float64) bool {
	if alt < z.MinAltitude || alt > z.MaxAltitude {
		return false
	}
	bounds := z.bounds
	if bounds == (geo.BoundingBox{}) {
		bounds = geo.Bounds(z.Vertices)
	}
	if !bounds.Contains(p) {
		return false
	}
	return geo.PointInPolygon(p, z.Vertices)
}
