// Package geofence evaluates positions against no-fly zones and flight
// limits.
//
// Check is a pure function. Engine holds the zone list and fleet limits as
// an immutable snapshot that is replaced wholesale on every administrative
// change, so drone workers can read it without locks.
package geofence

import (
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"droneops-fleet/internal/geo"
)

// Reason names the kind of boundary that was crossed.
type Reason string

const (
	ReasonNoFlyZone   Reason = "no_fly_zone"
	ReasonMaxAltitude Reason = "max_altitude"
	ReasonMaxDistance Reason = "max_distance"
)

// Severe reports whether the breach requires an immediate emergency landing
// rather than a return to home.
func (r Reason) Severe() bool { return r == ReasonNoFlyZone }

// Verdict is the outcome of a geofence check. The zero value is ok.
type Verdict struct {
	Breach bool   `json:"breach"`
	Reason Reason `json:"reason,omitempty"`
	ZoneID string `json:"zone_id,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// OK reports whether no boundary was crossed.
func (v Verdict) OK() bool { return !v.Breach }

func breach(r Reason, zoneID, detail string) Verdict {
	return Verdict{Breach: true, Reason: r, ZoneID: zoneID, Detail: detail}
}

// Check evaluates a position. No-fly zone penetration takes precedence over
// limit overages. Non-positive limits are treated as unlimited.
func Check(pos geo.Point, altitude float64, zones []Zone, distanceFromHome, maxDistance, maxAltitude float64) Verdict {
	for _, z := range zones {
		if z.Contains(pos, altitude) {
			return breach(ReasonNoFlyZone, z.ID, fmt.Sprintf("inside no-fly zone %s", z.ID))
		}
	}
	if maxAltitude > 0 && altitude > maxAltitude {
		return breach(ReasonMaxAltitude, "", fmt.Sprintf("altitude %.1fm exceeds %.1fm", altitude, maxAltitude))
	}
	if maxDistance > 0 && distanceFromHome > maxDistance {
		return breach(ReasonMaxDistance, "", fmt.Sprintf("distance %.1fm exceeds %.1fm", distanceFromHome, maxDistance))
	}
	return Verdict{}
}

// Limits are fleet-wide ceilings applied on top of each drone's own limits.
// Zero means no fleet-wide ceiling.
type Limits struct {
	MaxAltitude float64 `json:"max_altitude" yaml:"max_altitude"`
	MaxDistance float64 `json:"max_distance" yaml:"max_distance"`
}

// Effective combines the drone's limits with the fleet limits.
func (l Limits) Effective(droneMaxAltitude, droneMaxDistance float64) (maxAltitude, maxDistance float64) {
	return tighter(droneMaxAltitude, l.MaxAltitude), tighter(droneMaxDistance, l.MaxDistance)
}

func tighter(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	}
	return math.Min(a, b)
}

// Snapshot is an immutable view of the configured zones and limits.
type Snapshot struct {
	Zones  []Zone
	Limits Limits
}

// Engine owns the current snapshot.
type Engine struct {
	mu   sync.Mutex // serializes writers
	snap atomic.Pointer[Snapshot]
}

// NewEngine creates an engine with no zones.
func NewEngine(limits Limits) *Engine {
	e := &Engine{}
	e.snap.Store(&Snapshot{Limits: limits})
	return e
}

// Snapshot returns the current read-only view. Callers must not modify it.
func (e *Engine) Snapshot() *Snapshot { return e.snap.Load() }

// DefineZone installs or replaces a zone by id.
func (e *Engine) DefineZone(z Zone) error {
	z, err := NewZone(z.ID, z.Name, z.Vertices, z.MinAltitude, z.MaxAltitude)
	if err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.snap.Load()
	zones := make([]Zone, 0, len(old.Zones)+1)
	for _, existing := range old.Zones {
		if existing.ID != z.ID {
			zones = append(zones, existing)
		}
	}
	zones = append(zones, z)
	sort.Slice(zones, func(i, j int) bool { return zones[i].ID < zones[j].ID })
	e.snap.Store(&Snapshot{Zones: zones, Limits: old.Limits})
	return nil
}

// RemoveZone deletes a zone by id.
func (e *Engine) RemoveZone(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.snap.Load()
	zones := make([]Zone, 0, len(old.Zones))
	for _, z := range old.Zones {
		if z.ID != id {
			zones = append(zones, z)
		}
	}
	if len(zones) == len(old.Zones) {
		return fmt.Errorf("%w: %s", ErrZoneNotFound, id)
	}
	e.snap.Store(&Snapshot{Zones: zones, Limits: old.Limits})
	return nil
}

// Zones lists the configured zones.
func (e *Engine) Zones() []Zone {
	return append([]Zone(nil), e.snap.Load().Zones...)
}

// SetLimits installs new fleet-wide limits.
func (e *Engine) SetLimits(l Limits) {
	e.mu.Lock()
	defer e.mu.Unlock()
	old := e.snap.Load()
	e.snap.Store(&Snapshot{Zones: old.Zones, Limits: l})
}

// Evaluate checks a position against the current snapshot using the
// tighter of the drone and fleet limits.
func (e *Engine) Evaluate(pos, home geo.Point, altitude, droneMaxAltitude, droneMaxDistance float64) Verdict {
	s := e.snap.Load()
	maxAlt, maxDist := s.Limits.Effective(droneMaxAltitude, droneMaxDistance)
	return Check(pos, altitude, s.Zones, geo.DistanceMeters(home, pos), maxDist, maxAlt)
}

// Restricted returns the first zone containing the point at the altitude.
func (e *Engine) Restricted(p geo.Point, altitude float64) (Zone, bool) {
	for _, z := range e.snap.Load().Zones {
		if z.Contains(p, altitude) {
			return z, true
		}
	}
	return Zone{}, false
}
