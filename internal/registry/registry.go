// Package registry owns the canonical in-memory record of every drone.
//
// Each record sits behind its own mutex so that the per-drone dispatcher
// worker and concurrent readers never contend across drones. Status only
// changes through Transition, which enforces the state machine.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/telemetry"
)

var (
	ErrDuplicateID       = errors.New("duplicate drone id")
	ErrNotFound          = errors.New("drone not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrInvalidDrone      = errors.New("invalid drone")
	ErrInvalidTelemetry  = errors.New("invalid telemetry")
)

type entry struct {
	mu    sync.Mutex
	drone Drone
}

// Registry is the arena of drones keyed by id.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	now     func() time.Time
}

// New creates an empty registry. A nil clock defaults to time.Now.
func New(now func() time.Time) *Registry {
	if now == nil {
		now = time.Now
	}
	return &Registry{entries: make(map[string]*entry), now: now}
}

// Register stores a new drone. An empty status defaults to idle and an
// empty flight mode to manual.
func (r *Registry) Register(d Drone) (string, error) {
	if d.ID == "" {
		return "", fmt.Errorf("%w: empty id", ErrInvalidDrone)
	}
	if d.ID == hub.FleetTopic {
		return "", fmt.Errorf("%w: id %q is reserved for the fleet topic", ErrInvalidDrone, d.ID)
	}
	if d.Status == "" {
		d.Status = StatusIdle
	}
	if !d.Status.Valid() {
		return "", fmt.Errorf("%w: unknown status %q", ErrInvalidDrone, d.Status)
	}
	if d.FlightMode == "" {
		d.FlightMode = ModeManual
	}
	if d.Limits.MaxAltitude <= 0 || d.Limits.MaxDistance <= 0 || d.Limits.MaxSpeed <= 0 {
		return "", fmt.Errorf("%w: limits must be positive", ErrInvalidDrone)
	}
	if !d.Home.Valid() {
		return "", fmt.Errorf("%w: invalid home position", ErrInvalidDrone)
	}
	if d.Position == (telemetry.Position{}) {
		d.Position = d.Home
	}
	d.Battery = d.Battery.Clamped()
	d.UpdatedAt = r.now().UTC()

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[d.ID]; exists {
		return "", fmt.Errorf("%w: %s", ErrDuplicateID, d.ID)
	}
	r.entries[d.ID] = &entry{drone: d.clone()}
	return d.ID, nil
}

func (r *Registry) lookup(id string) (*entry, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return e, nil
}

// Get returns a snapshot of the drone.
func (r *Registry) Get(id string) (Drone, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Drone{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.drone.clone(), nil
}

// IDs returns all registered ids in sorted order.
func (r *Registry) IDs() []string {
	r.mu.RLock()
	ids := make([]string, 0, len(r.entries))
	for id := range r.entries {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// List returns snapshots of every drone ordered by id.
func (r *Registry) List() []Drone {
	ids := r.IDs()
	out := make([]Drone, 0, len(ids))
	for _, id := range ids {
		if d, err := r.Get(id); err == nil {
			out = append(out, d)
		}
	}
	return out
}

// ApplyTelemetry updates the live fields of a drone. It never changes the
// status; evaluation of the new state is the caller's job.
func (r *Registry) ApplyTelemetry(id string, f telemetry.Frame) (Drone, error) {
	if !f.Position.Valid() {
		return Drone{}, fmt.Errorf("%w: position %+v", ErrInvalidTelemetry, f.Position)
	}
	e, err := r.lookup(id)
	if err != nil {
		return Drone{}, err
	}
	ts := f.Timestamp
	if ts.IsZero() {
		ts = r.now()
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.drone.Position = f.Position
	e.drone.Velocity = f.Velocity
	e.drone.Attitude = f.Attitude
	e.drone.Battery = f.Battery.Clamped()
	e.drone.LastTelemetry = ts.UTC()
	e.drone.UpdatedAt = r.now().UTC()
	return e.drone.clone(), nil
}

// Transition moves the drone to a new status if the edge exists.
func (r *Registry) Transition(id string, to Status) (Drone, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Drone{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	from := e.drone.Status
	if !CanTransition(from, to) {
		return e.drone.clone(), fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, from, to)
	}
	e.drone.Status = to
	e.drone.UpdatedAt = r.now().UTC()
	return e.drone.clone(), nil
}

// Update mutates non-status fields of a drone. fn must not touch Status.
func (r *Registry) Update(id string, fn func(*Drone) error) (Drone, error) {
	e, err := r.lookup(id)
	if err != nil {
		return Drone{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	work := e.drone.clone()
	if err := fn(&work); err != nil {
		return e.drone.clone(), err
	}
	if work.Status != e.drone.Status || work.ID != e.drone.ID {
		return e.drone.clone(), fmt.Errorf("%w: status and id are immutable through Update", ErrInvalidDrone)
	}
	work.Battery = work.Battery.Clamped()
	work.UpdatedAt = r.now().UTC()
	e.drone = work
	return work.clone(), nil
}

// Arm marks the drone ready for flight.
func (r *Registry) Arm(id string) (Drone, error) {
	return r.Update(id, func(d *Drone) error {
		d.Armed = true
		return nil
	})
}

// Disarm clears the armed flag. Only idle, maintenance or charging drones
// can be disarmed.
func (r *Registry) Disarm(id string) (Drone, error) {
	return r.Update(id, func(d *Drone) error {
		if d.Status.Airborne() {
			return fmt.Errorf("%w: cannot disarm while %s", ErrIllegalTransition, d.Status)
		}
		d.Armed = false
		return nil
	})
}

func distance(a, b telemetry.Position) float64 {
	return geo.DistanceMeters(a.Point(), b.Point())
}
