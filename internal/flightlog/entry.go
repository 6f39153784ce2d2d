// Package flightlog defines the append-only flight log record and the
// sinks that persist it.
package flightlog

import (
	"time"

	"github.com/google/uuid"

	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// Event names used in Entry.Event.
const (
	EventRegistered       = "registered"
	EventTransition       = "transition"
	EventCommandExecuted  = "command_executed"
	EventCommandRejected  = "command_rejected"
	EventSafetyOverride   = "safety_override"
	EventLowBatteryWarn   = "low_battery_warning"
	EventPlanStarted      = "flight_plan_started"
	EventWaypointReached  = "waypoint_reached"
	EventPlanCompleted    = "flight_plan_completed"
	EventPlanCancelled    = "flight_plan_cancelled"
	EventWorkerFailed     = "worker_failed"
	EventWorkerRestarted  = "worker_restarted"
	EventArrivalPhoto     = "photo"
	EventArrivalHover     = "hover"
	EventArrivalMarker    = "marker"
	EventNoFlyZoneChanged = "no_fly_zone_changed"
)

// Entry is one immutable flight log record.
type Entry struct {
	ID        string             `json:"id"`
	DroneID   string             `json:"drone_id"`
	Timestamp time.Time          `json:"timestamp"`
	Position  telemetry.Position `json:"position"`
	Status    registry.Status    `json:"status"`
	Event     string             `json:"event"`
	Details   map[string]any     `json:"details,omitempty"`
}

// NewEntry stamps a record with a fresh id.
func NewEntry(d registry.Drone, ts time.Time, event string, details map[string]any) Entry {
	return Entry{
		ID:        uuid.NewString(),
		DroneID:   d.ID,
		Timestamp: ts.UTC(),
		Position:  d.Position,
		Status:    d.Status,
		Event:     event,
		Details:   details,
	}
}
