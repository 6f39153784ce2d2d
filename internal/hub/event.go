package hub

import "time"

// EventType is the type field of a published event.
type EventType string

const (
	TelemetryUpdate    EventType = "telemetry_update"
	LowBatteryWarning  EventType = "low_battery_warning"
	EmergencyLanding   EventType = "emergency_landing"
	CommandExecuted    EventType = "command_executed"
	FlightPlanProgress EventType = "flight_plan_progress"
)

// Event is what subscribers receive.
type Event struct {
	Type      EventType `json:"type"`
	DroneID   string    `json:"drone_id"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
}
