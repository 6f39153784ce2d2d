// Package command models flight commands as a closed set of actions and
// holds the per-drone priority queue that orders them.
package command

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"droneops-fleet/internal/telemetry"
)

// Kind is the wire name of an action.
type Kind string

const (
	KindTakeoff       Kind = "takeoff"
	KindLand          Kind = "land"
	KindEmergencyLand Kind = "emergency_land"
	KindGoto          Kind = "goto"
	KindOrbit         Kind = "orbit"
)

// Navigation reports whether the kind moves the drone toward a target.
func (k Kind) Navigation() bool { return k == KindGoto || k == KindOrbit }

// RequiresArmed reports whether the drone must be armed to accept it.
func (k Kind) RequiresArmed() bool { return k == KindTakeoff || k.Navigation() }

// Action is implemented only by the action types of this package.
type Action interface {
	Kind() Kind
	action()
}

type Takeoff struct {
	Altitude float64 `json:"altitude"`
}

type Land struct{}

type EmergencyLand struct {
	Reason string `json:"reason,omitempty"`
}

// Goto flies to Target. A zero Speed means the drone's cruise speed.
type Goto struct {
	Target     telemetry.Position `json:"target"`
	Speed      float64            `json:"speed,omitempty"`
	ReturnHome bool               `json:"return_home,omitempty"`
}

// Orbit circles Center at Radius meters.
type Orbit struct {
	Center telemetry.Position `json:"center"`
	Radius float64            `json:"radius"`
	Speed  float64            `json:"speed,omitempty"`
}

func (Takeoff) Kind() Kind       { return KindTakeoff }
func (Land) Kind() Kind          { return KindLand }
func (EmergencyLand) Kind() Kind { return KindEmergencyLand }
func (Goto) Kind() Kind          { return KindGoto }
func (Orbit) Kind() Kind         { return KindOrbit }

func (Takeoff) action()       {}
func (Land) action()          {}
func (EmergencyLand) action() {}
func (Goto) action()          {}
func (Orbit) action()         {}

// Priority orders commands within a drone's queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityCritical
)

var priorityNames = [...]string{"low", "normal", "high", "critical"}

func (p Priority) String() string {
	if p < PriorityLow || p > PriorityCritical {
		return fmt.Sprintf("priority(%d)", int(p))
	}
	return priorityNames[p]
}

func (p Priority) MarshalJSON() ([]byte, error) { return json.Marshal(p.String()) }

func (p *Priority) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ParsePriority parses a priority name. The empty string means normal.
func ParsePriority(s string) (Priority, error) {
	if s == "" {
		return PriorityNormal, nil
	}
	for i, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return Priority(i), nil
		}
	}
	return 0, &ValidationError{Field: "priority", Value: s, Msg: "unknown priority"}
}

// Status is the lifecycle state of a command.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusRejected  Status = "rejected"
)

// Terminal reports whether the command can no longer change.
func (s Status) Terminal() bool { return s == StatusExecuted || s == StatusRejected }

// Source is who created the command.
type Source string

const (
	SourceOperator Source = "operator"
	SourceBattery  Source = "battery"
	SourceGeofence Source = "geofence"
	SourceLinkLoss Source = "link_loss"
	SourcePlanner  Source = "planner"
)

// Safety reports whether the command was synthesized by a safety check.
func (s Source) Safety() bool {
	return s == SourceBattery || s == SourceGeofence || s == SourceLinkLoss
}

// Command is a single request against one drone.
type Command struct {
	ID         string
	DroneID    string
	Action     Action
	Priority   Priority
	Source     Source
	Status     Status
	Reason     RejectReason
	CreatedAt  time.Time
	ExecutedAt time.Time

	seq uint64
}

// New creates a queued command with a fresh id. Emergency landings are
// always critical.
func New(droneID string, a Action, p Priority, src Source, now time.Time) Command {
	if a != nil && a.Kind() == KindEmergencyLand {
		p = PriorityCritical
	}
	return Command{
		ID:        uuid.NewString(),
		DroneID:   droneID,
		Action:    a,
		Priority:  p,
		Source:    src,
		Status:    StatusQueued,
		CreatedAt: now.UTC(),
	}
}

// Kind is a shortcut for c.Action.Kind().
func (c Command) Kind() Kind {
	if c.Action == nil {
		return ""
	}
	return c.Action.Kind()
}

// Navigation reports whether the command is a goto or orbit.
func (c Command) Navigation() bool { return c.Kind().Navigation() }

// ReturnHome reports whether the command is a return-to-home goto.
func (c Command) ReturnHome() bool {
	g, ok := c.Action.(Goto)
	return ok && g.ReturnHome
}

// Rejected returns a copy of c marked rejected.
func (c Command) Rejected(reason RejectReason) Command {
	c.Status = StatusRejected
	c.Reason = reason
	return c
}

type commandJSON struct {
	ID         string       `json:"id"`
	DroneID    string       `json:"drone_id"`
	Kind       Kind         `json:"command_kind"`
	Parameters Action       `json:"parameters"`
	Priority   Priority     `json:"priority"`
	Source     Source       `json:"source"`
	Status     Status       `json:"status"`
	Reason     RejectReason `json:"reason,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
	ExecutedAt *time.Time   `json:"executed_at,omitempty"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	out := commandJSON{
		ID: c.ID, DroneID: c.DroneID, Kind: c.Kind(), Parameters: c.Action,
		Priority: c.Priority, Source: c.Source, Status: c.Status, Reason: c.Reason,
		CreatedAt: c.CreatedAt,
	}
	if !c.ExecutedAt.IsZero() {
		t := c.ExecutedAt
		out.ExecutedAt = &t
	}
	return json.Marshal(out)
}
