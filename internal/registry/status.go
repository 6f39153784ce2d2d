package registry

// Status is the flight state machine state of a drone.
type Status string

const (
	StatusIdle        Status = "idle"
	StatusTakeoff     Status = "takeoff"
	StatusFlying      Status = "flying"
	StatusLanding     Status = "landing"
	StatusEmergency   Status = "emergency"
	StatusMaintenance Status = "maintenance"
	StatusCharging    Status = "charging"
)

// edges is the complete transition table. Anything absent is illegal.
var edges = map[Status][]Status{
	StatusIdle:        {StatusTakeoff, StatusMaintenance, StatusCharging},
	StatusTakeoff:     {StatusFlying, StatusLanding, StatusEmergency},
	StatusFlying:      {StatusLanding, StatusEmergency},
	StatusLanding:     {StatusIdle, StatusEmergency},
	StatusEmergency:   {StatusLanding},
	StatusMaintenance: {StatusIdle},
	StatusCharging:    {StatusIdle},
}

// Valid reports whether s is a member of the state set.
func (s Status) Valid() bool {
	_, ok := edges[s]
	return ok
}

// Airborne reports whether the drone is in a non-terminal flight state.
func (s Status) Airborne() bool {
	switch s {
	case StatusTakeoff, StatusFlying, StatusLanding, StatusEmergency:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine.
func CanTransition(from, to Status) bool {
	for _, s := range edges[from] {
		if s == to {
			return true
		}
	}
	return false
}
