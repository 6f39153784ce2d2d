package dispatch

import (
	"time"

	"droneops-fleet/internal/command"
	"droneops-fleet/internal/registry"
)

// NotificationKind says what happened on a drone's worker.
type NotificationKind int

const (
	// NotifyTelemetry follows every applied telemetry frame.
	NotifyTelemetry NotificationKind = iota
	// NotifyDirective is sent before a safety directive is queued.
	NotifyDirective
	// NotifyExecuted follows a successful execution.
	NotifyExecuted
	// NotifyRejected follows a rejection of a previously accepted command.
	NotifyRejected
)

// Notification is delivered to observers on the drone's worker.
type Notification struct {
	Kind    NotificationKind
	Drone   registry.Drone
	Command command.Command
	// Arrived is set on telemetry when the drone is within tolerance of
	// its navigation target.
	Arrived bool
	Time    time.Time
}

// Observer is called synchronously on the drone's worker goroutine. It
// must not call back into the Dispatcher for the same drone; commands it
// wants queued are returned instead.
type Observer interface {
	Observe(Notification) []command.Command
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Notification) []command.Command

func (f ObserverFunc) Observe(n Notification) []command.Command { return f(n) }
