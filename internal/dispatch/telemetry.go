package dispatch

import (
	"fmt"
	"math"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// directive is a safety command about to be synthesized.
type directive struct {
	action   command.Action
	priority command.Priority
	source   command.Source
	reason   string
}

func (d directive) emergency() bool { return d.action.Kind() == command.KindEmergencyLand }

func (w *worker) ingest(f telemetry.Frame) error {
	now := w.d.now()
	if f.Timestamp.IsZero() {
		f.Timestamp = now
	}
	drone, err := w.d.reg.ApplyTelemetry(w.id, f)
	if err != nil {
		return err
	}
	w.lastTelemetry = now
	drone = w.progress(drone)
	w.d.hub.Publish(hub.Event{Type: hub.TelemetryUpdate, DroneID: w.id, Payload: drone, Timestamp: f.Timestamp.UTC()})

	w.evaluate(drone, now)

	drone = w.drone()
	arrived := w.arrived(drone)
	w.notify(Notification{Kind: NotifyTelemetry, Drone: drone, Arrived: arrived, Time: now})

	if arrived && drone.Status == registry.StatusFlying && drone.Target.ReturnHome && !w.queue.Any(isKind(command.KindLand)) {
		src := command.SourceBattery
		if rth, ok := w.hist.get(drone.Target.CommandID); ok {
			src = rth.Source
		}
		land := command.New(w.id, command.Land{}, command.PriorityHigh, src, now)
		if _, err := w.submit(land); err != nil {
			w.d.logger.Error("land after return home refused", "drone_id", w.id, "err", err)
		}
	}
	return nil
}

// progress performs the transitions that follow from telemetry alone:
// reaching takeoff altitude and touching down.
func (w *worker) progress(drone registry.Drone) registry.Drone {
	switch drone.Status {
	case registry.StatusTakeoff:
		goal := drone.Limits.MaxAltitude
		if drone.Target != nil {
			goal = drone.Target.Position.Alt
		}
		if drone.Position.Alt >= goal-w.d.cfg.AltitudeTolerance {
			if next, err := w.transition(drone, registry.StatusFlying, ""); err == nil {
				return next
			}
		}
	case registry.StatusLanding:
		if drone.Position.Alt <= w.d.cfg.GroundAltitude {
			if _, err := w.transition(drone, registry.StatusIdle, ""); err == nil {
				w.warned = false
				return w.setTarget(nil, registry.ModeManual)
			}
		}
	}
	return drone
}

func (w *worker) arrived(d registry.Drone) bool {
	if d.Target == nil || d.Target.Orbit || d.Status != registry.StatusFlying {
		return false
	}
	horizontal := geo.DistanceMeters(d.Position.Point(), d.Target.Position.Point())
	return horizontal <= w.d.cfg.ArrivalTolerance && math.Abs(d.Position.Alt-d.Target.Position.Alt) <= w.d.cfg.AltitudeTolerance
}

func (w *worker) safetyState(d registry.Drone) battery.State {
	return battery.State{
		Landing:          d.Status == registry.StatusLanding || d.Status == registry.StatusEmergency,
		Emergency:        d.Status == registry.StatusEmergency || w.emergencyLanding(d),
		ReturnHome:       (d.Target != nil && d.Target.ReturnHome) || w.queue.Any(command.Command.ReturnHome),
		EmergencyPending: w.queue.Any(isKind(command.KindEmergencyLand)),
	}
}

// emergencyLanding reports whether the drone is descending under an
// executed emergency landing.
func (w *worker) emergencyLanding(d registry.Drone) bool {
	if d.Status != registry.StatusLanding || d.Target == nil {
		return false
	}
	c, ok := w.hist.get(d.Target.CommandID)
	return ok && c.Kind() == command.KindEmergencyLand
}

// evaluate runs the geofence and battery checks and issues at most one
// directive, the most severe.
func (w *worker) evaluate(drone registry.Drone, now time.Time) {
	state := w.safetyState(drone)
	if state.EmergencyPending {
		return
	}
	var candidates []directive
	if drone.Status == registry.StatusTakeoff || drone.Status == registry.StatusFlying {
		v := w.d.fence.Evaluate(drone.Position.Point(), drone.Home.Point(), drone.Position.Alt, drone.Limits.MaxAltitude, drone.Limits.MaxDistance)
		if v.Breach {
			if v.Reason.Severe() {
				candidates = append(candidates, emergencyLand(command.SourceGeofence, v.Detail))
			} else if !state.ReturnHome {
				candidates = append(candidates, w.returnHome(drone, command.PriorityCritical, command.SourceGeofence, v.Detail))
			}
		}
	}
	if drone.Status.Airborne() {
		raw := w.d.battery.Evaluate(drone.Battery)
		if raw == battery.None {
			w.warned = false
		}
		reason := fmt.Sprintf("battery at %.1f%%", drone.Battery.Percentage)
		switch battery.Decide(raw, state) {
		case battery.ForceEmergencyLand:
			candidates = append(candidates, emergencyLand(command.SourceBattery, reason))
		case battery.ForceReturnHome:
			candidates = append(candidates, w.returnHome(drone, command.PriorityHigh, command.SourceBattery, reason))
		case battery.WarnLow:
			w.warnLow(drone, now)
		}
	}
	if len(candidates) == 0 {
		return
	}
	pick := candidates[0]
	for _, c := range candidates[1:] {
		if c.emergency() && !pick.emergency() {
			pick = c
		}
	}
	w.issue(pick, drone, now)
}

func emergencyLand(src command.Source, reason string) directive {
	return directive{action: command.EmergencyLand{Reason: reason}, priority: command.PriorityCritical, source: src, reason: reason}
}

func (w *worker) returnHome(d registry.Drone, p command.Priority, src command.Source, reason string) directive {
	maxAlt, _ := w.d.fence.Snapshot().Limits.Effective(d.Limits.MaxAltitude, d.Limits.MaxDistance)
	target := d.Home
	target.Alt = w.d.cfg.ReturnAltitude
	if target.Alt <= 0 {
		target.Alt = d.Position.Alt
	}
	target.Alt = math.Min(target.Alt, maxAlt)
	return directive{action: command.Goto{Target: target, ReturnHome: true}, priority: p, source: src, reason: reason}
}

// issue queues a directive and records it as a safety override.
func (w *worker) issue(dir directive, drone registry.Drone, now time.Time) {
	c := command.New(w.id, dir.action, dir.priority, dir.source, now)
	w.notify(Notification{Kind: NotifyDirective, Drone: drone, Command: c, Time: now})
	c, err := w.submit(c)
	if err != nil {
		w.d.logger.Error("safety directive refused", "drone_id", w.id, "kind", c.Kind(), "source", dir.source, "err", err)
		return
	}
	name := battery.ForceReturnHome.String()
	evType := hub.EmergencyLanding
	if dir.emergency() {
		name = battery.ForceEmergencyLand.String()
	} else if dir.source == command.SourceBattery {
		evType = hub.LowBatteryWarning
	}
	override := SafetyOverride{Directive: name, Source: dir.source, Reason: dir.reason, CommandID: c.ID, Battery: drone.Battery.Percentage}
	w.log(drone, flightlog.EventSafetyOverride, map[string]any{
		"directive": name, "source": string(dir.source), "reason": dir.reason, "command_id": c.ID, "priority": c.Priority.String(),
	})
	w.d.hub.Publish(hub.Event{Type: evType, DroneID: w.id, Payload: override, Timestamp: now})
	w.d.logger.Warn("safety override", "drone_id", w.id, "directive", name, "source", dir.source, "reason", dir.reason, "command_id", c.ID)
}

// warnLow emits one warning per excursion into the warning band.
func (w *worker) warnLow(drone registry.Drone, now time.Time) {
	if w.warned {
		return
	}
	w.warned = true
	reason := fmt.Sprintf("battery at %.1f%%", drone.Battery.Percentage)
	w.log(drone, flightlog.EventLowBatteryWarn, map[string]any{"battery_pct": drone.Battery.Percentage})
	w.d.hub.Publish(hub.Event{
		Type:      hub.LowBatteryWarning,
		DroneID:   w.id,
		Payload:   SafetyOverride{Directive: battery.WarnLow.String(), Source: command.SourceBattery, Reason: reason, Battery: drone.Battery.Percentage},
		Timestamp: now,
	})
}

// checkLinkLoss forces an emergency landing when an airborne drone has been
// silent for longer than the configured timeout.
func (w *worker) checkLinkLoss() {
	timeout := w.d.cfg.LinkLossTimeout
	if timeout <= 0 {
		return
	}
	drone := w.drone()
	if drone.Status != registry.StatusTakeoff && drone.Status != registry.StatusFlying {
		return
	}
	now := w.d.now()
	silent := now.Sub(w.lastTelemetry)
	if silent <= timeout || w.queue.Any(isKind(command.KindEmergencyLand)) {
		return
	}
	w.issue(emergencyLand(command.SourceLinkLoss, fmt.Sprintf("no telemetry for %s", silent.Round(time.Millisecond))), drone, now)
}
