package flightplan

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

var (
	ErrPlanActive   = errors.New("drone already has an active flight plan")
	ErrNoActivePlan = errors.New("no active flight plan")
	ErrNotReady     = errors.New("drone cannot start a flight plan")
)

// State is the progress state reported for a plan.
type State string

const (
	StateStarted   State = "started"
	StateWaypoint  State = "waypoint_reached"
	StateCompleted State = "completed"
	StateCancelled State = "cancelled"
	StatePreempted State = "preempted"
	StateFailed    State = "failed"
)

// Submitter queues commands. *dispatch.Dispatcher implements it.
type Submitter interface {
	Submit(ctx context.Context, droneID string, a command.Action, p command.Priority, src command.Source) (command.Command, error)
}

// DroneReader reads drone snapshots. *registry.Registry implements it.
type DroneReader interface {
	Get(id string) (registry.Drone, error)
}

// Progress is the payload of flight_plan_progress events.
type Progress struct {
	PlanID    string    `json:"plan_id"`
	DroneID   string    `json:"drone_id"`
	Name      string    `json:"name,omitempty"`
	Active    bool      `json:"active"`
	State     State     `json:"state"`
	Index     int       `json:"waypoint_index"`
	Total     int       `json:"waypoint_count"`
	Estimate  Estimate  `json:"estimate"`
	StartedAt time.Time `json:"started_at"`
	Reason    string    `json:"reason,omitempty"`
}

type run struct {
	plan      Plan
	progress  Progress
	commandID string
	arrivedAt time.Time
}

// Executor drives at most one active plan per drone. It is registered as a
// dispatcher observer and advances plans from arrival notifications.
type Executor struct {
	submit  Submitter
	drones  DroneReader
	battery *battery.Monitor
	hub     *hub.Hub
	sink    flightlog.Sink
	now     func() time.Time
	logger  *slog.Logger

	mu   sync.Mutex
	runs map[string]*run
}

// NewExecutor creates an executor. A nil sink discards log entries.
func NewExecutor(s Submitter, drones DroneReader, mon *battery.Monitor, h *hub.Hub, sink flightlog.Sink, now func() time.Time, logger *slog.Logger) *Executor {
	if sink == nil {
		sink = flightlog.Discard{}
	}
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		submit:  s,
		drones:  drones,
		battery: mon,
		hub:     h,
		sink:    sink,
		now:     now,
		logger:  logger.With("component", "flightplan"),
		runs:    make(map[string]*run),
	}
}

// Start accepts a plan for its drone. An idle drone is sent a takeoff to
// the first waypoint's altitude before the first goto.
func (e *Executor) Start(ctx context.Context, p Plan) (Progress, error) {
	if err := p.Validate(); err != nil {
		return Progress{}, err
	}
	d, err := e.drones.Get(p.DroneID)
	if err != nil {
		return Progress{}, errors.Wrapf(command.ErrUnknownDrone, "drone %s", p.DroneID)
	}
	if err := e.ready(d); err != nil {
		return Progress{}, err
	}
	b := command.BoundsFor(d)
	for i, wp := range p.Waypoints {
		if err := command.Validate(command.Goto{Target: wp.Position(), Speed: wp.Speed}, b); err != nil {
			return Progress{}, errors.WithMessagef(err, "waypoint %d", i)
		}
	}

	start := d.Position
	if d.Status == registry.StatusIdle {
		start = d.Home
	}
	r := &run{plan: p, progress: Progress{
		PlanID:    p.ID,
		DroneID:   p.DroneID,
		Name:      p.Name,
		Active:    true,
		State:     StateStarted,
		Total:     len(p.Waypoints),
		Estimate:  p.Estimated(start, telemetry.ProfileFor(d.Model).CruiseSpeedMPS),
		StartedAt: e.now().UTC(),
	}}

	e.mu.Lock()
	if cur, ok := e.runs[p.DroneID]; ok && cur.progress.Active {
		e.mu.Unlock()
		return Progress{}, errors.Wrapf(ErrPlanActive, "plan %s", cur.plan.ID)
	}
	e.runs[p.DroneID] = r
	e.mu.Unlock()

	tookOff := false
	if d.Status == registry.StatusIdle {
		if _, err := e.submit.Submit(ctx, p.DroneID, command.Takeoff{Altitude: p.Waypoints[0].Altitude}, command.PriorityNormal, command.SourcePlanner); err != nil {
			e.abandon(p.DroneID, r)
			return Progress{}, errors.WithMessage(err, "takeoff")
		}
		tookOff = true
	}
	wp := p.Waypoints[0]
	c, err := e.submit.Submit(ctx, p.DroneID, command.Goto{Target: wp.Position(), Speed: wp.Speed}, command.PriorityNormal, command.SourcePlanner)
	if err != nil {
		e.abandon(p.DroneID, r)
		if tookOff {
			e.land(ctx, p.DroneID)
		}
		return Progress{}, errors.WithMessage(err, "goto first waypoint")
	}

	e.mu.Lock()
	if r.progress.Active && r.commandID == "" {
		r.commandID = c.ID
	}
	out := r.progress
	e.mu.Unlock()

	e.log(d, flightlog.EventPlanStarted, map[string]any{
		"plan_id": p.ID, "waypoints": len(p.Waypoints),
		"distance_m": out.Estimate.DistanceM, "duration_s": out.Estimate.DurationS,
	})
	e.publish(out)
	e.logger.Info("flight plan started", "drone_id", p.DroneID, "plan_id", p.ID, "waypoints", len(p.Waypoints))
	return out, nil
}

func (e *Executor) ready(d registry.Drone) error {
	if !d.Armed {
		return errors.Wrapf(ErrNotReady, "drone %s is not armed", d.ID)
	}
	switch d.Status {
	case registry.StatusFlying:
	case registry.StatusIdle:
		if low := e.battery.Thresholds().LowPct; d.Battery.Percentage < low {
			return errors.Wrapf(ErrNotReady, "battery %.1f%% below %.1f%%", d.Battery.Percentage, low)
		}
	default:
		return errors.Wrapf(ErrNotReady, "drone %s is %s", d.ID, d.Status)
	}
	return nil
}

func (e *Executor) abandon(droneID string, r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.runs[droneID] == r {
		delete(e.runs, droneID)
	}
}

func (e *Executor) land(ctx context.Context, droneID string) {
	if _, err := e.submit.Submit(ctx, droneID, command.Land{}, command.PriorityHigh, command.SourcePlanner); err != nil {
		e.logger.Warn("plan land refused", "drone_id", droneID, "err", err)
	}
}

// Cancel stops the drone's active plan. A drone in the air is told to land.
func (e *Executor) Cancel(ctx context.Context, droneID string) (Progress, error) {
	e.mu.Lock()
	r, ok := e.runs[droneID]
	if !ok || !r.progress.Active {
		e.mu.Unlock()
		return Progress{}, errors.Wrapf(ErrNoActivePlan, "drone %s", droneID)
	}
	e.finish(r, StateCancelled, "cancelled by operator")
	out := r.progress
	e.mu.Unlock()

	d, err := e.drones.Get(droneID)
	if err != nil {
		return out, errors.Wrapf(command.ErrUnknownDrone, "drone %s", droneID)
	}
	e.log(d, flightlog.EventPlanCancelled, map[string]any{"plan_id": out.PlanID, "waypoint_index": out.Index, "reason": out.Reason})
	e.publish(out)
	if d.Status == registry.StatusFlying || d.Status == registry.StatusTakeoff {
		e.land(ctx, droneID)
	}
	return out, nil
}

// Status returns the latest progress of the drone's plan, active or not.
func (e *Executor) Status(droneID string) (Progress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[droneID]
	if !ok {
		return Progress{}, false
	}
	return r.progress, true
}

// Active lists the progress of every active plan ordered by drone id.
func (e *Executor) Active() []Progress {
	e.mu.Lock()
	defer e.mu.Unlock()
	var out []Progress
	for _, r := range e.runs {
		if r.progress.Active {
			out = append(out, r.progress)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DroneID < out[j].DroneID })
	return out
}

func (e *Executor) finish(r *run, s State, reason string) {
	r.progress.Active = false
	r.progress.State = s
	r.progress.Reason = reason
	r.commandID = ""
}

// Observe implements dispatch.Observer.
func (e *Executor) Observe(n dispatch.Notification) []command.Command {
	e.mu.Lock()
	r, ok := e.runs[n.Drone.ID]
	if !ok || !r.progress.Active {
		e.mu.Unlock()
		return nil
	}
	var (
		out     []command.Command
		events  []logEvent
		publish bool
	)
	switch n.Kind {
	case dispatch.NotifyDirective:
		reason := "safety directive " + string(n.Command.Kind()) + " from " + string(n.Command.Source)
		e.finish(r, StatePreempted, reason)
		events = append(events, logEvent{flightlog.EventPlanCancelled, map[string]any{"plan_id": r.plan.ID, "reason": reason, "command_id": n.Command.ID}})
		publish = true
	case dispatch.NotifyRejected:
		if n.Command.Source == command.SourcePlanner {
			reason := "command " + n.Command.ID + " rejected: " + string(n.Command.Reason)
			e.finish(r, StateFailed, reason)
			events = append(events, logEvent{flightlog.EventPlanCancelled, map[string]any{"plan_id": r.plan.ID, "reason": reason, "command_id": n.Command.ID}})
			publish = true
			if s := n.Drone.Status; s == registry.StatusFlying || s == registry.StatusTakeoff {
				out = append(out, command.New(n.Drone.ID, command.Land{}, command.PriorityHigh, command.SourcePlanner, n.Time))
			}
		}
	case dispatch.NotifyExecuted:
		if n.Command.Source != command.SourcePlanner && n.Command.Kind() != command.KindTakeoff {
			reason := "overridden by " + string(n.Command.Kind()) + " " + n.Command.ID
			e.finish(r, StatePreempted, reason)
			events = append(events, logEvent{flightlog.EventPlanCancelled, map[string]any{"plan_id": r.plan.ID, "reason": reason, "command_id": n.Command.ID}})
			publish = true
		}
	case dispatch.NotifyTelemetry:
		out, events, publish = e.advance(r, n)
	}
	progress := r.progress
	e.mu.Unlock()

	for _, ev := range events {
		e.log(n.Drone, ev.event, ev.details)
	}
	if publish {
		e.publish(progress)
		if !progress.Active {
			e.logger.Info("flight plan ended", "drone_id", progress.DroneID, "plan_id", progress.PlanID, "state", progress.State, "reason", progress.Reason)
		}
	}
	return out
}

type logEvent struct {
	event   string
	details map[string]any
}

// advance handles a telemetry notification for the current waypoint. The
// caller holds e.mu.
func (e *Executor) advance(r *run, n dispatch.Notification) ([]command.Command, []logEvent, bool) {
	d := n.Drone
	if r.commandID == "" || d.Target == nil || d.Target.CommandID != r.commandID {
		return nil, nil, false
	}
	if !n.Arrived {
		r.arrivedAt = time.Time{}
		return nil, nil, false
	}
	wp := r.plan.Waypoints[r.progress.Index]
	var events []logEvent
	if r.arrivedAt.IsZero() {
		r.arrivedAt = n.Time
		events = append(events, logEvent{flightlog.EventWaypointReached, map[string]any{
			"plan_id": r.plan.ID, "waypoint_index": r.progress.Index, "wait_seconds": wp.WaitSeconds,
		}})
	}
	if n.Time.Sub(r.arrivedAt) < time.Duration(wp.WaitSeconds*float64(time.Second)) {
		return nil, events, false
	}

	if kind, text, _ := ParseAction(wp.OnArrivalAction); kind != ActionNone {
		details := map[string]any{"plan_id": r.plan.ID, "waypoint_index": r.progress.Index}
		if text != "" {
			details["text"] = text
		}
		events = append(events, logEvent{arrivalEvent(kind), details})
	}

	r.arrivedAt = time.Time{}
	r.progress.State = StateWaypoint
	if r.progress.Index+1 >= len(r.plan.Waypoints) {
		r.progress.Index = len(r.plan.Waypoints)
		e.finish(r, StateCompleted, "")
		events = append(events, logEvent{flightlog.EventPlanCompleted, map[string]any{"plan_id": r.plan.ID}})
		land := command.New(d.ID, command.Land{}, command.PriorityNormal, command.SourcePlanner, n.Time)
		return []command.Command{land}, events, true
	}
	r.progress.Index++
	next := r.plan.Waypoints[r.progress.Index]
	c := command.New(d.ID, command.Goto{Target: next.Position(), Speed: next.Speed}, command.PriorityNormal, command.SourcePlanner, n.Time)
	r.commandID = c.ID
	return []command.Command{c}, events, true
}

func arrivalEvent(kind string) string {
	switch kind {
	case ActionPhoto:
		return flightlog.EventArrivalPhoto
	case ActionHover:
		return flightlog.EventArrivalHover
	default:
		return flightlog.EventArrivalMarker
	}
}

func (e *Executor) log(d registry.Drone, event string, details map[string]any) {
	if err := e.sink.AppendLog(flightlog.NewEntry(d, e.now(), event, details)); err != nil {
		e.logger.Error("flight log append failed", "drone_id", d.ID, "event", event, "err", err)
	}
}

func (e *Executor) publish(p Progress) {
	if e.hub == nil {
		return
	}
	e.hub.Publish(hub.Event{Type: hub.FlightPlanProgress, DroneID: p.DroneID, Payload: p, Timestamp: e.now().UTC()})
}
