package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"droneops-fleet/internal/command"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
)

type job struct {
	fn    func(*worker) error
	reply chan error
}

// worker state other than jobs, done and hist is owned by the goroutine.
type worker struct {
	d    *Dispatcher
	id   string
	jobs chan job
	done chan struct{}

	failMu  sync.Mutex
	failErr error

	queue         *command.Queue
	hist          *history
	lastTelemetry time.Time
	warned        bool
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case <-ctx.Done():
			w.setFailure(ErrStopped)
			return
		case j := <-w.jobs:
			if !w.handle(j) {
				return
			}
		}
	}
}

// handle runs one job. A panic fails this worker only.
func (w *worker) handle(j job) (alive bool) {
	defer func() {
		if r := recover(); r != nil {
			err := fmt.Errorf("%w: %s: %v", ErrWorkerFailed, w.id, r)
			w.setFailure(err)
			w.d.logger.Error("drone worker failed", "drone_id", w.id, "err", err)
			if drone, gerr := w.d.reg.Get(w.id); gerr == nil {
				w.log(drone, flightlog.EventWorkerFailed, map[string]any{"error": fmt.Sprint(r)})
			}
			j.reply <- err
			alive = false
		}
	}()
	err := j.fn(w)
	w.settle()
	j.reply <- err
	return true
}

func (w *worker) setFailure(err error) {
	w.failMu.Lock()
	defer w.failMu.Unlock()
	if w.failErr == nil {
		w.failErr = err
	}
}

func (w *worker) failure() error {
	w.failMu.Lock()
	defer w.failMu.Unlock()
	if w.failErr == nil {
		return ErrStopped
	}
	return w.failErr
}

// drone reads the record this worker owns. A missing record means the
// registry lost state under us, which fails the worker.
func (w *worker) drone() registry.Drone {
	d, err := w.d.reg.Get(w.id)
	if err != nil {
		panic(fmt.Sprintf("registry lost drone %s: %v", w.id, err))
	}
	return d
}

func (w *worker) settle() {
	w.drain(!w.d.cfg.AutoExecute)
}

// drain executes queued commands until the queue is empty or the head has
// to wait. With safetyOnly set it stops at the first non-safety command.
func (w *worker) drain(safetyOnly bool) {
	for {
		c, ok := w.queue.Peek()
		if !ok {
			return
		}
		if safetyOnly && !c.Source.Safety() {
			return
		}
		drone := w.drone()
		if command.Deferred(c.Kind(), drone.Status) {
			return
		}
		w.queue.Pop()
		w.execute(c, drone)
	}
}

func (w *worker) executeNext() (command.Command, error) {
	c, ok := w.queue.Peek()
	if !ok {
		return command.Command{}, ErrQueueEmpty
	}
	drone := w.drone()
	if command.Deferred(c.Kind(), drone.Status) {
		return c, ErrCommandDeferred
	}
	w.queue.Pop()
	return w.execute(c, drone)
}

func (w *worker) submit(c command.Command) (command.Command, error) {
	drone, err := w.d.reg.Get(w.id)
	if err != nil {
		return w.refuse(c, fmt.Errorf("%w: %w", command.ErrUnknownDrone, err))
	}
	if err := w.admit(c, drone); err != nil {
		return w.refuse(c, err)
	}
	displaced, err := w.queue.Push(c)
	if err != nil {
		return w.refuse(c, err)
	}
	c.Status = command.StatusQueued
	w.hist.record(c)
	for _, o := range displaced {
		w.rejected(o, drone)
	}
	w.d.logger.Debug("command queued", "drone_id", w.id, "command_id", c.ID, "kind", c.Kind(), "priority", c.Priority, "source", c.Source)
	return c, nil
}

// refuse records a command rejected at submission.
func (w *worker) refuse(c command.Command, err error) (command.Command, error) {
	c = c.Rejected(command.Reason(err))
	w.hist.record(c)
	w.d.logger.Info("command rejected", "drone_id", w.id, "command_id", c.ID, "kind", c.Kind(), "reason", c.Reason, "err", err)
	return c, err
}

// admit runs the submission checks that do not depend on the queue.
func (w *worker) admit(c command.Command, drone registry.Drone) error {
	k := c.Kind()
	if k.RequiresArmed() && !drone.Armed {
		return fmt.Errorf("%w: %s", command.ErrNotArmed, drone.ID)
	}
	if !c.Source.Safety() {
		if err := command.Validate(c.Action, w.bounds(drone)); err != nil {
			return err
		}
		if g, ok := c.Action.(command.Goto); ok {
			if z, hit := w.d.fence.Restricted(g.Target.Point(), g.Target.Alt); hit {
				return &command.ValidationError{Field: "target", Value: g.Target, Msg: "inside no-fly zone " + z.ID}
			}
		}
	}
	status := w.projected(drone)
	if !command.Legal(k, status) && !command.Deferred(k, status) {
		return fmt.Errorf("%w: %s while %s", command.ErrIllegalState, k, status)
	}
	if c.Navigation() && !c.Source.Safety() && drone.Target != nil && drone.Target.ReturnHome {
		return fmt.Errorf("%w: return to home in progress", command.ErrSupersededBySafety)
	}
	return nil
}

// projected is the status the drone will have once queued commands ahead
// of a new one have run: an idle drone with a takeoff queued counts as
// taking off.
func (w *worker) projected(d registry.Drone) registry.Status {
	if d.Status == registry.StatusIdle && w.queue.Any(isKind(command.KindTakeoff)) {
		return registry.StatusTakeoff
	}
	return d.Status
}

func isKind(k command.Kind) func(command.Command) bool {
	return func(c command.Command) bool { return c.Kind() == k }
}

func (w *worker) bounds(d registry.Drone) command.Bounds {
	b := command.BoundsFor(d)
	b.MaxAltitude, b.MaxDistance = w.d.fence.Snapshot().Limits.Effective(b.MaxAltitude, b.MaxDistance)
	return b
}

// execute applies a popped command to the registry.
func (w *worker) execute(c command.Command, drone registry.Drone) (command.Command, error) {
	now := w.d.now()
	if !command.Legal(c.Kind(), drone.Status) {
		err := fmt.Errorf("%w: %s while %s", command.ErrIllegalState, c.Kind(), drone.Status)
		c = c.Rejected(command.ReasonIllegalState)
		w.rejected(c, drone)
		return c, err
	}
	c.Status = command.StatusExecuting
	w.hist.record(c)

	var err error
	switch a := c.Action.(type) {
	case command.Takeoff:
		drone, err = w.transition(drone, registry.StatusTakeoff, c.ID)
		if err == nil {
			target := drone.Position
			target.Alt = a.Altitude
			w.lastTelemetry = now
			drone = w.setTarget(&registry.Target{CommandID: c.ID, Position: target}, registry.ModeAuto)
		}
	case command.Land:
		if drone.Status != registry.StatusLanding {
			drone, err = w.transition(drone, registry.StatusLanding, c.ID)
		}
		if err == nil {
			drone = w.setTarget(groundTarget(drone, c.ID), drone.FlightMode)
		}
	case command.EmergencyLand:
		if drone.Status != registry.StatusEmergency {
			drone, err = w.transition(drone, registry.StatusEmergency, c.ID)
		}
		if err == nil {
			drone, err = w.transition(drone, registry.StatusLanding, c.ID)
		}
		if err == nil {
			drone = w.setTarget(groundTarget(drone, c.ID), registry.ModeAuto)
		}
	case command.Goto:
		mode := registry.ModeAuto
		switch {
		case a.ReturnHome:
			mode = registry.ModeReturnHome
		case c.Source == command.SourcePlanner:
			mode = registry.ModeWaypoint
		}
		drone = w.setTarget(&registry.Target{CommandID: c.ID, Position: a.Target, Speed: a.Speed, ReturnHome: a.ReturnHome}, mode)
	case command.Orbit:
		drone = w.setTarget(&registry.Target{CommandID: c.ID, Position: a.Center, Speed: a.Speed, Orbit: true, Radius: a.Radius}, registry.ModeOrbit)
	default:
		err = fmt.Errorf("%w: unsupported action %T", command.ErrIllegalState, c.Action)
	}
	if err != nil {
		c = c.Rejected(command.ReasonIllegalState)
		w.rejected(c, drone)
		return c, err
	}

	c.Status = command.StatusExecuted
	c.ExecutedAt = now.UTC()
	w.hist.record(c)
	w.log(drone, flightlog.EventCommandExecuted, map[string]any{
		"command_id": c.ID, "kind": string(c.Kind()), "priority": c.Priority.String(), "source": string(c.Source),
	})
	w.d.hub.Publish(hub.Event{Type: hub.CommandExecuted, DroneID: w.id, Payload: Executed{Command: c, Drone: drone}, Timestamp: now})
	w.d.logger.Info("command executed", "drone_id", w.id, "command_id", c.ID, "kind", c.Kind(), "status", drone.Status)
	w.notify(Notification{Kind: NotifyExecuted, Drone: drone, Command: c, Time: now})
	return c, nil
}

func groundTarget(d registry.Drone, commandID string) *registry.Target {
	pos := d.Position
	pos.Alt = 0
	return &registry.Target{CommandID: commandID, Position: pos}
}

// rejected records a command that was accepted earlier and will now never
// run.
func (w *worker) rejected(c command.Command, drone registry.Drone) {
	w.hist.record(c)
	w.log(drone, flightlog.EventCommandRejected, map[string]any{
		"command_id": c.ID, "kind": string(c.Kind()), "reason": string(c.Reason),
	})
	w.d.logger.Info("command rejected", "drone_id", w.id, "command_id", c.ID, "kind", c.Kind(), "reason", c.Reason)
	w.notify(Notification{Kind: NotifyRejected, Drone: drone, Command: c, Time: w.d.now()})
}

func (w *worker) transition(drone registry.Drone, to registry.Status, commandID string) (registry.Drone, error) {
	from := drone.Status
	next, err := w.d.reg.Transition(w.id, to)
	if err != nil {
		return next, err
	}
	details := map[string]any{"from": string(from), "to": string(to)}
	if commandID != "" {
		details["command_id"] = commandID
	}
	w.log(next, flightlog.EventTransition, details)
	return next, nil
}

func (w *worker) setTarget(t *registry.Target, mode registry.FlightMode) registry.Drone {
	d, err := w.d.reg.Update(w.id, func(d *registry.Drone) error {
		d.Target = t
		d.FlightMode = mode
		return nil
	})
	if err != nil {
		panic(fmt.Sprintf("update drone %s: %v", w.id, err))
	}
	return d
}

// notify hands a notification to every observer and queues what they
// return. Follow-ups that are refused are reported back as rejections.
func (w *worker) notify(n Notification) {
	for _, o := range w.d.observerList() {
		for _, c := range o.Observe(n) {
			if c.DroneID == "" {
				c.DroneID = w.id
			}
			if c.DroneID != w.id {
				w.d.logger.Warn("observer returned command for another drone", "drone_id", w.id, "target", c.DroneID)
				continue
			}
			if out, err := w.submit(c); err != nil {
				w.notify(Notification{Kind: NotifyRejected, Drone: w.drone(), Command: out, Time: w.d.now()})
			}
		}
	}
}

func (w *worker) log(d registry.Drone, event string, details map[string]any) {
	e := flightlog.NewEntry(d, w.d.now(), event, details)
	if err := w.d.sink.AppendLog(e); err != nil {
		w.d.logger.Error("flight log append failed", "drone_id", d.ID, "event", event, "err", err)
	}
}
