// Package fleet is the entry point of the flight-control core. It wires
// the registry, geofence, battery monitor, dispatcher, plan executor and
// broadcast hub together behind the operations transports call.
package fleet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/flightplan"
	"droneops-fleet/internal/geofence"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// Options configures a Fleet. Zero values fall back to package defaults.
type Options struct {
	Dispatcher dispatch.Config
	Thresholds battery.Thresholds
	Limits     geofence.Limits
	HubBuffer  int
	Now        func() time.Time
	Logger     *slog.Logger
}

// DefaultOptions returns the dispatcher and battery defaults.
func DefaultOptions() Options {
	return Options{
		Dispatcher: dispatch.DefaultConfig(),
		Thresholds: battery.DefaultThresholds,
		HubBuffer:  hub.DefaultBufferSize,
	}
}

// Fleet owns one core instance.
type Fleet struct {
	reg     *registry.Registry
	fence   *geofence.Engine
	battery *battery.Monitor
	hub     *hub.Hub
	sink    flightlog.Sink
	disp    *dispatch.Dispatcher
	plans   *flightplan.Executor
	now     func() time.Time
	logger  *slog.Logger
}

// New builds a core that appends its flight log to sink.
func New(sink flightlog.Sink, opts Options) (*Fleet, error) {
	if sink == nil {
		sink = flightlog.Discard{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Thresholds == (battery.Thresholds{}) {
		opts.Thresholds = battery.DefaultThresholds
	}
	mon, err := battery.NewMonitor(opts.Thresholds)
	if err != nil {
		return nil, err
	}
	f := &Fleet{
		reg:     registry.New(opts.Now),
		fence:   geofence.NewEngine(opts.Limits),
		battery: mon,
		hub:     hub.New(opts.HubBuffer, opts.Logger),
		sink:    sink,
		now:     opts.Now,
		logger:  opts.Logger,
	}
	f.disp = dispatch.New(f.reg, f.fence, f.battery, f.hub, sink, opts.Dispatcher,
		dispatch.WithClock(opts.Now), dispatch.WithLogger(opts.Logger))
	f.plans = flightplan.NewExecutor(f.disp, f.reg, f.battery, f.hub, sink, opts.Now, opts.Logger)
	f.disp.AddObserver(f.plans)
	return f, nil
}

// Start launches the dispatcher. Workers stop when ctx is done or Stop is
// called.
func (f *Fleet) Start(ctx context.Context) { f.disp.Start(ctx) }

// Stop stops every worker and closes all subscriptions.
func (f *Fleet) Stop() {
	f.disp.Stop()
	f.hub.Close()
}

// Result is the reply to a command submission.
type Result struct {
	Accepted  bool                 `json:"accepted"`
	CommandID string               `json:"command_id"`
	Status    command.Status       `json:"status"`
	Reason    command.RejectReason `json:"reason,omitempty"`
}

func resultOf(c command.Command) Result {
	return Result{
		Accepted:  c.Status != command.StatusRejected,
		CommandID: c.ID,
		Status:    c.Status,
		Reason:    c.Reason,
	}
}

// SubmitCommand parses and queues an operator command. A rejection is
// reported both in the Result and as the returned error.
func (f *Fleet) SubmitCommand(ctx context.Context, droneID, kind string, params command.Params, priority string) (Result, error) {
	if _, err := f.reg.Get(droneID); err != nil {
		err = fmt.Errorf("%w: %w", command.ErrUnknownDrone, err)
		return Result{Reason: command.Reason(err), Status: command.StatusRejected}, err
	}
	p, err := command.ParsePriority(priority)
	if err != nil {
		return Result{Reason: command.Reason(err), Status: command.StatusRejected}, err
	}
	a, err := command.Parse(kind, params)
	if err != nil {
		return Result{Reason: command.Reason(err), Status: command.StatusRejected}, err
	}
	c, err := f.disp.Submit(ctx, droneID, a, p, command.SourceOperator)
	return resultOf(c), err
}

// Execute runs the next queued command of a drone in manual mode.
func (f *Fleet) Execute(ctx context.Context, droneID string) (command.Command, error) {
	return f.disp.Execute(ctx, droneID)
}

// Command returns the latest known state of a submitted command.
func (f *Fleet) Command(droneID, commandID string) (command.Command, bool) {
	return f.disp.Command(droneID, commandID)
}

// History lists recent commands of a drone in submission order.
func (f *Fleet) History(droneID string) []command.Command { return f.disp.History(droneID) }

// Queued lists the drone's pending commands in execution order.
func (f *Fleet) Queued(ctx context.Context, droneID string) ([]command.Command, error) {
	return f.disp.Queued(ctx, droneID)
}

// IngestTelemetry applies a frame from the drone link and runs the safety
// checks before returning.
func (f *Fleet) IngestTelemetry(ctx context.Context, droneID string, fr telemetry.Frame) error {
	return f.disp.IngestTelemetry(ctx, droneID, fr)
}

// CheckLinkLoss runs the link-loss watchdog once over the fleet.
func (f *Fleet) CheckLinkLoss(ctx context.Context) { f.disp.CheckLinkLoss(ctx) }

// Subscribe opens a stream for a drone id or hub.FleetTopic.
func (f *Fleet) Subscribe(topic string) (*hub.Subscription, error) {
	if topic != hub.FleetTopic {
		if _, err := f.reg.Get(topic); err != nil {
			return nil, fmt.Errorf("%w: %w", command.ErrUnknownDrone, err)
		}
	}
	return f.hub.Subscribe(topic)
}

// Unsubscribe closes a subscription.
func (f *Fleet) Unsubscribe(sub *hub.Subscription) { f.hub.Unsubscribe(sub) }

// RegisterDrone adds a drone and starts its worker.
func (f *Fleet) RegisterDrone(ctx context.Context, d registry.Drone) (registry.Drone, error) {
	id, err := f.reg.Register(d)
	if err != nil {
		return registry.Drone{}, err
	}
	out, err := f.reg.Get(id)
	if err != nil {
		return registry.Drone{}, err
	}
	f.log(out, flightlog.EventRegistered, map[string]any{
		"name": out.Name, "model": out.Model, "serial": out.Serial, "armed": out.Armed,
	})
	// Spawns the worker so the link-loss baseline starts now.
	if _, err := f.disp.Queued(ctx, id); err != nil && !errors.Is(err, dispatch.ErrStopped) {
		return out, err
	}
	f.logger.Info("drone registered", "drone_id", id, "model", out.Model)
	return out, nil
}

// Drone returns a snapshot of one drone.
func (f *Fleet) Drone(id string) (registry.Drone, error) { return f.reg.Get(id) }

// Drones returns snapshots of every drone ordered by id.
func (f *Fleet) Drones() []registry.Drone { return f.reg.List() }

// Arm marks a drone ready for flight.
func (f *Fleet) Arm(ctx context.Context, id string) (registry.Drone, error) {
	return f.disp.Arm(ctx, id)
}

// Disarm clears the armed flag of a grounded drone.
func (f *Fleet) Disarm(ctx context.Context, id string) (registry.Drone, error) {
	return f.disp.Disarm(ctx, id)
}

// Restart replaces a failed drone worker.
func (f *Fleet) Restart(id string) error { return f.disp.Restart(id) }

// Failed reports whether a drone's worker has failed.
func (f *Fleet) Failed(id string) bool { return f.disp.Failed(id) }

// DefineNoFlyZone installs or replaces a zone.
func (f *Fleet) DefineNoFlyZone(z geofence.Zone) error {
	if err := f.fence.DefineZone(z); err != nil {
		return err
	}
	f.zoneChanged("define", z.ID)
	return nil
}

// RemoveNoFlyZone deletes a zone by id.
func (f *Fleet) RemoveNoFlyZone(id string) error {
	if err := f.fence.RemoveZone(id); err != nil {
		return err
	}
	f.zoneChanged("remove", id)
	return nil
}

// NoFlyZones lists the current zones.
func (f *Fleet) NoFlyZones() []geofence.Zone { return f.fence.Zones() }

func (f *Fleet) zoneChanged(action, id string) {
	f.log(registry.Drone{}, flightlog.EventNoFlyZoneChanged, map[string]any{"action": action, "zone_id": id})
	f.logger.Info("no-fly zone changed", "action", action, "zone_id", id)
}

// SetSafetyThresholds replaces the battery thresholds.
func (f *Fleet) SetSafetyThresholds(t battery.Thresholds) error {
	if err := f.battery.SetThresholds(t); err != nil {
		return err
	}
	f.logger.Info("safety thresholds changed", "low_pct", t.LowPct, "critical_pct", t.CriticalPct, "warn_pct", t.WarnPct)
	return nil
}

// SafetyThresholds returns the battery thresholds in force.
func (f *Fleet) SafetyThresholds() battery.Thresholds { return f.battery.Thresholds() }

// SetFleetLimits replaces the fleet-wide altitude and distance limits.
func (f *Fleet) SetFleetLimits(l geofence.Limits) { f.fence.SetLimits(l) }

// StartFlightPlan starts a plan on its drone.
func (f *Fleet) StartFlightPlan(ctx context.Context, p flightplan.Plan) (flightplan.Progress, error) {
	return f.plans.Start(ctx, p)
}

// CancelFlightPlan cancels the drone's active plan.
func (f *Fleet) CancelFlightPlan(ctx context.Context, droneID string) (flightplan.Progress, error) {
	return f.plans.Cancel(ctx, droneID)
}

// FlightPlan returns the progress of the drone's latest plan.
func (f *Fleet) FlightPlan(droneID string) (flightplan.Progress, bool) {
	return f.plans.Status(droneID)
}

// ActivePlans lists every active plan.
func (f *Fleet) ActivePlans() []flightplan.Progress { return f.plans.Active() }

func (f *Fleet) log(d registry.Drone, event string, details map[string]any) {
	if err := f.sink.AppendLog(flightlog.NewEntry(d, f.now(), event, details)); err != nil {
		f.logger.Error("flight log append failed", "drone_id", d.ID, "event", event, "err", err)
	}
}
