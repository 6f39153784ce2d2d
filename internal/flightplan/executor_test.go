package flightplan

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/geofence"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

var home = telemetry.Position{Lat: 48.2, Lon: 16.4}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	t     *testing.T
	ctx   context.Context
	clock *fakeClock
	reg   *registry.Registry
	fence *geofence.Engine
	hub   *hub.Hub
	log   *flightlog.Memory
	d     *dispatch.Dispatcher
	ex    *Executor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Unix(5000, 0).UTC()}
	mon, err := battery.NewMonitor(battery.Thresholds{LowPct: 20, CriticalPct: 5, WarnPct: 30})
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	f := &fixture{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		reg:   registry.New(clock.Now),
		fence: geofence.NewEngine(geofence.Limits{}),
		hub:   hub.New(1024, nil),
		log:   flightlog.NewMemory(0),
	}
	_, err = f.reg.Register(registry.Drone{
		ID:      "d1",
		Model:   "medium-uav",
		Home:    home,
		Limits:  registry.Limits{MaxAltitude: 120, MaxDistance: 2000, MaxSpeed: 15},
		Battery: telemetry.Battery{Percentage: 100},
		Armed:   true,
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.d = dispatch.New(f.reg, f.fence, mon, f.hub, f.log, dispatch.DefaultConfig(), dispatch.WithClock(clock.Now), dispatch.WithLogger(logger))
	f.ex = NewExecutor(f.d, f.reg, mon, f.hub, f.log, clock.Now, logger)
	f.d.AddObserver(f.ex)
	f.d.Start(f.ctx)
	t.Cleanup(f.d.Stop)
	return f
}

func (f *fixture) ingest(pos telemetry.Position, pct float64) {
	f.t.Helper()
	f.clock.Advance(time.Second)
	fr := telemetry.Frame{Position: pos, Battery: telemetry.Battery{Percentage: pct}, Timestamp: f.clock.Now()}
	if err := f.d.IngestTelemetry(f.ctx, "d1", fr); err != nil {
		f.t.Fatalf("IngestTelemetry: %v", err)
	}
}

func (f *fixture) status() registry.Status {
	d, err := f.reg.Get("d1")
	if err != nil {
		f.t.Fatalf("Get: %v", err)
	}
	return d.Status
}

// fly takes d1 to 30m above home with an operator takeoff.
func (f *fixture) fly() {
	f.t.Helper()
	if _, err := f.d.Submit(f.ctx, "d1", command.Takeoff{Altitude: 30}, command.PriorityNormal, command.SourceOperator); err != nil {
		f.t.Fatalf("takeoff: %v", err)
	}
	f.ingest(at(0, 0, 30), 100)
	if s := f.status(); s != registry.StatusFlying {
		f.t.Fatalf("expected flying, got %s", s)
	}
}

func (f *fixture) executedKinds() []command.Kind {
	var out []command.Kind
	for _, c := range f.d.History("d1") {
		if c.Status == command.StatusExecuted {
			out = append(out, c.Kind())
		}
	}
	return out
}

func (f *fixture) countEvent(event string) int {
	n := 0
	for _, e := range f.log.Events("d1") {
		if e == event {
			n++
		}
	}
	return n
}

func at(bearing, dist, alt float64) telemetry.Position {
	if dist == 0 {
		return telemetry.Position{Lat: home.Lat, Lon: home.Lon, Alt: alt}
	}
	p := geo.Destination(home.Point(), bearing, dist)
	return telemetry.Position{Lat: p.Lat, Lon: p.Lon, Alt: alt}
}

func waypoint(pos telemetry.Position, wait float64, action string) Waypoint {
	return Waypoint{Lat: pos.Lat, Lon: pos.Lon, Altitude: pos.Alt, WaitSeconds: wait, OnArrivalAction: action}
}

func threeLegPlan() Plan {
	return Plan{
		ID:      "survey",
		DroneID: "d1",
		Waypoints: []Waypoint{
			waypoint(at(90, 100, 30), 2, ""),
			waypoint(at(90, 200, 30), 0, ActionPhoto),
			waypoint(at(90, 300, 30), 0, "marker:done"),
		},
	}
}

func TestPlanFromIdleRunsToCompletion(t *testing.T) {
	f := newFixture(t)
	sub, err := f.hub.Subscribe(hub.FleetTopic)
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	plan := threeLegPlan()

	p, err := f.ex.Start(f.ctx, plan)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Active || p.Total != 3 || p.Index != 0 {
		t.Fatalf("unexpected progress %+v", p)
	}
	if p.Estimate.DistanceM < 300 {
		t.Fatalf("estimate too short: %+v", p.Estimate)
	}
	if s := f.status(); s != registry.StatusTakeoff {
		t.Fatalf("expected takeoff, got %s", s)
	}

	f.ingest(at(0, 0, 30), 100)
	if s := f.status(); s != registry.StatusFlying {
		t.Fatalf("expected flying, got %s", s)
	}

	wp0 := plan.Waypoints[0].Position()
	f.ingest(wp0, 99)
	f.ingest(wp0, 99)
	if p, _ := f.ex.Status("d1"); p.Index != 0 {
		t.Fatalf("advanced before wait elapsed: %+v", p)
	}
	f.ingest(wp0, 99)
	if p, _ := f.ex.Status("d1"); p.Index != 1 {
		t.Fatalf("expected waypoint 1 after wait, got %+v", p)
	}

	f.ingest(plan.Waypoints[1].Position(), 98)
	f.ingest(plan.Waypoints[2].Position(), 97)

	p, ok := f.ex.Status("d1")
	if !ok || p.Active || p.State != StateCompleted {
		t.Fatalf("expected completed plan, got %+v", p)
	}
	if s := f.status(); s != registry.StatusLanding {
		t.Fatalf("expected landing, got %s", s)
	}
	want := []command.Kind{command.KindTakeoff, command.KindGoto, command.KindGoto, command.KindGoto, command.KindLand}
	got := f.executedKinds()
	if len(got) != len(want) {
		t.Fatalf("executed %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("executed %v, want %v", got, want)
		}
	}

	f.ingest(at(90, 300, 0), 97)
	if s := f.status(); s != registry.StatusIdle {
		t.Fatalf("expected idle, got %s", s)
	}

	if n := f.countEvent(flightlog.EventWaypointReached); n != 3 {
		t.Fatalf("expected 3 waypoint_reached entries, got %d", n)
	}
	for _, ev := range []string{flightlog.EventPlanStarted, flightlog.EventArrivalPhoto, flightlog.EventArrivalMarker, flightlog.EventPlanCompleted} {
		if f.countEvent(ev) != 1 {
			t.Fatalf("expected one %s entry, got %v", ev, f.log.Events("d1"))
		}
	}

	var last Progress
	for {
		select {
		case ev := <-sub.C():
			if ev.Type == hub.FlightPlanProgress {
				last = ev.Payload.(Progress)
			}
			continue
		default:
		}
		break
	}
	if last.State != StateCompleted || last.Active {
		t.Fatalf("last progress event %+v", last)
	}
}

func TestStartRejections(t *testing.T) {
	f := newFixture(t)
	if _, err := f.ex.Start(f.ctx, Plan{ID: "empty", DroneID: "d1"}); !errors.Is(err, ErrInvalidPlan) {
		t.Fatalf("expected ErrInvalidPlan, got %v", err)
	}
	missing := threeLegPlan()
	missing.DroneID = "ghost"
	if _, err := f.ex.Start(f.ctx, missing); !errors.Is(err, command.ErrUnknownDrone) {
		t.Fatalf("expected ErrUnknownDrone, got %v", err)
	}

	if _, err := f.reg.Disarm("d1"); err != nil {
		t.Fatalf("Disarm: %v", err)
	}
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady for disarmed drone, got %v", err)
	}
	if _, err := f.reg.Arm("d1"); err != nil {
		t.Fatalf("Arm: %v", err)
	}

	f.clock.Advance(time.Second)
	if err := f.d.IngestTelemetry(f.ctx, "d1", telemetry.Frame{Position: at(0, 0, 0), Battery: telemetry.Battery{Percentage: 10}}); err != nil {
		t.Fatalf("IngestTelemetry: %v", err)
	}
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady for low battery, got %v", err)
	}
	if _, ok := f.ex.Status("d1"); ok {
		t.Fatal("rejected start left a plan behind")
	}
}

func TestSecondPlanRejectedWhileActive(t *testing.T) {
	f := newFixture(t)
	f.fly()
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	other := threeLegPlan()
	other.ID = "other"
	if _, err := f.ex.Start(f.ctx, other); !errors.Is(err, ErrPlanActive) {
		t.Fatalf("expected ErrPlanActive, got %v", err)
	}
	if got := f.ex.Active(); len(got) != 1 || got[0].PlanID != "survey" {
		t.Fatalf("unexpected active plans %+v", got)
	}
}

func TestSafetyDirectivePreemptsPlan(t *testing.T) {
	f := newFixture(t)
	f.fly()
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	f.ingest(at(90, 20, 30), 15)

	p, _ := f.ex.Status("d1")
	if p.Active || p.State != StatePreempted {
		t.Fatalf("expected preempted plan, got %+v", p)
	}
	d, _ := f.reg.Get("d1")
	if d.Target == nil || !d.Target.ReturnHome {
		t.Fatalf("expected return home target, got %+v", d.Target)
	}
	if n := f.countEvent(flightlog.EventPlanCancelled); n != 1 {
		t.Fatalf("expected one cancellation entry, got %d", n)
	}

	// no auto-resume and no restart while returning home
	f.ingest(threeLegPlan().Waypoints[0].Position(), 15)
	if p, _ := f.ex.Status("d1"); p.Index != 0 {
		t.Fatalf("preempted plan advanced: %+v", p)
	}
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); !errors.Is(err, command.ErrSupersededBySafety) {
		t.Fatalf("expected ErrSupersededBySafety, got %v", err)
	}
}

func TestOperatorNavigationPreemptsPlan(t *testing.T) {
	f := newFixture(t)
	f.fly()
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if _, err := f.d.Submit(f.ctx, "d1", command.Goto{Target: at(180, 100, 40)}, command.PriorityNormal, command.SourceOperator); err != nil {
		t.Fatalf("operator goto: %v", err)
	}
	if p, _ := f.ex.Status("d1"); p.Active || p.State != StatePreempted {
		t.Fatalf("expected preempted plan, got %+v", p)
	}
}

func TestCancelLandsFlyingDrone(t *testing.T) {
	f := newFixture(t)
	f.fly()
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	p, err := f.ex.Cancel(f.ctx, "d1")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if p.Active || p.State != StateCancelled {
		t.Fatalf("unexpected progress %+v", p)
	}
	if s := f.status(); s != registry.StatusLanding {
		t.Fatalf("expected landing, got %s", s)
	}
	hist := f.d.History("d1")
	last := hist[len(hist)-1]
	if last.Kind() != command.KindLand || last.Priority != command.PriorityHigh {
		t.Fatalf("expected high priority land, got %s %s", last.Kind(), last.Priority)
	}
	if _, err := f.ex.Cancel(f.ctx, "d1"); !errors.Is(err, ErrNoActivePlan) {
		t.Fatalf("expected ErrNoActivePlan, got %v", err)
	}
}

func TestFirstWaypointInNoFlyZoneAbortsStart(t *testing.T) {
	f := newFixture(t)
	c := at(90, 100, 0).Point()
	z, err := geofence.NewZone("nfz", "tower", []geo.Point{
		geo.Destination(c, 0, 30), geo.Destination(c, 90, 30), geo.Destination(c, 180, 30), geo.Destination(c, 270, 30),
	}, 0, 500)
	if err != nil {
		t.Fatalf("NewZone: %v", err)
	}
	if err := f.fence.DefineZone(z); err != nil {
		t.Fatalf("DefineZone: %v", err)
	}
	if _, err := f.ex.Start(f.ctx, threeLegPlan()); !errors.Is(err, command.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if _, ok := f.ex.Status("d1"); ok {
		t.Fatal("aborted start left a plan behind")
	}
	if s := f.status(); s != registry.StatusLanding {
		t.Fatalf("expected takeoff to be undone with a land, got %s", s)
	}
}

func TestWaypointBeyondLimitsRejectedAtStart(t *testing.T) {
	f := newFixture(t)
	plan := threeLegPlan()
	plan.Waypoints[2] = waypoint(at(90, 2500, 30), 0, "")
	if _, err := f.ex.Start(f.ctx, plan); !errors.Is(err, command.ErrOutOfBounds) {
		t.Fatalf("expected ErrOutOfBounds, got %v", err)
	}
	if _, ok := f.ex.Status("d1"); ok {
		t.Fatal("rejected start left a plan behind")
	}
	if s := f.status(); s != registry.StatusIdle {
		t.Fatalf("expected idle, got %s", s)
	}
	if n := len(f.d.History("d1")); n != 0 {
		t.Fatalf("expected no commands, got %d", n)
	}
}

func TestRejectedWaypointLandsDrone(t *testing.T) {
	f := newFixture(t)
	f.fly()
	plan := Plan{
		ID:      "blocked",
		DroneID: "d1",
		Waypoints: []Waypoint{
			waypoint(at(90, 100, 30), 0, ""),
			waypoint(at(90, 200, 30), 0, ""),
		},
	}
	if _, err := f.ex.Start(f.ctx, plan); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c := at(90, 200, 0).Point()
	z, err := geofence.NewZone("nfz", "tower", []geo.Point{
		geo.Destination(c, 0, 30), geo.Destination(c, 90, 30), geo.Destination(c, 180, 30), geo.Destination(c, 270, 30),
	}, 0, 500)
	if err != nil {
		t.Fatalf("NewZone: %v", err)
	}
	if err := f.fence.DefineZone(z); err != nil {
		t.Fatalf("DefineZone: %v", err)
	}

	f.ingest(plan.Waypoints[0].Position(), 99)

	p, ok := f.ex.Status("d1")
	if !ok || p.Active || p.State != StateFailed {
		t.Fatalf("expected failed plan, got %+v", p)
	}
	if s := f.status(); s != registry.StatusLanding {
		t.Fatalf("expected landing, got %s", s)
	}
	hist := f.d.History("d1")
	last := hist[len(hist)-1]
	if last.Kind() != command.KindLand || last.Priority != command.PriorityHigh || last.Source != command.SourcePlanner || last.Status != command.StatusExecuted {
		t.Fatalf("expected executed high priority planner land, got %s %s %s %s", last.Kind(), last.Priority, last.Source, last.Status)
	}
	if n := f.countEvent(flightlog.EventPlanCancelled); n != 1 {
		t.Fatalf("expected one plan_cancelled entry, got %d", n)
	}
}

func TestWaitResetsWhenDriftingOff(t *testing.T) {
	f := newFixture(t)
	f.fly()
	plan := threeLegPlan()
	plan.Waypoints[0].WaitSeconds = 2
	if _, err := f.ex.Start(f.ctx, plan); err != nil {
		t.Fatalf("Start: %v", err)
	}
	wp0 := plan.Waypoints[0].Position()
	f.ingest(wp0, 99)
	f.ingest(at(90, 130, 30), 99)
	f.ingest(wp0, 99)
	f.ingest(wp0, 99)
	if p, _ := f.ex.Status("d1"); p.Index != 0 {
		t.Fatalf("hold timer not reset: %+v", p)
	}
	f.ingest(wp0, 99)
	if p, _ := f.ex.Status("d1"); p.Index != 1 {
		t.Fatalf("expected advance after a full hold, got %+v", p)
	}
}
