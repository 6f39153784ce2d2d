package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/flightplan"
	"droneops-fleet/internal/geo"
	"droneops-fleet/internal/geofence"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

var home = telemetry.Position{Lat: 47.07, Lon: 15.44}

func newTestFleet(t *testing.T) (*Fleet, *flightlog.Memory, *time.Time) {
	t.Helper()
	now := time.Unix(10_000, 0).UTC()
	mem := flightlog.NewMemory(0)
	opts := DefaultOptions()
	opts.Now = func() time.Time { return now }
	opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	f, err := New(mem, opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	f.Start(ctx)
	t.Cleanup(func() {
		cancel()
		f.Stop()
	})
	for _, id := range []string{"alpha", "bravo"} {
		_, err := f.RegisterDrone(ctx, registry.Drone{
			ID:      id,
			Name:    id,
			Model:   "small-fpv",
			Home:    home,
			Limits:  registry.Limits{MaxAltitude: 100, MaxDistance: 1000, MaxSpeed: 20},
			Battery: telemetry.Battery{Percentage: 90},
		})
		if err != nil {
			t.Fatalf("RegisterDrone %s: %v", id, err)
		}
	}
	return f, mem, &now
}

func TestSubmitCommandReasonCodes(t *testing.T) {
	f, _, _ := newTestFleet(t)
	ctx := context.Background()

	cases := []struct {
		name     string
		drone    string
		kind     string
		params   command.Params
		priority string
		reason   command.RejectReason
	}{
		{"unknown drone", "ghost", "takeoff", command.Params{"altitude": 10}, "", command.ReasonUnknownDrone},
		{"not armed", "alpha", "takeoff", command.Params{"altitude": 10}, "", command.ReasonNotArmed},
		{"unknown kind", "alpha", "barrel_roll", nil, "", command.ReasonOutOfBounds},
		{"bad priority", "alpha", "land", nil, "urgent", command.ReasonOutOfBounds},
		{"land from idle", "alpha", "land", nil, "normal", command.ReasonIllegalState},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := f.SubmitCommand(ctx, tc.drone, tc.kind, tc.params, tc.priority)
			if err == nil {
				t.Fatal("expected rejection")
			}
			if res.Accepted || res.Reason != tc.reason {
				t.Fatalf("got %+v, want reason %s", res, tc.reason)
			}
		})
	}

	if _, err := f.Arm(ctx, "alpha"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	res, err := f.SubmitCommand(ctx, "alpha", "takeoff", command.Params{"altitude": 500}, "high")
	if err == nil || res.Reason != command.ReasonOutOfBounds {
		t.Fatalf("expected out of bounds takeoff, got %+v %v", res, err)
	}
}

func TestTakeoffThroughFacade(t *testing.T) {
	f, mem, now := newTestFleet(t)
	ctx := context.Background()
	sub, err := f.Subscribe("alpha")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer f.Unsubscribe(sub)

	if _, err := f.Arm(ctx, "alpha"); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	res, err := f.SubmitCommand(ctx, "alpha", "takeoff", command.Params{"altitude": 20}, "")
	if err != nil || !res.Accepted {
		t.Fatalf("SubmitCommand: %+v %v", res, err)
	}
	c, ok := f.Command("alpha", res.CommandID)
	if !ok || c.Status != command.StatusExecuted {
		t.Fatalf("expected executed takeoff, got %+v", c)
	}

	*now = now.Add(time.Second)
	pos := home
	pos.Alt = 20
	if err := f.IngestTelemetry(ctx, "alpha", telemetry.Frame{Position: pos, Battery: telemetry.Battery{Percentage: 89}}); err != nil {
		t.Fatalf("IngestTelemetry: %v", err)
	}
	d, _ := f.Drone("alpha")
	if d.Status != registry.StatusFlying {
		t.Fatalf("expected flying, got %s", d.Status)
	}

	var types []hub.EventType
	for len(sub.C()) > 0 {
		types = append(types, (<-sub.C()).Type)
	}
	if len(types) != 2 || types[0] != hub.CommandExecuted || types[1] != hub.TelemetryUpdate {
		t.Fatalf("unexpected events %v", types)
	}

	events := mem.Events("alpha")
	if len(events) == 0 || events[0] != flightlog.EventRegistered {
		t.Fatalf("expected registration entry first, got %v", events)
	}
	if _, err := f.Disarm(ctx, "alpha"); !errors.Is(err, registry.ErrIllegalTransition) {
		t.Fatalf("expected disarm to fail while airborne, got %v", err)
	}
}

func TestSubscribeUnknownDrone(t *testing.T) {
	f, _, _ := newTestFleet(t)
	if _, err := f.Subscribe("ghost"); !errors.Is(err, command.ErrUnknownDrone) {
		t.Fatalf("expected ErrUnknownDrone, got %v", err)
	}
	if _, err := f.Subscribe(hub.FleetTopic); err != nil {
		t.Fatalf("fleet topic: %v", err)
	}
}

func TestRegisterDuplicate(t *testing.T) {
	f, _, _ := newTestFleet(t)
	_, err := f.RegisterDrone(context.Background(), registry.Drone{
		ID:     "alpha",
		Home:   home,
		Limits: registry.Limits{MaxAltitude: 100, MaxDistance: 1000, MaxSpeed: 20},
	})
	if !errors.Is(err, registry.ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if got := len(f.Drones()); got != 2 {
		t.Fatalf("expected 2 drones, got %d", got)
	}
}

func TestRegisterFleetTopicID(t *testing.T) {
	f, _, _ := newTestFleet(t)
	_, err := f.RegisterDrone(context.Background(), registry.Drone{
		ID:     hub.FleetTopic,
		Home:   home,
		Limits: registry.Limits{MaxAltitude: 100, MaxDistance: 1000, MaxSpeed: 20},
	})
	if !errors.Is(err, registry.ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone, got %v", err)
	}
	if got := len(f.Drones()); got != 2 {
		t.Fatalf("expected 2 drones, got %d", got)
	}
}

func TestAdministration(t *testing.T) {
	f, mem, _ := newTestFleet(t)
	c := geo.Point{Lat: home.Lat + 0.01, Lon: home.Lon}
	z, err := geofence.NewZone("airport", "LOWG", []geo.Point{
		geo.Destination(c, 45, 200), geo.Destination(c, 135, 200), geo.Destination(c, 225, 200), geo.Destination(c, 315, 200),
	}, 0, 300)
	if err != nil {
		t.Fatalf("NewZone: %v", err)
	}
	if err := f.DefineNoFlyZone(z); err != nil {
		t.Fatalf("DefineNoFlyZone: %v", err)
	}
	if zs := f.NoFlyZones(); len(zs) != 1 || zs[0].ID != "airport" {
		t.Fatalf("unexpected zones %+v", zs)
	}
	if err := f.RemoveNoFlyZone("airport"); err != nil {
		t.Fatalf("RemoveNoFlyZone: %v", err)
	}
	if err := f.RemoveNoFlyZone("airport"); !errors.Is(err, geofence.ErrZoneNotFound) {
		t.Fatalf("expected ErrZoneNotFound, got %v", err)
	}
	if n := len(mem.Events("")); n != 2 {
		t.Fatalf("expected 2 zone change entries, got %d", n)
	}

	if err := f.SetSafetyThresholds(battery.Thresholds{LowPct: 10, CriticalPct: 15, WarnPct: 30}); !errors.Is(err, battery.ErrInvalidThresholds) {
		t.Fatalf("expected ErrInvalidThresholds, got %v", err)
	}
	want := battery.Thresholds{LowPct: 25, CriticalPct: 10, WarnPct: 40}
	if err := f.SetSafetyThresholds(want); err != nil {
		t.Fatalf("SetSafetyThresholds: %v", err)
	}
	if got := f.SafetyThresholds(); got != want {
		t.Fatalf("thresholds %+v, want %+v", got, want)
	}
}

func TestFleetLimitsTightenValidation(t *testing.T) {
	f, _, _ := newTestFleet(t)
	ctx := context.Background()
	f.Arm(ctx, "bravo")
	f.SetFleetLimits(geofence.Limits{MaxAltitude: 50})
	res, err := f.SubmitCommand(ctx, "bravo", "takeoff", command.Params{"altitude": 80}, "")
	if err == nil || res.Reason != command.ReasonOutOfBounds {
		t.Fatalf("expected fleet limit to reject, got %+v %v", res, err)
	}
}

func TestFlightPlanThroughFacade(t *testing.T) {
	f, _, _ := newTestFleet(t)
	ctx := context.Background()
	f.Arm(ctx, "bravo")
	wp := geo.Destination(home.Point(), 0, 150)
	p, err := f.StartFlightPlan(ctx, flightplan.Plan{ID: "p1", DroneID: "bravo", Waypoints: []flightplan.Waypoint{{Lat: wp.Lat, Lon: wp.Lon, Altitude: 25}}})
	if err != nil {
		t.Fatalf("StartFlightPlan: %v", err)
	}
	if !p.Active {
		t.Fatalf("expected active plan, got %+v", p)
	}
	if got := f.ActivePlans(); len(got) != 1 || got[0].DroneID != "bravo" {
		t.Fatalf("unexpected active plans %+v", got)
	}
	if _, err := f.CancelFlightPlan(ctx, "bravo"); err != nil {
		t.Fatalf("CancelFlightPlan: %v", err)
	}
	if p, ok := f.FlightPlan("bravo"); !ok || p.Active {
		t.Fatalf("expected inactive plan, got %+v", p)
	}
	d, _ := f.Drone("bravo")
	if d.Status != registry.StatusLanding {
		t.Fatalf("expected landing after cancel, got %s", d.Status)
	}
}
