package registry

import (
	"errors"
	"testing"
	"time"

	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/telemetry"
)

func testClock() time.Time { return time.Unix(0, 0).UTC() }

func newDrone(id string) Drone {
	return Drone{
		ID:      id,
		Name:    "alpha",
		Model:   "small-fpv",
		Serial:  "SN-1",
		Home:    telemetry.Position{Lat: 48.2, Lon: 16.4},
		Limits:  Limits{MaxAltitude: 120, MaxDistance: 2000, MaxSpeed: 15},
		Battery: telemetry.Battery{Percentage: 100},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New(testClock)
	id, err := r.Register(newDrone("d1"))
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	d, err := r.Get(id)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if d.Status != StatusIdle || d.FlightMode != ModeManual {
		t.Fatalf("unexpected defaults: %+v", d)
	}
	if d.Position != d.Home {
		t.Fatalf("expected position to default to home, got %+v", d.Position)
	}
	if _, err := r.Register(newDrone("d1")); !errors.Is(err, ErrDuplicateID) {
		t.Fatalf("expected ErrDuplicateID, got %v", err)
	}
	if _, err := r.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRegisterValidation(t *testing.T) {
	r := New(testClock)
	bad := newDrone("d1")
	bad.Limits.MaxSpeed = 0
	if _, err := r.Register(bad); !errors.Is(err, ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone, got %v", err)
	}
	bad = newDrone("")
	if _, err := r.Register(bad); !errors.Is(err, ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone for empty id, got %v", err)
	}
	bad = newDrone("d2")
	bad.Status = "hovering"
	if _, err := r.Register(bad); !errors.Is(err, ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone for unknown status, got %v", err)
	}
	if _, err := r.Register(newDrone(hub.FleetTopic)); !errors.Is(err, ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone for reserved id, got %v", err)
	}
	if len(r.IDs()) != 0 {
		t.Fatalf("rejected drones were stored: %v", r.IDs())
	}
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusIdle, StatusTakeoff, true},
		{StatusTakeoff, StatusFlying, true},
		{StatusFlying, StatusLanding, true},
		{StatusLanding, StatusIdle, true},
		{StatusFlying, StatusEmergency, true},
		{StatusEmergency, StatusLanding, true},
		{StatusIdle, StatusMaintenance, true},
		{StatusMaintenance, StatusIdle, true},
		{StatusIdle, StatusCharging, true},
		{StatusCharging, StatusIdle, true},
		{StatusIdle, StatusLanding, false},
		{StatusFlying, StatusTakeoff, false},
		{StatusEmergency, StatusFlying, false},
		{StatusMaintenance, StatusTakeoff, false},
		{StatusLanding, StatusFlying, false},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	r := New(testClock)
	r.Register(newDrone("d1"))
	if _, err := r.Transition("d1", StatusLanding); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	d, err := r.Transition("d1", StatusTakeoff)
	if err != nil || d.Status != StatusTakeoff {
		t.Fatalf("expected takeoff, got %v %v", d.Status, err)
	}
}

func TestApplyTelemetryKeepsStatusAndClampsBattery(t *testing.T) {
	r := New(testClock)
	r.Register(newDrone("d1"))
	f := telemetry.Frame{
		Position:  telemetry.Position{Lat: 48.21, Lon: 16.41, Alt: 30},
		Battery:   telemetry.Battery{Percentage: 130},
		Timestamp: time.Unix(5, 0),
	}
	d, err := r.ApplyTelemetry("d1", f)
	if err != nil {
		t.Fatalf("ApplyTelemetry: %v", err)
	}
	if d.Status != StatusIdle {
		t.Fatalf("telemetry must not change status, got %s", d.Status)
	}
	if d.Battery.Percentage != 100 {
		t.Fatalf("expected clamped battery, got %f", d.Battery.Percentage)
	}
	if !d.LastTelemetry.Equal(time.Unix(5, 0)) {
		t.Fatalf("unexpected last telemetry %v", d.LastTelemetry)
	}
	f.Position.Lat = 95
	if _, err := r.ApplyTelemetry("d1", f); !errors.Is(err, ErrInvalidTelemetry) {
		t.Fatalf("expected ErrInvalidTelemetry, got %v", err)
	}
}

func TestUpdateCannotChangeStatus(t *testing.T) {
	r := New(testClock)
	r.Register(newDrone("d1"))
	_, err := r.Update("d1", func(d *Drone) error {
		d.Status = StatusFlying
		return nil
	})
	if !errors.Is(err, ErrInvalidDrone) {
		t.Fatalf("expected ErrInvalidDrone, got %v", err)
	}
	d, _ := r.Get("d1")
	if d.Status != StatusIdle {
		t.Fatalf("status leaked through Update: %s", d.Status)
	}
}

func TestGetReturnsCopy(t *testing.T) {
	r := New(testClock)
	r.Register(newDrone("d1"))
	r.Update("d1", func(d *Drone) error {
		d.Target = &Target{CommandID: "c1"}
		return nil
	})
	d, _ := r.Get("d1")
	d.Target.CommandID = "mutated"
	again, _ := r.Get("d1")
	if again.Target.CommandID != "c1" {
		t.Fatalf("snapshot shares target with registry")
	}
}

func TestArmDisarm(t *testing.T) {
	r := New(testClock)
	r.Register(newDrone("d1"))
	d, err := r.Arm("d1")
	if err != nil || !d.Armed {
		t.Fatalf("Arm: %v %+v", err, d)
	}
	r.Transition("d1", StatusTakeoff)
	if _, err := r.Disarm("d1"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected disarm in flight to fail, got %v", err)
	}
}

func TestListSorted(t *testing.T) {
	r := New(testClock)
	for _, id := range []string{"c", "a", "b"} {
		r.Register(newDrone(id))
	}
	list := r.List()
	if len(list) != 3 || list[0].ID != "a" || list[2].ID != "c" {
		t.Fatalf("unexpected list order: %+v", list)
	}
}
