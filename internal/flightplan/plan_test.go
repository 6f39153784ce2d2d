package flightplan

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const planYAML = `
plans:
  - id: perimeter
    drone_id: d1
    name: north fence
    waypoints:
      - {lat: 48.2010, lon: 16.4000, altitude: 40, wait_seconds: 5, on_arrival_action: photo}
      - {lat: 48.2010, lon: 16.4020, altitude: 40, speed: 8}
      - {lat: 48.2000, lon: 16.4020, altitude: 30, on_arrival_action: "marker:gate"}
  - drone_id: d2
    waypoints:
      - {lat: 48.1990, lon: 16.3990, altitude: 25}
`

func TestLoad(t *testing.T) {
	plans, err := Load(strings.NewReader(planYAML))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(plans) != 2 {
		t.Fatalf("expected 2 plans, got %d", len(plans))
	}
	p := plans[0]
	if p.ID != "perimeter" || p.Name != "north fence" || len(p.Waypoints) != 3 {
		t.Fatalf("unexpected plan %+v", p)
	}
	if p.Waypoints[0].OnArrivalAction != ActionPhoto || p.Waypoints[0].WaitSeconds != 5 {
		t.Fatalf("unexpected first waypoint %+v", p.Waypoints[0])
	}
	if plans[1].ID == "" {
		t.Fatal("expected generated id")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	if err := os.WriteFile(path, []byte(planYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	plans, err := LoadFile(path)
	if err != nil || len(plans) != 2 {
		t.Fatalf("LoadFile: %v (%d plans)", err, len(plans))
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadRejectsBadPlans(t *testing.T) {
	cases := map[string]string{
		"no waypoints":   "plans:\n  - {id: a, drone_id: d1, waypoints: []}\n",
		"bad action":     "plans:\n  - id: a\n    drone_id: d1\n    waypoints: [{lat: 1, lon: 1, altitude: 10, on_arrival_action: dance}]\n",
		"empty marker":   "plans:\n  - id: a\n    drone_id: d1\n    waypoints: [{lat: 1, lon: 1, altitude: 10, on_arrival_action: \"marker:\"}]\n",
		"bad latitude":   "plans:\n  - id: a\n    drone_id: d1\n    waypoints: [{lat: 91, lon: 1, altitude: 10}]\n",
		"zero altitude":  "plans:\n  - id: a\n    drone_id: d1\n    waypoints: [{lat: 1, lon: 1, altitude: 0}]\n",
		"no drone":       "plans:\n  - id: a\n    waypoints: [{lat: 1, lon: 1, altitude: 10}]\n",
		"duplicate ids":  "plans:\n  - {id: a, drone_id: d1, waypoints: [{lat: 1, lon: 1, altitude: 10}]}\n  - {id: a, drone_id: d2, waypoints: [{lat: 1, lon: 1, altitude: 10}]}\n",
		"negative speed": "plans:\n  - id: a\n    drone_id: d1\n    waypoints: [{lat: 1, lon: 1, altitude: 10, speed: -1}]\n",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(doc)); !errors.Is(err, ErrInvalidPlan) {
				t.Fatalf("expected ErrInvalidPlan, got %v", err)
			}
		})
	}
	if _, err := Load(strings.NewReader("plans:\n  - {id: a, bogus: 1}\n")); err == nil {
		t.Fatal("expected unknown field error")
	}
}

func TestParseAction(t *testing.T) {
	kind, text, err := ParseAction("marker:north gate")
	if err != nil || kind != ActionMarker || text != "north gate" {
		t.Fatalf("got %q %q %v", kind, text, err)
	}
	if kind, _, _ := ParseAction(""); kind != ActionNone {
		t.Fatalf("empty action should be none, got %q", kind)
	}
}

func TestEstimated(t *testing.T) {
	far := at(0, 700, 40)
	p := Plan{DroneID: "d1", Waypoints: []Waypoint{
		waypoint(at(0, 300, 40), 10, ""),
		{Lat: far.Lat, Lon: far.Lon, Altitude: 40, Speed: 20},
	}}
	est := p.Estimated(home, 10)
	wantDist := math.Hypot(300, 40) + 400
	if math.Abs(est.DistanceM-wantDist) > 2 {
		t.Fatalf("distance %.1f, want %.1f", est.DistanceM, wantDist)
	}
	wantDur := math.Hypot(300, 40)/10 + 10 + 400.0/20
	if math.Abs(est.DurationS-wantDur) > 0.5 {
		t.Fatalf("duration %.1f, want %.1f", est.DurationS, wantDur)
	}
}
