package dispatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/command"
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

type harness struct {
	t     *testing.T
	ctx   context.Context
	clock *fakeClock
	reg   *registry.Registry
	fence *geofence.Engine
	mon   *battery.Monitor
	hub   *hub.Hub
	log   *flightlog.Memory
	d     *Dispatcher
}

var testThresholds = battery.Thresholds{LowPct: 20, CriticalPct: 5, WarnPct: 30}

func newHarness(t *testing.T, cfg Config, observers ...Observer) *harness {
	t.Helper()
	clock := &fakeClock{t: time.Unix(1000, 0).UTC()}
	mon, err := battery.NewMonitor(testThresholds)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	h := &harness{
		t:     t,
		ctx:   context.Background(),
		clock: clock,
		reg:   registry.New(clock.Now),
		fence: geofence.NewEngine(geofence.Limits{}),
		mon:   mon,
		hub:   hub.New(1024, nil),
		log:   flightlog.NewMemory(0),
	}
	h.register("d1", true)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.d = New(h.reg, h.fence, h.mon, h.hub, h.log, cfg, WithClock(clock.Now), WithLogger(logger))
	for _, o := range observers {
		h.d.AddObserver(o)
	}
	h.d.Start(h.ctx)
	t.Cleanup(h.d.Stop)
	return h
}

func (h *harness) register(id string, armed bool) {
	h.t.Helper()
	_, err := h.reg.Register(registry.Drone{
		ID:      id,
		Model:   "medium-uav",
		Home:    home,
		Limits:  registry.Limits{MaxAltitude: 120, MaxDistance: 2000, MaxSpeed: 15},
		Battery: telemetry.Battery{Percentage: 100},
		Armed:   armed,
	})
	if err != nil {
		h.t.Fatalf("Register: %v", err)
	}
}

func (h *harness) drone(id string) registry.Drone {
	h.t.Helper()
	d, err := h.reg.Get(id)
	if err != nil {
		h.t.Fatalf("Get: %v", err)
	}
	return d
}

func (h *harness) submit(a command.Action, p command.Priority) command.Command {
	h.t.Helper()
	c, err := h.d.Submit(h.ctx, "d1", a, p, command.SourceOperator)
	if err != nil {
		h.t.Fatalf("Submit %s: %v", a.Kind(), err)
	}
	return c
}

func (h *harness) ingest(pos telemetry.Position, pct float64) {
	h.t.Helper()
	h.clock.Advance(time.Second)
	f := telemetry.Frame{Position: pos, Battery: telemetry.Battery{Percentage: pct}, Timestamp: h.clock.Now()}
	if err := h.d.IngestTelemetry(h.ctx, "d1", f); err != nil {
		h.t.Fatalf("IngestTelemetry: %v", err)
	}
}

func (h *harness) status() registry.Status { return h.drone("d1").Status }

// fly takes d1 off to 30m above home.
func (h *harness) fly() {
	h.t.Helper()
	h.submit(command.Takeoff{Altitude: 30}, command.PriorityNormal)
	if !h.d.cfg.AutoExecute {
		if _, err := h.d.Execute(h.ctx, "d1"); err != nil {
			h.t.Fatalf("Execute takeoff: %v", err)
		}
	}
	h.ingest(at(0, 0, 30), 100)
	if s := h.status(); s != registry.StatusFlying {
		h.t.Fatalf("expected flying, got %s", s)
	}
}

func (h *harness) executed() []command.Command {
	var out []command.Command
	for _, c := range h.d.History("d1") {
		if c.Status == command.StatusExecuted {
			out = append(out, c)
		}
	}
	return out
}

func (h *harness) lastExecuted() command.Command {
	h.t.Helper()
	ex := h.executed()
	if len(ex) == 0 {
		h.t.Fatalf("nothing executed")
	}
	return ex[len(ex)-1]
}

// at returns a position dist meters from home on the given bearing.
func at(bearing, dist, alt float64) telemetry.Position {
	if dist == 0 {
		return telemetry.Position{Lat: home.Lat, Lon: home.Lon, Alt: alt}
	}
	p := geo.Destination(home.Point(), bearing, dist)
	return telemetry.Position{Lat: p.Lat, Lon: p.Lon, Alt: alt}
}

func manualConfig() Config {
	cfg := DefaultConfig()
	cfg.AutoExecute = false
	return cfg
}
