// Package sim is a simulated telemetry source. Every tick it advances each
// registered drone toward its dispatcher target with the telemetry
// Generator and feeds the resulting frame back into the core.
package sim

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"droneops-fleet/internal/registry"
	"droneops-fleet/internal/telemetry"
)

// Core is what the simulator drives. *fleet.Fleet implements it.
type Core interface {
	Drones() []registry.Drone
	IngestTelemetry(ctx context.Context, droneID string, f telemetry.Frame) error
	CheckLinkLoss(ctx context.Context)
}

// Faults are per-tick probabilities of injected link and sensor problems.
type Faults struct {
	SensorErrorRate    float64 `yaml:"sensor_error_rate" json:"sensor_error_rate"`
	DropoutRate        float64 `yaml:"dropout_rate" json:"dropout_rate"`
	BatteryAnomalyRate float64 `yaml:"battery_anomaly_rate" json:"battery_anomaly_rate"`
}

// Stats counts what the simulator did since it was created.
type Stats struct {
	Ticks   uint64 `json:"ticks"`
	Frames  uint64 `json:"frames"`
	Dropped uint64 `json:"dropped"`
	Errors  uint64 `json:"errors"`
}

const (
	// sensorErrorMaxOffset is the largest coordinate error in degrees.
	sensorErrorMaxOffset = 0.0005
	chargePctPerSec      = 0.5
)

// Simulator generates telemetry for every drone of a Core.
type Simulator struct {
	core         Core
	gen          *telemetry.Generator
	tickInterval time.Duration
	rand         *rand.Rand
	now          func() time.Time

	mu       sync.Mutex
	defaults Faults
	faults   map[string]Faults
	chaos    bool
	stats    Stats
}

// Option configures a Simulator.
type Option func(*Simulator)

// WithRand sets the random source used for jitter and faults.
func WithRand(r *rand.Rand) Option { return func(s *Simulator) { s.rand = r } }

// WithClock sets the clock stamped on frames.
func WithClock(now func() time.Time) Option { return func(s *Simulator) { s.now = now } }

// WithFaults sets the fault rates of every drone without its own.
func WithFaults(f Faults) Option { return func(s *Simulator) { s.defaults = f } }

// NewSimulator creates a simulator ticking every tickInterval.
func NewSimulator(core Core, tickInterval time.Duration, opts ...Option) *Simulator {
	if tickInterval <= 0 {
		tickInterval = time.Second
	}
	s := &Simulator{
		core:         core,
		tickInterval: tickInterval,
		now:          time.Now,
		faults:       make(map[string]Faults),
	}
	for _, o := range opts {
		o(s)
	}
	if s.rand == nil {
		s.rand = rand.New(rand.NewSource(s.now().UnixNano()))
	}
	s.gen = telemetry.NewGenerator(s.rand, s.now)
	return s
}

// SetFaults overrides the fault rates of one drone.
func (s *Simulator) SetFaults(droneID string, f Faults) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.faults[droneID] = f
}

// ToggleChaos flips chaos mode on or off and returns the new state.
// Chaos drains batteries faster and drops more frames.
func (s *Simulator) ToggleChaos() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chaos = !s.chaos
	return s.chaos
}

// Chaos returns whether chaos mode is active.
func (s *Simulator) Chaos() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.chaos
}

// Stats returns the counters.
func (s *Simulator) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *Simulator) faultsFor(id string) Faults {
	if f, ok := s.faults[id]; ok {
		return f
	}
	return s.defaults
}
