// Package battery turns battery telemetry into safety directives.
package battery

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"droneops-fleet/internal/telemetry"
)

var ErrInvalidThresholds = errors.New("invalid battery thresholds")

// Directive is the action the monitor asks for.
type Directive int

const (
	None Directive = iota
	WarnLow
	ForceReturnHome
	ForceEmergencyLand
)

func (d Directive) String() string {
	switch d {
	case WarnLow:
		return "warn_low"
	case ForceReturnHome:
		return "force_return_home"
	case ForceEmergencyLand:
		return "force_emergency_land"
	}
	return "none"
}

// Thresholds are battery percentages. Critical < Low <= Warn.
type Thresholds struct {
	LowPct      float64 `json:"low_pct" yaml:"low_pct"`
	CriticalPct float64 `json:"critical_pct" yaml:"critical_pct"`
	WarnPct     float64 `json:"warn_pct" yaml:"warn_pct"`
}

// DefaultThresholds are used when nothing is configured.
var DefaultThresholds = Thresholds{LowPct: 20, CriticalPct: 8, WarnPct: 30}

// Validate checks ordering and range.
func (t Thresholds) Validate() error {
	if t.CriticalPct < 0 || t.WarnPct > 100 {
		return fmt.Errorf("%w: values must lie in [0,100]", ErrInvalidThresholds)
	}
	if !(t.CriticalPct < t.LowPct && t.LowPct <= t.WarnPct) {
		return fmt.Errorf("%w: want critical < low <= warn, got %g/%g/%g",
			ErrInvalidThresholds, t.CriticalPct, t.LowPct, t.WarnPct)
	}
	return nil
}

// Evaluate maps a battery reading to a directive without regard to what
// the drone is currently doing.
func Evaluate(b telemetry.Battery, t Thresholds) Directive {
	pct := b.Clamped().Percentage
	switch {
	case pct < t.CriticalPct:
		return ForceEmergencyLand
	case pct < t.LowPct:
		return ForceReturnHome
	case pct < t.WarnPct:
		return WarnLow
	}
	return None
}

// State describes what the drone is already doing about its battery.
type State struct {
	Landing          bool // landing or emergency status
	Emergency        bool // emergency status or an emergency landing executing
	ReturnHome       bool // return-home executing or queued
	EmergencyPending bool // emergency landing queued
}

// Decide suppresses directives that are already being carried out, so the
// same directive is never issued twice in a row.
func Decide(d Directive, s State) Directive {
	switch d {
	case ForceEmergencyLand:
		// A normal landing still escalates.
		if s.Emergency || s.EmergencyPending {
			return None
		}
	case ForceReturnHome:
		if s.Landing || s.ReturnHome || s.EmergencyPending {
			return None
		}
	}
	return d
}

// Monitor holds the active thresholds as an immutable snapshot.
type Monitor struct {
	mu sync.Mutex
	th atomic.Pointer[Thresholds]
}

// NewMonitor validates and installs the initial thresholds.
func NewMonitor(t Thresholds) (*Monitor, error) {
	m := &Monitor{}
	if err := m.SetThresholds(t); err != nil {
		return nil, err
	}
	return m, nil
}

// Thresholds returns the current snapshot.
func (m *Monitor) Thresholds() Thresholds { return *m.th.Load() }

// SetThresholds replaces the snapshot.
func (m *Monitor) SetThresholds(t Thresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	m.th.Store(&t)
	m.mu.Unlock()
	return nil
}

// Evaluate evaluates b against the current thresholds.
func (m *Monitor) Evaluate(b telemetry.Battery) Directive {
	return Evaluate(b, *m.th.Load())
}
