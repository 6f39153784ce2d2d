package battery

import (
	"errors"
	"fmt"
	"testing"

	"droneops-fleet/internal/telemetry"
)

func TestEvaluateBands(t *testing.T) {
	for _, th := range []Thresholds{
		{LowPct: 20, CriticalPct: 5, WarnPct: 30},
		{LowPct: 20, CriticalPct: 10, WarnPct: 20},
		DefaultThresholds,
	} {
		t.Run(fmt.Sprintf("%g-%g-%g", th.CriticalPct, th.LowPct, th.WarnPct), func(t *testing.T) {
			cases := []struct {
				pct  float64
				want Directive
			}{
				{100, None},
				{th.WarnPct, None},
				{th.LowPct, func() Directive {
					if th.LowPct < th.WarnPct {
						return WarnLow
					}
					return None
				}()},
				{th.LowPct - 0.1, ForceReturnHome},
				{th.CriticalPct, ForceReturnHome},
				{th.CriticalPct - 0.1, ForceEmergencyLand},
				{0, ForceEmergencyLand},
			}
			for _, tc := range cases {
				if got := Evaluate(telemetry.Battery{Percentage: tc.pct}, th); got != tc.want {
					t.Errorf("pct %g: got %s want %s", tc.pct, got, tc.want)
				}
			}
		})
	}
}

func TestScenarioThresholds(t *testing.T) {
	th := Thresholds{LowPct: 20, CriticalPct: 5, WarnPct: 30}
	if got := Evaluate(telemetry.Battery{Percentage: 15}, th); got != ForceReturnHome {
		t.Fatalf("15%%: got %s", got)
	}
	if got := Evaluate(telemetry.Battery{Percentage: 3}, th); got != ForceEmergencyLand {
		t.Fatalf("3%%: got %s", got)
	}
}

func TestDecideIdempotence(t *testing.T) {
	cases := []struct {
		name string
		d    Directive
		s    State
		want Directive
	}{
		{"rth fresh", ForceReturnHome, State{}, ForceReturnHome},
		{"rth already active", ForceReturnHome, State{ReturnHome: true}, None},
		{"rth while landing", ForceReturnHome, State{Landing: true}, None},
		{"rth after emergency queued", ForceReturnHome, State{EmergencyPending: true}, None},
		{"emergency escalates rth", ForceEmergencyLand, State{ReturnHome: true}, ForceEmergencyLand},
		{"emergency already queued", ForceEmergencyLand, State{EmergencyPending: true}, None},
		{"emergency already landing", ForceEmergencyLand, State{Landing: true, Emergency: true}, None},
		{"emergency escalates normal landing", ForceEmergencyLand, State{Landing: true}, ForceEmergencyLand},
		{"warn passes", WarnLow, State{ReturnHome: true}, WarnLow},
	}
	for _, tc := range cases {
		if got := Decide(tc.d, tc.s); got != tc.want {
			t.Errorf("%s: got %s want %s", tc.name, got, tc.want)
		}
	}
}

func TestThresholdValidation(t *testing.T) {
	bad := []Thresholds{
		{LowPct: 10, CriticalPct: 10, WarnPct: 30},
		{LowPct: 30, CriticalPct: 5, WarnPct: 20},
		{LowPct: 20, CriticalPct: -1, WarnPct: 30},
		{LowPct: 20, CriticalPct: 5, WarnPct: 101},
	}
	for _, th := range bad {
		if err := th.Validate(); !errors.Is(err, ErrInvalidThresholds) {
			t.Errorf("%+v: expected ErrInvalidThresholds, got %v", th, err)
		}
	}
}

func TestMonitorSnapshotSwap(t *testing.T) {
	m, err := NewMonitor(DefaultThresholds)
	if err != nil {
		t.Fatalf("NewMonitor: %v", err)
	}
	if got := m.Evaluate(telemetry.Battery{Percentage: 15}); got != ForceReturnHome {
		t.Fatalf("got %s", got)
	}
	if err := m.SetThresholds(Thresholds{LowPct: 10, CriticalPct: 5, WarnPct: 20}); err != nil {
		t.Fatalf("SetThresholds: %v", err)
	}
	if got := m.Evaluate(telemetry.Battery{Percentage: 15}); got != WarnLow {
		t.Fatalf("after swap got %s", got)
	}
	if err := m.SetThresholds(Thresholds{}); err == nil {
		t.Fatalf("expected invalid thresholds to be rejected")
	}
	if m.Thresholds().LowPct != 10 {
		t.Fatalf("rejected thresholds must not be installed")
	}
}
