// Package monitor renders the fleet event stream, either as a bubbletea
// terminal UI or as colored log lines.
package monitor

import (
	"fmt"
	"strings"
	"time"

	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightplan"
	"droneops-fleet/internal/hub"
	"droneops-fleet/internal/registry"
)

const (
	colorReset   = "\x1b[0m"
	colorRed     = "\x1b[31m"
	colorGreen   = "\x1b[32m"
	colorYellow  = "\x1b[33m"
	colorBlue    = "\x1b[34m"
	colorMagenta = "\x1b[35m"
	colorCyan    = "\x1b[36m"
	colorGray    = "\x1b[90m"
)

func statusColor(s registry.Status) string {
	switch s {
	case registry.StatusEmergency:
		return colorRed
	case registry.StatusLanding, registry.StatusTakeoff:
		return colorYellow
	case registry.StatusFlying:
		return colorGreen
	default:
		return colorGray
	}
}

func batteryColor(pct float64) string {
	switch {
	case pct < 20:
		return colorRed
	case pct < 40:
		return colorYellow
	default:
		return colorGreen
	}
}

// FormatEvent renders one event as a single colored line.
func FormatEvent(ev hub.Event) string {
	ts := fmt.Sprintf("%s[%s]%s", colorGray, ev.Timestamp.Format(time.RFC3339), colorReset)
	var body string
	switch p := ev.Payload.(type) {
	case registry.Drone:
		body = fmt.Sprintf("%sdrone=%s%s %sstatus=%s%s %slat=%.5f lon=%.5f alt=%.1f%s %sbatt=%.1f%s mode=%s",
			colorBlue, p.ID, colorReset,
			statusColor(p.Status), p.Status, colorReset,
			colorCyan, p.Position.Lat, p.Position.Lon, p.Position.Alt, colorReset,
			batteryColor(p.Battery.Percentage), p.Battery.Percentage, colorReset,
			p.FlightMode)
	case dispatch.Executed:
		body = fmt.Sprintf("%sEXEC%s %sdrone=%s%s kind=%s priority=%s source=%s id=%s %sstatus=%s%s",
			colorMagenta, colorReset,
			colorBlue, ev.DroneID, colorReset,
			p.Command.Kind(), p.Command.Priority, p.Command.Source, p.Command.ID,
			statusColor(p.Drone.Status), p.Drone.Status, colorReset)
	case dispatch.SafetyOverride:
		color := colorYellow
		if ev.Type == hub.EmergencyLanding {
			color = colorRed
		}
		body = fmt.Sprintf("%sSAFETY %s%s %sdrone=%s%s source=%s batt=%.1f reason=%q",
			color, p.Directive, colorReset,
			colorBlue, ev.DroneID, colorReset,
			p.Source, p.Battery, p.Reason)
	case flightplan.Progress:
		body = fmt.Sprintf("%sPLAN%s %sdrone=%s%s plan=%s state=%s waypoint=%d/%d active=%t",
			colorCyan, colorReset,
			colorBlue, ev.DroneID, colorReset,
			p.PlanID, p.State, p.Index, p.Total, p.Active)
		if p.Reason != "" {
			body += fmt.Sprintf(" reason=%q", p.Reason)
		}
	default:
		body = fmt.Sprintf("%s drone=%s payload=%v", ev.Type, ev.DroneID, ev.Payload)
	}
	return ts + " " + body
}

// stripANSI removes color sequences for width calculations and tests.
func stripANSI(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\x1b' {
			for i < len(s) && s[i] != 'm' {
				i++
			}
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
