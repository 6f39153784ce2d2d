package config

import (
	"time"

	"github.com/google/uuid"

	"droneops-fleet/internal/battery"
	"droneops-fleet/internal/dispatch"
	"droneops-fleet/internal/flightlog"
	"droneops-fleet/internal/hub"
)

const (
	DefaultClusterID    = "local"
	DefaultTickInterval = time.Second
	DefaultTopicPrefix  = "droneops"
)

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.ClusterID == "" {
		c.ClusterID = DefaultClusterID
	}
	if c.TickInterval == 0 {
		c.TickInterval = DefaultTickInterval
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}

	th := battery.DefaultThresholds
	setFloat(&c.Safety.LowBatteryPct, th.LowPct)
	setFloat(&c.Safety.CriticalBatteryPct, th.CriticalPct)
	setFloat(&c.Safety.WarnBatteryPct, th.WarnPct)

	dc := dispatch.DefaultConfig()
	if c.Safety.LinkLossTimeout == 0 {
		c.Safety.LinkLossTimeout = dc.LinkLossTimeout
	}
	setFloat(&c.Safety.ArrivalToleranceM, dc.ArrivalTolerance)
	setFloat(&c.Safety.AltitudeToleranceM, dc.AltitudeTolerance)
	setFloat(&c.Safety.GroundAltitudeM, dc.GroundAltitude)
	setFloat(&c.Safety.ReturnAltitudeM, dc.ReturnAltitude)

	setInt(&c.Dispatcher.QueueCapacity, dc.QueueCapacity)
	setInt(&c.Dispatcher.MailboxCapacity, dc.MailboxCapacity)
	setInt(&c.Dispatcher.HistorySize, dc.HistorySize)
	if c.Dispatcher.AutoExecute == nil {
		auto := dc.AutoExecute
		c.Dispatcher.AutoExecute = &auto
	}
	setInt(&c.Hub.BufferSize, hub.DefaultBufferSize)

	if f := c.FlightLog.File; f != nil {
		setInt(&f.MaxSizeMB, 100)
	}
	if g := c.FlightLog.Greptime; g != nil {
		if g.Database == "" {
			g.Database = "public"
		}
		if g.Table == "" {
			g.Table = flightlog.DefaultTable
		}
	}
	if m := c.FlightLog.MQTT; m != nil {
		if m.ClientID == "" {
			m.ClientID = "droneops-" + c.ClusterID
		}
		if m.TopicPrefix == "" {
			m.TopicPrefix = DefaultTopicPrefix
		}
	}

	for i := range c.Drones {
		if c.Drones[i].BatteryPct == 0 {
			c.Drones[i].BatteryPct = 100
		}
	}
	for i := range c.FlightPlans {
		if c.FlightPlans[i].ID == "" {
			c.FlightPlans[i].ID = uuid.NewString()
		}
	}
}

func setFloat(v *float64, def float64) {
	if *v == 0 {
		*v = def
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}
