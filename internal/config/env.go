package config

import (
	"time"

	"droneops-fleet/internal/flightlog"
)

// ApplyEnv overrides config values from the environment. getenv is
// usually os.Getenv. Invalid durations are ignored.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("CLUSTER_ID"); v != "" {
		c.ClusterID = v
	}
	if v := getenv("TICK_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			c.TickInterval = d
		}
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := getenv("GREPTIMEDB_ENDPOINT"); v != "" {
		if c.FlightLog.Greptime == nil {
			c.FlightLog.Greptime = &GreptimeSink{Database: "public", Table: flightlog.DefaultTable}
		}
		c.FlightLog.Greptime.Endpoint = v
	}
	if g := c.FlightLog.Greptime; g != nil {
		if v := getenv("GREPTIMEDB_DATABASE"); v != "" {
			g.Database = v
		}
		if v := getenv("FLIGHT_LOG_TABLE"); v != "" {
			g.Table = v
		}
	}
	if v := getenv("MQTT_BROKER"); v != "" {
		if c.FlightLog.MQTT == nil {
			c.FlightLog.MQTT = &MQTTSink{ClientID: "droneops-" + c.ClusterID, TopicPrefix: DefaultTopicPrefix}
		}
		c.FlightLog.MQTT.Broker = v
	}
	if m := c.FlightLog.MQTT; m != nil {
		if v := getenv("MQTT_TOPIC_PREFIX"); v != "" {
			m.TopicPrefix = v
		}
	}
}
