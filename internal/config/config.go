// Package config loads the fleet configuration: YAML validated against an
// embedded CUE schema, then decoded, defaulted and cross-checked.
package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"droneops-fleet/internal/flightplan"
	"droneops-fleet/internal/sim"
)

//go:embed schema.cue
var schema []byte

// Schema returns the embedded CUE schema.
func Schema() []byte { return append([]byte(nil), schema...) }

// Point is a coordinate in config files.
type Point struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
	Alt float64 `yaml:"alt"`
}

// DroneLimits are the hard limits of one drone.
type DroneLimits struct {
	MaxAltitude float64 `yaml:"max_altitude"`
	MaxDistance float64 `yaml:"max_distance"`
	MaxSpeed    float64 `yaml:"max_speed"`
}

// Drone is a drone registered at startup.
type Drone struct {
	ID         string      `yaml:"id"`
	Name       string      `yaml:"name"`
	Model      string      `yaml:"model"`
	Serial     string      `yaml:"serial"`
	Armed      bool        `yaml:"armed"`
	Home       Point       `yaml:"home"`
	Limits     DroneLimits `yaml:"limits"`
	BatteryPct float64     `yaml:"battery_pct"`
	Faults     *sim.Faults `yaml:"faults"`
}

// Zone is a no-fly polygon with an altitude band.
type Zone struct {
	ID          string  `yaml:"id"`
	Name        string  `yaml:"name"`
	Vertices    []Point `yaml:"vertices"`
	MinAltitude float64 `yaml:"min_altitude"`
	MaxAltitude float64 `yaml:"max_altitude"`
}

// Safety holds the battery thresholds and the watchdog tolerances.
type Safety struct {
	LowBatteryPct      float64       `yaml:"low_battery_pct"`
	CriticalBatteryPct float64       `yaml:"critical_battery_pct"`
	WarnBatteryPct     float64       `yaml:"warn_battery_pct"`
	LinkLossTimeout    time.Duration `yaml:"link_loss_timeout"`
	ArrivalToleranceM  float64       `yaml:"arrival_tolerance_m"`
	AltitudeToleranceM float64       `yaml:"altitude_tolerance_m"`
	GroundAltitudeM    float64       `yaml:"ground_altitude_m"`
	ReturnAltitudeM    float64       `yaml:"return_altitude_m"`
}

// Limits are fleet-wide caps. Zero means unset.
type Limits struct {
	MaxAltitudeM float64 `yaml:"max_altitude_m"`
	MaxDistanceM float64 `yaml:"max_distance_m"`
}

// Dispatcher tunes the command dispatcher.
type Dispatcher struct {
	QueueCapacity   int   `yaml:"queue_capacity"`
	MailboxCapacity int   `yaml:"mailbox_capacity"`
	AutoExecute     *bool `yaml:"auto_execute"`
	HistorySize     int   `yaml:"history_size"`
}

// Hub tunes the broadcast hub.
type Hub struct {
	BufferSize int `yaml:"buffer_size"`
}

// Simulation configures the telemetry simulator.
type Simulation struct {
	Faults sim.Faults `yaml:"faults"`
}

// Log selects the slog handler.
type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// FileSink writes the flight log as rotated JSONL.
type FileSink struct {
	Path       string `yaml:"path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// GreptimeSink writes the flight log to GreptimeDB.
type GreptimeSink struct {
	Endpoint string `yaml:"endpoint"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
}

// MQTTSink publishes the flight log to a broker.
type MQTTSink struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

// FlightLog lists the enabled flight log sinks.
type FlightLog struct {
	Stdout   bool          `yaml:"stdout"`
	File     *FileSink     `yaml:"file"`
	Greptime *GreptimeSink `yaml:"greptime"`
	MQTT     *MQTTSink     `yaml:"mqtt"`
}

// Config is the root configuration.
type Config struct {
	ClusterID    string            `yaml:"cluster_id"`
	TickInterval time.Duration     `yaml:"tick_interval"`
	Log          Log               `yaml:"log"`
	Safety       Safety            `yaml:"safety"`
	Limits       Limits            `yaml:"limits"`
	Dispatcher   Dispatcher        `yaml:"dispatcher"`
	Hub          Hub               `yaml:"hub"`
	Simulation   Simulation        `yaml:"simulation"`
	FlightLog    FlightLog         `yaml:"flight_log"`
	Drones       []Drone           `yaml:"drones"`
	NoFlyZones   []Zone            `yaml:"no_fly_zones"`
	FlightPlans  []flightplan.Plan `yaml:"flight_plans"`
}

// Load reads a YAML config, validates it against the CUE schema at
// schemaPath (the embedded schema when empty) and decodes it.
func Load(configPath, schemaPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("cannot read config: %w", err)
	}
	s := schema
	if schemaPath != "" {
		if s, err = os.ReadFile(schemaPath); err != nil {
			return nil, fmt.Errorf("cannot read CUE schema: %w", err)
		}
	}
	return Parse(configPath, data, s)
}

// Parse validates and decodes config bytes. name is used in error
// messages.
func Parse(name string, data, cueSchema []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		data = []byte("{}")
	}
	if err := ValidateWithCue(name, data, cueSchema); err != nil {
		return nil, err
	}
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("cannot decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
