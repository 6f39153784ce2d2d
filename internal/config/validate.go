package config

import (
	"errors"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueyaml "cuelang.org/go/encoding/yaml"

	"droneops-fleet/internal/battery"
)

var ErrInvalidConfig = errors.New("invalid config")

// ValidateWithCue checks YAML bytes against the #Config definition of a
// CUE schema.
func ValidateWithCue(name string, data, cueSchema []byte) error {
	ctx := cuecontext.New()

	schemaVal := ctx.CompileBytes(cueSchema)
	if err := schemaVal.Err(); err != nil {
		return fmt.Errorf("cannot compile CUE schema: %w", err)
	}
	def := schemaVal.LookupPath(cue.ParsePath("#Config"))
	if !def.Exists() {
		return fmt.Errorf("CUE schema has no #Config definition")
	}

	file, err := cueyaml.Extract(name, data)
	if err != nil {
		return fmt.Errorf("cannot parse YAML config: %w", err)
	}
	configVal := ctx.BuildFile(file)
	if err := configVal.Err(); err != nil {
		return fmt.Errorf("cannot build YAML config: %w", err)
	}

	final := def.Unify(configVal)
	if err := final.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("%w: schema validation failed: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Validate checks the rules the schema cannot express.
func (c *Config) Validate() error {
	if err := c.Thresholds().Validate(); err != nil {
		return fmt.Errorf("%w: safety: %w", ErrInvalidConfig, err)
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("%w: tick_interval must be positive", ErrInvalidConfig)
	}

	drones := make(map[string]bool, len(c.Drones))
	for _, d := range c.Drones {
		if drones[d.ID] {
			return fmt.Errorf("%w: duplicate drone id %s", ErrInvalidConfig, d.ID)
		}
		drones[d.ID] = true
	}

	zones := make(map[string]bool, len(c.NoFlyZones))
	for _, z := range c.NoFlyZones {
		if zones[z.ID] {
			return fmt.Errorf("%w: duplicate zone id %s", ErrInvalidConfig, z.ID)
		}
		zones[z.ID] = true
		if _, err := z.Geofence(); err != nil {
			return fmt.Errorf("%w: zone %s: %w", ErrInvalidConfig, z.ID, err)
		}
	}

	plans := make(map[string]bool, len(c.FlightPlans))
	for _, p := range c.FlightPlans {
		if p.ID != "" {
			if plans[p.ID] {
				return fmt.Errorf("%w: duplicate flight plan id %s", ErrInvalidConfig, p.ID)
			}
			plans[p.ID] = true
		}
		if !drones[p.DroneID] {
			return fmt.Errorf("%w: flight plan %s references unknown drone %s", ErrInvalidConfig, p.ID, p.DroneID)
		}
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
		}
	}
	return nil
}

// Thresholds returns the battery thresholds.
func (c *Config) Thresholds() battery.Thresholds {
	return battery.Thresholds{
		LowPct:      c.Safety.LowBatteryPct,
		CriticalPct: c.Safety.CriticalBatteryPct,
		WarnPct:     c.Safety.WarnBatteryPct,
	}
}
