package command

import (
	"encoding/json"
	"strconv"

	"droneops-fleet/internal/telemetry"
)

// Params are the loosely typed parameters of an external submission.
type Params map[string]any

func (p Params) number(key string, required bool) (float64, error) {
	raw, ok := p[key]
	if !ok || raw == nil {
		if required {
			return 0, invalid(key, nil, "required")
		}
		return 0, nil
	}
	switch v := raw.(type) {
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return 0, invalid(key, raw, "not a number")
		}
		return f, nil
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, invalid(key, raw, "not a number")
		}
		return f, nil
	}
	return 0, invalid(key, raw, "unsupported type %T", raw)
}

func (p Params) position() (telemetry.Position, error) {
	var pos telemetry.Position
	var err error
	if pos.Lat, err = p.number("lat", true); err != nil {
		return pos, err
	}
	if pos.Lon, err = p.number("lon", true); err != nil {
		return pos, err
	}
	if pos.Alt, err = p.number("alt", true); err != nil {
		return pos, err
	}
	return pos, nil
}

// Parse builds an action from a command kind name and its parameters.
//
//	takeoff         altitude
//	land
//	emergency_land  [reason]
//	goto            lat lon alt [speed]
//	orbit           lat lon alt radius [speed]
func Parse(kind string, params Params) (Action, error) {
	switch Kind(kind) {
	case KindTakeoff:
		alt, err := params.number("altitude", true)
		if err != nil {
			return nil, err
		}
		return Takeoff{Altitude: alt}, nil
	case KindLand:
		return Land{}, nil
	case KindEmergencyLand:
		reason, _ := params["reason"].(string)
		return EmergencyLand{Reason: reason}, nil
	case KindGoto:
		pos, err := params.position()
		if err != nil {
			return nil, err
		}
		speed, err := params.number("speed", false)
		if err != nil {
			return nil, err
		}
		return Goto{Target: pos, Speed: speed}, nil
	case KindOrbit:
		pos, err := params.position()
		if err != nil {
			return nil, err
		}
		radius, err := params.number("radius", true)
		if err != nil {
			return nil, err
		}
		speed, err := params.number("speed", false)
		if err != nil {
			return nil, err
		}
		return Orbit{Center: pos, Radius: radius, Speed: speed}, nil
	}
	return nil, invalid("command_kind", kind, "unknown command kind")
}
