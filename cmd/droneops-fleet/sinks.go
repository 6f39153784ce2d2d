package main

import (
	"log/slog"
	"time"

	"droneops-fleet/internal/config"
	"droneops-fleet/internal/flightlog"
)

const mqttConnectTimeout = 5 * time.Second

// newSinks sets up the flight log sinks named in cfg. printOnly replaces
// them with JSON on STDOUT. It returns the sink and a cleanup function
// closing any resources.
func newSinks(cfg *config.Config, printOnly bool, logger *slog.Logger) (flightlog.Sink, func(), error) {
	if printOnly {
		return flightlog.NewJSONStdoutWriter(), func() {}, nil
	}

	var (
		sinks   []flightlog.Sink
		closers []func()
	)
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	fl := cfg.FlightLog
	if fl.Stdout {
		sinks = append(sinks, flightlog.NewJSONStdoutWriter())
	}
	if f := fl.File; f != nil {
		fw := flightlog.NewFileWriter(f.Path, f.MaxSizeMB, f.MaxBackups)
		sinks = append(sinks, fw)
		closers = append(closers, func() { fw.Close() })
	}
	if g := fl.Greptime; g != nil && g.Endpoint != "" {
		gw, err := flightlog.NewGreptimeDBWriter(g.Endpoint, g.Database, g.Table, cfg.ClusterID, logger)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		sinks = append(sinks, gw)
	}
	if m := fl.MQTT; m != nil && m.Broker != "" {
		pub, err := flightlog.DialMQTT(m.Broker, m.ClientID, mqttConnectTimeout)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		pub.QoS = m.QoS
		sinks = append(sinks, flightlog.NewMQTTWriter(pub, m.TopicPrefix))
		closers = append(closers, func() { pub.Close() })
	}

	switch len(sinks) {
	case 0:
		logger.Warn("no flight log sink configured, entries are discarded")
		return flightlog.Discard{}, cleanup, nil
	case 1:
		return sinks[0], cleanup, nil
	default:
		return flightlog.NewMultiWriter(sinks...), cleanup, nil
	}
}
