package flightlog

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// Publisher sends a payload to a topic and waits for the broker.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// MQTTWriter publishes each entry to <prefix>/<drone_id>/flightlog.
type MQTTWriter struct {
	pub    Publisher
	prefix string
}

func NewMQTTWriter(pub Publisher, prefix string) *MQTTWriter {
	if prefix == "" {
		prefix = "droneops"
	}
	return &MQTTWriter{pub: pub, prefix: prefix}
}

// Topic returns the topic entries of a drone are published to. Entries
// without a drone go to the fleet topic.
func (w *MQTTWriter) Topic(droneID string) string {
	if droneID == "" {
		droneID = "fleet"
	}
	return fmt.Sprintf("%s/%s/flightlog", w.prefix, droneID)
}

func (w *MQTTWriter) AppendLog(e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return w.pub.Publish(w.Topic(e.DroneID), b)
}

// PahoPublisher adapts a paho client to Publisher.
type PahoPublisher struct {
	Client  mqtt.Client
	QoS     byte
	Retain  bool
	Timeout time.Duration
}

// DialMQTT connects to broker and returns a publisher for it.
func DialMQTT(broker, clientID string, timeout time.Duration) (*PahoPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetProtocolVersion(4)
	client := mqtt.NewClient(opts)
	tok := client.Connect()
	if !tok.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: timeout after %s", broker, timeout)
	}
	if err := tok.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", broker, err)
	}
	return &PahoPublisher{Client: client, QoS: 1, Timeout: timeout}, nil
}

func (p *PahoPublisher) Publish(topic string, payload []byte) error {
	tok := p.Client.Publish(topic, p.QoS, p.Retain, payload)
	if !tok.WaitTimeout(p.Timeout) {
		return fmt.Errorf("mqtt publish %s: timeout", topic)
	}
	return tok.Error()
}

// Close disconnects, allowing 250ms for in-flight messages.
func (p *PahoPublisher) Close() error {
	p.Client.Disconnect(250)
	return nil
}
