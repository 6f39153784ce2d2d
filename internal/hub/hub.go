// Package hub fans drone events out to subscribers.
//
// Every subscription owns a bounded buffer. Producers never wait: when a
// buffer is full the oldest buffered event is discarded and counted.
package hub

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// FleetTopic receives every event of every drone.
const FleetTopic = "fleet"

// DefaultBufferSize is used when New is given a non-positive size.
const DefaultBufferSize = 64

var (
	ErrHubClosed  = errors.New("hub closed")
	ErrEmptyTopic = errors.New("empty topic")
)

// Stats are per-subscription delivery counters.
type Stats struct {
	Delivered uint64 `json:"delivered"`
	Dropped   uint64 `json:"dropped_events"`
}

// Subscription is one consumer of a topic.
type Subscription struct {
	id    uint64
	topic string

	mu     sync.Mutex // serializes senders with close
	ch     chan Event
	closed bool

	delivered atomic.Uint64
	dropped   atomic.Uint64
}

// C is the event stream. It is closed on Unsubscribe or hub Close.
func (s *Subscription) C() <-chan Event { return s.ch }

func (s *Subscription) Topic() string { return s.topic }

// Stats returns a snapshot of the counters.
func (s *Subscription) Stats() Stats {
	return Stats{Delivered: s.delivered.Load(), Dropped: s.dropped.Load()}
}

func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- ev:
		s.delivered.Add(1)
		return
	default:
	}
	select {
	case <-s.ch:
		s.dropped.Add(1)
	default:
	}
	select {
	case s.ch <- ev:
		s.delivered.Add(1)
	default:
		s.dropped.Add(1)
	}
}

func (s *Subscription) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Hub routes events by drone id plus the fleet topic.
type Hub struct {
	mu         sync.RWMutex
	topics     map[string]map[uint64]*Subscription
	nextID     uint64
	bufferSize int
	closed     bool
	published  atomic.Uint64
	now        func() time.Time
	logger     *slog.Logger
}

// New creates a hub whose subscriptions buffer bufferSize events.
func New(bufferSize int, logger *slog.Logger) *Hub {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		topics:     make(map[string]map[uint64]*Subscription),
		bufferSize: bufferSize,
		now:        time.Now,
		logger:     logger,
	}
}

// Subscribe registers a consumer for a drone id or FleetTopic.
func (h *Hub) Subscribe(topic string) (*Subscription, error) {
	if topic == "" {
		return nil, ErrEmptyTopic
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrHubClosed
	}
	h.nextID++
	sub := &Subscription{id: h.nextID, topic: topic, ch: make(chan Event, h.bufferSize)}
	subs, ok := h.topics[topic]
	if !ok {
		subs = make(map[uint64]*Subscription)
		h.topics[topic] = subs
	}
	subs[sub.id] = sub
	h.logger.Debug("subscribed", "topic", topic, "subscription", sub.id)
	return sub, nil
}

// Unsubscribe removes the subscription and closes its channel. It is safe
// to call more than once.
func (h *Hub) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	h.mu.Lock()
	if subs, ok := h.topics[sub.topic]; ok {
		delete(subs, sub.id)
		if len(subs) == 0 {
			delete(h.topics, sub.topic)
		}
	}
	h.mu.Unlock()
	sub.close()
}

// Publish delivers ev to the drone's topic and the fleet topic. A zero
// timestamp is filled in.
func (h *Hub) Publish(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = h.now().UTC()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if h.closed {
		return
	}
	h.published.Add(1)
	if ev.DroneID != FleetTopic {
		for _, sub := range h.topics[ev.DroneID] {
			sub.deliver(ev)
		}
	}
	for _, sub := range h.topics[FleetTopic] {
		sub.deliver(ev)
	}
}

// Published is the number of events accepted by the hub.
func (h *Hub) Published() uint64 { return h.published.Load() }

// Subscribers counts the live subscriptions of a topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// Close closes every subscription. Publish becomes a no-op.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	topics := h.topics
	h.topics = make(map[string]map[uint64]*Subscription)
	h.mu.Unlock()
	for _, subs := range topics {
		for _, sub := range subs {
			sub.close()
		}
	}
}
