package flightlog

import "sync"

// Sink receives every flight log entry the core produces.
type Sink interface {
	AppendLog(Entry) error
}

type batchSink interface {
	AppendLogs([]Entry) error
}

// Discard drops everything.
type Discard struct{}

func (Discard) AppendLog(Entry) error { return nil }

// Memory keeps entries in memory. The fleet monitor and tests read it back.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
	limit   int
}

// NewMemory keeps at most limit entries; zero keeps everything.
func NewMemory(limit int) *Memory { return &Memory{limit: limit} }

func (m *Memory) AppendLog(e Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
	if m.limit > 0 && len(m.entries) > m.limit {
		m.entries = append([]Entry(nil), m.entries[len(m.entries)-m.limit:]...)
	}
	return nil
}

// Entries returns a copy of the stored entries.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Entry(nil), m.entries...)
}

// Events returns the event names for one drone in order.
func (m *Memory) Events(droneID string) []string {
	var out []string
	for _, e := range m.Entries() {
		if e.DroneID == droneID {
			out = append(out, e.Event)
		}
	}
	return out
}

// MultiWriter fans entries out to several sinks, stopping at the first error.
type MultiWriter struct {
	sinks []Sink
}

func NewMultiWriter(sinks ...Sink) *MultiWriter { return &MultiWriter{sinks: sinks} }

func (mw *MultiWriter) AppendLog(e Entry) error {
	for _, s := range mw.sinks {
		if err := s.AppendLog(e); err != nil {
			return err
		}
	}
	return nil
}

// AppendLogs uses each sink's batch path when it has one.
func (mw *MultiWriter) AppendLogs(entries []Entry) error {
	for _, s := range mw.sinks {
		if bs, ok := s.(batchSink); ok {
			if err := bs.AppendLogs(entries); err != nil {
				return err
			}
			continue
		}
		for _, e := range entries {
			if err := s.AppendLog(e); err != nil {
				return err
			}
		}
	}
	return nil
}
