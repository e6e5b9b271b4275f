// Package audit provides the structured audit trail. Every suppressed
// signal, vetoed intent, and order-state transition is emitted as a record
// with a reason code and the relevant inputs; this is the system's only
// required persisted artifact.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// EventType represents the type of audit event.
type EventType string

const (
	SignalEmitted    EventType = "SIGNAL_EMITTED"
	SignalSuppressed EventType = "SIGNAL_SUPPRESSED"
	IntentCreated    EventType = "INTENT_CREATED"
	IntentVetoed     EventType = "INTENT_VETOED"
	IntentExpired    EventType = "INTENT_EXPIRED"
	OrderTransition  EventType = "ORDER_TRANSITION"
	FillReported     EventType = "FILL_REPORTED"
	PositionOpened   EventType = "POSITION_OPENED"
	PositionClosed   EventType = "POSITION_CLOSED"
	InvariantFault   EventType = "INVARIANT_FAULT"
)

// Event is a single audit record.
type Event struct {
	Timestamp  time.Time              `json:"timestamp"`
	Type       EventType              `json:"event_type"`
	Instrument string                 `json:"instrument,omitempty"`
	Reference  string                 `json:"reference,omitempty"` // signal/intent/order id
	Reason     string                 `json:"reason,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
}

// Sink receives audit events. Implementations must be safe for concurrent
// use and must not block the emitting component.
type Sink interface {
	Record(Event)
}

// Config holds audit logger configuration.
type Config struct {
	LogDir     string
	MaxSize    int // megabytes
	MaxBackups int
	MaxAge     int // days
	Compress   bool
}

// DefaultConfig returns the default audit configuration.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		LogDir:     filepath.Join(home, ".config", "flowtrader", "audit"),
		MaxSize:    50,
		MaxBackups: 30,
		MaxAge:     365,
		Compress:   true,
	}
}

// Logger writes audit events as JSON lines to a rotating file.
type Logger struct {
	writer *lumberjack.Logger
	mu     sync.Mutex
	counts map[EventType]uint64
}

// NewLogger creates a new audit logger.
func NewLogger(cfg Config) (*Logger, error) {
	if err := os.MkdirAll(cfg.LogDir, 0700); err != nil {
		return nil, fmt.Errorf("creating audit directory: %w", err)
	}

	return &Logger{
		writer: &lumberjack.Logger{
			Filename:   filepath.Join(cfg.LogDir, "audit.log"),
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		},
		counts: make(map[EventType]uint64),
	}, nil
}

// Record writes one event. Serialization failures are swallowed; the audit
// trail must never take down the trading path.
func (l *Logger) Record(ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts[ev.Type]++

	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	l.writer.Write(append(data, '\n'))
}

// Count returns how many events of the given type have been recorded.
func (l *Logger) Count(t EventType) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.counts[t]
}

// Close flushes and closes the underlying writer.
func (l *Logger) Close() error {
	return l.writer.Close()
}

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Record(ev Event) {
	for _, s := range m {
		s.Record(ev)
	}
}

// NopSink discards events. Useful in tests.
type NopSink struct{}

func (NopSink) Record(Event) {}

// MemorySink retains events in memory. Useful in tests.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (m *MemorySink) Record(ev Event) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
}

// Events returns a copy of the recorded events.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// ByType returns recorded events of one type.
func (m *MemorySink) ByType(t EventType) []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Event
	for _, ev := range m.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}
