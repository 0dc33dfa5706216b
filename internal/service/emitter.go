package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

// Events sent after every export run.
const (
	EventExportCompleted = "export:completed"
	EventExportFailed    = "export:failed"
)

// EventEmitter is told about finished exports. The CLI logs them and tests
// capture them.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// LogEmitter turns events into debug log lines.
type LogEmitter struct {
	Logger logrus.FieldLogger
}

func (e *LogEmitter) Emit(_ context.Context, event string, data any) {
	log := e.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}
	log.WithField("event", event).WithField("data", data).Debug("export event")
}

// EmittedEvent is one call captured by MockEmitter.
type EmittedEvent struct {
	Event string
	Data  any
}

// MockEmitter captures events for assertions. Safe for concurrent use.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
	m.mu.Unlock()
}

// Snapshot copies the events captured so far.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}

// Named returns the captured events called name.
func (m *MockEmitter) Named(name string) []EmittedEvent {
	var out []EmittedEvent
	for _, e := range m.Snapshot() {
		if e.Event == name {
			out = append(out, e)
		}
	}
	return out
}
