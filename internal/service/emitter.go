package service

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"recordgrid/internal/logger"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter — decouples services from the presentation layer
// ─────────────────────────────────────────────────────────────

// EventEmitter receives grid notifications. The MCP server logs them;
// tests record them with MockEmitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// SessionEvent wraps a controller notification with its session id.
type SessionEvent struct {
	SessionID string `json:"sessionId"`
	Data      any    `json:"data"`
}

// sessionEmitter tags every event of one session before forwarding it.
type sessionEmitter struct {
	sessionID string
	inner     EventEmitter
}

func (e sessionEmitter) Emit(ctx context.Context, event string, data any) {
	if e.inner == nil {
		return
	}
	e.inner.Emit(ctx, event, SessionEvent{SessionID: e.sessionID, Data: data})
}

// LogEmitter writes events to the process logger at debug level.
type LogEmitter struct{}

func (LogEmitter) Emit(_ context.Context, event string, data any) {
	entry := logger.Log.WithField("event", event)
	if se, ok := data.(SessionEvent); ok {
		entry = entry.WithFields(logrus.Fields{"session": se.SessionID, "data": se.Data})
	} else {
		entry = entry.WithField("data", data)
	}
	entry.Debug("emit")
}

// MockEmitter is a test-friendly EventEmitter that records all calls.
type MockEmitter struct {
	mu     sync.Mutex
	Events []EmittedEvent
}

// EmittedEvent holds a single recorded emission for test assertions.
type EmittedEvent struct {
	Event string
	Data  any
}

func (m *MockEmitter) Emit(_ context.Context, event string, data any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Events = append(m.Events, EmittedEvent{Event: event, Data: data})
}

// Snapshot returns a copy of the recorded events.
func (m *MockEmitter) Snapshot() []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]EmittedEvent(nil), m.Events...)
}

// Count returns how many times event was emitted.
func (m *MockEmitter) Count(event string) int {
	n := 0
	for _, e := range m.Snapshot() {
		if e.Event == event {
			n++
		}
	}
	return n
}
