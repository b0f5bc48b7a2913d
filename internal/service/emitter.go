package service

import (
	"context"
	"errors"
	"sync"
)

// ─────────────────────────────────────────────────────────────
// EventEmitter: decouples services from the transport
// ─────────────────────────────────────────────────────────────

// Events emitted by the services.
const (
	EventElementsChanged     = "elements:changed"
	EventPagesChanged        = "pages:changed"
	EventCollectionRefreshed = "collection:refreshed"
	EventPersistFailed       = "elements:persist-failed"
)

// ErrInvalidInput marks input the services refuse before touching storage.
var ErrInvalidInput = errors.New("invalid input")

// EventEmitter is an interface for emitting events to connected builder UIs.
// The App fans these out to editor websockets; the MCP process logs them.
// Services receive this interface so they can be tested with a mock emitter.
type EventEmitter interface {
	Emit(ctx context.Context, event string, data any)
}

// EmitterFunc adapts a function to EventEmitter.
type EmitterFunc func(ctx context.Context, event string, data any)

func (f EmitterFunc) Emit(ctx context.Context, event string, data any) { f(ctx, event, data) }

// MockEmitter is a test-friendly EventEmitter that records all calls.
// Background persistence emits from worker goroutines, so it locks.
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

// Named returns a copy of the recorded emissions of event.
func (m *MockEmitter) Named(event string) []EmittedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []EmittedEvent
	for _, e := range m.Events {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}
