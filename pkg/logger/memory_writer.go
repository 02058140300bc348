package logger

import (
	"context"
	"sync"

	"github.com/BradenHooton/bulwark/internal/models"
)

// MemoryWriter keeps the most recent events in a ring buffer. It backs the
// admin "recent events" view when no shared store is configured.
type MemoryWriter struct {
	mu     sync.Mutex
	buf    []models.SecurityEvent
	next   int
	filled bool
}

// NewMemoryWriter creates a ring holding up to capacity events
func NewMemoryWriter(capacity int) *MemoryWriter {
	if capacity <= 0 {
		capacity = 100
	}
	return &MemoryWriter{buf: make([]models.SecurityEvent, capacity)}
}

// Name implements EventWriter
func (m *MemoryWriter) Name() string { return "memory" }

// WriteEvent implements EventWriter
func (m *MemoryWriter) WriteEvent(_ context.Context, event models.SecurityEvent) error {
	m.Emit(event)
	return nil
}

// Emit implements EventEmitter so the writer can stand in for a sink
func (m *MemoryWriter) Emit(event models.SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.buf[m.next] = event
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.filled = true
	}
}

// Recent returns up to limit events, newest first
func (m *MemoryWriter) Recent(_ context.Context, limit int) ([]models.SecurityEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	size := m.next
	if m.filled {
		size = len(m.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}

	out := make([]models.SecurityEvent, 0, limit)
	for i := 1; i <= limit; i++ {
		idx := (m.next - i + len(m.buf)) % len(m.buf)
		out = append(out, m.buf[idx])
	}
	return out, nil
}

// Events returns every buffered event, oldest first
func (m *MemoryWriter) Events() []models.SecurityEvent {
	recent, _ := m.Recent(context.Background(), 0)
	for i, j := 0, len(recent)-1; i < j; i, j = i+1, j-1 {
		recent[i], recent[j] = recent[j], recent[i]
	}
	return recent
}

// OfType returns buffered events of type t, oldest first
func (m *MemoryWriter) OfType(t models.EventType) []models.SecurityEvent {
	var out []models.SecurityEvent
	for _, e := range m.Events() {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}
