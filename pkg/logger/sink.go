package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BradenHooton/bulwark/internal/models"
)

// EventWriter is a downstream destination for security events
type EventWriter interface {
	Name() string
	WriteEvent(ctx context.Context, event models.SecurityEvent) error
}

// EventEmitter is the emission point consumed by the tracker, registry and middleware
type EventEmitter interface {
	Emit(event models.SecurityEvent)
}

// EventObserver is notified of every emitted event after the writers run (metrics hook)
type EventObserver interface {
	ObserveEvent(event models.SecurityEvent)
}

// SecuritySink fans security events out to its writers.
// Emit never returns or panics because of a writer; failures go to the fallback logger.
type SecuritySink struct {
	writers   []EventWriter
	observers []EventObserver
	fallback  *slog.Logger
}

// SinkOption configures a SecuritySink
type SinkOption func(*SecuritySink)

// WithFallbackLogger replaces the stderr logger used to report writer failures
func WithFallbackLogger(l *slog.Logger) SinkOption {
	return func(s *SecuritySink) { s.fallback = l }
}

// WithObserver registers an observer
func WithObserver(o EventObserver) SinkOption {
	return func(s *SecuritySink) { s.observers = append(s.observers, o) }
}

// NewSecuritySink creates a sink writing to the given writers in order
func NewSecuritySink(writers []EventWriter, opts ...SinkOption) *SecuritySink {
	s := &SecuritySink{
		writers:  writers,
		fallback: slog.New(slog.NewJSONHandler(os.Stderr, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Emit hands the event to every writer synchronously
func (s *SecuritySink) Emit(event models.SecurityEvent) {
	if s == nil {
		return
	}
	ctx := context.Background()
	for _, w := range s.writers {
		s.write(ctx, w, event)
	}
	for _, o := range s.observers {
		s.observe(o, event)
	}
}

func (s *SecuritySink) write(ctx context.Context, w EventWriter, event models.SecurityEvent) {
	defer func() {
		if p := recover(); p != nil {
			s.reportFailure(w.Name(), event, fmt.Errorf("writer panic: %v", p))
		}
	}()

	if err := w.WriteEvent(ctx, event); err != nil {
		s.reportFailure(w.Name(), event, err)
	}
}

func (s *SecuritySink) observe(o EventObserver, event models.SecurityEvent) {
	defer func() {
		if p := recover(); p != nil {
			s.fallback.Error("security event observer panic", slog.Any("panic", p))
		}
	}()
	o.ObserveEvent(event)
}

func (s *SecuritySink) reportFailure(writer string, event models.SecurityEvent, err error) {
	s.fallback.LogAttrs(context.Background(), slog.LevelError, "security event write failed",
		slog.String("writer", writer),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("severity", event.Severity.String()),
		slog.Any("error", err),
	)
}

// Discard is an emitter that drops everything
type Discard struct{}

// Emit does nothing
func (Discard) Emit(models.SecurityEvent) {}
