package logger

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
)

const defaultWriteTimeout = 5 * time.Second

// AsyncWriter moves a network-bound writer off the request path. Events are
// queued into a bounded buffer and written by a single worker; a full buffer
// drops the event and reports it to the fallback logger. Each downstream
// write is bounded by the write timeout.
type AsyncWriter struct {
	next     EventWriter
	queue    chan models.SecurityEvent
	fallback *slog.Logger
	timeout  time.Duration

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// AsyncOption configures an AsyncWriter
type AsyncOption func(*AsyncWriter)

// WithWriteTimeout bounds each downstream write. Non-positive values keep the default.
func WithWriteTimeout(d time.Duration) AsyncOption {
	return func(w *AsyncWriter) {
		if d > 0 {
			w.timeout = d
		}
	}
}

// NewAsyncWriter starts the worker for next with the given buffer size
func NewAsyncWriter(next EventWriter, bufferSize int, fallback *slog.Logger, opts ...AsyncOption) *AsyncWriter {
	if bufferSize <= 0 {
		bufferSize = 1024
	}
	w := &AsyncWriter{
		next:     next,
		queue:    make(chan models.SecurityEvent, bufferSize),
		fallback: fallback,
		timeout:  defaultWriteTimeout,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	return w
}

// Name implements EventWriter
func (w *AsyncWriter) Name() string { return "async:" + w.next.Name() }

// WriteEvent enqueues the event without blocking
func (w *AsyncWriter) WriteEvent(_ context.Context, event models.SecurityEvent) error {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return errWriterClosed
	}

	select {
	case w.queue <- event:
		return nil
	default:
		return errQueueFull
	}
}

func (w *AsyncWriter) run() {
	defer close(w.done)
	for event := range w.queue {
		w.deliver(event)
	}
}

func (w *AsyncWriter) deliver(event models.SecurityEvent) {
	defer func() {
		if p := recover(); p != nil {
			w.fallback.Error("async security writer panic",
				slog.String("writer", w.next.Name()),
				slog.Any("panic", p))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	if err := w.next.WriteEvent(ctx, event); err != nil {
		w.fallback.Error("security event write failed",
			slog.String("writer", w.next.Name()),
			slog.String("event_id", event.ID),
			slog.String("event_type", string(event.Type)),
			slog.Any("error", err))
	}
}

// Close stops accepting events and waits for the queue to drain or ctx to end
func (w *AsyncWriter) Close(ctx context.Context) error {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
