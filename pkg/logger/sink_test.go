package logger_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingWriter captures events and optionally fails or panics
type recordingWriter struct {
	mu      sync.Mutex
	name    string
	events  []models.SecurityEvent
	err     error
	panicOn bool
}

func (w *recordingWriter) Name() string { return w.name }

func (w *recordingWriter) WriteEvent(ctx context.Context, event models.SecurityEvent) error {
	if w.panicOn {
		panic("boom")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, event)
	return w.err
}

func (w *recordingWriter) Events() []models.SecurityEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]models.SecurityEvent(nil), w.events...)
}

func newEvent(t models.EventType, sev models.Severity) models.SecurityEvent {
	return models.NewSecurityEvent(t, sev, "10.0.0.1", "alice@example.com", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), models.EventDetails{"k": "v"})
}

func TestSecuritySink_FansOutToAllWriters(t *testing.T) {
	a := &recordingWriter{name: "a"}
	b := &recordingWriter{name: "b"}
	sink := logger.NewSecuritySink([]logger.EventWriter{a, b})

	event := newEvent(models.EventFailedLogin, 0)
	sink.Emit(event)

	require.Len(t, a.Events(), 1)
	require.Len(t, b.Events(), 1)
	assert.Equal(t, event.ID, a.Events()[0].ID)
}

func TestSecuritySink_WriterFailureDoesNotPropagate(t *testing.T) {
	var fallback bytes.Buffer
	failing := &recordingWriter{name: "broken", err: errors.New("disk full")}
	panicking := &recordingWriter{name: "panicky", panicOn: true}
	healthy := &recordingWriter{name: "healthy"}

	sink := logger.NewSecuritySink(
		[]logger.EventWriter{failing, panicking, healthy},
		logger.WithFallbackLogger(slog.New(slog.NewJSONHandler(&fallback, nil))),
	)

	assert.NotPanics(t, func() {
		sink.Emit(newEvent(models.EventAccountLocked, 0))
	})

	assert.Len(t, healthy.Events(), 1, "later writers still run")
	assert.Contains(t, fallback.String(), "disk full")
	assert.Contains(t, fallback.String(), "writer panic")
	assert.Contains(t, fallback.String(), `"writer":"broken"`)
}

func TestSecuritySink_NilSinkIsSafe(t *testing.T) {
	var sink *logger.SecuritySink
	assert.NotPanics(t, func() { sink.Emit(newEvent(models.EventFailedLogin, 0)) })
}

type countingObserver struct{ n int }

func (o *countingObserver) ObserveEvent(models.SecurityEvent) { o.n++ }

func TestSecuritySink_NotifiesObservers(t *testing.T) {
	obs := &countingObserver{}
	sink := logger.NewSecuritySink(nil, logger.WithObserver(obs))

	sink.Emit(newEvent(models.EventFailedLogin, 0))
	sink.Emit(newEvent(models.EventFailedLogin, 0))

	assert.Equal(t, 2, obs.n)
}

func TestConsoleWriter_RoutesBySeverity(t *testing.T) {
	tests := []struct {
		severity  models.Severity
		wantAlert bool
		wantLevel string
	}{
		{models.SeverityLow, false, `"level":"INFO"`},
		{models.SeverityMedium, false, `"level":"WARN"`},
		{models.SeverityHigh, true, `"level":"ERROR"`},
		{models.SeverityCritical, true, `"level":"ERROR"`},
	}

	for _, tt := range tests {
		t.Run(tt.severity.String(), func(t *testing.T) {
			var info, alert bytes.Buffer
			w := logger.NewConsoleWriter(
				slog.New(slog.NewJSONHandler(&info, nil)),
				slog.New(slog.NewJSONHandler(&alert, nil)),
			)

			err := w.WriteEvent(context.Background(), newEvent(models.EventSuspiciousActivity, tt.severity))
			require.NoError(t, err)

			if tt.wantAlert {
				assert.Empty(t, info.String())
				assert.Contains(t, alert.String(), tt.wantLevel)
			} else {
				assert.Empty(t, alert.String())
				assert.Contains(t, info.String(), tt.wantLevel)
			}
		})
	}
}

func TestConsoleWriter_MasksIdentity(t *testing.T) {
	var info bytes.Buffer
	w := logger.NewConsoleWriter(slog.New(slog.NewJSONHandler(&info, nil)), nil)

	require.NoError(t, w.WriteEvent(context.Background(), newEvent(models.EventFailedLogin, 0)))

	assert.NotContains(t, info.String(), "alice@example.com")
	assert.Contains(t, info.String(), `"identity":"a****@*******.com"`)
}
