package logger

import (
	"context"
	"log/slog"

	"github.com/BradenHooton/bulwark/internal/models"
)

// ConsoleWriter logs events through slog. HIGH and CRITICAL go to the alert
// logger at error level; LOW and MEDIUM go to the info logger.
type ConsoleWriter struct {
	info  *slog.Logger
	alert *slog.Logger
}

// NewConsoleWriter creates a console writer. A nil alert logger reuses info.
func NewConsoleWriter(info, alert *slog.Logger) *ConsoleWriter {
	if alert == nil {
		alert = info
	}
	return &ConsoleWriter{info: info, alert: alert}
}

// Name implements EventWriter
func (w *ConsoleWriter) Name() string { return "console" }

// WriteEvent implements EventWriter
func (w *ConsoleWriter) WriteEvent(ctx context.Context, event models.SecurityEvent) error {
	attrs := EventAttrs(event)

	switch {
	case event.Severity.IsAlert():
		w.alert.LogAttrs(ctx, slog.LevelError, "security_event", attrs...)
	case event.Severity == models.SeverityMedium:
		w.info.LogAttrs(ctx, slog.LevelWarn, "security_event", attrs...)
	default:
		w.info.LogAttrs(ctx, slog.LevelInfo, "security_event", attrs...)
	}
	return nil
}

// EventAttrs flattens an event into slog attributes with the identity masked
func EventAttrs(event models.SecurityEvent) []slog.Attr {
	attrs := []slog.Attr{
		slog.String("audit_type", "security"),
		slog.String("event_id", event.ID),
		slog.String("event_type", string(event.Type)),
		slog.String("severity", event.Severity.String()),
		slog.String("source_address", event.SourceAddress),
		slog.String("timestamp", event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00")),
	}
	if event.Identity != "" {
		attrs = append(attrs, slog.String("identity", SanitizedEmail(event.Identity)))
	}
	if len(event.Details) > 0 {
		attrs = append(attrs, slog.Any("details", map[string]any(event.Details)))
	}
	return attrs
}
