package logger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"

	"github.com/BradenHooton/bulwark/internal/models"
	"gopkg.in/natefinch/lumberjack.v2"
)

// FileWriterConfig controls rotation of the durable security log
type FileWriterConfig struct {
	Dir        string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// FileWriter appends events as JSON lines to security.log; HIGH and CRITICAL
// events are also written to security-error.log.
type FileWriter struct {
	mu     sync.Mutex
	all    io.WriteCloser
	alerts io.WriteCloser
}

// NewFileWriter opens rotating log files under cfg.Dir
func NewFileWriter(cfg FileWriterConfig) (*FileWriter, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("security log directory is required")
	}
	return &FileWriter{
		all:    rotating(filepath.Join(cfg.Dir, "security.log"), cfg),
		alerts: rotating(filepath.Join(cfg.Dir, "security-error.log"), cfg),
	}, nil
}

// newFileWriterWith is used by tests to capture output
func newFileWriterWith(all, alerts io.WriteCloser) *FileWriter {
	return &FileWriter{all: all, alerts: alerts}
}

func rotating(path string, cfg FileWriterConfig) *lumberjack.Logger {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
}

// Name implements EventWriter
func (w *FileWriter) Name() string { return "file" }

// WriteEvent implements EventWriter
func (w *FileWriter) WriteEvent(_ context.Context, event models.SecurityEvent) error {
	line, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode security event: %w", err)
	}
	line = append(line, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	if _, err := w.all.Write(line); err != nil {
		errs = append(errs, fmt.Errorf("failed to write security log: %w", err))
	}
	if event.Severity.IsAlert() {
		if _, err := w.alerts.Write(line); err != nil {
			errs = append(errs, fmt.Errorf("failed to write security error log: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Close closes both files
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return errors.Join(w.all.Close(), w.alerts.Close())
}
