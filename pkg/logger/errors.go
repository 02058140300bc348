package logger

import "errors"

var (
	errQueueFull    = errors.New("security event queue full, event dropped")
	errWriterClosed = errors.New("security event writer closed")
)
