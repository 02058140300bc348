package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// EventType classifies a security event
type EventType string

const (
	EventFailedLogin        EventType = "FAILED_LOGIN"
	EventAccountLocked      EventType = "ACCOUNT_LOCKED"
	EventSuccessfulLogin    EventType = "SUCCESSFUL_LOGIN"
	EventRateLimitExceeded  EventType = "RATE_LIMIT_EXCEEDED"
	EventSuspiciousActivity EventType = "SUSPICIOUS_ACTIVITY"
	EventUnauthorizedAccess EventType = "UNAUTHORIZED_ACCESS"
	EventFileUploadRejected EventType = "FILE_UPLOAD_REJECTED"
)

// Severity is a coarse ordinal used for routing and alerting
type Severity int

const (
	SeverityLow Severity = iota + 1
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "LOW"
	case SeverityMedium:
		return "MEDIUM"
	case SeverityHigh:
		return "HIGH"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the severity by name in JSON payloads
func (s Severity) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a severity name
func (s *Severity) UnmarshalText(text []byte) error {
	parsed, err := ParseSeverity(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// ParseSeverity maps LOW, MEDIUM, HIGH or CRITICAL (any case) to a Severity
func ParseSeverity(name string) (Severity, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "LOW":
		return SeverityLow, nil
	case "MEDIUM":
		return SeverityMedium, nil
	case "HIGH":
		return SeverityHigh, nil
	case "CRITICAL":
		return SeverityCritical, nil
	}
	return 0, fmt.Errorf("unknown severity %q", name)
}

// IsAlert reports whether the severity belongs on the error-level channel
func (s Severity) IsAlert() bool {
	return s >= SeverityHigh
}

// DefaultSeverity returns the severity an event type carries unless the emitter overrides it
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventAccountLocked, EventSuspiciousActivity:
		return SeverityHigh
	case EventRateLimitExceeded, EventUnauthorizedAccess, EventFileUploadRejected:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// EventDetails is the opaque structured payload attached to an event
type EventDetails map[string]any

// SecurityEvent is an immutable record of a security-relevant transition.
// Construct with NewSecurityEvent; writers must not mutate Details.
type SecurityEvent struct {
	ID            string       `json:"id"`
	Type          EventType    `json:"type"`
	Severity      Severity     `json:"severity"`
	SourceAddress string       `json:"source_address"`
	Identity      string       `json:"identity,omitempty"`
	Timestamp     time.Time    `json:"timestamp"`
	Details       EventDetails `json:"details,omitempty"`
}

// NewSecurityEvent builds an event with a fresh ID. A zero severity picks DefaultSeverity.
func NewSecurityEvent(t EventType, severity Severity, sourceAddress, identity string, at time.Time, details EventDetails) SecurityEvent {
	if severity == 0 {
		severity = DefaultSeverity(t)
	}
	copied := make(EventDetails, len(details))
	for k, v := range details {
		copied[k] = v
	}
	return SecurityEvent{
		ID:            uuid.New().String(),
		Type:          t,
		Severity:      severity,
		SourceAddress: sourceAddress,
		Identity:      identity,
		Timestamp:     at.UTC(),
		Details:       copied,
	}
}

// EventCounts holds one UTC day's event tallies
type EventCounts struct {
	Day        string              `json:"day"`
	ByType     map[EventType]int64 `json:"by_type"`
	BySeverity map[string]int64    `json:"by_severity"`
}
