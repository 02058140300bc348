package services

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
	"golang.org/x/time/rate"
)

// LockoutConfig controls brute-force lockout
type LockoutConfig struct {
	AttemptWindow   time.Duration `validate:"gt=0"`
	Threshold       int           `validate:"gt=0"`
	LockoutDuration time.Duration `validate:"gt=0"`
	// ProbeEventInterval throttles ACCOUNT_LOCKED events raised by lock checks
	// against an already-locked identity. Zero emits on every probe.
	ProbeEventInterval time.Duration `validate:"gte=0"`
}

// DefaultLockoutConfig returns the stock lockout policy
func DefaultLockoutConfig() LockoutConfig {
	return LockoutConfig{
		AttemptWindow:   15 * time.Minute,
		Threshold:       5,
		LockoutDuration: 15 * time.Minute,
	}
}

type attemptEntry struct {
	failureCount  int
	lastFailureAt time.Time
	lockedUntil   time.Time // zero when unlocked
	probes        *rate.Limiter
}

func (e *attemptEntry) lockedAt(now time.Time) bool {
	return !e.lockedUntil.IsZero() && now.Before(e.lockedUntil)
}

// expiredAt reports whether the entry should be treated as absent: a lock
// that has passed, or a timestamp ahead of the clock.
func (e *attemptEntry) expiredAt(now time.Time) bool {
	if now.Before(e.lastFailureAt) {
		return true
	}
	return !e.lockedUntil.IsZero() && !now.Before(e.lockedUntil)
}

func (e *attemptEntry) snapshot(identity string) models.AttemptRecord {
	rec := models.AttemptRecord{
		Identity:      identity,
		FailureCount:  e.failureCount,
		LastFailureAt: e.lastFailureAt,
	}
	if !e.lockedUntil.IsZero() {
		until := e.lockedUntil
		rec.LockedUntil = &until
	}
	return rec
}

// AttemptTracker counts failed logins per identity and locks identities that
// reach the threshold inside the attempt window.
type AttemptTracker struct {
	config  LockoutConfig
	clock   clock.Clock
	events  pkglogger.EventEmitter
	metrics *SecurityMetrics

	mu      sync.Mutex
	records map[string]*attemptEntry
}

// NewAttemptTracker validates config and builds an empty tracker
func NewAttemptTracker(config LockoutConfig, clk clock.Clock, events pkglogger.EventEmitter, metrics *SecurityMetrics) (*AttemptTracker, error) {
	if err := configValidator.Struct(config); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidLockoutConfig, err)
	}
	return &AttemptTracker{
		config:  config,
		clock:   clk,
		events:  events,
		metrics: metrics,
		records: make(map[string]*attemptEntry),
	}, nil
}

// NormalizeIdentity lowercases and trims a login principal
func NormalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}

// CheckLocked reports whether identity is locked. It never mutates the record.
func (t *AttemptTracker) CheckLocked(identity, address string) models.LockStatus {
	identity = NormalizeIdentity(identity)
	now := t.clock.Now()

	t.mu.Lock()
	e, ok := t.records[identity]
	if !ok || e.expiredAt(now) || !e.lockedAt(now) {
		t.mu.Unlock()
		return models.LockStatus{}
	}
	remaining := e.lockedUntil.Sub(now)
	emit := e.probes == nil || e.probes.AllowN(now, 1)
	count := e.failureCount
	t.mu.Unlock()

	if emit {
		t.events.Emit(models.NewSecurityEvent(models.EventAccountLocked, models.SeverityHigh, address, identity, now, models.EventDetails{
			"remaining":     remaining.String(),
			"failure_count": count,
			"reason":        "locked account probed",
		}))
	}

	return models.LockStatus{Locked: true, Remaining: remaining}
}

// RecordFailure registers one failed login and returns the resulting record
func (t *AttemptTracker) RecordFailure(identity, address string) models.AttemptRecord {
	identity = NormalizeIdentity(identity)
	now := t.clock.Now()

	var event models.SecurityEvent
	locked := false

	t.mu.Lock()
	e, ok := t.records[identity]
	switch {
	case !ok || e.expiredAt(now):
		e = &attemptEntry{failureCount: 1}
		t.records[identity] = e
	case e.lockedAt(now):
		// Failures while locked still count but never extend the lock.
		e.failureCount++
	case now.Sub(e.lastFailureAt) > t.config.AttemptWindow:
		e.failureCount = 1
	default:
		e.failureCount++
	}
	e.lastFailureAt = now

	if e.lockedUntil.IsZero() && e.failureCount >= t.config.Threshold {
		e.lockedUntil = now.Add(t.config.LockoutDuration)
		if t.config.ProbeEventInterval > 0 {
			e.probes = rate.NewLimiter(rate.Every(t.config.ProbeEventInterval), 1)
			e.probes.AllowN(now, 1)
		}
		locked = true
		event = models.NewSecurityEvent(models.EventAccountLocked, models.SeverityHigh, address, identity, now, models.EventDetails{
			"failure_count":    e.failureCount,
			"locked_until":     e.lockedUntil,
			"lockout_duration": t.config.LockoutDuration.String(),
		})
	} else {
		severity := models.SeverityLow
		if e.failureCount > 3 {
			severity = models.SeverityMedium
		}
		event = models.NewSecurityEvent(models.EventFailedLogin, severity, address, identity, now, models.EventDetails{
			"failure_count": e.failureCount,
			"threshold":     t.config.Threshold,
		})
	}
	rec := e.snapshot(identity)
	t.mu.Unlock()

	if locked {
		t.metrics.observeLockout()
	}
	t.events.Emit(event)
	return rec
}

// RecordSuccess clears all state for identity
func (t *AttemptTracker) RecordSuccess(identity, address string) {
	identity = NormalizeIdentity(identity)
	now := t.clock.Now()

	t.mu.Lock()
	delete(t.records, identity)
	t.mu.Unlock()

	t.events.Emit(models.NewSecurityEvent(models.EventSuccessfulLogin, models.SeverityLow, address, identity, now, nil))
}

// Unlock removes the record for identity without a login event. Returns
// false when nothing was tracked.
func (t *AttemptTracker) Unlock(identity string) bool {
	identity = NormalizeIdentity(identity)

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.records[identity]; !ok {
		return false
	}
	delete(t.records, identity)
	return true
}

// Snapshot returns the live record for identity
func (t *AttemptTracker) Snapshot(identity string) (models.AttemptRecord, bool) {
	identity = NormalizeIdentity(identity)
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.records[identity]
	if !ok || e.expiredAt(now) {
		return models.AttemptRecord{}, false
	}
	return e.snapshot(identity), true
}

// Locked lists identities currently locked
func (t *AttemptTracker) Locked() []models.AttemptRecord {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var out []models.AttemptRecord
	for identity, e := range t.records {
		if !e.expiredAt(now) && e.lockedAt(now) {
			out = append(out, e.snapshot(identity))
		}
	}
	return out
}

// Stats counts tracked and locked identities
func (t *AttemptTracker) Stats() models.AttemptStats {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	var s models.AttemptStats
	for _, e := range t.records {
		if e.expiredAt(now) {
			continue
		}
		s.Tracked++
		if e.lockedAt(now) {
			s.Locked++
		}
	}
	return s
}

// Len returns the raw number of records, including ones awaiting a sweep
func (t *AttemptTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}

// Sweep deletes expired locks and unlocked records idle longer than staleness
func (t *AttemptTracker) Sweep(now time.Time, staleness time.Duration) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := 0
	for identity, e := range t.records {
		if !e.lockedUntil.IsZero() {
			if !now.Before(e.lockedUntil) {
				delete(t.records, identity)
				removed++
			}
			continue
		}
		if now.Sub(e.lastFailureAt) > staleness {
			delete(t.records, identity)
			removed++
		}
	}
	return removed
}
