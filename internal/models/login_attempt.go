package models

import "time"

// AttemptRecord tracks failed logins for one normalized identity.
// LockedUntil non-nil implies FailureCount >= lockout threshold.
type AttemptRecord struct {
	Identity      string     `json:"identity"`
	FailureCount  int        `json:"failure_count"`
	LastFailureAt time.Time  `json:"last_failure_at"`
	LockedUntil   *time.Time `json:"locked_until,omitempty"`
}

// LockStatus is returned by lock checks
type LockStatus struct {
	Locked    bool
	Remaining time.Duration
}

// AttemptStats summarizes the tracker for the admin dashboard
type AttemptStats struct {
	Tracked int `json:"tracked_identities"`
	Locked  int `json:"locked_identities"`
}
