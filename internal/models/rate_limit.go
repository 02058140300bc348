package models

import "time"

// Tier names a rate-limit policy applied to a class of routes
type Tier string

const (
	TierGeneral      Tier = "general"
	TierAuth         Tier = "auth"
	TierAdmin        Tier = "admin"
	TierUpload       Tier = "upload"
	TierContact      Tier = "contact"
	TierPassword     Tier = "password"
	TierSystem       Tier = "system"
	TierPublic       Tier = "public"
	TierAPIDiscovery Tier = "apiDiscovery"
)

// AllTiers lists every tier in configuration order
var AllTiers = []Tier{
	TierGeneral,
	TierAuth,
	TierAdmin,
	TierUpload,
	TierContact,
	TierPassword,
	TierSystem,
	TierPublic,
	TierAPIDiscovery,
}

// DenyReason explains a deny Decision
type DenyReason string

const (
	DenyReasonNone          DenyReason = ""
	DenyReasonAccountLocked DenyReason = "ACCOUNT_LOCKED"
	DenyReasonRateLimited   DenyReason = "RATE_LIMITED"
)

// Decision is the outcome of an admission check. Denials are values, not errors.
type Decision struct {
	Allowed    bool
	Reason     DenyReason
	RetryAfter time.Duration // zero when there is no hint
	Limit      int           // tier ceiling, zero when not rate-limit derived
	Remaining  int
	ResetAt    time.Time
}

// Allow is the zero-information allow decision
func Allow() Decision {
	return Decision{Allowed: true}
}

// Deny builds a deny decision with an optional retry hint
func Deny(reason DenyReason, retryAfter time.Duration) Decision {
	if retryAfter < 0 {
		retryAfter = 0
	}
	return Decision{Allowed: false, Reason: reason, RetryAfter: retryAfter}
}

// Err converts a deny decision into a *DenialError, nil when allowed
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &DenialError{Reason: d.Reason, RetryAfter: d.RetryAfter}
}

// RateCounter is a snapshot of one (tier, key) fixed-window counter
type RateCounter struct {
	Tier        Tier
	Key         string
	WindowStart time.Time
	Count       int
}

// TierStats summarizes one tier for the admin dashboard
type TierStats struct {
	Tier        Tier          `json:"tier"`
	Window      time.Duration `json:"window_ns"`
	MaxRequests int           `json:"max_requests"`
	Keys        int           `json:"tracked_keys"`
	Exhausted   int           `json:"exhausted_keys"`
}
