package services

import (
	"log/slog"

	"github.com/BradenHooton/bulwark/internal/models"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
)

// SecurityStatus is the admin view of the in-memory abuse-prevention state
type SecurityStatus struct {
	Tiers    []models.TierStats     `json:"tiers"`
	Attempts models.AttemptStats    `json:"attempts"`
	Locked   []models.AttemptRecord `json:"locked"`
}

// AccessGate is the single admission point used by handlers and middleware
type AccessGate struct {
	tracker  *AttemptTracker
	registry *RateLimitRegistry
	logger   *slog.Logger
}

// NewAccessGate creates a new access gate
func NewAccessGate(tracker *AttemptTracker, registry *RateLimitRegistry, logger *slog.Logger) *AccessGate {
	return &AccessGate{
		tracker:  tracker,
		registry: registry,
		logger:   logger,
	}
}

// GuardLogin checks lockout first so a locked identity never reaches the
// credential verifier, then the auth tier keyed by address.
func (g *AccessGate) GuardLogin(identity, address string) models.Decision {
	if status := g.tracker.CheckLocked(identity, address); status.Locked {
		return models.Deny(models.DenyReasonAccountLocked, status.Remaining)
	}

	if d := g.registry.CheckAndConsumeFrom(models.TierAuth, address, address); !d.Allowed {
		return d
	}

	return models.Allow()
}

// GuardLocked checks lockout only. Callers that are already rate limited by
// another tier use it to avoid charging the address-keyed auth tier.
func (g *AccessGate) GuardLocked(identity, address string) models.Decision {
	if status := g.tracker.CheckLocked(identity, address); status.Locked {
		return models.Deny(models.DenyReasonAccountLocked, status.Remaining)
	}
	return models.Allow()
}

// GuardRequest applies a non-login tier to key
func (g *AccessGate) GuardRequest(tier models.Tier, key string) models.Decision {
	return g.registry.CheckAndConsume(tier, key)
}

// GuardCaller applies a tier to key, carrying the network address for auditing
// and bypass checks when key is an authenticated identity.
func (g *AccessGate) GuardCaller(tier models.Tier, key, address string) models.Decision {
	return g.registry.CheckAndConsumeFrom(tier, key, address)
}

// RecordFailure registers a failed verification
func (g *AccessGate) RecordFailure(identity, address string) models.AttemptRecord {
	return g.tracker.RecordFailure(identity, address)
}

// RecordSuccess clears lockout state after a successful verification
func (g *AccessGate) RecordSuccess(identity, address string) {
	g.tracker.RecordSuccess(identity, address)
}

// Unlock clears a lockout on behalf of an administrator
func (g *AccessGate) Unlock(identity, actorID string) bool {
	cleared := g.tracker.Unlock(identity)
	g.logger.Warn("manual lockout clear",
		slog.String("identity", pkglogger.SanitizedEmail(NormalizeIdentity(identity))),
		slog.String("actor_id", actorID),
		slog.Bool("cleared", cleared),
	)
	return cleared
}

// Status snapshots tier and lockout state
func (g *AccessGate) Status() SecurityStatus {
	locked := g.tracker.Locked()
	if locked == nil {
		locked = []models.AttemptRecord{}
	}
	return SecurityStatus{
		Tiers:    g.registry.Stats(),
		Attempts: g.tracker.Stats(),
		Locked:   locked,
	}
}
