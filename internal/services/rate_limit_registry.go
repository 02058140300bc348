package services

import (
	"fmt"
	"log/slog"
	"net/netip"
	"strings"
	"sync"
	"time"

	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	pkglogger "github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/go-playground/validator/v10"
)

var configValidator = validator.New()

// TierConfig defines one fixed-window rate limit tier
type TierConfig struct {
	Window      time.Duration `validate:"gt=0"`
	MaxRequests int           `validate:"gt=0"`
	Bypass      []string      `validate:"dive,ip|cidr"` // trusted addresses or CIDR ranges
}

// DefaultTierConfigs returns the stock tier table
func DefaultTierConfigs() map[models.Tier]TierConfig {
	return map[models.Tier]TierConfig{
		models.TierGeneral:      {Window: 15 * time.Minute, MaxRequests: 100},
		models.TierAuth:         {Window: 15 * time.Minute, MaxRequests: 5},
		models.TierAdmin:        {Window: 15 * time.Minute, MaxRequests: 200},
		models.TierUpload:       {Window: 1 * time.Hour, MaxRequests: 20},
		models.TierContact:      {Window: 1 * time.Hour, MaxRequests: 3},
		models.TierPassword:     {Window: 1 * time.Hour, MaxRequests: 3},
		models.TierSystem:       {Window: 15 * time.Minute, MaxRequests: 3},
		models.TierPublic:       {Window: 1 * time.Minute, MaxRequests: 30},
		models.TierAPIDiscovery: {Window: 5 * time.Minute, MaxRequests: 10},
	}
}

type rateCounter struct {
	windowStart time.Time
	count       int
}

type tierLimiter struct {
	tier   models.Tier
	config TierConfig
	bypass []netip.Prefix

	mu       sync.Mutex
	counters map[string]*rateCounter
}

// RateLimitRegistry holds one independent fixed-window counter map per tier.
//
// Fixed windows permit a burst of up to 2x MaxRequests across a window
// boundary; that is the accepted cost of O(1) state per key.
type RateLimitRegistry struct {
	tiers   map[models.Tier]*tierLimiter
	clock   clock.Clock
	events  pkglogger.EventEmitter
	metrics *SecurityMetrics
	logger  *slog.Logger
}

// NewRateLimitRegistry validates every tier definition and builds the registry.
// Missing tiers fall back to DefaultTierConfigs.
func NewRateLimitRegistry(configs map[models.Tier]TierConfig, clk clock.Clock, events pkglogger.EventEmitter, metrics *SecurityMetrics, logger *slog.Logger) (*RateLimitRegistry, error) {
	defaults := DefaultTierConfigs()
	r := &RateLimitRegistry{
		tiers:   make(map[models.Tier]*tierLimiter, len(models.AllTiers)),
		clock:   clk,
		events:  events,
		metrics: metrics,
		logger:  logger,
	}

	for tier := range configs {
		if _, known := defaults[tier]; !known {
			return nil, fmt.Errorf("%w: %q", models.ErrUnknownTier, tier)
		}
	}

	for _, tier := range models.AllTiers {
		cfg, ok := configs[tier]
		if !ok {
			cfg = defaults[tier]
		}
		if err := configValidator.Struct(cfg); err != nil {
			return nil, fmt.Errorf("%w: tier %s: %v", models.ErrInvalidTierConfig, tier, err)
		}
		prefixes, err := parseBypass(cfg.Bypass)
		if err != nil {
			return nil, fmt.Errorf("%w: tier %s: %v", models.ErrInvalidTierConfig, tier, err)
		}
		r.tiers[tier] = &tierLimiter{
			tier:     tier,
			config:   cfg,
			bypass:   prefixes,
			counters: make(map[string]*rateCounter),
		}
	}

	return r, nil
}

func parseBypass(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if strings.Contains(entry, "/") {
			p, err := netip.ParsePrefix(entry)
			if err != nil {
				return nil, fmt.Errorf("bypass entry %q: %w", entry, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("bypass entry %q: %w", entry, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

// Config returns the definition of a tier
func (r *RateLimitRegistry) Config(tier models.Tier) (TierConfig, error) {
	tl, ok := r.tiers[tier]
	if !ok {
		return TierConfig{}, fmt.Errorf("%w: %q", models.ErrUnknownTier, tier)
	}
	return tl.config, nil
}

// CheckAndConsume admits or rejects one request for (tier, key). A key that
// parses as an IP address is also treated as the caller's source address.
func (r *RateLimitRegistry) CheckAndConsume(tier models.Tier, key string) models.Decision {
	address := ""
	if _, err := netip.ParseAddr(key); err == nil {
		address = key
	}
	return r.CheckAndConsumeFrom(tier, key, address)
}

// CheckAndConsumeFrom is CheckAndConsume with the caller's network address
// supplied separately (the key may be an authenticated identity).
func (r *RateLimitRegistry) CheckAndConsumeFrom(tier models.Tier, key, address string) models.Decision {
	tl, ok := r.tiers[tier]
	if !ok {
		// unknown tier: log and allow
		r.logger.Error("rate limit check for unknown tier", slog.String("tier", string(tier)))
		return models.Allow()
	}

	if tl.bypassed(address) {
		return models.Decision{Allowed: true, Limit: tl.config.MaxRequests, Remaining: tl.config.MaxRequests}
	}

	decision, event := tl.consume(key, address, r.clock.Now())
	r.metrics.observeDecision(tier, decision)
	if event != nil {
		r.events.Emit(*event)
	}
	return decision
}

func (tl *tierLimiter) bypassed(address string) bool {
	if address == "" || len(tl.bypass) == 0 {
		return false
	}
	addr, err := netip.ParseAddr(address)
	if err != nil {
		return false
	}
	addr = addr.Unmap()
	for _, p := range tl.bypass {
		if p.Contains(addr) {
			return true
		}
	}
	return false
}

// consume runs the read-modify-write for one key under the tier lock and
// returns the event to emit (after the lock is released) on denial.
func (tl *tierLimiter) consume(key, address string, now time.Time) (models.Decision, *models.SecurityEvent) {
	window := tl.config.Window
	limit := tl.config.MaxRequests

	tl.mu.Lock()
	defer tl.mu.Unlock()

	c, ok := tl.counters[key]
	if ok && now.Before(c.windowStart) {
		// Clock moved backwards: keep the count, re-anchor so the penalty lasts at most one window.
		c.windowStart = now
	}

	if !ok || now.Sub(c.windowStart) >= window {
		c = &rateCounter{windowStart: now, count: 1}
		tl.counters[key] = c
		return tl.allowed(c), nil
	}

	if c.count < limit {
		c.count++
		return tl.allowed(c), nil
	}

	resetAt := c.windowStart.Add(window)
	decision := models.Decision{
		Allowed:    false,
		Reason:     models.DenyReasonRateLimited,
		RetryAfter: resetAt.Sub(now),
		Limit:      limit,
		Remaining:  0,
		ResetAt:    resetAt,
	}

	severity := models.SeverityMedium
	if tl.tier == models.TierSystem || tl.tier == models.TierAdmin {
		severity = models.SeverityHigh
	}
	identity := ""
	if key != address {
		identity = key
	}
	event := models.NewSecurityEvent(models.EventRateLimitExceeded, severity, address, identity, now, models.EventDetails{
		"tier":         string(tl.tier),
		"key":          key,
		"count":        c.count,
		"max_requests": limit,
		"window":       window.String(),
		"retry_after":  decision.RetryAfter.String(),
	})
	return decision, &event
}

func (tl *tierLimiter) allowed(c *rateCounter) models.Decision {
	return models.Decision{
		Allowed:   true,
		Limit:     tl.config.MaxRequests,
		Remaining: tl.config.MaxRequests - c.count,
		ResetAt:   c.windowStart.Add(tl.config.Window),
	}
}

// Counter returns a snapshot of the counter for (tier, key)
func (r *RateLimitRegistry) Counter(tier models.Tier, key string) (models.RateCounter, bool) {
	tl, ok := r.tiers[tier]
	if !ok {
		return models.RateCounter{}, false
	}

	tl.mu.Lock()
	defer tl.mu.Unlock()

	c, ok := tl.counters[key]
	if !ok {
		return models.RateCounter{}, false
	}
	return models.RateCounter{Tier: tier, Key: key, WindowStart: c.windowStart, Count: c.count}, true
}

// Sweep deletes counters whose window has elapsed. Returns the number removed.
func (r *RateLimitRegistry) Sweep(now time.Time) int {
	removed := 0
	for _, tier := range models.AllTiers {
		tl := r.tiers[tier]
		tl.mu.Lock()
		for key, c := range tl.counters {
			// Check under the lock: a request may have reset the window since the last look.
			if now.Sub(c.windowStart) >= tl.config.Window {
				delete(tl.counters, key)
				removed++
			}
		}
		tl.mu.Unlock()
	}
	return removed
}

// Len returns the total number of live counters across tiers
func (r *RateLimitRegistry) Len() int {
	total := 0
	for _, tl := range r.tiers {
		tl.mu.Lock()
		total += len(tl.counters)
		tl.mu.Unlock()
	}
	return total
}

// Stats summarizes each tier, in configuration order
func (r *RateLimitRegistry) Stats() []models.TierStats {
	now := r.clock.Now()
	stats := make([]models.TierStats, 0, len(r.tiers))

	for _, tier := range models.AllTiers {
		tl := r.tiers[tier]
		s := models.TierStats{Tier: tier, Window: tl.config.Window, MaxRequests: tl.config.MaxRequests}

		tl.mu.Lock()
		for _, c := range tl.counters {
			if now.Sub(c.windowStart) >= tl.config.Window {
				continue
			}
			s.Keys++
			if c.count >= tl.config.MaxRequests {
				s.Exhausted++
			}
		}
		tl.mu.Unlock()

		stats = append(stats, s)
	}

	return stats
}
