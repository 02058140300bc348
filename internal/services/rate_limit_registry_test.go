package services_test

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/clock"
	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/services"
	"github.com/BradenHooton/bulwark/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newRegistry(t *testing.T, configs map[models.Tier]services.TierConfig) (*services.RateLimitRegistry, *clock.Manual, *logger.MemoryWriter) {
	t.Helper()
	clk := clock.NewManual(epoch)
	events := logger.NewMemoryWriter(1000)
	r, err := services.NewRateLimitRegistry(configs, clk, events, nil, discardLogger())
	require.NoError(t, err)
	return r, clk, events
}

func TestRateLimitRegistry_BurstBoundary(t *testing.T) {
	r, clk, events := newRegistry(t, nil)

	for i := 0; i < 3; i++ {
		d := r.CheckAndConsume(models.TierContact, "1.2.3.4")
		require.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, 2-i, d.Remaining)
		clk.Advance(time.Minute)
	}

	d := r.CheckAndConsume(models.TierContact, "1.2.3.4")
	assert.False(t, d.Allowed)
	assert.Equal(t, models.DenyReasonRateLimited, d.Reason)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
	assert.Equal(t, 57*time.Minute, d.RetryAfter)
	assert.Equal(t, epoch.Add(time.Hour), d.ResetAt)

	denials := events.OfType(models.EventRateLimitExceeded)
	require.Len(t, denials, 1)
	assert.Equal(t, models.SeverityMedium, denials[0].Severity)
	assert.Equal(t, "1.2.3.4", denials[0].SourceAddress)
	assert.Equal(t, "contact", denials[0].Details["tier"])
}

func TestRateLimitRegistry_DenialDoesNotConsume(t *testing.T) {
	r, _, _ := newRegistry(t, nil)

	for i := 0; i < 5; i++ {
		r.CheckAndConsume(models.TierContact, "1.2.3.4")
	}

	c, ok := r.Counter(models.TierContact, "1.2.3.4")
	require.True(t, ok)
	assert.Equal(t, 3, c.Count)
}

func TestRateLimitRegistry_WindowElapsedResets(t *testing.T) {
	r, clk, events := newRegistry(t, nil)

	for i := 0; i < 3; i++ {
		require.True(t, r.CheckAndConsume(models.TierContact, "1.2.3.4").Allowed)
	}
	require.False(t, r.CheckAndConsume(models.TierContact, "1.2.3.4").Allowed)

	clk.Advance(time.Hour)
	d := r.CheckAndConsume(models.TierContact, "1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining)

	c, _ := r.Counter(models.TierContact, "1.2.3.4")
	assert.Equal(t, 1, c.Count)
	assert.Equal(t, epoch.Add(time.Hour), c.WindowStart)
	assert.Len(t, events.OfType(models.EventRateLimitExceeded), 1)
}

func TestRateLimitRegistry_IndependentKeysAndTiers(t *testing.T) {
	r, _, _ := newRegistry(t, nil)

	for i := 0; i < 5; i++ {
		require.True(t, r.CheckAndConsume(models.TierAuth, "k1").Allowed)
	}
	require.False(t, r.CheckAndConsume(models.TierAuth, "k1").Allowed)

	assert.True(t, r.CheckAndConsume(models.TierAuth, "k2").Allowed)
	assert.True(t, r.CheckAndConsume(models.TierGeneral, "k1").Allowed)
}

func TestRateLimitRegistry_PrivilegedTiersDenyAtHigh(t *testing.T) {
	for _, tier := range []models.Tier{models.TierSystem, models.TierAdmin} {
		t.Run(string(tier), func(t *testing.T) {
			r, _, events := newRegistry(t, map[models.Tier]services.TierConfig{
				tier: {Window: time.Minute, MaxRequests: 1},
			})

			require.True(t, r.CheckAndConsume(tier, "user-1").Allowed)
			require.False(t, r.CheckAndConsume(tier, "user-1").Allowed)

			denials := events.OfType(models.EventRateLimitExceeded)
			require.Len(t, denials, 1)
			assert.Equal(t, models.SeverityHigh, denials[0].Severity)
			assert.Equal(t, "user-1", denials[0].Identity)
			assert.Empty(t, denials[0].SourceAddress)
		})
	}
}

func TestRateLimitRegistry_CallerAddressCarriedOnIdentityKey(t *testing.T) {
	r, _, events := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierUpload: {Window: time.Minute, MaxRequests: 1},
	})

	r.CheckAndConsumeFrom(models.TierUpload, "user-7", "203.0.113.9")
	d := r.CheckAndConsumeFrom(models.TierUpload, "user-7", "203.0.113.9")
	require.False(t, d.Allowed)

	denials := events.OfType(models.EventRateLimitExceeded)
	require.Len(t, denials, 1)
	assert.Equal(t, "203.0.113.9", denials[0].SourceAddress)
	assert.Equal(t, "user-7", denials[0].Identity)
}

func TestRateLimitRegistry_BypassList(t *testing.T) {
	r, _, events := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierSystem: {Window: time.Minute, MaxRequests: 1, Bypass: []string{"10.0.0.0/8", "192.0.2.1"}},
	})

	for i := 0; i < 10; i++ {
		assert.True(t, r.CheckAndConsume(models.TierSystem, "10.4.5.6").Allowed)
		assert.True(t, r.CheckAndConsume(models.TierSystem, "192.0.2.1").Allowed)
	}

	_, tracked := r.Counter(models.TierSystem, "10.4.5.6")
	assert.False(t, tracked, "bypassed callers must not consume the counter")

	require.True(t, r.CheckAndConsume(models.TierSystem, "192.0.2.2").Allowed)
	assert.False(t, r.CheckAndConsume(models.TierSystem, "192.0.2.2").Allowed)
	assert.Len(t, events.OfType(models.EventRateLimitExceeded), 1)
}

func TestRateLimitRegistry_BypassIgnoresNonAddressKeys(t *testing.T) {
	r, _, _ := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierSystem: {Window: time.Minute, MaxRequests: 1, Bypass: []string{"10.0.0.0/8"}},
	})

	require.True(t, r.CheckAndConsume(models.TierSystem, "user-1").Allowed)
	assert.False(t, r.CheckAndConsume(models.TierSystem, "user-1").Allowed)
}

func TestNewRateLimitRegistry_InvalidConfig(t *testing.T) {
	tests := []struct {
		name    string
		configs map[models.Tier]services.TierConfig
		wantErr error
	}{
		{
			name:    "zero window",
			configs: map[models.Tier]services.TierConfig{models.TierAuth: {Window: 0, MaxRequests: 5}},
			wantErr: models.ErrInvalidTierConfig,
		},
		{
			name:    "negative window",
			configs: map[models.Tier]services.TierConfig{models.TierAuth: {Window: -time.Minute, MaxRequests: 5}},
			wantErr: models.ErrInvalidTierConfig,
		},
		{
			name:    "zero max",
			configs: map[models.Tier]services.TierConfig{models.TierGeneral: {Window: time.Minute, MaxRequests: 0}},
			wantErr: models.ErrInvalidTierConfig,
		},
		{
			name:    "bad bypass entry",
			configs: map[models.Tier]services.TierConfig{models.TierGeneral: {Window: time.Minute, MaxRequests: 1, Bypass: []string{"not-an-ip"}}},
			wantErr: models.ErrInvalidTierConfig,
		},
		{
			name:    "unknown tier",
			configs: map[models.Tier]services.TierConfig{"bogus": {Window: time.Minute, MaxRequests: 1}},
			wantErr: models.ErrUnknownTier,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := services.NewRateLimitRegistry(tt.configs, clock.NewManual(epoch), logger.Discard{}, nil, discardLogger())
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestNewRateLimitRegistry_DefaultsFillMissingTiers(t *testing.T) {
	r, _, _ := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierAuth: {Window: time.Minute, MaxRequests: 2},
	})

	auth, err := r.Config(models.TierAuth)
	require.NoError(t, err)
	assert.Equal(t, 2, auth.MaxRequests)

	for tier, want := range services.DefaultTierConfigs() {
		if tier == models.TierAuth {
			continue
		}
		got, err := r.Config(tier)
		require.NoError(t, err)
		assert.Equal(t, want.Window, got.Window, tier)
		assert.Equal(t, want.MaxRequests, got.MaxRequests, tier)
	}
}

func TestRateLimitRegistry_UnknownTierAllows(t *testing.T) {
	r, _, events := newRegistry(t, nil)

	d := r.CheckAndConsume("bogus", "1.2.3.4")
	assert.True(t, d.Allowed)
	assert.Empty(t, events.Events())

	_, err := r.Config("bogus")
	assert.ErrorIs(t, err, models.ErrUnknownTier)
}

func TestRateLimitRegistry_ClockSkewKeepsCount(t *testing.T) {
	r, clk, _ := newRegistry(t, nil)

	for i := 0; i < 3; i++ {
		require.True(t, r.CheckAndConsume(models.TierContact, "1.2.3.4").Allowed)
	}

	clk.Set(epoch.Add(-10 * time.Minute))
	d := r.CheckAndConsume(models.TierContact, "1.2.3.4")
	assert.False(t, d.Allowed, "a backwards clock must not grant a fresh burst")
	assert.Equal(t, time.Hour, d.RetryAfter)

	c, _ := r.Counter(models.TierContact, "1.2.3.4")
	assert.Equal(t, epoch.Add(-10*time.Minute), c.WindowStart)

	clk.Advance(time.Hour)
	assert.True(t, r.CheckAndConsume(models.TierContact, "1.2.3.4").Allowed)
}

func TestRateLimitRegistry_Sweep(t *testing.T) {
	r, clk, _ := newRegistry(t, nil)

	r.CheckAndConsume(models.TierPublic, "1.1.1.1")  // 1m window
	r.CheckAndConsume(models.TierContact, "1.1.1.1") // 1h window
	require.Equal(t, 2, r.Len())

	clk.Advance(2 * time.Minute)
	removed := r.Sweep(clk.Now())
	assert.Equal(t, 1, removed)

	_, ok := r.Counter(models.TierPublic, "1.1.1.1")
	assert.False(t, ok)
	_, ok = r.Counter(models.TierContact, "1.1.1.1")
	assert.True(t, ok)
}

func TestRateLimitRegistry_ConcurrentConsumeAdmitsExactlyMax(t *testing.T) {
	r, _, events := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierGeneral: {Window: time.Minute, MaxRequests: 50},
	})

	var allowed atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.CheckAndConsume(models.TierGeneral, "198.51.100.1").Allowed {
				allowed.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(50), allowed.Load())
	assert.Len(t, events.OfType(models.EventRateLimitExceeded), 150)

	c, _ := r.Counter(models.TierGeneral, "198.51.100.1")
	assert.Equal(t, 50, c.Count)
}

func TestRateLimitRegistry_SweepDuringTrafficKeepsLiveCounters(t *testing.T) {
	r, clk, _ := newRegistry(t, map[models.Tier]services.TierConfig{
		models.TierGeneral: {Window: time.Minute, MaxRequests: 1000},
	})

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				r.Sweep(clk.Now())
			}
		}
	}()

	var consumers sync.WaitGroup
	for i := 0; i < 20; i++ {
		consumers.Add(1)
		go func() {
			defer consumers.Done()
			for j := 0; j < 25; j++ {
				r.CheckAndConsume(models.TierGeneral, "203.0.113.1")
			}
		}()
	}
	consumers.Wait()
	close(stop)
	wg.Wait()

	c, ok := r.Counter(models.TierGeneral, "203.0.113.1")
	require.True(t, ok)
	assert.Equal(t, 500, c.Count)
}

func TestRateLimitRegistry_Stats(t *testing.T) {
	r, _, _ := newRegistry(t, nil)

	for i := 0; i < 3; i++ {
		r.CheckAndConsume(models.TierContact, "1.2.3.4")
	}
	r.CheckAndConsume(models.TierContact, "5.6.7.8")

	stats := r.Stats()
	require.Len(t, stats, len(models.AllTiers))
	for _, s := range stats {
		if s.Tier != models.TierContact {
			assert.Zero(t, s.Keys, s.Tier)
			continue
		}
		assert.Equal(t, 2, s.Keys)
		assert.Equal(t, 1, s.Exhausted)
		assert.Equal(t, time.Hour, s.Window)
	}
}

func TestRateLimitRegistry_RecordsDecisionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := services.NewSecurityMetrics(reg)
	r, err := services.NewRateLimitRegistry(map[models.Tier]services.TierConfig{
		models.TierAuth: {Window: time.Minute, MaxRequests: 1},
	}, clock.NewManual(epoch), logger.Discard{}, metrics, discardLogger())
	require.NoError(t, err)

	r.CheckAndConsume(models.TierAuth, "1.2.3.4")
	r.CheckAndConsume(models.TierAuth, "1.2.3.4")
	r.CheckAndConsume(models.TierAuth, "1.2.3.4")

	count, err := testutil.GatherAndCount(reg, "bulwark_rate_limit_decisions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	expected := `
# HELP bulwark_rate_limit_decisions_total Rate limit admission decisions by tier and outcome.
# TYPE bulwark_rate_limit_decisions_total counter
bulwark_rate_limit_decisions_total{outcome="allowed",tier="auth"} 1
bulwark_rate_limit_decisions_total{outcome="denied",tier="auth"} 2
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "bulwark_rate_limit_decisions_total"))
}
