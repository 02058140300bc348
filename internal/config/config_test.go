package config

import (
	"testing"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "test")
}

func TestLoad_RequiresSecrets(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("DB_PASSWORD", "test")
	if _, err := Load(); err == nil {
		t.Fatal("Load() without JWT_SECRET = nil, want error")
	}

	t.Setenv("JWT_SECRET", "test-secret-32-characters-long!")
	t.Setenv("DB_PASSWORD", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load() without DB_PASSWORD = nil, want error")
	}
}

func TestLoad_ProductionRequiresLongSecret(t *testing.T) {
	setRequired(t)
	t.Setenv("ENV", "production")
	t.Setenv("JWT_SECRET", "only-twenty-chars!!!")

	if _, err := Load(); err == nil {
		t.Fatal("Load() with short production secret = nil, want error")
	}
}

func TestServerConfig_Timeouts_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		name     string
		actual   time.Duration
		expected time.Duration
	}{
		{"ReadTimeout", cfg.Server.ReadTimeout, 15 * time.Second},
		{"WriteTimeout", cfg.Server.WriteTimeout, 15 * time.Second},
		{"IdleTimeout", cfg.Server.IdleTimeout, 60 * time.Second},
		{"ShutdownTimeout", cfg.Server.ShutdownTimeout, 10 * time.Second},
	}

	for _, tt := range tests {
		if tt.actual != tt.expected {
			t.Errorf("%s: got %v, want %v", tt.name, tt.actual, tt.expected)
		}
	}
}

func TestSecurityConfig_Defaults(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	tests := []struct {
		tier   models.Tier
		window time.Duration
		max    int
	}{
		{models.TierGeneral, 15 * time.Minute, 100},
		{models.TierAuth, 15 * time.Minute, 5},
		{models.TierAdmin, 15 * time.Minute, 200},
		{models.TierUpload, time.Hour, 20},
		{models.TierContact, time.Hour, 3},
		{models.TierPassword, time.Hour, 3},
		{models.TierSystem, 15 * time.Minute, 3},
		{models.TierPublic, time.Minute, 30},
		{models.TierAPIDiscovery, 5 * time.Minute, 10},
	}

	for _, tt := range tests {
		got := cfg.Security.Tiers[tt.tier]
		if got.Window != tt.window || got.MaxRequests != tt.max {
			t.Errorf("%s: got %v/%d, want %v/%d", tt.tier, got.Window, got.MaxRequests, tt.window, tt.max)
		}
	}

	lockout := cfg.Security.Lockout
	if lockout.AttemptWindow != 15*time.Minute || lockout.Threshold != 5 || lockout.LockoutDuration != 15*time.Minute {
		t.Errorf("lockout defaults = %+v", lockout)
	}
	if cfg.Security.SweepInterval != time.Hour || cfg.Security.SweepStaleness != time.Hour {
		t.Errorf("sweep defaults = %v/%v", cfg.Security.SweepInterval, cfg.Security.SweepStaleness)
	}
	if cfg.Redis.Enabled() || cfg.Sinks.AlertsEnabled() || cfg.Sinks.PersistEvents {
		t.Error("optional sinks should be disabled by default")
	}
}

func TestSecurityConfig_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("RATE_LIMIT_API_DISCOVERY_WINDOW", "10m")
	t.Setenv("RATE_LIMIT_API_DISCOVERY_MAX", "25")
	t.Setenv("RATE_LIMIT_SYSTEM_BYPASS", "10.0.0.0/8, 127.0.0.1")
	t.Setenv("LOCKOUT_THRESHOLD", "3")
	t.Setenv("LOCKOUT_PROBE_EVENT_INTERVAL", "30s")
	t.Setenv("SWEEP_INTERVAL", "5m")
	t.Setenv("ALERT_EMAIL_TO", "ops@example.com,sec@example.com")
	t.Setenv("ALERT_EMAIL_FROM", "alerts@example.com")
	t.Setenv("REDIS_ADDR", "localhost:6379")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}

	discovery := cfg.Security.Tiers[models.TierAPIDiscovery]
	if discovery.Window != 10*time.Minute || discovery.MaxRequests != 25 {
		t.Errorf("apiDiscovery = %v/%d, want 10m/25", discovery.Window, discovery.MaxRequests)
	}

	bypass := cfg.Security.Tiers[models.TierSystem].Bypass
	if len(bypass) != 2 || bypass[0] != "10.0.0.0/8" || bypass[1] != "127.0.0.1" {
		t.Errorf("system bypass = %v", bypass)
	}

	if cfg.Security.Lockout.Threshold != 3 {
		t.Errorf("threshold = %d, want 3", cfg.Security.Lockout.Threshold)
	}
	if cfg.Security.Lockout.ProbeEventInterval != 30*time.Second {
		t.Errorf("probe interval = %v, want 30s", cfg.Security.Lockout.ProbeEventInterval)
	}
	if cfg.Security.SweepInterval != 5*time.Minute {
		t.Errorf("sweep interval = %v, want 5m", cfg.Security.SweepInterval)
	}
	if !cfg.Sinks.AlertsEnabled() || len(cfg.Sinks.AlertEmailTo) != 2 {
		t.Errorf("alert config = %+v", cfg.Sinks)
	}
	if !cfg.Redis.Enabled() {
		t.Error("redis should be enabled")
	}
}

func TestSecurityConfig_MalformedValuesAreFatal(t *testing.T) {
	tests := []struct {
		key   string
		value string
	}{
		{"RATE_LIMIT_AUTH_MAX", "five"},
		{"RATE_LIMIT_GENERAL_WINDOW", "forever"},
		{"LOCKOUT_DURATION", "15 minutes"},
		{"SWEEP_INTERVAL", "0s"},
		{"SWEEP_STALENESS_HORIZON", "-1h"},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			setRequired(t)
			t.Setenv(tt.key, tt.value)

			if _, err := Load(); err == nil {
				t.Fatalf("Load() with %s=%q = nil, want error", tt.key, tt.value)
			}
		})
	}
}

func TestDatabaseConfig_ConnectRetry(t *testing.T) {
	setRequired(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Database.ConnectAttempts != 5 || cfg.Database.ConnectRetryDelay != 2*time.Second {
		t.Errorf("connect retry defaults = %d/%v, want 5/2s", cfg.Database.ConnectAttempts, cfg.Database.ConnectRetryDelay)
	}

	t.Setenv("DB_CONNECT_ATTEMPTS", "10")
	t.Setenv("DB_CONNECT_RETRY_DELAY", "500ms")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load() = %v, want nil", err)
	}
	if cfg.Database.ConnectAttempts != 10 || cfg.Database.ConnectRetryDelay != 500*time.Millisecond {
		t.Errorf("connect retry = %d/%v, want 10/500ms", cfg.Database.ConnectAttempts, cfg.Database.ConnectRetryDelay)
	}
}
