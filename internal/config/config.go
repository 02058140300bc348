package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BradenHooton/bulwark/internal/models"
	"github.com/BradenHooton/bulwark/internal/services"
	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Security SecurityConfig
	Sinks    SinkConfig
	Redis    RedisConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectAttempts   int // pings before giving up at startup
	ConnectRetryDelay time.Duration
}

type ServerConfig struct {
	Port            string
	Env             string
	LogLevel        string
	TrustedProxies  []string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	FloodRequests   int // per client address per FloodWindow, zero disables
	FloodWindow     time.Duration
}

type AuthConfig struct {
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
}

// SecurityConfig holds the abuse-prevention policy
type SecurityConfig struct {
	Tiers          map[models.Tier]services.TierConfig
	Lockout        services.LockoutConfig
	SweepInterval  time.Duration
	SweepStaleness time.Duration
	EventRetention time.Duration
	UploadMaxBytes int64
	UploadTypes    []string
}

// SinkConfig selects the security event writers
type SinkConfig struct {
	LogDir         string
	MaxSizeMB      int
	MaxBackups     int
	MaxAgeDays     int
	BufferSize     int
	WriteTimeout   time.Duration
	RecentEvents   int
	PersistEvents  bool
	AlertEmailTo   []string
	AlertEmailFrom string
	AWSRegion      string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// Enabled reports whether a Redis address was configured
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// AlertsEnabled reports whether SES alert mail is configured
func (c SinkConfig) AlertsEnabled() bool { return len(c.AlertEmailTo) > 0 && c.AlertEmailFrom != "" }

// tierEnvNames maps tiers to their RATE_LIMIT_<NAME>_* prefix
var tierEnvNames = map[models.Tier]string{
	models.TierGeneral:      "GENERAL",
	models.TierAuth:         "AUTH",
	models.TierAdmin:        "ADMIN",
	models.TierUpload:       "UPLOAD",
	models.TierContact:      "CONTACT",
	models.TierPassword:     "PASSWORD",
	models.TierSystem:       "SYSTEM",
	models.TierPublic:       "PUBLIC",
	models.TierAPIDiscovery: "API_DISCOVERY",
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	jwtSecret := getEnv("JWT_SECRET", "")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET is required")
	}

	env := getEnv("ENV", "development")

	security, err := loadSecurity()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "bulwark"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectAttempts:   getEnvAsInt("DB_CONNECT_ATTEMPTS", 5),
			ConnectRetryDelay: getEnvAsDuration("DB_CONNECT_RETRY_DELAY", 2*time.Second),
		},
		Server: ServerConfig{
			Port:            getEnv("PORT", "8080"),
			Env:             env,
			LogLevel:        getEnv("LOG_LEVEL", "info"),
			TrustedProxies:  getEnvAsList("TRUSTED_PROXIES"),
			ReadTimeout:     getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvAsDuration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			FloodRequests:   getEnvAsInt("FLOOD_GUARD_REQUESTS", 600),
			FloodWindow:     getEnvAsDuration("FLOOD_GUARD_WINDOW", time.Minute),
		},
		Auth: AuthConfig{
			JWTSecret:          jwtSecret,
			AccessTokenExpiry:  getEnvAsDuration("ACCESS_TOKEN_EXPIRY", 15*time.Minute),
			RefreshTokenExpiry: getEnvAsDuration("REFRESH_TOKEN_EXPIRY", 7*24*time.Hour),
		},
		Security: *security,
		Sinks: SinkConfig{
			LogDir:         getEnv("SECURITY_LOG_DIR", ""),
			MaxSizeMB:      getEnvAsInt("SECURITY_LOG_MAX_SIZE_MB", 20),
			MaxBackups:     getEnvAsInt("SECURITY_LOG_MAX_BACKUPS", 5),
			MaxAgeDays:     getEnvAsInt("SECURITY_LOG_MAX_AGE_DAYS", 14),
			BufferSize:     getEnvAsInt("SINK_BUFFER_SIZE", 1024),
			WriteTimeout:   getEnvAsDuration("SINK_WRITE_TIMEOUT", 5*time.Second),
			RecentEvents:   getEnvAsInt("SECURITY_RECENT_EVENTS", 200),
			PersistEvents:  getEnvAsBool("SECURITY_EVENTS_DB", false),
			AlertEmailTo:   getEnvAsList("ALERT_EMAIL_TO"),
			AlertEmailFrom: getEnv("ALERT_EMAIL_FROM", ""),
			AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := validateJWTSecret(jwtSecret, env); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadSecurity reads tier, lockout and sweep settings. Unlike the other
// sections, a malformed value here is an error rather than a silent default.
func loadSecurity() (*SecurityConfig, error) {
	tiers := services.DefaultTierConfigs()
	for tier, name := range tierEnvNames {
		cfg := tiers[tier]
		prefix := "RATE_LIMIT_" + name

		window, err := parseDuration(prefix+"_WINDOW", cfg.Window)
		if err != nil {
			return nil, err
		}
		maxRequests, err := parseInt(prefix+"_MAX", cfg.MaxRequests)
		if err != nil {
			return nil, err
		}

		cfg.Window = window
		cfg.MaxRequests = maxRequests
		if bypass := getEnvAsList(prefix + "_BYPASS"); len(bypass) > 0 {
			cfg.Bypass = bypass
		}
		tiers[tier] = cfg
	}

	lockout := services.DefaultLockoutConfig()
	var err error
	if lockout.AttemptWindow, err = parseDuration("LOCKOUT_ATTEMPT_WINDOW", lockout.AttemptWindow); err != nil {
		return nil, err
	}
	if lockout.Threshold, err = parseInt("LOCKOUT_THRESHOLD", lockout.Threshold); err != nil {
		return nil, err
	}
	if lockout.LockoutDuration, err = parseDuration("LOCKOUT_DURATION", lockout.LockoutDuration); err != nil {
		return nil, err
	}
	if lockout.ProbeEventInterval, err = parseDuration("LOCKOUT_PROBE_EVENT_INTERVAL", 0); err != nil {
		return nil, err
	}

	sc := &SecurityConfig{
		Tiers:          tiers,
		Lockout:        lockout,
		UploadMaxBytes: int64(getEnvAsInt("UPLOAD_MAX_BYTES", 10<<20)),
		UploadTypes:    getEnvAsList("UPLOAD_ALLOWED_TYPES"),
	}
	if len(sc.UploadTypes) == 0 {
		sc.UploadTypes = []string{"image/jpeg", "image/png", "image/webp", "image/gif", "application/pdf"}
	}

	if sc.SweepInterval, err = parseDuration("SWEEP_INTERVAL", time.Hour); err != nil {
		return nil, err
	}
	if sc.SweepStaleness, err = parseDuration("SWEEP_STALENESS_HORIZON", time.Hour); err != nil {
		return nil, err
	}
	if sc.EventRetention, err = parseDuration("SECURITY_EVENTS_RETENTION", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if sc.SweepInterval <= 0 || sc.SweepStaleness <= 0 {
		return nil, fmt.Errorf("SWEEP_INTERVAL and SWEEP_STALENESS_HORIZON must be positive")
	}

	return sc, nil
}

// validateJWTSecret enforces minimum security standards for JWT secret
func validateJWTSecret(secret, env string) error {
	minLength := 16
	if env == "production" {
		minLength = 32
	}

	if len(secret) < minLength {
		return fmt.Errorf("JWT_SECRET must be at least %d characters in %s environment (got %d)",
			minLength, env, len(secret))
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func getEnvAsList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func parseInt(key string, defaultVal int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
