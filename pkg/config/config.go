// Package config loads service configuration from environment variables.
// The reconciliation policy itself lives in a YAML file loaded by
// pkg/shibauth; this package only locates it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backend types.
const (
	StoreTypePostgres = "postgres"
	StoreTypeSQLite   = "sqlite"
	StoreTypeMemory   = "memory"
)

// Session backend types.
const (
	SessionBackendSQL   = "sql"
	SessionBackendRedis = "redis"
)

// Config holds all application configuration.
type Config struct {
	Server        ServerConfig
	Store         StoreConfig
	Session       SessionConfig
	Policy        PolicyConfig
	Observability ObservabilityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	// Health/metrics server (separate port for probes and scraping)
	HealthPort string

	// ExternalURL is the public base URL behind the SSO front end. Its
	// scheme decides whether session cookies are marked Secure.
	ExternalURL string

	// BasePath is the default post-login redirect target.
	BasePath string
}

// StoreConfig selects and configures the identity store backend.
type StoreConfig struct {
	Type        string // postgres | sqlite | memory
	PostgresURL string
	SQLitePath  string
	MaxConns    int
	MinConns    int
	MaxLifetime time.Duration
}

// SessionConfig configures session persistence.
type SessionConfig struct {
	Backend       string // sql | redis
	TTL           time.Duration
	CookieName    string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// SweepSchedule is the cron spec for expired-session cleanup on the
	// SQL backend.
	SweepSchedule string
}

// PolicyConfig locates the reconciliation policy file.
type PolicyConfig struct {
	Path  string
	Watch bool
}

// ObservabilityConfig holds logging, metrics, and tracing settings.
type ObservabilityConfig struct {
	LogLevel  string
	LogFormat string // json | text

	MetricsEnabled bool

	OTelEnabled        bool
	OTelEndpoint       string
	OTelServiceName    string
	OTelServiceVersion string
	OTelInsecure       bool
}

// LoadConfig loads configuration from environment variables.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Host:            getEnv("SHIBGATE_HOST", "0.0.0.0"),
			Port:            getEnv("SHIBGATE_PORT", "8080"),
			ReadTimeout:     getEnvDuration("SHIBGATE_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getEnvDuration("SHIBGATE_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:     getEnvDuration("SHIBGATE_IDLE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getEnvDuration("SHIBGATE_SHUTDOWN_TIMEOUT", 30*time.Second),
			HealthPort:      getEnv("SHIBGATE_HEALTH_PORT", "9090"),
			ExternalURL:     getEnv("SHIBGATE_EXTERNAL_URL", "http://localhost:8080"),
			BasePath:        getEnv("SHIBGATE_BASE_PATH", "/"),
		},
		Store: StoreConfig{
			Type:        getEnv("SHIBGATE_STORE_TYPE", StoreTypeSQLite),
			PostgresURL: getEnv("SHIBGATE_POSTGRES_URL", ""),
			SQLitePath:  getEnv("SHIBGATE_SQLITE_PATH", "shibgate.db"),
			MaxConns:    getEnvInt("SHIBGATE_DB_MAX_CONNS", 25),
			MinConns:    getEnvInt("SHIBGATE_DB_MIN_CONNS", 5),
			MaxLifetime: getEnvDuration("SHIBGATE_DB_MAX_LIFETIME", 5*time.Minute),
		},
		Session: SessionConfig{
			Backend:       getEnv("SHIBGATE_SESSION_BACKEND", SessionBackendSQL),
			TTL:           getEnvDuration("SHIBGATE_SESSION_TTL", 12*time.Hour),
			CookieName:    getEnv("SHIBGATE_SESSION_COOKIE", "shibgate_session"),
			RedisAddr:     getEnv("SHIBGATE_REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("SHIBGATE_REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("SHIBGATE_REDIS_DB", 0),
			SweepSchedule: getEnv("SHIBGATE_SESSION_SWEEP_SCHEDULE", "*/15 * * * *"),
		},
		Policy: PolicyConfig{
			Path:  getEnv("SHIBGATE_POLICY_PATH", "policy.yaml"),
			Watch: getEnvBool("SHIBGATE_POLICY_WATCH", true),
		},
		Observability: ObservabilityConfig{
			LogLevel:           getEnv("SHIBGATE_LOG_LEVEL", "info"),
			LogFormat:          getEnv("SHIBGATE_LOG_FORMAT", "json"),
			MetricsEnabled:     getEnvBool("SHIBGATE_METRICS_ENABLED", true),
			OTelEnabled:        getEnvBool("SHIBGATE_OTEL_ENABLED", false),
			OTelEndpoint:       getEnv("SHIBGATE_OTEL_ENDPOINT", "localhost:4317"),
			OTelServiceName:    getEnv("SHIBGATE_OTEL_SERVICE_NAME", "shibgate"),
			OTelServiceVersion: getEnv("SHIBGATE_OTEL_SERVICE_VERSION", "dev"),
			OTelInsecure:       getEnvBool("SHIBGATE_OTEL_INSECURE", true),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	switch c.Store.Type {
	case StoreTypePostgres:
		if c.Store.PostgresURL == "" {
			return fmt.Errorf("SHIBGATE_POSTGRES_URL is required for the postgres store")
		}
	case StoreTypeSQLite:
		if c.Store.SQLitePath == "" {
			return fmt.Errorf("SHIBGATE_SQLITE_PATH is required for the sqlite store")
		}
	case StoreTypeMemory:
		// No backend configuration needed.
	default:
		return fmt.Errorf("unknown store type: %s", c.Store.Type)
	}

	switch c.Session.Backend {
	case SessionBackendSQL:
		if c.Store.Type == StoreTypeMemory {
			return fmt.Errorf("the sql session backend requires a sql store type")
		}
	case SessionBackendRedis:
		if c.Session.RedisAddr == "" {
			return fmt.Errorf("SHIBGATE_REDIS_ADDR is required for the redis session backend")
		}
	default:
		return fmt.Errorf("unknown session backend: %s", c.Session.Backend)
	}

	if c.Policy.Path == "" {
		return fmt.Errorf("SHIBGATE_POLICY_PATH must not be empty")
	}
	return nil
}

// CookieSecure reports whether session cookies should carry the Secure
// attribute.
func (c *Config) CookieSecure() bool {
	return strings.HasPrefix(c.Server.ExternalURL, "https://")
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
