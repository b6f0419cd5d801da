// Package config loads ricochet's runtime configuration from environment
// variables, following the same manual env-var-plus-default convention the
// rest of this codebase's services use.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Store      StoreConfig
	HTTP       HTTPCallbackConfig
	DNS        DNSCallbackConfig
	RateLimit  RateLimitConfig
	Poller     PollerConfig
	Injector   InjectorConfig
	Features   FeatureConfig
}

// StoreConfig controls the persistence backend.
type StoreConfig struct {
	Driver          string        `env:"RICOCHET_DB_DRIVER" default:"sqlite"` // sqlite, postgres
	DSN             string        `env:"RICOCHET_DB_DSN" default:"~/.ricochet/ricochet.db"`
	MaxOpenConns    int           `env:"RICOCHET_DB_MAX_OPEN_CONNS" default:"1"`
	MaxIdleConns    int           `env:"RICOCHET_DB_MAX_IDLE_CONNS" default:"1"`
	ConnMaxLifetime time.Duration `env:"RICOCHET_DB_CONN_MAX_LIFETIME" default:"30m"`
}

// HTTPCallbackConfig controls the HTTP callback listener (spec.md §4.4.1).
type HTTPCallbackConfig struct {
	Host         string        `env:"RICOCHET_HTTP_HOST" default:"0.0.0.0"`
	Port         int           `env:"RICOCHET_HTTP_PORT" default:"8080"`
	ReadTimeout  time.Duration `env:"RICOCHET_HTTP_READ_TIMEOUT" default:"10s"`
	WriteTimeout time.Duration `env:"RICOCHET_HTTP_WRITE_TIMEOUT" default:"10s"`
}

// DNSCallbackConfig controls the DNS callback listener (spec.md §4.4.2).
type DNSCallbackConfig struct {
	Host           string        `env:"RICOCHET_DNS_HOST" default:"0.0.0.0"`
	Port           int           `env:"RICOCHET_DNS_PORT" default:"5353"`
	SocketTimeout  time.Duration `env:"RICOCHET_DNS_SOCKET_TIMEOUT" default:"500ms"`
}

// RateLimitConfig controls the shared token-bucket limiter (spec.md §4.1).
type RateLimitConfig struct {
	Rate       float64 `env:"RICOCHET_RATE_LIMIT_RATE" default:"10"`
	Burst      int     `env:"RICOCHET_RATE_LIMIT_BURST" default:"1"`
	RedisAddr  string  `env:"RICOCHET_RATE_LIMIT_REDIS_ADDR" default:""` // non-empty enables the distributed variant
}

// PollerConfig controls the adaptive polling loop (spec.md §4.5).
type PollerConfig struct {
	BaseInterval    time.Duration `env:"RICOCHET_POLL_BASE_INTERVAL" default:"5s"`
	MaxInterval     time.Duration `env:"RICOCHET_POLL_MAX_INTERVAL" default:"60s"`
	BackoffFactor   float64       `env:"RICOCHET_POLL_BACKOFF_FACTOR" default:"1.5"`
	ResetOnCallback bool          `env:"RICOCHET_POLL_RESET_ON_CALLBACK" default:"true"`
	Timeout         time.Duration `env:"RICOCHET_POLL_TIMEOUT" default:"1h"`
	MinSeverity     string        `env:"RICOCHET_POLL_MIN_SEVERITY" default:"info"`
}

// InjectorConfig controls request transmission (spec.md §4.3).
type InjectorConfig struct {
	CallbackBaseURL string        `env:"RICOCHET_CALLBACK_BASE_URL" default:"http://localhost:8080"`
	Timeout         time.Duration `env:"RICOCHET_INJECT_TIMEOUT" default:"10s"`
	VerifyTLS       bool          `env:"RICOCHET_INJECT_VERIFY_TLS" default:"false"`
	FollowRedirects bool          `env:"RICOCHET_INJECT_FOLLOW_REDIRECTS" default:"true"`
	ProxyURL        string        `env:"RICOCHET_INJECT_PROXY_URL" default:""`
}

// FeatureConfig contains feature flags.
type FeatureConfig struct {
	TracingEnabled bool   `env:"RICOCHET_TRACING_ENABLED" default:"false"`
	MetricsEnabled bool   `env:"RICOCHET_METRICS_ENABLED" default:"true"`
	LogLevel       string `env:"RICOCHET_LOG_LEVEL" default:"info"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}

	cfg.Store.Driver = getEnvString("RICOCHET_DB_DRIVER", "sqlite")
	cfg.Store.DSN = getEnvString("RICOCHET_DB_DSN", defaultDBPath())
	cfg.Store.MaxOpenConns = getEnvInt("RICOCHET_DB_MAX_OPEN_CONNS", 1)
	cfg.Store.MaxIdleConns = getEnvInt("RICOCHET_DB_MAX_IDLE_CONNS", 1)
	cfg.Store.ConnMaxLifetime = getEnvDuration("RICOCHET_DB_CONN_MAX_LIFETIME", 30*time.Minute)

	cfg.HTTP.Host = getEnvString("RICOCHET_HTTP_HOST", "0.0.0.0")
	cfg.HTTP.Port = getEnvInt("RICOCHET_HTTP_PORT", 8080)
	cfg.HTTP.ReadTimeout = getEnvDuration("RICOCHET_HTTP_READ_TIMEOUT", 10*time.Second)
	cfg.HTTP.WriteTimeout = getEnvDuration("RICOCHET_HTTP_WRITE_TIMEOUT", 10*time.Second)

	cfg.DNS.Host = getEnvString("RICOCHET_DNS_HOST", "0.0.0.0")
	cfg.DNS.Port = getEnvInt("RICOCHET_DNS_PORT", 5353)
	cfg.DNS.SocketTimeout = getEnvDuration("RICOCHET_DNS_SOCKET_TIMEOUT", 500*time.Millisecond)

	cfg.RateLimit.Rate = getEnvFloat("RICOCHET_RATE_LIMIT_RATE", 10)
	cfg.RateLimit.Burst = getEnvInt("RICOCHET_RATE_LIMIT_BURST", 1)
	cfg.RateLimit.RedisAddr = getEnvString("RICOCHET_RATE_LIMIT_REDIS_ADDR", "")

	cfg.Poller.BaseInterval = getEnvDuration("RICOCHET_POLL_BASE_INTERVAL", 5*time.Second)
	cfg.Poller.MaxInterval = getEnvDuration("RICOCHET_POLL_MAX_INTERVAL", 60*time.Second)
	cfg.Poller.BackoffFactor = getEnvFloat("RICOCHET_POLL_BACKOFF_FACTOR", 1.5)
	cfg.Poller.ResetOnCallback = getEnvBool("RICOCHET_POLL_RESET_ON_CALLBACK", true)
	cfg.Poller.Timeout = getEnvDuration("RICOCHET_POLL_TIMEOUT", time.Hour)
	cfg.Poller.MinSeverity = getEnvString("RICOCHET_POLL_MIN_SEVERITY", "info")

	cfg.Injector.CallbackBaseURL = getEnvString("RICOCHET_CALLBACK_BASE_URL", "http://localhost:8080")
	cfg.Injector.Timeout = getEnvDuration("RICOCHET_INJECT_TIMEOUT", 10*time.Second)
	cfg.Injector.VerifyTLS = getEnvBool("RICOCHET_INJECT_VERIFY_TLS", false)
	cfg.Injector.FollowRedirects = getEnvBool("RICOCHET_INJECT_FOLLOW_REDIRECTS", true)
	cfg.Injector.ProxyURL = getEnvString("RICOCHET_INJECT_PROXY_URL", "")

	cfg.Features.TracingEnabled = getEnvBool("RICOCHET_TRACING_ENABLED", false)
	cfg.Features.MetricsEnabled = getEnvBool("RICOCHET_METRICS_ENABLED", true)
	cfg.Features.LogLevel = getEnvString("RICOCHET_LOG_LEVEL", "info")

	return cfg, cfg.Validate()
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.Store.Driver != "sqlite" && c.Store.Driver != "postgres" {
		return fmt.Errorf("unsupported store driver: %s", c.Store.Driver)
	}
	if c.HTTP.Port < 1 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid HTTP callback port: %d", c.HTTP.Port)
	}
	if c.DNS.Port < 1 || c.DNS.Port > 65535 {
		return fmt.Errorf("invalid DNS callback port: %d", c.DNS.Port)
	}
	if c.RateLimit.Rate <= 0 {
		return fmt.Errorf("rate limit rate must be positive, got %v", c.RateLimit.Rate)
	}
	if c.RateLimit.Burst < 1 {
		return fmt.Errorf("rate limit burst must be at least 1, got %d", c.RateLimit.Burst)
	}
	return nil
}

// defaultDBPath mirrors get_db_path() from the original implementation:
// ~/.ricochet/ricochet.db.
func defaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "ricochet.db"
	}
	return home + "/.ricochet/ricochet.db"
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
