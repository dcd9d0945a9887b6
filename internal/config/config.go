// Package config handles YAML configuration loading with environment variable expansion.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"
)

// Config is the top-level runtime configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Database   DatabaseConfig   `yaml:"database"`
	Auth       AuthConfig       `yaml:"auth"`
	RateLimits RateLimitConfig  `yaml:"rate_limits"`
	Redis      RedisConfig      `yaml:"redis"`
	Cache      CacheConfig      `yaml:"cache"`
	Budget     BudgetConfig     `yaml:"budget"`
	Audit      AuditConfig      `yaml:"audit"`
	Retry      RetryConfig      `yaml:"retry"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	Connectors []ConnectorEntry `yaml:"connectors"`
	Keys       []KeyEntry       `yaml:"keys"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// RateLimitConfig holds default rate limiting settings. They are logged at
// startup but not applied to connector calls: a definition that declares no
// rate limits gets ratelimit.Derive's one-request-per-second default.
type RateLimitConfig struct {
	DefaultRPS   int `yaml:"default_rps"`
	DefaultRPM   int `yaml:"default_rpm"`
	DefaultBurst int `yaml:"default_burst"`
}

// RedisConfig configures the shared rate-limit backing store. Addr
// empty means run with the in-process fallback only.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled    bool          `yaml:"enabled"`
	MaxSize    int           `yaml:"max_size"`
	DefaultTTL time.Duration `yaml:"default_ttl"`
}

// BudgetConfig holds the default organization budget ladder, applied
// to any org without an explicit override.
type BudgetConfig struct {
	DailyLimitUSD        float64   `yaml:"daily_limit_usd"`
	MonthlyLimitUSD      float64   `yaml:"monthly_limit_usd"`
	EmergencyStopPct     float64   `yaml:"emergency_stop_pct"`
	PerUserDailyLimitUSD float64   `yaml:"per_user_daily_limit_usd"`
	PerWorkflowLimitUSD  float64   `yaml:"per_workflow_limit_usd"`
	AlertThresholds      []float64 `yaml:"alert_thresholds"`
}

// AuditConfig holds audit log settings.
type AuditConfig struct {
	Path string `yaml:"path"`
}

// RetryConfig holds retry defaults.
type RetryConfig struct {
	MaxAttempts int `yaml:"max_attempts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	AdminKey string `yaml:"admin_key"` // bootstrap admin key (hashed on first use)
}

// ConnectorEntry is a connector definition seed in the config file. Most
// deployments manage definitions through the admin API instead; this exists
// for bootstrapping a fixed set of connectors at startup (e.g. in tests or
// single-tenant installs).
type ConnectorEntry struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Version  string `yaml:"version"`
	BaseURL  string `yaml:"base_url"`
	AuthType string `yaml:"auth_type"`
	Enabled  *bool  `yaml:"enabled"`
	DefPath  string `yaml:"definition_path"` // path to the full JSON definition on disk
}

// IsEnabled reports whether the connector is enabled (defaults to true when nil).
func (c ConnectorEntry) IsEnabled() bool {
	return c.Enabled == nil || *c.Enabled
}

// KeyEntry is an API key seed in the config file.
type KeyEntry struct {
	Name              string   `yaml:"name"`
	Key               string   `yaml:"key"` // plaintext, hashed on bootstrap
	OrgID             string   `yaml:"org_id"`
	AllowedConnectors []string `yaml:"allowed_connectors"`
	Role              string   `yaml:"role"`
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Load reads and parses a YAML config file, expanding environment variables.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	data = expandEnv(data)

	cfg := &Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN: "connectorrt.db",
		},
		RateLimits: RateLimitConfig{
			DefaultRPS:   10,
			DefaultRPM:   300,
			DefaultBurst: 20,
		},
		Cache: CacheConfig{
			Enabled:    true,
			MaxSize:    10_000,
			DefaultTTL: 5 * time.Minute,
		},
		Budget: BudgetConfig{
			DailyLimitUSD:    100,
			MonthlyLimitUSD:  2000,
			EmergencyStopPct: 100,
			AlertThresholds:  []float64{0.5, 0.8, 0.95},
		},
		Audit: AuditConfig{
			Path: "audit.jsonl",
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
