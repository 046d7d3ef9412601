package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RateLimitConfig struct {
	ID                string  `yaml:"id"`
	RequestsPerMinute float64 `yaml:"requestsPerMinute"`
	Burst             int     `yaml:"burst"`
}

type ObservabilityConfig struct {
	ServiceName   string `yaml:"serviceName"`
	Metrics       bool   `yaml:"metrics"`
	Tracing       bool   `yaml:"tracing"`
	LogRequests   bool   `yaml:"logRequests"`
	MetricsPrefix string `yaml:"metricsPrefix"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

type AuthConfig struct {
	Enabled    bool          `yaml:"enabled"`
	HMACSecret string        `yaml:"hmacSecret"`
	Issuer     string        `yaml:"issuer"`
	Audience   string        `yaml:"audience"`
	ScopeClaim string        `yaml:"scopeClaim"`
	AdminScope string        `yaml:"adminScope"`
	ClockSkew  time.Duration `yaml:"clockSkew"`
}

// AuditConfig selects the gorm dialect for the audit trail. Driver is
// "sqlite" or "postgres".
type AuditConfig struct {
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	ExportDir string `yaml:"exportDir"`
}

type Config struct {
	ListenAddress string              `yaml:"listen"`
	Environment   string              `yaml:"environment"`
	EngineConfig  string              `yaml:"engineConfig"`
	ReadTimeout   time.Duration       `yaml:"readTimeout"`
	WriteTimeout  time.Duration       `yaml:"writeTimeout"`
	IdleTimeout   time.Duration       `yaml:"idleTimeout"`
	EventBuffer   int                 `yaml:"eventBuffer"`
	RateLimits    []RateLimitConfig   `yaml:"rateLimits"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
	Auth          AuthConfig          `yaml:"auth"`
	Audit         AuditConfig         `yaml:"audit"`
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ListenAddress: ":8090",
		EngineConfig:  "./lendmigrate.toml",
		ReadTimeout:   15 * time.Second,
		WriteTimeout:  30 * time.Second,
		IdleTimeout:   120 * time.Second,
		EventBuffer:   64,
		RateLimits: []RateLimitConfig{
			{ID: "plan", RequestsPerMinute: 120, Burst: 20},
			{ID: "simulate", RequestsPerMinute: 30, Burst: 5},
			{ID: "admin", RequestsPerMinute: 10, Burst: 2},
		},
		Observability: ObservabilityConfig{
			ServiceName:   "migrated",
			Metrics:       true,
			Tracing:       true,
			LogRequests:   true,
			MetricsPrefix: "migrated",
		},
		Log: LogConfig{Level: "info"},
		Auth: AuthConfig{
			Enabled:    true,
			ScopeClaim: "scope",
			AdminScope: "migration:admin",
			ClockSkew:  2 * time.Minute,
		},
		Audit: AuditConfig{
			Driver: "sqlite",
			DSN:    "file:migrated-audit.db?cache=shared",
		},
	}
}

// Load reads a YAML file on top of Default, applies MIGRATED_* environment
// overrides and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		file, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := yaml.NewDecoder(file)
		decoder.KnownFields(true)
		if err := decoder.Decode(&cfg); err != nil {
			return Config{}, fmt.Errorf("decode config: %w", err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyEnv() error {
	if v := strings.TrimSpace(os.Getenv("MIGRATED_LISTEN")); v != "" {
		cfg.ListenAddress = v
	}
	if v := strings.TrimSpace(os.Getenv("MIGRATED_ENV")); v != "" {
		cfg.Environment = v
	}
	if v := strings.TrimSpace(os.Getenv("MIGRATED_ENGINE_CONFIG")); v != "" {
		cfg.EngineConfig = v
	}
	if v := os.Getenv("MIGRATED_JWT_SECRET"); strings.TrimSpace(v) != "" {
		cfg.Auth.HMACSecret = v
	}
	if v := strings.TrimSpace(os.Getenv("MIGRATED_AUDIT_DRIVER")); v != "" {
		cfg.Audit.Driver = v
	}
	if v := strings.TrimSpace(os.Getenv("MIGRATED_AUDIT_DSN")); v != "" {
		cfg.Audit.DSN = v
	}
	if v := strings.TrimSpace(os.Getenv("MIGRATED_AUTH_ENABLED")); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("MIGRATED_AUTH_ENABLED: %w", err)
		}
		cfg.Auth.Enabled = enabled
	}
	return nil
}

var ErrAuthSecretMissing = errors.New("auth.hmacSecret must be set when auth is enabled")

func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if strings.TrimSpace(cfg.ListenAddress) == "" {
		return fmt.Errorf("listen address required")
	}
	if strings.TrimSpace(cfg.EngineConfig) == "" {
		return fmt.Errorf("engineConfig path required")
	}
	if cfg.Auth.Enabled && strings.TrimSpace(cfg.Auth.HMACSecret) == "" {
		return ErrAuthSecretMissing
	}
	if cfg.Auth.ScopeClaim == "" {
		cfg.Auth.ScopeClaim = "scope"
	}
	if cfg.Auth.AdminScope == "" {
		cfg.Auth.AdminScope = "migration:admin"
	}
	if cfg.Auth.ClockSkew <= 0 {
		cfg.Auth.ClockSkew = 2 * time.Minute
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	seen := make(map[string]struct{}, len(cfg.RateLimits))
	for i, limit := range cfg.RateLimits {
		id := strings.TrimSpace(limit.ID)
		if id == "" {
			return fmt.Errorf("rateLimits[%d].id cannot be empty", i)
		}
		if _, dup := seen[id]; dup {
			return fmt.Errorf("rateLimits[%d].id %q duplicated", i, id)
		}
		seen[id] = struct{}{}
		if limit.RequestsPerMinute <= 0 {
			return fmt.Errorf("rateLimits[%d].requestsPerMinute must be positive", i)
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Audit.Driver)) {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("audit.driver %q unsupported (sqlite, postgres)", cfg.Audit.Driver)
	}
	if strings.TrimSpace(cfg.Audit.DSN) == "" {
		return fmt.Errorf("audit.dsn required")
	}
	return nil
}

// RateLimit returns the limit registered under id.
func (cfg Config) RateLimit(id string) (RateLimitConfig, bool) {
	for _, limit := range cfg.RateLimits {
		if limit.ID == id {
			return limit, true
		}
	}
	return RateLimitConfig{}, false
}
