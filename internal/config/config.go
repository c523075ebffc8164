// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Services      ServicesConfig      `yaml:"services"`
	Stream        StreamConfig        `yaml:"stream"`
	Approval      ApprovalConfig      `yaml:"approval"`
	Cache         CacheConfig         `yaml:"cache"`
	Session       SessionConfig       `yaml:"session"`
	Contract      ContractConfig      `yaml:"contract"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// ServicesConfig names the two REST backends the console talks to.
type ServicesConfig struct {
	Bank ServiceConfig `yaml:"bank"`
	Feed ServiceConfig `yaml:"feed"`
}

// ServiceConfig describes a backend service.
type ServiceConfig struct {
	BaseURL        string               `yaml:"base_url"`
	APIPrefix      string               `yaml:"api_prefix"`
	Timeout        time.Duration        `yaml:"timeout"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
	RateLimit      RateLimitConfig      `yaml:"rate_limit"`
}

// CircuitBreakerConfig describes circuit breaker settings per service.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
	Interval         time.Duration `yaml:"interval"`
}

// RetryConfig describes retry settings per service. Only idempotent
// requests are retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// RateLimitConfig bounds the request rate to one backend. A zero
// RequestsPerSecond disables limiting.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// StreamConfig describes the workflow event stream connection.
type StreamConfig struct {
	URL              string        `yaml:"url"`
	PingInterval     time.Duration `yaml:"ping_interval"`
	ReconnectInitial time.Duration `yaml:"reconnect_initial"`
	ReconnectMax     time.Duration `yaml:"reconnect_max"`
	ReadLimit        int64         `yaml:"read_limit"`
}

// ApprovalConfig describes approval controller settings.
type ApprovalConfig struct {
	// ActionTimeout bounds each approve, discard and escalate call.
	ActionTimeout time.Duration `yaml:"action_timeout"`
}

// CacheConfig describes query cache settings.
type CacheConfig struct {
	TTL          time.Duration `yaml:"ttl"`
	MaxEntries   int           `yaml:"max_entries"`
	PollInterval time.Duration `yaml:"poll_interval"`
}

// SessionConfig describes operator sign-in and persisted console state.
type SessionConfig struct {
	Username     string             `yaml:"username"`
	PasswordHash string             `yaml:"password_hash"`
	TokenSecret  string             `yaml:"token_secret"`
	TokenTTL     time.Duration      `yaml:"token_ttl"`
	Issuer       string             `yaml:"issuer"`
	Store        SessionStoreConfig `yaml:"store"`
}

// SessionStoreConfig describes where console state is persisted.
type SessionStoreConfig struct {
	Driver          string        `yaml:"driver"`
	AddrEnv         string        `yaml:"addr_env"`
	DB              int           `yaml:"db"`
	KeyPrefix       string        `yaml:"key_prefix"`
	DSNEnv          string        `yaml:"dsn_env"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// ContractConfig describes the bank backend contract check.
type ContractConfig struct {
	Enabled bool `yaml:"enabled"`
	// Source is a URL or a file path of the OpenAPI document. An empty
	// source means <bank base_url>/openapi.json.
	Source string `yaml:"source"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel string        `yaml:"log_level"`
	Tracing  TracingConfig `yaml:"tracing"`
	Metrics  MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
				AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Services: ServicesConfig{
			Bank: defaultService("http://localhost:8000", "/api"),
			Feed: defaultService("http://localhost:8001", ""),
		},
		Stream: StreamConfig{
			URL:              "ws://localhost:8000/api/ws",
			PingInterval:     30 * time.Second,
			ReconnectInitial: 1 * time.Second,
			ReconnectMax:     30 * time.Second,
			ReadLimit:        1 << 20,
		},
		Approval: ApprovalConfig{
			ActionTimeout: 30 * time.Second,
		},
		Cache: CacheConfig{
			TTL:          5 * time.Minute,
			MaxEntries:   1000,
			PollInterval: 5 * time.Second,
		},
		Session: SessionConfig{
			TokenTTL: 12 * time.Hour,
			Issuer:   "sentinel-console",
			Store: SessionStoreConfig{
				Driver:          "memory",
				KeyPrefix:       "sentinel:",
				MaxOpenConns:    5,
				MaxIdleConns:    1,
				ConnMaxLifetime: 5 * time.Minute,
			},
		},
		Observability: ObservabilityConfig{
			LogLevel: "info",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

func defaultService(baseURL, prefix string) ServiceConfig {
	return ServiceConfig{
		BaseURL:   baseURL,
		APIPrefix: prefix,
		Timeout:   10 * time.Second,
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
			Interval:         60 * time.Second,
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    200 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        2 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 50,
			Burst:             10,
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields. Variables from a .env file in the working
// directory are loaded first; variables already set in the process win.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("config: reading .env: %w", err)
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	errs = append(errs, validateService("services.bank", c.Services.Bank)...)
	errs = append(errs, validateService("services.feed", c.Services.Feed)...)

	if u, err := url.Parse(c.Stream.URL); err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
		errs = append(errs, "stream.url must be a ws:// or wss:// URL")
	}
	if c.Stream.PingInterval <= 0 {
		errs = append(errs, "stream.ping_interval must be positive")
	}
	if c.Cache.MaxEntries < 1 {
		errs = append(errs, "cache.max_entries must be at least 1")
	}

	if c.Session.Username == "" {
		errs = append(errs, "session.username is required")
	}
	if c.Session.PasswordHash == "" {
		errs = append(errs, "session.password_hash is required")
	}
	if len(c.Session.TokenSecret) < 32 {
		errs = append(errs, "session.token_secret must be at least 32 bytes")
	}
	switch c.Session.Store.Driver {
	case "memory":
	case "redis":
		if c.Session.Store.AddrEnv == "" {
			errs = append(errs, "session.store.addr_env is required for the redis driver")
		}
	case "postgres":
		if c.Session.Store.DSNEnv == "" {
			errs = append(errs, "session.store.dsn_env is required for the postgres driver")
		}
	default:
		errs = append(errs, fmt.Sprintf("session.store.driver %q is not supported (memory, redis, postgres)", c.Session.Store.Driver))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func validateService(name string, svc ServiceConfig) []string {
	var errs []string
	if u, err := url.Parse(svc.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, name+".base_url must be an absolute URL")
	}
	if svc.Timeout <= 0 {
		errs = append(errs, name+".timeout must be positive")
	}
	if svc.RateLimit.RequestsPerSecond < 0 {
		errs = append(errs, name+".rate_limit.requests_per_second must not be negative")
	}
	return errs
}

// applyEnvOverrides reads SENTINEL_* environment variables and overrides
// config values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENTINEL_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENTINEL_BANK_BASE_URL"); v != "" {
		cfg.Services.Bank.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_FEED_BASE_URL"); v != "" {
		cfg.Services.Feed.BaseURL = v
	}
	if v := os.Getenv("SENTINEL_STREAM_URL"); v != "" {
		cfg.Stream.URL = v
	}
	if v := os.Getenv("SENTINEL_SESSION_USERNAME"); v != "" {
		cfg.Session.Username = v
	}
	if v := os.Getenv("SENTINEL_SESSION_PASSWORD_HASH"); v != "" {
		cfg.Session.PasswordHash = v
	}
	if v := os.Getenv("SENTINEL_SESSION_TOKEN_SECRET"); v != "" {
		cfg.Session.TokenSecret = v
	}
	if v := os.Getenv("SENTINEL_SESSION_STORE_DRIVER"); v != "" {
		cfg.Session.Store.Driver = v
	}
	if v := os.Getenv("SENTINEL_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
