// Package config loads and validates client configuration from YAML
// files and environment variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root client configuration.
type Config struct {
	Endpoint       EndpointConfig       `yaml:"endpoint"`
	Auth           AuthConfig           `yaml:"auth"`
	Retry          RetryConfig          `yaml:"retry"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Query          QueryConfig          `yaml:"query"`
	Observability  ObservabilityConfig  `yaml:"observability"`
}

// EndpointConfig describes the remote ticketing service endpoint.
type EndpointConfig struct {
	// BaseURL is the root of the change automation API, e.g.
	// "https://change.example.com/api/change/v1".
	BaseURL string `yaml:"base_url"`
	// WebURL is the root of the browser UI, used for ticket deep
	// links. Defaults to the scheme+host of BaseURL.
	WebURL           string        `yaml:"web_url"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxResponseBytes int64         `yaml:"max_response_bytes"`
}

// AuthConfig describes the credentials handle passed to the transport.
// Secrets are referenced via environment variables rather than stored
// in the file.
type AuthConfig struct {
	// Strategy is "token" (bearer) or "basic". Empty disables
	// authentication headers.
	Strategy    string `yaml:"strategy"`
	TokenEnv    string `yaml:"token_env"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
}

// RetryConfig describes transport retry settings.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
	IdempotentOnly    bool          `yaml:"idempotent_only"`
}

// CircuitBreakerConfig describes circuit breaker settings for the
// service endpoint.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// QueryConfig describes ticket query behaviour.
type QueryConfig struct {
	// PageSize is the page length used by lazy listing queries.
	PageSize int `yaml:"page_size"`
}

// ObservabilityConfig describes logging and metrics settings.
type ObservabilityConfig struct {
	LogLevel       string `yaml:"log_level"`
	MetricsEnabled bool   `yaml:"metrics_enabled"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Endpoint: EndpointConfig{
			Timeout:          30 * time.Second,
			MaxResponseBytes: 10 << 20,
		},
		Auth: AuthConfig{
			Strategy: "token",
			TokenEnv: "CHANGEFLOW_TOKEN",
		},
		Retry: RetryConfig{
			MaxAttempts:       3,
			BackoffInitial:    100 * time.Millisecond,
			BackoffMultiplier: 2,
			BackoffMax:        2 * time.Second,
			IdempotentOnly:    true,
		},
		CircuitBreaker: CircuitBreakerConfig{
			FailureThreshold: 5,
			SuccessThreshold: 2,
			Timeout:          30 * time.Second,
		},
		Query: QueryConfig{
			PageSize: 100,
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
		},
	}
}

// Load reads a YAML config file, applies environment variable
// overrides, and validates required fields.
func Load(path string) (*Config, error) {
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

	if c.Endpoint.BaseURL == "" {
		errs = append(errs, "endpoint.base_url is required")
	} else if u, err := url.Parse(c.Endpoint.BaseURL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, "endpoint.base_url must be an absolute URL")
	}
	if c.Endpoint.Timeout <= 0 {
		errs = append(errs, "endpoint.timeout must be positive")
	}
	switch c.Auth.Strategy {
	case "", "token", "basic":
	default:
		errs = append(errs, fmt.Sprintf("auth.strategy %q is not supported", c.Auth.Strategy))
	}
	if c.Query.PageSize < 1 {
		errs = append(errs, "query.page_size must be at least 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CHANGEFLOW_* environment variables and
// overrides config values. Only the most commonly overridden fields
// are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CHANGEFLOW_ENDPOINT_BASE_URL"); v != "" {
		cfg.Endpoint.BaseURL = v
	}
	if v := os.Getenv("CHANGEFLOW_ENDPOINT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Endpoint.Timeout = d
		}
	}
	if v := os.Getenv("CHANGEFLOW_AUTH_STRATEGY"); v != "" {
		cfg.Auth.Strategy = v
	}
	if v := os.Getenv("CHANGEFLOW_AUTH_USERNAME"); v != "" {
		cfg.Auth.Username = v
	}
	if v := os.Getenv("CHANGEFLOW_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
}
