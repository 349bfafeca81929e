// Package config loads and validates the process configuration. Every knob is
// an environment variable with a built-in default; a .env file in the working
// directory is applied by the entrypoint before Load runs.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the complete runtime configuration.
type Config struct {
	// Upstream provider.
	UpstreamAPIKey  string `mapstructure:"upstream_api_key"`
	UpstreamBaseURL string `mapstructure:"upstream_base_url"`

	// Listen address.
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`

	// Logging.
	LogLevel string `mapstructure:"log_level"`
	LogFile  string `mapstructure:"log_file"`

	// TLS termination. Cert and key go together; the optional password
	// unlocks a legacy encrypted PEM key.
	TLSCertFile        string `mapstructure:"tls_certfile"`
	TLSKeyFile         string `mapstructure:"tls_keyfile"`
	TLSKeyFilePassword string `mapstructure:"tls_keyfile_password"`

	// Response state persistence.
	StateBackend     string `mapstructure:"state_backend"`
	RemoteStateURL   string `mapstructure:"remote_state_url"`
	StateKeyPrefix   string `mapstructure:"state_key_prefix"`
	MemoryTTLSeconds int    `mapstructure:"memory_ttl_seconds"`

	// Client authentication. Empty disables it.
	ClientAPIKey string `mapstructure:"client_api_key"`

	// Upstream call policy.
	RequestTimeoutS  float64  `mapstructure:"request_timeout_s"`
	RetryMaxAttempts int      `mapstructure:"retry_max_attempts"`
	RetryMaxSeconds  float64  `mapstructure:"retry_max_seconds"`
	RetryBackoff     float64  `mapstructure:"retry_backoff"`
	DegradeFields    []string `mapstructure:"degrade_fields"`

	// Translation knobs.
	MaxTokensBuffer     int    `mapstructure:"max_tokens_buffer"`
	ModelMapPath        string `mapstructure:"model_map_path"`
	DefaultVendorPrefix string `mapstructure:"default_vendor_prefix"`

	// Debug trace side-car.
	TraceEnabled     bool   `mapstructure:"trace_enabled"`
	TraceTTLSeconds  int    `mapstructure:"trace_ttl_seconds"`
	TraceMaxEntries  int    `mapstructure:"trace_max_entries"`
	TraceContentMode string `mapstructure:"trace_content_mode"`
	TraceMaxChars    int    `mapstructure:"trace_max_chars"`
}

// Load reads configuration from the environment on top of the defaults. The
// result is not yet validated; call Validate before using it to run a server.
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	cfg.DegradeFields = normalizeList(cfg.DegradeFields)
	cfg.TraceContentMode = strings.ToLower(strings.TrimSpace(cfg.TraceContentMode))
	return cfg, nil
}

// setDefaults registers a default for every key so AutomaticEnv can pick each
// one up from its uppercased environment name.
func setDefaults(v *viper.Viper) {
	v.SetDefault("upstream_api_key", "")
	v.SetDefault("upstream_base_url", "https://openrouter.ai/api/v1")

	v.SetDefault("host", "127.0.0.1")
	v.SetDefault("port", 8000)

	v.SetDefault("log_level", "info")
	v.SetDefault("log_file", "")

	v.SetDefault("tls_certfile", "")
	v.SetDefault("tls_keyfile", "")
	v.SetDefault("tls_keyfile_password", "")

	v.SetDefault("state_backend", "memory")
	v.SetDefault("remote_state_url", "redis://localhost:6379/0")
	v.SetDefault("state_key_prefix", "openbridge:responses")
	v.SetDefault("memory_ttl_seconds", 3600)

	v.SetDefault("client_api_key", "")

	v.SetDefault("request_timeout_s", 120.0)
	v.SetDefault("retry_max_attempts", 2)
	v.SetDefault("retry_max_seconds", 15.0)
	v.SetDefault("retry_backoff", 0.5)
	v.SetDefault("degrade_fields", []string{"verbosity"})

	v.SetDefault("max_tokens_buffer", 0)
	v.SetDefault("model_map_path", "")
	v.SetDefault("default_vendor_prefix", "openai/")

	v.SetDefault("trace_enabled", false)
	v.SetDefault("trace_ttl_seconds", 900)
	v.SetDefault("trace_max_entries", 200)
	v.SetDefault("trace_content_mode", "truncate")
	v.SetDefault("trace_max_chars", 4000)
}

// normalizeList trims entries and drops empties, so "a, b," and "a,b" parse
// the same.
func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// RequestTimeout returns the upstream request timeout as a duration.
func (c *Config) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutS * float64(time.Second))
}

// RetryBackoffDuration returns the initial retry backoff as a duration.
func (c *Config) RetryBackoffDuration() time.Duration {
	return time.Duration(c.RetryBackoff * float64(time.Second))
}

// RetryMaxDelay returns the retry backoff cap as a duration.
func (c *Config) RetryMaxDelay() time.Duration {
	return time.Duration(c.RetryMaxSeconds * float64(time.Second))
}

// TLSEnabled reports whether TLS termination is configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" || c.TLSKeyFile != ""
}

// Addr returns the host:port the server binds.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
