package config

import (
	"fmt"
	"os"
	"strings"
)

// ValidationError is one configuration validation failure.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config validation failed for %s: %s", e.Field, e.Message)
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validStateBackends = map[string]bool{
	"memory":   true,
	"remote":   true,
	"disabled": true,
}

var validTraceContentModes = map[string]bool{
	"none":     true,
	"truncate": true,
	"full":     true,
}

// Validate checks the configuration and returns every violation found.
func (c *Config) Validate() []error {
	var errs []error

	if c.UpstreamAPIKey == "" {
		errs = append(errs, &ValidationError{
			Field:   "UPSTREAM_API_KEY",
			Message: "upstream API key is required",
		})
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, &ValidationError{
			Field:   "PORT",
			Message: fmt.Sprintf("port must be between 1 and 65535, got %d", c.Port),
		})
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, &ValidationError{
			Field:   "LOG_LEVEL",
			Message: fmt.Sprintf("invalid log level %q, must be one of: debug, info, warn, error", c.LogLevel),
		})
	}

	errs = append(errs, c.validateTLS()...)

	if !validStateBackends[c.StateBackend] {
		errs = append(errs, &ValidationError{
			Field:   "STATE_BACKEND",
			Message: fmt.Sprintf("invalid state backend %q, must be one of: memory, remote, disabled", c.StateBackend),
		})
	}
	if c.StateBackend == "remote" && c.RemoteStateURL == "" {
		errs = append(errs, &ValidationError{
			Field:   "REMOTE_STATE_URL",
			Message: "remote state URL is required when state backend is remote",
		})
	}

	for _, bound := range []struct {
		field string
		value float64
	}{
		{"REQUEST_TIMEOUT_S", c.RequestTimeoutS},
		{"RETRY_MAX_SECONDS", c.RetryMaxSeconds},
		{"RETRY_BACKOFF", c.RetryBackoff},
		{"RETRY_MAX_ATTEMPTS", float64(c.RetryMaxAttempts)},
		{"MAX_TOKENS_BUFFER", float64(c.MaxTokensBuffer)},
		{"MEMORY_TTL_SECONDS", float64(c.MemoryTTLSeconds)},
		{"TRACE_TTL_SECONDS", float64(c.TraceTTLSeconds)},
		{"TRACE_MAX_ENTRIES", float64(c.TraceMaxEntries)},
		{"TRACE_MAX_CHARS", float64(c.TraceMaxChars)},
	} {
		if bound.value < 0 {
			errs = append(errs, &ValidationError{
				Field:   bound.field,
				Message: fmt.Sprintf("must not be negative, got %v", bound.value),
			})
		}
	}

	if !validTraceContentModes[c.TraceContentMode] {
		errs = append(errs, &ValidationError{
			Field:   "TRACE_CONTENT_MODE",
			Message: fmt.Sprintf("invalid trace content mode %q, must be one of: none, truncate, full", c.TraceContentMode),
		})
	}

	return errs
}

func (c *Config) validateTLS() []error {
	var errs []error
	cert, key := c.TLSCertFile, c.TLSKeyFile

	if (cert == "") != (key == "") {
		errs = append(errs, &ValidationError{
			Field:   "TLS_CERTFILE",
			Message: "TLS_CERTFILE and TLS_KEYFILE must be set together",
		})
		return errs
	}
	if cert == "" {
		return nil
	}

	if _, err := os.Stat(cert); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "TLS_CERTFILE",
			Message: fmt.Sprintf("certificate file not found: %s", cert),
		})
	}
	if _, err := os.Stat(key); err != nil {
		errs = append(errs, &ValidationError{
			Field:   "TLS_KEYFILE",
			Message: fmt.Sprintf("key file not found: %s", key),
		})
	}
	return errs
}

// Check folds Validate into a single error for startup paths.
func (c *Config) Check() error {
	errs := c.Validate()
	if len(errs) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(errs))
	for _, err := range errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("configuration validation failed:\n  - %s", strings.Join(msgs, "\n  - "))
}
