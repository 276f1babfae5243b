package config

import (
	"errors"
	"fmt"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Validation range constants.
const (
	minWorkers        = 1
	maxWorkers        = 32
	minRequestTimeout = 1 * time.Second
	minChunkTimeout   = 5 * time.Second
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"auto", "text", "json"}
	validProxies    = []string{"http", "https", "socks5"}
)

// Validate checks all configuration values and returns all errors found, so
// users can fix every problem in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	if a.BaseURL == "" {
		return nil
	}

	u, err := url.Parse(a.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return []error{fmt.Errorf("base_url: must be an http or https URL, got %q", a.BaseURL)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.Workers < minWorkers || t.Workers > maxWorkers {
		errs = append(errs, fmt.Errorf("workers: must be between %d and %d, got %d",
			minWorkers, maxWorkers, t.Workers))
	}

	if _, err := ParseChunkSize(t.ChunkSize); err != nil {
		errs = append(errs, fmt.Errorf("chunk_size: %w", err))
	}

	if _, err := ParseRate(t.BandwidthLimit); err != nil {
		errs = append(errs, fmt.Errorf("bandwidth_limit: %w", err))
	}

	return errs
}

func validateNetwork(n *NetworkConfig) []error {
	var errs []error

	errs = append(errs, validateDuration("request_timeout", n.RequestTimeout, minRequestTimeout)...)
	errs = append(errs, validateDuration("chunk_timeout", n.ChunkTimeout, minChunkTimeout)...)

	if n.Proxy != "" {
		u, err := url.Parse(n.Proxy)
		if err != nil || !slices.Contains(validProxies, u.Scheme) || u.Host == "" {
			errs = append(errs, fmt.Errorf("proxy: must be an http, https or socks5 URL, got %q", n.Proxy))
		}
	}

	return errs
}

func validateDuration(field, value string, minimum time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < minimum {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, minimum, value)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if !slices.Contains(validLogLevels, strings.ToLower(l.LogLevel)) {
		errs = append(errs, fmt.Errorf("log_level: must be one of %s, got %q",
			strings.Join(validLogLevels, ", "), l.LogLevel))
	}

	if !slices.Contains(validLogFormats, strings.ToLower(l.LogFormat)) {
		errs = append(errs, fmt.Errorf("log_format: must be one of %s, got %q",
			strings.Join(validLogFormats, ", "), l.LogFormat))
	}

	return errs
}
