package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_DefaultsAreValid(t *testing.T) {
	assert.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Transfers(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"workers too low", func(c *Config) { c.Transfers.Workers = 0 }, "workers"},
		{"workers too high", func(c *Config) { c.Transfers.Workers = 33 }, "workers"},
		{"chunk too small", func(c *Config) { c.Transfers.ChunkSize = "32KiB" }, "between 64KiB and 64MiB"},
		{"chunk too large", func(c *Config) { c.Transfers.ChunkSize = "128MiB" }, "between 64KiB and 64MiB"},
		{"chunk unaligned", func(c *Config) { c.Transfers.ChunkSize = "100001" }, "multiple of 16"},
		{"chunk garbage", func(c *Config) { c.Transfers.ChunkSize = "big" }, "chunk_size"},
		{"bandwidth garbage", func(c *Config) { c.Transfers.BandwidthLimit = "fast" }, "bandwidth_limit"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_ChunkSizeBoundaries(t *testing.T) {
	for _, ok := range []string{"64KiB", "1MiB", "64MiB", "1000000"} {
		cfg := DefaultConfig()
		cfg.Transfers.ChunkSize = ok
		assert.NoError(t, Validate(cfg), ok)
	}
}

func TestValidate_Network(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"bad duration", func(c *Config) { c.Network.RequestTimeout = "soon" }, "request_timeout"},
		{"short request timeout", func(c *Config) { c.Network.RequestTimeout = "10ms" }, "at least"},
		{"short chunk timeout", func(c *Config) { c.Network.ChunkTimeout = "1s" }, "chunk_timeout"},
		{"ftp proxy", func(c *Config) { c.Network.Proxy = "ftp://proxy:21" }, "proxy"},
		{"hostless proxy", func(c *Config) { c.Network.Proxy = "http://" }, "proxy"},
		{"bad base url", func(c *Config) { c.API.BaseURL = "api.example.com" }, "base_url"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidate_AcceptsProxies(t *testing.T) {
	for _, p := range []string{"http://proxy:3128", "https://proxy:443", "socks5://127.0.0.1:1080"} {
		cfg := DefaultConfig()
		cfg.Network.Proxy = p
		assert.NoError(t, Validate(cfg), p)
	}
}

func TestValidate_Logging(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.LogLevel = "DEBUG"
	cfg.Logging.LogFormat = "JSON"
	require.NoError(t, Validate(cfg))

	cfg.Logging.LogLevel = "trace"
	cfg.Logging.LogFormat = "xml"

	err := Validate(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
	assert.Contains(t, err.Error(), "log_format")
}
