package config

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderEffective_Defaults(t *testing.T) {
	r, err := Resolve(EnvOverrides{}, CLIOverrides{ConfigPath: filepath.Join(t.TempDir(), "none.toml")})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	output := buf.String()
	assert.Contains(t, output, "# Effective configuration (file: ")
	assert.Contains(t, output, "[api]")
	assert.Contains(t, output, "base_url     = (production)")
	assert.Contains(t, output, "[transfers]")
	assert.Contains(t, output, "workers          = 4")
	assert.Contains(t, output, "chunk_size       = 1048576")
	assert.Contains(t, output, "# unlimited")
	assert.Contains(t, output, "[network]")
	assert.Contains(t, output, `request_timeout = "1m0s"`)
	assert.Contains(t, output, "[logging]")
	assert.NotContains(t, output, "proxy")
	assert.NotContains(t, output, "metrics_textfile")
}

func TestRenderEffective_OptionalFieldsShown(t *testing.T) {
	r := &Resolved{
		BaseURL:         "https://api.example.com",
		UserAgent:       "ua",
		Proxy:           "http://proxy:3128",
		BandwidthLimit:  1000,
		MetricsTextfile: "/tmp/m.prom",
		LogFile:         "/tmp/log",
	}

	var buf bytes.Buffer
	require.NoError(t, RenderEffective(r, &buf))

	output := buf.String()
	assert.Contains(t, output, `base_url     = "https://api.example.com"`)
	assert.Contains(t, output, `user_agent   = "ua"`)
	assert.Contains(t, output, `proxy           = "http://proxy:3128"`)
	assert.Contains(t, output, "bandwidth_limit  = 1000 # bytes/s")
	assert.Contains(t, output, `metrics_textfile = "/tmp/m.prom"`)
	assert.Contains(t, output, `log_file   = "/tmp/log"`)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestRenderEffective_WriteError(t *testing.T) {
	err := RenderEffective(&Resolved{}, failingWriter{})
	assert.EqualError(t, err, "disk full")
}
