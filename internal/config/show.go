package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated summary
// to w. It backs "config show", so users can see the values left after all
// override layers have been applied.
func RenderEffective(r *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	if r.ConfigPath != "" {
		ew.printf("# Effective configuration (file: %s)\n\n", r.ConfigPath)
	} else {
		ew.printf("# Effective configuration\n\n")
	}

	renderAPISection(ew, r)
	renderTransfersSection(ew, r)
	renderNetworkSection(ew, r)
	renderLoggingSection(ew, r)

	return ew.err
}

// errWriter wraps an io.Writer and captures the first write error.
// Subsequent writes after an error are no-ops, so callers can chain
// printf calls without checking each one individually.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}

func renderAPISection(ew *errWriter, r *Resolved) {
	ew.printf("[api]\n")

	if r.BaseURL != "" {
		ew.printf("  base_url     = %q\n", r.BaseURL)
	} else {
		ew.printf("  base_url     = (production)\n")
	}

	if r.UserAgent != "" {
		ew.printf("  user_agent   = %q\n", r.UserAgent)
	}

	ew.printf("  session_file = %q\n", r.SessionFile)
	ew.printf("\n")
}

func renderTransfersSection(ew *errWriter, r *Resolved) {
	ew.printf("[transfers]\n")
	ew.printf("  workers          = %d\n", r.Workers)
	ew.printf("  chunk_size       = %d\n", r.ChunkSize)

	if r.BandwidthLimit > 0 {
		ew.printf("  bandwidth_limit  = %d # bytes/s\n", r.BandwidthLimit)
	} else {
		ew.printf("  bandwidth_limit  = 0 # unlimited\n")
	}

	ew.printf("  resume           = %t\n", r.Resume)
	ew.printf("  previews         = %t\n", r.Previews)
	ew.printf("  state_dir        = %q\n", r.StateDir)
	ew.printf("  ledger           = %t\n", r.Ledger)
	ew.printf("  ledger_file      = %q\n", r.LedgerFile)

	if r.MetricsTextfile != "" {
		ew.printf("  metrics_textfile = %q\n", r.MetricsTextfile)
	}

	ew.printf("\n")
}

func renderNetworkSection(ew *errWriter, r *Resolved) {
	ew.printf("[network]\n")

	if r.Proxy != "" {
		ew.printf("  proxy           = %q\n", r.Proxy)
	}

	ew.printf("  request_timeout = %q\n", r.RequestTimeout.String())
	ew.printf("  chunk_timeout   = %q\n", r.ChunkTimeout.String())
	ew.printf("\n")
}

func renderLoggingSection(ew *errWriter, r *Resolved) {
	ew.printf("[logging]\n")
	ew.printf("  log_level  = %q\n", r.LogLevel)
	ew.printf("  log_format = %q\n", r.LogFormat)

	if r.LogFile != "" {
		ew.printf("  log_file   = %q\n", r.LogFile)
	}
}
