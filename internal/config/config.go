// Package config loads the mega-go TOML configuration and resolves it
// against environment variables and command-line flags.
package config

import "time"

// Config is the on-disk configuration file. Each field group maps to a TOML
// table.
type Config struct {
	API       APIConfig       `toml:"api"`
	Transfers TransfersConfig `toml:"transfers"`
	Network   NetworkConfig   `toml:"network"`
	Logging   LoggingConfig   `toml:"logging"`
}

// APIConfig selects the service endpoint and where the session lives.
type APIConfig struct {
	BaseURL     string `toml:"base_url"`
	UserAgent   string `toml:"user_agent"`
	SessionFile string `toml:"session_file"`
}

// TransfersConfig controls chunked uploads and downloads.
type TransfersConfig struct {
	Workers         int    `toml:"workers"`
	ChunkSize       string `toml:"chunk_size"`
	BandwidthLimit  string `toml:"bandwidth_limit"`
	Resume          bool   `toml:"resume"`
	Previews        bool   `toml:"previews"`
	StateDir        string `toml:"state_dir"`
	Ledger          bool   `toml:"ledger"`
	LedgerFile      string `toml:"ledger_file"`
	MetricsTextfile string `toml:"metrics_textfile"`
}

// NetworkConfig controls the HTTP transport.
type NetworkConfig struct {
	Proxy          string `toml:"proxy"`
	RequestTimeout string `toml:"request_timeout"`
	ChunkTimeout   string `toml:"chunk_timeout"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
	LogFile   string `toml:"log_file"`
}

// Resolved is the effective configuration after defaults, file, environment
// and flags have been merged. Sizes and durations are parsed and paths are
// expanded.
type Resolved struct {
	ConfigPath string

	BaseURL          string
	UserAgent        string
	SessionFile      string
	RegistrationFile string

	Workers         int
	ChunkSize       int64
	BandwidthLimit  int64
	Resume          bool
	Previews        bool
	StateDir        string
	ResumeDir       string
	Ledger          bool
	LedgerFile      string
	MetricsTextfile string

	Proxy          string
	RequestTimeout time.Duration
	ChunkTimeout   time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string
}
