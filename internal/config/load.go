package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// CLIOverrides holds values from command-line flags. Pointer fields are nil
// when the flag was not given.
type CLIOverrides struct {
	ConfigPath     string
	SessionFile    string
	BaseURL        *string
	Proxy          *string
	Workers        *int
	ChunkSize      *string
	BandwidthLimit *string
	Resume         *bool
	Previews       *bool
	Ledger         *bool
	LogLevel       *string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal and come with "did you mean?"
// suggestions.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := checkUnknownKeys(&md); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	applyEnv(cfg, env)
	applyCLI(cfg, cli)

	// Flags and env bypass Load's validation.
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	r, err := resolve(cfg)
	if err != nil {
		return nil, err
	}

	r.ConfigPath = cfgPath

	return r, nil
}

func applyEnv(cfg *Config, env EnvOverrides) {
	if env.SessionFile != "" {
		cfg.API.SessionFile = env.SessionFile
	}

	if env.BaseURL != "" {
		cfg.API.BaseURL = env.BaseURL
	}

	if env.Proxy != "" {
		cfg.Network.Proxy = env.Proxy
	}

	if env.LogLevel != "" {
		cfg.Logging.LogLevel = env.LogLevel
	}
}

func applyCLI(cfg *Config, cli CLIOverrides) {
	if cli.SessionFile != "" {
		cfg.API.SessionFile = cli.SessionFile
	}

	setIf(&cfg.API.BaseURL, cli.BaseURL)
	setIf(&cfg.Network.Proxy, cli.Proxy)
	setIf(&cfg.Transfers.Workers, cli.Workers)
	setIf(&cfg.Transfers.ChunkSize, cli.ChunkSize)
	setIf(&cfg.Transfers.BandwidthLimit, cli.BandwidthLimit)
	setIf(&cfg.Transfers.Resume, cli.Resume)
	setIf(&cfg.Transfers.Previews, cli.Previews)
	setIf(&cfg.Transfers.Ledger, cli.Ledger)
	setIf(&cfg.Logging.LogLevel, cli.LogLevel)
}

func setIf[T any](dst *T, v *T) {
	if v != nil {
		*dst = *v
	}
}

// resolve parses a validated Config into its effective values.
func resolve(cfg *Config) (*Resolved, error) {
	chunk, err := ParseChunkSize(cfg.Transfers.ChunkSize)
	if err != nil {
		return nil, fmt.Errorf("chunk_size: %w", err)
	}

	limit, err := ParseRate(cfg.Transfers.BandwidthLimit)
	if err != nil {
		return nil, fmt.Errorf("bandwidth_limit: %w", err)
	}

	reqTimeout, err := time.ParseDuration(cfg.Network.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("request_timeout: %w", err)
	}

	chunkTimeout, err := time.ParseDuration(cfg.Network.ChunkTimeout)
	if err != nil {
		return nil, fmt.Errorf("chunk_timeout: %w", err)
	}

	def := DefaultPaths()
	session := pathOr(cfg.API.SessionFile, def.SessionFile)
	state := pathOr(cfg.Transfers.StateDir, def.StateDir)

	r := &Resolved{
		BaseURL:          cfg.API.BaseURL,
		UserAgent:        cfg.API.UserAgent,
		SessionFile:      session,
		RegistrationFile: registrationFor(session),
		Workers:          cfg.Transfers.Workers,
		ChunkSize:        chunk,
		BandwidthLimit:   limit,
		Resume:           cfg.Transfers.Resume,
		Previews:         cfg.Transfers.Previews,
		StateDir:         state,
		ResumeDir:        resumeDir(state),
		Ledger:           cfg.Transfers.Ledger,
		LedgerFile:       pathOr(cfg.Transfers.LedgerFile, def.LedgerFile),
		MetricsTextfile:  expandTilde(cfg.Transfers.MetricsTextfile),
		Proxy:            cfg.Network.Proxy,
		RequestTimeout:   reqTimeout,
		ChunkTimeout:     chunkTimeout,
		LogLevel:         strings.ToLower(cfg.Logging.LogLevel),
		LogFormat:        strings.ToLower(cfg.Logging.LogFormat),
		LogFile:          expandTilde(cfg.Logging.LogFile),
	}

	return r, nil
}

// pathOr returns the expanded configured path, or def when it is not set.
func pathOr(configured, def string) string {
	if configured != "" {
		return expandTilde(configured)
	}

	return def
}

// expandTilde replaces a leading "~/" with the user's home directory. If
// the home directory is unknown the path is returned unexpanded.
func expandTilde(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}

	return filepath.Join(home, path[2:])
}
