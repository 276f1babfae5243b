package config

// Default values for configuration options. The numeric transfer defaults
// mirror the engine's own zero-value defaults.
const (
	defaultWorkers        = 4
	defaultChunkSize      = "1MiB"
	defaultBandwidthLimit = "0"
	defaultRequestTimeout = "60s"
	defaultChunkTimeout   = "5m"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values. It is
// the starting point for TOML decoding, so unset keys keep their defaults.
func DefaultConfig() *Config {
	return &Config{
		Transfers: TransfersConfig{
			Workers:        defaultWorkers,
			ChunkSize:      defaultChunkSize,
			BandwidthLimit: defaultBandwidthLimit,
			Ledger:         true,
		},
		Network: NetworkConfig{
			RequestTimeout: defaultRequestTimeout,
			ChunkTimeout:   defaultChunkTimeout,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
