package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig      = "MEGA_GO_CONFIG"
	EnvSessionFile = "MEGA_GO_SESSION_FILE"
	EnvBaseURL     = "MEGA_GO_BASE_URL"
	EnvProxy       = "MEGA_GO_PROXY"
	EnvLogLevel    = "MEGA_GO_LOG_LEVEL"
	EnvEmail       = "MEGA_GO_EMAIL"
	EnvPassword    = "MEGA_GO_PASSWORD"
)

// EnvOverrides holds values read from environment variables.
type EnvOverrides struct {
	ConfigPath  string // MEGA_GO_CONFIG: config file path
	SessionFile string // MEGA_GO_SESSION_FILE: session file path
	BaseURL     string // MEGA_GO_BASE_URL: API endpoint
	Proxy       string // MEGA_GO_PROXY: proxy URL
	LogLevel    string // MEGA_GO_LOG_LEVEL: log level

	// Credentials for non-interactive login. Never written to disk.
	Email    string
	Password string
}

// ReadEnvOverrides reads environment variables and returns any overrides found.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath:  os.Getenv(EnvConfig),
		SessionFile: os.Getenv(EnvSessionFile),
		BaseURL:     os.Getenv(EnvBaseURL),
		Proxy:       os.Getenv(EnvProxy),
		LogLevel:    os.Getenv(EnvLogLevel),
		Email:       os.Getenv(EnvEmail),
		Password:    os.Getenv(EnvPassword),
	}
}
