package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
)

// configFilePermissions is the permission mode for config files.
const configFilePermissions = 0o644

// configDirPermissions is the permission mode for config directories.
const configDirPermissions = 0o755

// ErrConfigExists is returned by WriteDefault when the file is present.
var ErrConfigExists = errors.New("config file already exists")

// configTemplate lists every setting as a commented-out default so users can
// discover the options without reading docs.
const configTemplate = `# mega-go configuration
# Uncomment and modify to override defaults.

[api]
# API endpoint (default: production)
# base_url = ""
# user_agent = ""
# Where the encrypted session is stored
# session_file = ""

[transfers]
# Concurrent chunk transfers per job
# workers = 4
# Plaintext chunk size; a multiple of 16 bytes between 64KiB and 64MiB
# chunk_size = "1MiB"
# Aggregate throughput cap, e.g. "5MB/s" (0 = unlimited)
# bandwidth_limit = "0"
# Persist resume records for every transfer
# resume = false
# Attach thumbnails and previews to uploaded images
# previews = false
# Resume records directory (default: platform cache location)
# state_dir = ""
# Record transfer history for "transfers list" and "transfers retry"
# ledger = true
# ledger_file = ""
# Write Prometheus metrics to this file after every command
# metrics_textfile = ""

[network]
# http, https or socks5 proxy URL
# proxy = ""
# request_timeout = "60s"
# chunk_timeout = "5m"

[logging]
# debug, info, warn, error
# log_level = "info"
# auto, text, json
# log_format = "auto"
# log_file = ""
`

// WriteDefault creates a config file from the default template. It refuses
// to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("%w: %s", ErrConfigExists, path)
	}

	slog.Info("creating config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// OverwriteDefault replaces path with the default template.
func OverwriteDefault(path string) error {
	slog.Info("replacing config file", slog.String("path", path))

	return atomicWriteFile(path, []byte(configTemplate))
}

// atomicWriteFile writes data to a temporary file in the same directory as
// path, then renames it over path, so a crash never leaves a partial file.
// Parent directories are created as needed.
func atomicWriteFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, configDirPermissions); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.CreateTemp(dir, ".config-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	tempPath := f.Name()

	succeeded := false
	defer func() {
		if !succeeded {
			os.Remove(tempPath)
		}
	}()

	if _, err := f.Write(data); err != nil {
		f.Close()

		return fmt.Errorf("writing temp file: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Chmod(tempPath, configFilePermissions); err != nil {
		return fmt.Errorf("setting file permissions: %w", err)
	}

	if err := os.Rename(tempPath, path); err != nil {
		return fmt.Errorf("renaming temp file: %w", err)
	}

	succeeded = true

	return nil
}
