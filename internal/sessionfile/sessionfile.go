// Package sessionfile reads and writes saved session blobs. A session file
// holds the opaque blob produced by mega.Session.Save alongside cached
// account metadata (email, display name) so callers can show who is logged
// in without contacting the server.
package sessionfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"maps"
	"os"
	"path/filepath"
)

// FilePerms restricts session files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating the session directory.
const DirPerms = 0o700

// File is the on-disk format. Blob is kept as raw JSON so the envelope
// written by the engine is stored unchanged.
type File struct {
	Blob json.RawMessage   `json:"session"`
	Meta map[string]string `json:"meta,omitempty"`
}

// Load reads a saved session file. Returns (nil, nil, nil) if the file does
// not exist.
func Load(path string) ([]byte, map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	var sf File
	if err := json.Unmarshal(data, &sf); err != nil {
		return nil, nil, fmt.Errorf("sessionfile: decoding %s: %w", path, err)
	}

	if len(sf.Blob) == 0 {
		return nil, nil, fmt.Errorf("sessionfile: %s missing session field (re-login required)", path)
	}

	return sf.Blob, sf.Meta, nil
}

// ReadMeta reads just the metadata. Returns (nil, nil) if the file does not
// exist.
func ReadMeta(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil //nolint:nilnil // sentinel for "not found"
	}

	if err != nil {
		return nil, fmt.Errorf("sessionfile: reading %s: %w", path, err)
	}

	var parsed struct {
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("sessionfile: decoding %s: %w", path, err)
	}

	return parsed.Meta, nil
}

// Save writes a session file atomically (write-to-temp + rename) with 0600
// permissions. blob must be valid JSON. Never logs blob contents.
func Save(path string, blob []byte, meta map[string]string) error {
	if !json.Valid(blob) {
		return errors.New("sessionfile: blob is not valid JSON")
	}

	data, err := json.MarshalIndent(File{Blob: blob, Meta: meta}, "", "  ")
	if err != nil {
		return fmt.Errorf("sessionfile: encoding: %w", err)
	}

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("sessionfile: creating directory %s: %w", dir, mkErr)
	}

	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("sessionfile: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: writing: %w", err)
	}

	// Flush before rename so a power loss cannot leave a partial file at
	// the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sessionfile: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("sessionfile: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("sessionfile: renaming: %w", err)
	}

	success = true

	return nil
}

// MergeMeta reads the current session file, merges new metadata keys (new
// keys overwrite existing), and saves.
func MergeMeta(path string, meta map[string]string) error {
	blob, existing, err := Load(path)
	if err != nil {
		return fmt.Errorf("reading session for metadata update: %w", err)
	}

	if blob == nil {
		return fmt.Errorf("no session file at %s", path)
	}

	if existing == nil {
		existing = make(map[string]string, len(meta))
	}

	maps.Copy(existing, meta)

	return Save(path, blob, existing)
}

// Remove deletes the session file. A missing file is not an error.
func Remove(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("sessionfile: removing %s: %w", path, err)
	}

	return nil
}
