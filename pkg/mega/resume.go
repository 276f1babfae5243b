package mega

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// errCorruptResume is returned when a resume record cannot be parsed. The
// corrupt file is deleted automatically.
var errCorruptResume = errors.New("corrupt resume record")

// resumeFilePerms restricts records to the owner: upload records carry
// storage URLs and wrapped file keys.
const resumeFilePerms = 0o600

const resumeDirPerms = 0o700

// StaleResumeAge is how long an untouched resume record is kept. Storage
// URLs stop accepting chunks well before this.
const StaleResumeAge = 7 * 24 * time.Hour

// cleanThrottle makes CleanStale scans at most hourly.
const cleanThrottle = 1 * time.Hour

// ResumeRecord is the on-disk progress of one transfer.
type ResumeRecord struct {
	Direction  string `json:"direction"`
	LocalPath  string `json:"local_path"`
	RemotePath string `json:"remote_path"`
	Handle     string `json:"handle,omitempty"`

	// Local identity of an upload source; a changed file restarts.
	LocalSize    int64     `json:"local_size"`
	LocalModTime time.Time `json:"local_mtime,omitzero"`

	Size       int64 `json:"size"`
	ChunkSize  int64 `json:"chunk_size"`
	ChunkCount int   `json:"chunk_count"`

	// Tags maps completed chunk indices to their base64 MAC tags: the
	// completed set and the partial integrity accumulator in one.
	Tags map[int]string `json:"tags"`

	UploadURL string `json:"upload_url,omitempty"`
	Token     string `json:"token,omitempty"`
	// FileKey is the upload's file key wrapped with the master key.
	FileKey string `json:"file_key,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ResumeStore persists resume records as JSON files keyed by
// sha256(len(local):local:remote). Safe for concurrent use.
type ResumeStore struct {
	dir    string
	logger *slog.Logger

	mu sync.Mutex

	cleanMu   sync.Mutex
	lastClean time.Time
}

// NewResumeStore creates a store rooted at dir.
func NewResumeStore(dir string, logger *slog.Logger) *ResumeStore {
	if logger == nil {
		logger = slog.Default()
	}

	return &ResumeStore{dir: dir, logger: logger}
}

// Load reads the record for a local/remote pair. Returns nil, nil if none
// exists.
func (s *ResumeStore) Load(local, remote string) (*ResumeRecord, error) {
	path := s.filePath(local, remote)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil //nolint:nilnil // no record
		}

		return nil, fmt.Errorf("reading resume record: %w", err)
	}

	var rec ResumeRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		s.logger.Warn("corrupt resume record, deleting",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)

		if rmErr := os.Remove(path); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("failed to remove corrupt resume record",
				slog.String("path", path),
				slog.String("error", rmErr.Error()),
			)
		}

		return nil, fmt.Errorf("%w: %w", errCorruptResume, err)
	}

	return &rec, nil
}

// Save writes rec atomically and triggers throttled stale cleanup.
func (s *ResumeStore) Save(local, remote string, rec *ResumeRecord) error {
	rec.LocalPath = local
	rec.RemotePath = remote

	now := time.Now().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	rec.UpdatedAt = now

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshaling resume record: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, resumeDirPerms); err != nil {
		return fmt.Errorf("creating resume dir: %w", err)
	}

	path := s.filePath(local, remote)
	tmpPath := path + ".tmp"

	if err := os.WriteFile(tmpPath, data, resumeFilePerms); err != nil {
		return fmt.Errorf("writing resume temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming resume temp file: %w", err)
	}

	s.cleanMu.Lock()
	due := time.Since(s.lastClean) >= cleanThrottle
	s.cleanMu.Unlock()

	if due {
		go s.cleanIfDue()
	}

	return nil
}

// Delete removes the record for a pair. A missing record is not an error.
func (s *ResumeStore) Delete(local, remote string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(s.filePath(local, remote)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("deleting resume record: %w", err)
	}

	return nil
}

// CleanStale removes records older than maxAge and returns how many were
// deleted.
func (s *ResumeStore) CleanStale(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}

		return 0, fmt.Errorf("reading resume dir: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0

	for _, e := range entries {
		if e.IsDir() {
			continue
		}

		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}

		if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("failed to clean stale resume record",
				slog.String("file", e.Name()),
				slog.String("error", err.Error()),
			)

			continue
		}

		s.logger.Info("deleted stale resume record",
			slog.String("file", e.Name()),
			slog.Duration("age", time.Since(info.ModTime())),
		)

		deleted++
	}

	return deleted, nil
}

func (s *ResumeStore) cleanIfDue() {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("panic in resume cleanup", slog.Any("panic", r))
		}
	}()

	s.cleanMu.Lock()
	if time.Since(s.lastClean) < cleanThrottle {
		s.cleanMu.Unlock()
		return
	}

	s.lastClean = time.Now()
	s.cleanMu.Unlock()

	n, err := s.CleanStale(StaleResumeAge)
	if err != nil {
		s.logger.Warn("stale resume cleanup failed", slog.String("error", err.Error()))
		return
	}

	if n > 0 {
		s.logger.Info("cleaned stale resume records", slog.Int("count", n))
	}
}

// resumeKey names the record of a local/remote pair. The length prefix
// keeps ("a:", "b") and ("a", ":b") apart.
func resumeKey(local, remote string) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%d:%s:%s", len(local), local, remote))
	return fmt.Sprintf("%x.json", h)
}

func (s *ResumeStore) filePath(local, remote string) string {
	return filepath.Join(s.dir, resumeKey(local, remote))
}
