// Package ledger keeps a SQLite history of transfer jobs across processes.
// It implements mega.JobObserver: events are queued and written by a
// single background writer so transfer goroutines never wait on the
// database.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // database/sql driver

	"github.com/tonimelisma/mega-go/pkg/mega"
)

// ErrNotFound is returned by Get for an unknown job id.
var ErrNotFound = errors.New("ledger: transfer not found")

// queueSize bounds buffered events. Progress events are dropped when the
// queue is full; state changes always wait for room.
const queueSize = 256

const dirPerms = 0o700

// Record is one transfer as last seen by the ledger.
type Record struct {
	JobID      string
	RunID      string
	RetryOf    string
	Direction  string
	Status     string
	LocalPath  string
	RemotePath string
	Resumable  bool
	Size       int64
	ChunksDone int
	ChunkCount int
	Error      string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Finished reports whether the job has stopped for good.
func (r *Record) Finished() bool {
	return r.Status == mega.StatusCompleted.String() || r.Status == mega.StatusFailed.String()
}

// Ledger records job events in a SQLite database.
type Ledger struct {
	db     *sql.DB
	logger *slog.Logger
	runID  string
	schema int64

	events chan mega.JobEvent
	done   chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ mega.JobObserver = (*Ledger)(nil)

// Open opens (creating if needed) the ledger database at dbPath, applies
// migrations and starts the writer. Every Ledger gets a fresh run id that
// tags the jobs it records.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Ledger, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), dirPerms); err != nil {
		return nil, fmt.Errorf("ledger: creating directory for %s: %w", dbPath, err)
	}

	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"+
			"&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("ledger: opening database %s: %w", dbPath, err)
	}

	// Sole-writer pattern: one connection serializes all statements.
	db.SetMaxOpenConns(1)

	schema, err := migrate(ctx, db, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	l := &Ledger{
		db:     db,
		logger: logger,
		runID:  uuid.NewString(),
		schema: schema,
		events: make(chan mega.JobEvent, queueSize),
		done:   make(chan struct{}),
	}

	go l.writer()

	logger.Debug("transfer ledger opened",
		slog.String("db_path", dbPath),
		slog.String("run", l.runID),
		slog.Int64("schema", schema),
	)

	return l, nil
}

// SchemaVersion is the migration version of the open database.
func (l *Ledger) SchemaVersion() int64 {
	return l.schema
}

// RunID identifies the jobs recorded through this Ledger.
func (l *Ledger) RunID() string {
	return l.runID
}

// JobChanged implements mega.JobObserver.
func (l *Ledger) JobChanged(ev mega.JobEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if l.closed {
		return
	}

	if ev.Status != mega.StatusActive {
		l.events <- ev
		return
	}

	select {
	case l.events <- ev:
	default:
		l.logger.Debug("ledger queue full, dropping progress event", slog.String("job", ev.JobID))
	}
}

func (l *Ledger) writer() {
	defer close(l.done)

	for ev := range l.events {
		if err := l.Record(context.Background(), ev); err != nil {
			l.logger.Warn("recording transfer failed",
				slog.String("job", ev.JobID),
				slog.String("error", err.Error()),
			)
		}
	}
}

const sqlUpsert = `INSERT INTO transfers
	(job_id, run_id, retry_of, direction, status, local_path, remote_path,
	 resumable, size, chunks_done, chunk_count, error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(job_id) DO UPDATE SET
		status = excluded.status,
		size = excluded.size,
		chunks_done = excluded.chunks_done,
		chunk_count = excluded.chunk_count,
		error = excluded.error,
		updated_at = excluded.updated_at`

// Record writes ev synchronously.
func (l *Ledger) Record(ctx context.Context, ev mega.JobEvent) error {
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	var errMsg sql.NullString
	if ev.Err != nil {
		errMsg = sql.NullString{String: ev.Err.Error(), Valid: true}
	}

	_, err := l.db.ExecContext(ctx, sqlUpsert,
		ev.JobID, l.runID, nullString(ev.RetryOf), ev.Direction.String(), ev.Status.String(),
		ev.LocalPath, ev.RemotePath, ev.Resumable, ev.Size, ev.ChunksDone, ev.ChunkCount,
		errMsg, ts.UnixNano(), ts.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("ledger: recording job %s: %w", ev.JobID, err)
	}

	return nil
}

// ListOptions filters List.
type ListOptions struct {
	// Status keeps only jobs in this state; empty keeps all.
	Status string
	// RunID keeps only jobs of one run; empty keeps all.
	RunID string
	// Limit caps the result; zero means 50.
	Limit int
}

const defaultListLimit = 50

const sqlSelect = `SELECT job_id, run_id, retry_of, direction, status, local_path,
	remote_path, resumable, size, chunks_done, chunk_count, error, created_at, updated_at
	FROM transfers`

// List returns recorded jobs, most recently updated first.
func (l *Ledger) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	rows, err := l.db.QueryContext(ctx, sqlSelect+`
		WHERE (? = '' OR status = ?) AND (? = '' OR run_id = ?)
		ORDER BY updated_at DESC, job_id
		LIMIT ?`,
		opts.Status, opts.Status, opts.RunID, opts.RunID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: listing transfers: %w", err)
	}
	defer rows.Close()

	var out []Record

	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}

		out = append(out, *rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ledger: listing transfers: %w", err)
	}

	return out, nil
}

// Get returns the job with id, or ErrNotFound.
func (l *Ledger) Get(ctx context.Context, id string) (*Record, error) {
	row := l.db.QueryRowContext(ctx, sqlSelect+` WHERE job_id = ?`, id)

	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return rec, err
}

// Prune deletes finished jobs last updated before cutoff and returns how
// many were removed.
func (l *Ledger) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := l.db.ExecContext(ctx,
		`DELETE FROM transfers WHERE updated_at < ? AND status IN (?, ?)`,
		cutoff.UnixNano(), mega.StatusCompleted.String(), mega.StatusFailed.String())
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning transfers: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("ledger: pruning transfers: %w", err)
	}

	if n > 0 {
		l.logger.Info("pruned transfer history", slog.Int64("count", n))
	}

	return n, nil
}

// Close flushes queued events and closes the database.
func (l *Ledger) Close() error {
	var err error

	l.closeOnce.Do(func() {
		l.mu.Lock()
		l.closed = true
		close(l.events)
		l.mu.Unlock()

		<-l.done

		if cerr := l.db.Close(); cerr != nil {
			err = fmt.Errorf("ledger: closing database: %w", cerr)
		}
	})

	return err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*Record, error) {
	var (
		r                Record
		retryOf, errMsg  sql.NullString
		created, updated int64
	)

	err := s.Scan(&r.JobID, &r.RunID, &retryOf, &r.Direction, &r.Status, &r.LocalPath,
		&r.RemotePath, &r.Resumable, &r.Size, &r.ChunksDone, &r.ChunkCount, &errMsg,
		&created, &updated)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}

		return nil, fmt.Errorf("ledger: scanning transfer: %w", err)
	}

	r.RetryOf = retryOf.String
	r.Error = errMsg.String
	r.CreatedAt = time.Unix(0, created)
	r.UpdatedAt = time.Unix(0, updated)

	return &r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
