package mega

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Direction is the direction of a transfer.
type Direction int

// Transfer directions.
const (
	DirUpload Direction = iota
	DirDownload
)

func (d Direction) String() string {
	switch d {
	case DirUpload:
		return "upload"
	case DirDownload:
		return "download"
	default:
		return fmt.Sprintf("direction(%d)", int(d))
	}
}

// JobStatus is the state of a transfer job. Jobs move pending → active →
// completed, failed or paused. A paused job becomes active again with
// Session.Resume; a failed one is terminal and Session.Retry starts a new
// job seeded from its progress.
type JobStatus int

// Job states.
const (
	StatusPending JobStatus = iota
	StatusActive
	StatusPaused
	StatusFailed
	StatusCompleted
)

func (s JobStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusActive:
		return "active"
	case StatusPaused:
		return "paused"
	case StatusFailed:
		return "failed"
	case StatusCompleted:
		return "completed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// JobEvent describes a job after a state change or completed chunk.
type JobEvent struct {
	JobID      string
	RetryOf    string
	Direction  Direction
	Status     JobStatus
	LocalPath  string
	RemotePath string
	Resumable  bool
	Size       int64
	ChunksDone int
	ChunkCount int
	Err        error
	Time       time.Time
}

// JobObserver receives job events. Calls are made synchronously from
// transfer goroutines and must not block.
type JobObserver interface {
	JobChanged(ev JobEvent)
}

// Job is one upload or download. It is created by the Start methods and is
// safe for concurrent use.
type Job struct {
	ID         string
	RetryOf    string
	Direction  Direction
	LocalPath  string
	RemotePath string

	resumable bool
	eng       *engine
	run       func(ctx context.Context, j *Job) error

	mu         sync.Mutex
	status     JobStatus
	err        error
	size       int64
	chunkCount int
	node       *Node
	state      *transferState
	stop       chan struct{}
	done       chan struct{}
	started    time.Time

	// saveMu serializes resume record writes from chunk workers.
	saveMu sync.Mutex

	chunksDone atomic.Int64
	bytesDone  atomic.Int64
}

func newJob(eng *engine, dir Direction, local, remote string, resumable bool,
	run func(ctx context.Context, j *Job) error,
) *Job {
	j := &Job{
		ID:         uuid.NewString(),
		Direction:  dir,
		LocalPath:  local,
		RemotePath: remote,
		resumable:  resumable,
		eng:        eng,
		run:        run,
		status:     StatusPending,
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}

	j.emit()

	return j
}

// start runs the job in the background.
func (j *Job) start(ctx context.Context) {
	j.mu.Lock()
	j.status = StatusActive
	j.err = nil
	j.started = time.Now()
	j.mu.Unlock()

	j.emit()

	go func() {
		err := j.run(ctx, j)
		j.finish(ctx, err)
	}()
}

func (j *Job) finish(ctx context.Context, err error) {
	j.mu.Lock()

	switch {
	case err == nil:
		j.status = StatusCompleted
	case errors.Is(err, ErrPaused):
		j.status = StatusPaused
	case ctx.Err() != nil && errors.Is(err, ctx.Err()):
		j.status = StatusPaused
		err = fmt.Errorf("%w: %w", ErrPaused, err)
	default:
		j.status = StatusFailed
	}

	j.err = err
	status, elapsed := j.status, time.Since(j.started)
	done := j.done
	j.mu.Unlock()

	j.eng.metrics.JobFinished(j.Direction, status, elapsed)

	attrs := []any{
		slog.String("job", j.ID),
		slog.String("direction", j.Direction.String()),
		slog.String("status", status.String()),
		slog.Duration("elapsed", elapsed),
	}

	if err != nil {
		j.eng.logger.Warn("transfer stopped", append(attrs, slog.String("error", err.Error()))...)
	} else {
		j.eng.logger.Info("transfer finished", attrs...)
	}

	j.emit()
	close(done)
}

// Wait blocks until the job stops running and returns its error: nil when
// completed, ErrPaused (wrapped) when canceled.
func (j *Job) Wait(ctx context.Context) error {
	j.mu.Lock()
	done := j.done
	j.mu.Unlock()

	select {
	case <-done:
		return j.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel stops scheduling new chunks. Chunks in flight finish, completed
// chunks are kept, and the job ends paused.
func (j *Job) Cancel() {
	j.mu.Lock()
	defer j.mu.Unlock()

	select {
	case <-j.stop:
	default:
		close(j.stop)
	}
}

func (j *Job) stopped() bool {
	j.mu.Lock()
	stop := j.stop
	j.mu.Unlock()

	select {
	case <-stop:
		return true
	default:
		return false
	}
}

// Status returns the current state.
func (j *Job) Status() JobStatus {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.status
}

// Err returns the error the job stopped with.
func (j *Job) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.err
}

// Node returns the created node of a completed upload, or the source node
// of a download.
func (j *Job) Node() *Node {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.node
}

// Progress reports completed chunks, the chunk count and bytes transferred
// by this run.
func (j *Job) Progress() (done, total int, bytes int64) {
	j.mu.Lock()
	total = j.chunkCount
	j.mu.Unlock()

	return int(j.chunksDone.Load()), total, j.bytesDone.Load()
}

// Size returns the file size once known.
func (j *Job) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()

	return j.size
}

// Resumable reports whether the job persists resume records.
func (j *Job) Resumable() bool {
	return j.resumable
}

func (j *Job) setShape(size int64, chunks, done int) {
	j.mu.Lock()
	j.size, j.chunkCount = size, chunks
	j.mu.Unlock()

	j.chunksDone.Store(int64(done))
}

func (j *Job) setNode(n *Node) {
	j.mu.Lock()
	j.node = n
	j.mu.Unlock()
}

// chunkDone counts a finished chunk and notifies the observer.
func (j *Job) chunkDone(n int) {
	j.chunksDone.Add(1)
	j.bytesDone.Add(int64(n))
	j.eng.metrics.ChunkCompleted(j.Direction)
	j.emit()
}

// rearm prepares a paused job to run again.
func (j *Job) rearm() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.status != StatusPaused {
		return fmt.Errorf("%w: job %s is %s, not paused", ErrInvalidArgument, j.ID, j.status)
	}

	j.stop = make(chan struct{})
	j.done = make(chan struct{})
	j.status = StatusPending

	return nil
}

func (j *Job) emit() {
	if j.eng.observer == nil {
		return
	}

	j.mu.Lock()
	ev := JobEvent{
		JobID:      j.ID,
		RetryOf:    j.RetryOf,
		Direction:  j.Direction,
		Status:     j.status,
		LocalPath:  j.LocalPath,
		RemotePath: j.RemotePath,
		Resumable:  j.resumable,
		Size:       j.size,
		ChunkCount: j.chunkCount,
		Err:        j.err,
		Time:       time.Now(),
	}
	j.mu.Unlock()

	ev.ChunksDone = int(j.chunksDone.Load())

	j.eng.observer.JobChanged(ev)
}
