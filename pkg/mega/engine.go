package mega

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// engine runs chunked transfers. Sessions and public handles each own one.
type engine struct {
	client       *api.Client
	logger       *slog.Logger
	chunkSize    int64
	schedule     megacrypto.Schedule
	chunkTimeout time.Duration
	limiter      *bandwidthLimiter
	resumes      *ResumeStore
	metrics      MetricsRecorder
	observer     JobObserver
	previewer    PreviewGenerator
	sleep        func(ctx context.Context, d time.Duration) error
}

func newEngine(cfg Config, client *api.Client, limiter *bandwidthLimiter, resumes *ResumeStore) *engine {
	return &engine{
		client:       client,
		logger:       cfg.Logger,
		chunkSize:    cfg.ChunkSize,
		schedule:     cfg.macSchedule,
		chunkTimeout: cfg.ChunkTimeout,
		limiter:      limiter,
		resumes:      resumes,
		metrics:      cfg.Metrics,
		observer:     cfg.Observer,
		previewer:    cfg.Previewer,
		sleep:        cfg.sleepFunc,
	}
}

// transferState is the progress of a job that survives pauses: the file
// key, completed MAC chunk tags and, for uploads, the storage URL and the
// completion token. The file is moved in batches of whole MAC chunks; the
// batch size only shapes requests and never changes the file MAC.
type transferState struct {
	fk        *megacrypto.FileKey
	mac       *megacrypto.MACAccumulator
	size      int64
	chunkSize int64
	schedule  megacrypto.Schedule
	batches   []megacrypto.Batch
	macChunks int
	count     int

	mu        sync.Mutex
	uploadURL string
	token     string
}

func newTransferState(fk *megacrypto.FileKey, size, chunkSize int64, schedule megacrypto.Schedule) *transferState {
	batches := schedule.Batches(size, chunkSize)

	return &transferState{
		fk:        fk,
		mac:       megacrypto.NewMACAccumulator(),
		size:      size,
		chunkSize: chunkSize,
		schedule:  schedule,
		batches:   batches,
		macChunks: schedule.Count(size),
		count:     len(batches),
	}
}

// batchDone reports whether every MAC chunk of batch index has its tag.
func (st *transferState) batchDone(index int) bool {
	b := st.batches[index]

	for k := b.First; k < b.First+b.Chunks; k++ {
		if !st.mac.Has(k) {
			return false
		}
	}

	return true
}

// done returns the number of completed batches.
func (st *transferState) done() int {
	n := 0

	for i := range st.count {
		if st.batchDone(i) {
			n++
		}
	}

	return n
}

// addTags records the tags of batch index.
func (st *transferState) addTags(index int, tags [][]byte) error {
	first := st.batches[index].First

	for k, tag := range tags {
		if err := st.mac.Add(first+k, tag); err != nil {
			return err
		}
	}

	return nil
}

func (st *transferState) setToken(t string) {
	if t == "" {
		return
	}

	st.mu.Lock()
	st.token = t
	st.mu.Unlock()
}

func (st *transferState) completionToken() string {
	st.mu.Lock()
	defer st.mu.Unlock()

	return st.token
}

// tags renders the completed chunk tags for a resume record.
func (st *transferState) tags() map[int]string {
	out := make(map[int]string)
	for i, t := range st.mac.Tags() {
		out[i] = megacrypto.B64Encode(t)
	}

	return out
}

// restoreTags seeds the accumulator from a resume record.
func (st *transferState) restoreTags(tags map[int]string) error {
	for i, t := range tags {
		if i < 0 || i >= st.macChunks {
			return fmt.Errorf("chunk index %d out of range", i)
		}

		raw, err := megacrypto.B64Decode(t)
		if err != nil {
			return fmt.Errorf("chunk %d tag: %w", i, err)
		}

		if err := st.mac.Add(i, raw); err != nil {
			return err
		}
	}

	return nil
}

// runChunks runs do for every chunk not yet completed on a pool of workers
// slots. Scheduling blocks while every slot is busy and stops at the first
// failure or when the job is canceled; chunks already in flight finish.
// It returns after all started chunks have ended.
func (e *engine) runChunks(ctx context.Context, j *Job, st *transferState, workers int,
	do func(ctx context.Context, index int) error,
) error {
	var g errgroup.Group

	g.SetLimit(max(workers, 1))

	var failed atomic.Bool

	for i := range st.count {
		if st.batchDone(i) {
			continue
		}

		if failed.Load() || j.stopped() || ctx.Err() != nil {
			break
		}

		g.Go(func() error {
			if err := e.retryChunk(ctx, j, i, do); err != nil {
				failed.Store(true)
				return err
			}

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if n := st.done(); n < st.count {
		return fmt.Errorf("%w: %d of %d chunks done", ErrPaused, n, st.count)
	}

	return nil
}

// retryChunk runs one chunk with a per-attempt timeout, retrying
// network-class failures with exponential backoff.
func (e *engine) retryChunk(ctx context.Context, j *Job, index int,
	do func(ctx context.Context, index int) error,
) error {
	for attempt := 0; ; attempt++ {
		cctx, cancel := context.WithTimeout(ctx, e.chunkTimeout)
		err := do(cctx, index)
		cancel()

		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		if !chunkRetryable(err) || attempt+1 >= maxChunkAttempts {
			return fmt.Errorf("chunk %d: %w", index, err)
		}

		backoff := api.CalcBackoff(attempt)

		e.metrics.ChunkRetried(j.Direction)
		e.logger.Warn("retrying chunk",
			slog.String("job", j.ID),
			slog.Int("chunk", index),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", backoff),
			slog.String("error", err.Error()),
		)

		if err := e.sleep(ctx, backoff); err != nil {
			return err
		}
	}
}

func chunkRetryable(err error) bool {
	return api.IsRetryable(err) || errors.Is(err, context.DeadlineExceeded)
}

// saveProgress writes the job's resume record when it has one.
func (e *engine) saveProgress(j *Job, rec *ResumeRecord, st *transferState) {
	if !j.resumable || rec == nil {
		return
	}

	j.saveMu.Lock()
	defer j.saveMu.Unlock()

	st.mu.Lock()
	rec.UploadURL = st.uploadURL
	rec.Token = st.token
	st.mu.Unlock()

	rec.Tags = st.tags()

	if err := e.resumes.Save(j.LocalPath, j.RemotePath, rec); err != nil {
		e.logger.Warn("saving resume record failed",
			slog.String("job", j.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (e *engine) dropProgress(j *Job) {
	if err := e.resumes.Delete(j.LocalPath, j.RemotePath); err != nil {
		e.logger.Warn("deleting resume record failed",
			slog.String("job", j.ID),
			slog.String("error", err.Error()),
		)
	}
}
