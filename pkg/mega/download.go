package mega

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

const (
	partialSuffix    = ".partial"
	downloadFilePerm = 0o644
)

// downloadSource is a file that can be downloaded: an account node, a node
// of a public folder or a public file link.
type downloadSource struct {
	handle string
	name   string
	size   int64
	mtime  time.Time
	fk     *megacrypto.FileKey
	node   *Node

	// url fetches a fresh storage URL for the ciphertext.
	url func(ctx context.Context) (string, error)
}

// Download downloads the file at remote to local and waits for it. When
// local is an existing directory the file keeps its remote name inside it.
func (s *Session) Download(ctx context.Context, remote, local string) error {
	j, err := s.StartDownload(ctx, remote, local)
	if err != nil {
		return err
	}

	return j.Wait(ctx)
}

// DownloadToFile is Download with a resume record kept after every chunk.
func (s *Session) DownloadToFile(ctx context.Context, remote, local string) error {
	j, err := s.StartDownloadResumable(ctx, remote, local)
	if err != nil {
		return err
	}

	return j.Wait(ctx)
}

// StartDownload starts a download in the background.
func (s *Session) StartDownload(ctx context.Context, remote, local string) (*Job, error) {
	return s.startDownload(ctx, remote, local, false)
}

// StartDownloadResumable starts a resumable download in the background.
func (s *Session) StartDownloadResumable(ctx context.Context, remote, local string) (*Job, error) {
	return s.startDownload(ctx, remote, local, true)
}

func (s *Session) startDownload(ctx context.Context, remote, local string, resumable bool) (*Job, error) {
	n, err := s.Tree().resolve(remote)
	if err != nil {
		return nil, err
	}

	src, err := nodeSource(s.client, n)
	if err != nil {
		return nil, err
	}

	set := s.settings()

	return s.eng.startDownload(ctx, src, remote, local, resumable || set.resume, set.workers), nil
}

// nodeSource describes a decrypted file node fetched through client.
func nodeSource(client *api.Client, n *Node) (*downloadSource, error) {
	fk, err := n.fileKey()
	if err != nil {
		return nil, err
	}

	return &downloadSource{
		handle: n.Handle,
		name:   n.Name,
		size:   n.Size,
		mtime:  n.Timestamp,
		fk:     fk,
		node:   n,
		url: func(ctx context.Context) (string, error) {
			info, err := client.DownloadURL(ctx, n.Handle)
			if err != nil {
				return "", err
			}

			return info.URL, nil
		},
	}, nil
}

func (e *engine) startDownload(ctx context.Context, src *downloadSource, remote, local string,
	resumable bool, workers int,
) *Job {
	j := newJob(e, DirDownload, local, remote, resumable, func(ctx context.Context, j *Job) error {
		return e.runDownload(ctx, j, src, workers)
	})

	j.setNode(src.node)
	j.start(ctx)

	return j
}

// downloadTarget returns the final path for local: inside it when it is an
// existing directory.
func downloadTarget(local, name string) string {
	if info, err := os.Stat(local); err == nil && info.IsDir() {
		return filepath.Join(local, name)
	}

	return local
}

func (e *engine) runDownload(ctx context.Context, j *Job, src *downloadSource, workers int) error {
	if err := validName(src.name); err != nil {
		return fmt.Errorf("%w: remote file name %q", ErrInvalidArgument, src.name)
	}

	target := downloadTarget(j.LocalPath, src.name)
	partial := target + partialSuffix

	st, rec := e.prepareDownload(j, src, partial)

	url, err := src.url(ctx)
	if err != nil {
		return classify(err)
	}

	f, err := os.OpenFile(partial, os.O_RDWR|os.O_CREATE, downloadFilePerm)
	if err != nil {
		return ioError("open", partial, err)
	}

	if st.done() == 0 {
		if err := f.Truncate(src.size); err != nil {
			f.Close()
			return ioError("truncate", partial, err)
		}
	}

	err = e.runChunks(ctx, j, st, workers, func(ctx context.Context, i int) error {
		b := st.batches[i]

		if err := e.limiter.wait(ctx, int(b.Length)); err != nil {
			return err
		}

		ct, err := e.client.DownloadChunk(ctx, url, b.Offset, b.Offset+b.Length)
		if err != nil {
			return err
		}

		plain, tags, err := megacrypto.DecryptBatch(ct, st.fk, b, st.schedule)
		if err != nil {
			return err
		}

		if _, err := f.WriteAt(plain, b.Offset); err != nil {
			return ioError("write", partial, err)
		}

		if err := st.addTags(i, tags); err != nil {
			return err
		}

		e.metrics.BytesTransferred(DirDownload, len(plain))
		e.saveProgress(j, rec, st)
		j.chunkDone(len(plain))

		return nil
	})

	if err != nil {
		f.Close()
		return classify(err)
	}

	if err := f.Sync(); err != nil {
		f.Close()
		return ioError("sync", partial, err)
	}

	if err := f.Close(); err != nil {
		return ioError("close", partial, err)
	}

	if err := st.mac.Verify(st.fk, st.macChunks); err != nil {
		e.logger.Warn("downloaded file failed integrity check",
			slog.String("job", j.ID),
			slog.String("handle", src.handle),
		)

		e.discardDownload(j, partial)

		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	if err := os.Rename(partial, target); err != nil {
		return ioError("rename", partial, err)
	}

	if !src.mtime.IsZero() {
		if err := os.Chtimes(target, src.mtime, src.mtime); err != nil {
			e.logger.Debug("setting file times failed",
				slog.String("path", target),
				slog.String("error", err.Error()),
			)
		}
	}

	e.dropProgress(j)

	j.mu.Lock()
	j.state = nil
	j.mu.Unlock()

	e.logger.Info("downloaded file",
		slog.String("handle", src.handle),
		slog.String("local", target),
		slog.Int64("size", src.size),
	)

	return nil
}

// prepareDownload returns the state to continue: in memory after a pause,
// from a resume record whose partial file is intact, or fresh.
func (e *engine) prepareDownload(j *Job, src *downloadSource, partial string) (*transferState, *ResumeRecord) {
	j.mu.Lock()
	st := j.state
	j.mu.Unlock()

	if st != nil && !partialIntact(partial, src.size) {
		st = nil
	}

	var rec *ResumeRecord

	if j.resumable {
		rec = e.loadDownloadRecord(j, src, partial)
		if st == nil && rec != nil {
			st = newTransferState(src.fk, src.size, e.chunkSize, e.schedule)
			if err := st.restoreTags(rec.Tags); err != nil {
				e.logger.Warn("unusable resume record, starting over",
					slog.String("job", j.ID),
					slog.String("error", err.Error()),
				)

				st, rec = nil, nil
			} else {
				e.logger.Info("resuming download",
					slog.String("job", j.ID),
					slog.Int("done", st.done()),
					slog.Int("chunks", st.count),
				)
			}
		}
	}

	if st == nil {
		st = newTransferState(src.fk, src.size, e.chunkSize, e.schedule)
		rec = nil
	}

	if j.resumable && rec == nil {
		rec = &ResumeRecord{
			Direction:  DirDownload.String(),
			Handle:     src.handle,
			Size:       src.size,
			ChunkSize:  st.chunkSize,
			ChunkCount: st.count,
		}

		e.saveProgress(j, rec, st)
	}

	j.mu.Lock()
	j.state = st
	j.mu.Unlock()

	j.setShape(src.size, st.count, st.done())

	return st, rec
}

func (e *engine) loadDownloadRecord(j *Job, src *downloadSource, partial string) *ResumeRecord {
	rec, err := e.resumes.Load(j.LocalPath, j.RemotePath)
	if err != nil {
		e.logger.Warn("ignoring resume record", slog.String("job", j.ID), slog.String("error", err.Error()))
		return nil
	}

	if rec == nil {
		return nil
	}

	if rec.Direction != DirDownload.String() || rec.Handle != src.handle || rec.Size != src.size ||
		rec.ChunkSize != e.chunkSize || !partialIntact(partial, src.size) {
		e.logger.Info("resume record does not match, starting over",
			slog.String("job", j.ID),
			slog.String("handle", src.handle),
		)
		e.dropProgress(j)

		return nil
	}

	return rec
}

// partialIntact reports whether a partial download exists at its full
// preallocated size.
func partialIntact(path string, size int64) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular() && info.Size() == size
}

func (e *engine) discardDownload(j *Job, partial string) {
	if err := os.Remove(partial); err != nil && !errors.Is(err, os.ErrNotExist) {
		e.logger.Warn("removing partial download failed",
			slog.String("path", partial),
			slog.String("error", err.Error()),
		)
	}

	e.dropProgress(j)

	j.mu.Lock()
	j.state = nil
	j.mu.Unlock()
}
