package mega

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tonimelisma/mega-go/internal/api"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// uploadTarget is where an upload lands.
type uploadTarget struct {
	parent    string
	name      string
	overwrite string
}

// Upload uploads local to remote and waits for it. When remote is an
// existing folder the file keeps its local name inside it; an existing file
// at remote is replaced. Progress survives in memory for Session.Retry; it
// is persisted only when resume is enabled for the session.
func (s *Session) Upload(ctx context.Context, local, remote string) (*Node, error) {
	j, err := s.StartUpload(ctx, local, remote)
	if err != nil {
		return nil, err
	}

	if err := j.Wait(ctx); err != nil {
		return nil, err
	}

	return j.Node(), nil
}

// UploadResumable is Upload with a resume record kept after every chunk, so
// a later call with the same paths continues where this one stopped.
func (s *Session) UploadResumable(ctx context.Context, local, remote string) (*Node, error) {
	j, err := s.StartUploadResumable(ctx, local, remote)
	if err != nil {
		return nil, err
	}

	if err := j.Wait(ctx); err != nil {
		return nil, err
	}

	return j.Node(), nil
}

// StartUpload starts an upload in the background.
func (s *Session) StartUpload(ctx context.Context, local, remote string) (*Job, error) {
	return s.startUpload(ctx, local, remote, false)
}

// StartUploadResumable starts a resumable upload in the background.
func (s *Session) StartUploadResumable(ctx context.Context, local, remote string) (*Job, error) {
	return s.startUpload(ctx, local, remote, true)
}

func (s *Session) startUpload(ctx context.Context, local, remote string, resumable bool) (*Job, error) {
	info, err := os.Stat(local)
	if err != nil {
		return nil, ioError("stat", local, err)
	}

	if !info.Mode().IsRegular() {
		return nil, fmt.Errorf("%w: %s is not a regular file", ErrInvalidArgument, local)
	}

	target, err := resolveUploadTarget(s.Tree(), local, remote)
	if err != nil {
		return nil, err
	}

	set := s.settings()

	j := newJob(s.eng, DirUpload, local, remote, resumable || set.resume,
		func(ctx context.Context, j *Job) error {
			return s.runUpload(ctx, j, target, set)
		})

	j.start(ctx)

	return j, nil
}

func resolveUploadTarget(tree *Tree, local, remote string) (uploadTarget, error) {
	var t uploadTarget

	if d := tree.Stat(remote); d != nil {
		switch {
		case d.Kind == KindContact:
			return t, fmt.Errorf("%w: cannot upload to %s", ErrInvalidArgument, remote)
		case d.IsFolder():
			t.parent, t.name = d.Handle, filepath.Base(local)
		default:
			t.parent, t.name = d.Parent, d.Name
		}
	} else {
		parentPath, name, err := splitParent(remote)
		if err != nil {
			return t, err
		}

		parent, err := tree.resolve(parentPath)
		if err != nil {
			return t, err
		}

		if !parent.IsFolder() || parent.Kind == KindContact {
			return t, fmt.Errorf("%w: %s is not a folder", ErrConflict, parentPath)
		}

		t.parent, t.name = parent.Handle, name
	}

	if err := validName(t.name); err != nil {
		return t, err
	}

	if existing := tree.child(t.parent, t.name); existing != nil {
		if !existing.IsFile() {
			return t, fmt.Errorf("%w: folder %s exists", ErrConflict, t.name)
		}

		t.overwrite = existing.Handle
	}

	return t, nil
}

func (s *Session) runUpload(ctx context.Context, j *Job, target uploadTarget, set transferSettings) error {
	f, err := os.Open(j.LocalPath)
	if err != nil {
		return ioError("open", j.LocalPath, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return ioError("stat", j.LocalPath, err)
	}

	st, rec, err := s.prepareUpload(ctx, j, info)
	if err != nil {
		return err
	}

	err = s.uploadChunks(ctx, j, f, st, rec, set.workers)
	if errors.Is(err, api.ErrExpired) {
		// The storage URL expired while the transfer was paused.
		s.logger.Info("upload URL expired, restarting upload", slog.String("job", j.ID))
		s.eng.dropProgress(j)
		j.mu.Lock()
		j.state = nil
		j.mu.Unlock()

		if st, rec, err = s.prepareUpload(ctx, j, info); err != nil {
			return err
		}

		err = s.uploadChunks(ctx, j, f, st, rec, set.workers)
	}

	if err != nil {
		return classify(err)
	}

	token := st.completionToken()
	if token == "" {
		return fmt.Errorf("%w: storage sent no completion token", ErrNetwork)
	}

	final := *st.fk

	condensed, err := st.mac.Condensed(st.fk, st.macChunks)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrCrypto, err)
	}

	final.MetaMAC = [megacrypto.MetaMACSize]byte(condensed)

	n, err := s.createFileNode(ctx, target, token, &final, info)
	if err != nil {
		return err
	}

	s.eng.dropProgress(j)

	j.mu.Lock()
	j.state = nil
	j.mu.Unlock()
	j.setNode(n)

	s.logger.Info("uploaded file",
		slog.String("local", j.LocalPath),
		slog.String("handle", n.Handle),
		slog.Int64("size", n.Size),
	)

	if set.previews {
		s.attachPreviews(ctx, n, j.LocalPath, &final)
	}

	return nil
}

// prepareUpload returns the transfer state to continue: in memory after a
// pause, from a matching resume record, or fresh with a new storage URL.
func (s *Session) prepareUpload(ctx context.Context, j *Job, info os.FileInfo) (*transferState, *ResumeRecord, error) {
	size := info.Size()

	j.mu.Lock()
	st := j.state
	j.mu.Unlock()

	if st != nil && st.size != size {
		st = nil
	}

	var rec *ResumeRecord

	if j.resumable {
		rec = s.loadUploadRecord(j, info)
		if st == nil && rec != nil {
			var err error
			if st, err = s.stateFromUploadRecord(rec); err != nil {
				s.logger.Warn("unusable resume record, starting over",
					slog.String("job", j.ID),
					slog.String("error", err.Error()),
				)

				st, rec = nil, nil
			} else {
				s.logger.Info("resuming upload",
					slog.String("job", j.ID),
					slog.Int("done", st.done()),
					slog.Int("chunks", st.count),
				)
			}
		}
	}

	if st == nil {
		fk, err := megacrypto.NewFileKey()
		if err != nil {
			return nil, nil, fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		url, err := s.client.UploadURL(ctx, size)
		if err != nil {
			return nil, nil, classify(err)
		}

		st = newTransferState(fk, size, s.eng.chunkSize, s.eng.schedule)
		st.uploadURL = url
		rec = nil
	}

	if j.resumable && rec == nil {
		wrapped, err := wrapB64(s.masterKey, st.fk.Bytes())
		if err != nil {
			return nil, nil, err
		}

		rec = &ResumeRecord{
			Direction:    DirUpload.String(),
			LocalSize:    size,
			LocalModTime: info.ModTime().UTC(),
			Size:         size,
			ChunkSize:    st.chunkSize,
			ChunkCount:   st.count,
			FileKey:      wrapped,
		}

		s.eng.saveProgress(j, rec, st)
	}

	j.mu.Lock()
	j.state = st
	j.mu.Unlock()

	j.setShape(size, st.count, st.done())

	return st, rec, nil
}

func (s *Session) loadUploadRecord(j *Job, info os.FileInfo) *ResumeRecord {
	rec, err := s.eng.resumes.Load(j.LocalPath, j.RemotePath)
	if err != nil {
		s.logger.Warn("ignoring resume record", slog.String("job", j.ID), slog.String("error", err.Error()))
		return nil
	}

	if rec == nil {
		return nil
	}

	if rec.Direction != DirUpload.String() || rec.LocalSize != info.Size() ||
		!rec.LocalModTime.Equal(info.ModTime()) || rec.ChunkSize != s.eng.chunkSize {
		s.logger.Info("resume record does not match local file, starting over",
			slog.String("job", j.ID),
			slog.String("local", j.LocalPath),
		)
		s.eng.dropProgress(j)

		return nil
	}

	return rec
}

func (s *Session) stateFromUploadRecord(rec *ResumeRecord) (*transferState, error) {
	raw, err := unwrapB64(s.masterKey, rec.FileKey)
	if err != nil {
		return nil, fmt.Errorf("file key: %w", err)
	}

	fk, err := megacrypto.ParseFileKey(raw)
	if err != nil {
		return nil, err
	}

	st := newTransferState(fk, rec.Size, rec.ChunkSize, s.eng.schedule)
	if st.count != rec.ChunkCount {
		return nil, fmt.Errorf("chunk count %d, want %d", rec.ChunkCount, st.count)
	}

	if err := st.restoreTags(rec.Tags); err != nil {
		return nil, err
	}

	st.uploadURL = rec.UploadURL
	st.token = rec.Token

	if st.uploadURL == "" {
		return nil, errors.New("record has no upload URL")
	}

	return st, nil
}

func (s *Session) uploadChunks(ctx context.Context, j *Job, f io.ReaderAt, st *transferState,
	rec *ResumeRecord, workers int,
) error {
	if st.count == 0 {
		if st.completionToken() != "" {
			return nil
		}

		token, err := s.client.UploadChunk(ctx, st.uploadURL, 0, nil)
		if err != nil {
			return err
		}

		st.setToken(token)

		return nil
	}

	return s.eng.runChunks(ctx, j, st, workers, func(ctx context.Context, i int) error {
		b := st.batches[i]
		buf := make([]byte, b.Length)

		if _, err := f.ReadAt(buf, b.Offset); err != nil && !errors.Is(err, io.EOF) {
			return ioError("read", j.LocalPath, err)
		}

		ct, tags, err := megacrypto.EncryptBatch(buf, st.fk, b, st.schedule)
		if err != nil {
			return err
		}

		if err := s.eng.limiter.wait(ctx, len(ct)); err != nil {
			return err
		}

		token, err := s.client.UploadChunk(ctx, st.uploadURL, b.Offset, ct)
		if err != nil {
			return err
		}

		st.setToken(token)

		if err := st.addTags(i, tags); err != nil {
			return err
		}

		s.eng.metrics.BytesTransferred(DirUpload, len(buf))
		s.eng.saveProgress(j, rec, st)
		j.chunkDone(len(buf))

		return nil
	})
}

// createFileNode attaches the uploaded data to the tree.
func (s *Session) createFileNode(ctx context.Context, target uploadTarget, token string,
	fk *megacrypto.FileKey, info os.FileInfo,
) (*Node, error) {
	tree := s.Tree()
	key := fk.Bytes()

	nn, err := s.newNode(tree, target.parent, token, api.NodeFile, target.name, nil, key)
	if err != nil {
		return nil, err
	}

	created, err := s.client.PutNodes(ctx, target.parent, []api.NewNode{nn}, target.overwrite)
	if err != nil {
		return nil, classify(err)
	}

	n := &Node{
		Handle:    created[0].Handle,
		Parent:    target.parent,
		Owner:     s.userHandle,
		Name:      target.name,
		Size:      info.Size(),
		Timestamp: time.Unix(created[0].Timestamp, 0),
		Kind:      KindFile,
		Key:       key,
	}

	if target.overwrite != "" {
		s.record(mutation{kind: mutDelete, handle: target.overwrite})
	}

	s.record(mutation{kind: mutAdd, node: n})

	return n, nil
}
