package mega

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"

	"github.com/disintegration/imaging"

	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// Attachment sizes and JPEG quality of generated previews.
const (
	ThumbnailSize  = 120
	PreviewMaxSize = 1000
	previewQuality = 80
)

// File attribute slots.
const (
	attrThumbnail = 0
	attrPreview   = 1
)

// ErrNoPreview is returned by a PreviewGenerator for files it cannot render.
var ErrNoPreview = errors.New("mega: no preview for file")

// PreviewGenerator renders the thumbnail and preview attached to uploads.
type PreviewGenerator interface {
	Previews(path string) (thumbnail, preview []byte, err error)
}

// ImagePreviewer renders JPEG previews of image files: a square thumbnail
// and a preview that fits PreviewMaxSize, both corrected for EXIF
// orientation.
type ImagePreviewer struct{}

// Previews implements PreviewGenerator.
func (ImagePreviewer) Previews(path string) ([]byte, []byte, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrNoPreview, err)
	}

	thumb, err := encodeJPEG(imaging.Fill(img, ThumbnailSize, ThumbnailSize, imaging.Center, imaging.Lanczos))
	if err != nil {
		return nil, nil, err
	}

	preview := img
	if b := img.Bounds(); b.Dx() > PreviewMaxSize || b.Dy() > PreviewMaxSize {
		preview = imaging.Fit(img, PreviewMaxSize, PreviewMaxSize, imaging.Lanczos)
	}

	full, err := encodeJPEG(preview)
	if err != nil {
		return nil, nil, err
	}

	return thumb, full, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(previewQuality)); err != nil {
		return nil, fmt.Errorf("encoding preview: %w", err)
	}

	return buf.Bytes(), nil
}

// attachPreviews uploads and attaches previews for a freshly uploaded file.
// Failures are logged; the upload itself has already succeeded.
func (s *Session) attachPreviews(ctx context.Context, n *Node, local string, fk *megacrypto.FileKey) {
	thumb, preview, err := s.eng.previewer.Previews(local)
	if err != nil {
		level := slog.LevelWarn
		if errors.Is(err, ErrNoPreview) {
			level = slog.LevelDebug
		}

		s.logger.Log(ctx, level, "no previews for upload",
			slog.String("handle", n.Handle),
			slog.String("error", err.Error()),
		)

		return
	}

	fa, err := s.uploadAttributes(ctx, fk, map[int][]byte{attrThumbnail: thumb, attrPreview: preview})
	if err != nil {
		s.logger.Warn("uploading previews failed",
			slog.String("handle", n.Handle),
			slog.String("error", err.Error()),
		)

		return
	}

	if err := s.client.AttachFileAttrs(ctx, n.Handle, fa); err != nil {
		s.logger.Warn("attaching previews failed",
			slog.String("handle", n.Handle),
			slog.String("error", err.Error()),
		)

		return
	}

	s.logger.Debug("attached previews", slog.String("handle", n.Handle), slog.String("fa", fa))
}

// uploadAttributes encrypts and stores each attribute and returns the
// "slot*handle" list for AttachFileAttrs.
func (s *Session) uploadAttributes(ctx context.Context, fk *megacrypto.FileKey, attrs map[int][]byte) (string, error) {
	var out []byte

	for _, slot := range []int{attrThumbnail, attrPreview} {
		data, ok := attrs[slot]
		if !ok {
			continue
		}

		ct, err := megacrypto.CBCEncrypt(fk.AES[:], data)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrCrypto, err)
		}

		url, err := s.client.FileAttrUploadURL(ctx, int64(len(ct)))
		if err != nil {
			return "", classify(err)
		}

		h, err := s.client.UploadFileAttr(ctx, url, ct)
		if err != nil {
			return "", classify(err)
		}

		if len(out) > 0 {
			out = append(out, '/')
		}

		out = fmt.Appendf(out, "%d*%s", slot, h)
	}

	return string(out), nil
}
