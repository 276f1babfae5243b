package mega

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writePNG writes a w×h gradient image.
func writePNG(t *testing.T, dir string, w, h int) string {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	path := filepath.Join(dir, "image.png")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))

	return path
}

func TestImagePreviewer_Sizes(t *testing.T) {
	t.Parallel()

	path := writePNG(t, t.TempDir(), 1500, 600)

	thumb, preview, err := ImagePreviewer{}.Previews(path)
	require.NoError(t, err)

	ti, err := imaging.Decode(bytes.NewReader(thumb))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(ThumbnailSize, ThumbnailSize), ti.Bounds().Size())

	pi, err := imaging.Decode(bytes.NewReader(preview))
	require.NoError(t, err)
	assert.Equal(t, PreviewMaxSize, pi.Bounds().Dx())
	assert.Equal(t, 400, pi.Bounds().Dy())
}

func TestImagePreviewer_SmallImageKeepsSize(t *testing.T) {
	t.Parallel()

	path := writePNG(t, t.TempDir(), 300, 200)

	_, preview, err := ImagePreviewer{}.Previews(path)
	require.NoError(t, err)

	pi, err := imaging.Decode(bytes.NewReader(preview))
	require.NoError(t, err)
	assert.Equal(t, image.Pt(300, 200), pi.Bounds().Size())
}

func TestImagePreviewer_NotAnImage(t *testing.T) {
	t.Parallel()

	path, _ := writeRandomFile(t, t.TempDir(), "data.bin", 100)

	_, _, err := ImagePreviewer{}.Previews(path)
	assert.ErrorIs(t, err, ErrNoPreview)
}

func TestUpload_AttachesPreviews(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "pics@example.com")
	s.EnablePreviews(true)

	ctx := context.Background()

	n, err := s.Upload(ctx, writePNG(t, t.TempDir(), 200, 150), "/Root/image.png")
	require.NoError(t, err)

	assert.Equal(t, 2, srv.FileAttrCount())
	assert.Regexp(t, `^0\*.+/1\*.+$`, srv.NodeFileAttrs(n.Handle))

	require.NoError(t, s.Refresh(ctx))
	assert.NotEmpty(t, s.Stat("/Root/image.png").FileAttrs)

	// Files that are not images upload without attributes.
	data := uploadBytes(t, s, "/Root/plain.bin", 90)
	assert.Equal(t, 2, srv.FileAttrCount())

	out := filepath.Join(t.TempDir(), "plain.bin")
	require.NoError(t, s.Download(ctx, "/Root/plain.bin", out))
	assert.Equal(t, data, readFile(t, out))
}

func TestUpload_NoPreviewsByDefault(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "nopics@example.com")

	_, err := s.Upload(context.Background(), writePNG(t, t.TempDir(), 50, 50), "/Root/image.png")
	require.NoError(t, err)
	assert.Zero(t, srv.FileAttrCount())
}
