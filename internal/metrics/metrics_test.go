package metrics

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/pkg/mega"
)

func TestRecorder_Counts(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)

	r.BytesTransferred(mega.DirUpload, 100)
	r.BytesTransferred(mega.DirUpload, 28)
	r.BytesTransferred(mega.DirDownload, 5)
	r.ChunkCompleted(mega.DirUpload)
	r.ChunkCompleted(mega.DirUpload)
	r.ChunkRetried(mega.DirDownload)
	r.JobFinished(mega.DirUpload, mega.StatusCompleted, 2*time.Second)
	r.JobFinished(mega.DirDownload, mega.StatusFailed, time.Second)

	assert.InDelta(t, 128, testutil.ToFloat64(r.bytes.WithLabelValues("upload")), 0)
	assert.InDelta(t, 5, testutil.ToFloat64(r.bytes.WithLabelValues("download")), 0)
	assert.InDelta(t, 2, testutil.ToFloat64(r.chunks.WithLabelValues("upload")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.retries.WithLabelValues("download")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.jobs.WithLabelValues("upload", "completed")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(r.jobs.WithLabelValues("download", "failed")), 0)

	assert.Equal(t, 2, testutil.CollectAndCount(r.jobDuration))
}

func TestRecorder_Exposition(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)

	r.ChunkRetried(mega.DirUpload)

	expected := `
# HELP mega_transfer_chunk_retries_total Chunk attempts retried after a network failure
# TYPE mega_transfer_chunk_retries_total counter
mega_transfer_chunk_retries_total{direction="upload"} 1
`

	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected),
		"mega_transfer_chunk_retries_total"))
}

func TestNew_NilRegistry(t *testing.T) {
	t.Parallel()

	r := New(nil)
	r.ChunkCompleted(mega.DirDownload)

	assert.InDelta(t, 1, testutil.ToFloat64(r.chunks.WithLabelValues("download")), 0)
}

func TestWriteTextfile(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	r := New(reg)
	r.BytesTransferred(mega.DirDownload, 42)

	path := filepath.Join(t.TempDir(), "mega.prom")
	require.NoError(t, WriteTextfile(path, reg))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mega_transfer_bytes_total{direction="download"} 42`)

	err = WriteTextfile(filepath.Join(t.TempDir(), "missing", "x.prom"), reg)
	assert.Error(t, err)
}
