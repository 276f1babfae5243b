//go:build e2e && e2e_full

package e2e

import (
	"bytes"
	"crypto/rand"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Edge cases that are slow or data-heavy against a live account. Tagged
// e2e,e2e_full so they run in nightly or manual CI only.

func TestE2E_ZeroByteFile(t *testing.T) {
	folder := newTestFolder(t, "e2e-zero-byte")

	runCLI(t, "put", writeLocal(t, "empty.txt", nil), folder+"/empty.txt")

	stdout, _ := runCLI(t, "ls", folder)
	assert.Contains(t, stdout, "empty.txt")

	local := filepath.Join(t.TempDir(), "empty-downloaded.txt")
	runCLI(t, "get", folder+"/empty.txt", local)

	info, err := os.Stat(local)
	require.NoError(t, err)
	assert.Equal(t, int64(0), info.Size(), "zero-byte file should arrive as zero bytes")
}

func TestE2E_UnicodeFilenameRoundtrip(t *testing.T) {
	folder := newTestFolder(t, "e2e-unicode")

	name := "café résumé.txt"
	content := []byte("Unicode content: àéîõü")

	runCLI(t, "put", writeLocal(t, name, content), folder)

	stdout, _ := runCLI(t, "ls", folder)
	assert.Contains(t, stdout, name)

	out := t.TempDir()
	runCLI(t, "get", folder+"/"+name, out)

	got, err := os.ReadFile(filepath.Join(out, name))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

func TestE2E_MultiChunkFile(t *testing.T) {
	folder := newTestFolder(t, "e2e-large")

	// Spans several 1 MiB chunks with a ragged tail.
	data := make([]byte, 3<<20+12345)
	_, err := rand.Read(data)
	require.NoError(t, err)

	runCLI(t, "--workers", "2", "put", "--resumable", writeLocal(t, "large.bin", data), folder+"/large.bin")

	local := filepath.Join(t.TempDir(), "large.bin")
	runCLI(t, "get", "--resumable", folder+"/large.bin", local)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(data, got), "downloaded bytes differ")
}

func TestE2E_ReplaceExistingFile(t *testing.T) {
	folder := newTestFolder(t, "e2e-replace")

	runCLI(t, "put", writeLocal(t, "v.txt", []byte("version one")), folder+"/v.txt")
	runCLI(t, "put", writeLocal(t, "v.txt", []byte("version two!")), folder+"/v.txt")

	stdout, _ := runCLI(t, "--json", "ls", folder)
	assert.Equal(t, 1, bytes.Count([]byte(stdout), []byte(`"name": "v.txt"`)))

	local := filepath.Join(t.TempDir(), "v.txt")
	runCLI(t, "get", folder+"/v.txt", local)

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "version two!", string(got))
}

func TestE2E_Quota(t *testing.T) {
	stdout, _ := runCLI(t, "quota")
	assert.Contains(t, stdout, "Used")
}
