package sessionfile

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testBlob = `{"v":1,"payload":"cGF5bG9hZA","mac":"bWFj"}`

func TestLoad_FileNotFound(t *testing.T) {
	blob, meta, err := Load("/nonexistent/path/session.json")
	assert.Nil(t, blob)
	assert.Nil(t, meta)
	assert.NoError(t, err)
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	require.NoError(t, Save(path, []byte(testBlob), map[string]string{"email": "alice@example.com"}))

	blob, meta, err := Load(path)
	require.NoError(t, err)
	assert.JSONEq(t, testBlob, string(blob))
	assert.Equal(t, "alice@example.com", meta["email"])
}

func TestSave_RejectsInvalidBlob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")

	err := Save(path, []byte("not json"), nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not valid JSON")

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoad_MissingSessionField(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"meta":{"email":"a"}}`), 0o600))

	blob, meta, err := Load(path)
	assert.Nil(t, blob)
	assert.Nil(t, meta)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing session field")
}

func TestLoad_InvalidJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(path, []byte(`{not json}`), 0o600))

	_, _, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decoding")
}

func TestSave_CreatesDirectoryWithPerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "dir", "session.json")

	require.NoError(t, Save(path, []byte(testBlob), nil))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestSave_LeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "session.json")

	require.NoError(t, Save(path, []byte(testBlob), nil))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "session.json", entries[0].Name())
}

func TestReadMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Save(path, []byte(testBlob), map[string]string{"name": "Alice"}))

	meta, err := ReadMeta(path)
	require.NoError(t, err)
	assert.Equal(t, "Alice", meta["name"])

	meta, err = ReadMeta(filepath.Join(t.TempDir(), "missing.json"))
	assert.NoError(t, err)
	assert.Nil(t, meta)
}

func TestMergeMeta(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Save(path, []byte(testBlob), map[string]string{"email": "old", "name": "Alice"}))

	require.NoError(t, MergeMeta(path, map[string]string{"email": "new", "handle": "h1"}))

	blob, meta, err := Load(path)
	require.NoError(t, err)
	assert.True(t, json.Valid(blob))
	assert.Equal(t, "new", meta["email"])
	assert.Equal(t, "Alice", meta["name"])
	assert.Equal(t, "h1", meta["handle"])
}

func TestMergeMeta_FileNotFound(t *testing.T) {
	err := MergeMeta(filepath.Join(t.TempDir(), "missing.json"), map[string]string{"k": "v"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no session file")
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, Save(path, []byte(testBlob), nil))

	require.NoError(t, Remove(path))
	require.NoError(t, Remove(path))

	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err))
}
