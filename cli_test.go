package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/megatest"
)

const (
	testEmail    = "alice@example.com"
	testPassword = "correct horse"
)

// testEnv points the CLI at a fake server and a private home directory.
type testEnv struct {
	srv  *megatest.Server
	home string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	srv := megatest.New()
	t.Cleanup(srv.Close)

	home := t.TempDir()

	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	t.Setenv("XDG_DATA_HOME", "")
	t.Setenv("XDG_CACHE_HOME", "")
	t.Setenv("MEGA_GO_CONFIG", filepath.Join(home, "config.toml"))
	t.Setenv("MEGA_GO_SESSION_FILE", "")
	t.Setenv("MEGA_GO_BASE_URL", srv.URL())
	t.Setenv("MEGA_GO_PROXY", "")
	t.Setenv("MEGA_GO_LOG_LEVEL", "")
	t.Setenv("MEGA_GO_EMAIL", "")
	t.Setenv("MEGA_GO_PASSWORD", testPassword)

	return &testEnv{srv: srv, home: home}
}

// cli runs the command line and returns stdout, stderr and the exit code.
func (e *testEnv) cli(t *testing.T, args ...string) (string, string, int) {
	t.Helper()

	var stdout, stderr bytes.Buffer
	code := run(append([]string{"--quiet"}, args...), &stdout, &stderr)

	return stdout.String(), stderr.String(), code
}

// mustCLI runs the command line and fails the test on a non-zero exit.
func (e *testEnv) mustCLI(t *testing.T, args ...string) string {
	t.Helper()

	stdout, stderr, code := e.cli(t, args...)
	require.Equal(t, exitOK, code, "mega-go %s: %s", strings.Join(args, " "), stderr)

	return stdout
}

func (e *testEnv) login(t *testing.T) {
	t.Helper()

	e.srv.AddUser(testEmail, testPassword, megatest.WithCSID(), megatest.WithName("Alice"))
	e.mustCLI(t, "login", testEmail)
}

func TestCLI_NotLoggedIn(t *testing.T) {
	e := newTestEnv(t)

	_, stderr, code := e.cli(t, "ls")
	assert.Equal(t, exitAuth, code)
	assert.Contains(t, stderr, "not logged in")

	_, _, code = e.cli(t, "whoami")
	assert.Equal(t, exitAuth, code)
}

func TestCLI_LoginWrongPassword(t *testing.T) {
	e := newTestEnv(t)
	e.srv.AddUser(testEmail, "something else", megatest.WithCSID())

	_, _, code := e.cli(t, "login", testEmail)
	assert.Equal(t, exitAuth, code)

	_, err := os.Stat(filepath.Join(e.home, ".local", "share", "mega-go", "session.json"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestCLI_LoginWhoamiLogout(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	var who whoamiJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "whoami")), &who))
	assert.Equal(t, testEmail, who.Email)
	assert.Equal(t, "Alice", who.Name)
	assert.Equal(t, filepath.Join(e.home, ".local", "share", "mega-go", "session.json"), who.SessionFile)

	info, err := os.Stat(who.SessionFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	e.mustCLI(t, "logout")

	_, _, code := e.cli(t, "whoami")
	assert.Equal(t, exitAuth, code)
}

func TestCLI_FolderOperations(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	e.mustCLI(t, "mkdir", "-p", "/Root/a/b/c")
	e.mustCLI(t, "mkdir", "/Root/x")

	_, _, code := e.cli(t, "mkdir", "/Root/missing/child")
	assert.Equal(t, exitError, code)

	e.mustCLI(t, "mv", "/Root/a/b", "/Root/x")
	e.mustCLI(t, "rename", "/Root/x/b/c", "d")

	var nodes []nodeJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "ls", "-r", "/Root")), &nodes))

	paths := make([]string, 0, len(nodes))
	for _, n := range nodes {
		paths = append(paths, n.Path)
	}

	assert.ElementsMatch(t, []string{"/Root/a", "/Root/x", "/Root/x/b", "/Root/x/b/d"}, paths)

	tree := e.mustCLI(t, "tree", "/Root/x")
	assert.Contains(t, tree, "x/")
	assert.Contains(t, tree, "d/")

	e.mustCLI(t, "rm", "/Root/a")
	assert.Contains(t, e.mustCLI(t, "ls", "/Trash"), "a/")

	e.mustCLI(t, "rm", "/Trash/a")
	assert.NotContains(t, e.mustCLI(t, "ls", "/Trash"), "a/")

	_, _, code = e.cli(t, "stat", "/Root/a")
	assert.Equal(t, exitError, code)
}

func TestCLI_PutGetAndHistory(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	dir := t.TempDir()
	payload := bytes.Repeat([]byte("0123456789abcdef"), 10_000)
	local := filepath.Join(dir, "report.bin")
	require.NoError(t, os.WriteFile(local, payload, 0o600))

	e.mustCLI(t, "mkdir", "/Root/docs")
	e.mustCLI(t, "put", local, "/Root/docs")

	var n nodeJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "stat", "/Root/docs/report.bin")), &n))
	assert.Equal(t, "file", n.Kind)
	assert.Equal(t, int64(len(payload)), n.Size)

	out := t.TempDir()
	e.mustCLI(t, "get", "/Root/docs/report.bin", out)

	got, err := os.ReadFile(filepath.Join(out, "report.bin"))
	require.NoError(t, err)
	assert.Equal(t, payload, got)

	var recs []transferJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "transfers", "list")), &recs))
	require.Len(t, recs, 2)

	for _, r := range recs {
		assert.Equal(t, "completed", r.Status)
	}

	_, _, code := e.cli(t, "transfers", "retry", recs[0].JobID)
	assert.Equal(t, exitError, code, "completed transfers are not retried")

	_, _, code = e.cli(t, "transfers", "list", "--status", "bogus")
	assert.Equal(t, exitError, code)

	e.mustCLI(t, "transfers", "prune", "--older-than", "0s")
	assert.Equal(t, "[]\n", e.mustCLI(t, "--json", "transfers", "list"))
}

func TestCLI_RetryFailedUpload(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	local := filepath.Join(t.TempDir(), "data.bin")
	require.NoError(t, os.WriteFile(local, bytes.Repeat([]byte{7}, 4096), 0o600))

	e.srv.StopUploadsAfter(0)

	_, _, code := e.cli(t, "put", local, "/Root/data.bin")
	require.Equal(t, exitError, code)

	var recs []transferJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "transfers", "list", "--status", "failed")), &recs))
	require.Len(t, recs, 1)

	e.srv.ClearFaults()
	e.mustCLI(t, "transfers", "retry", recs[0].JobID)

	var n nodeJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "stat", "/Root/data.bin")), &n))
	assert.Equal(t, int64(4096), n.Size)
}

func TestCLI_ExportAndPublicAccess(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)

	dir := t.TempDir()
	local := filepath.Join(dir, "photo.dat")
	require.NoError(t, os.WriteFile(local, []byte("public bytes"), 0o600))

	e.mustCLI(t, "mkdir", "/Root/pub")
	e.mustCLI(t, "put", local, "/Root/pub/photo.dat")

	fileURL := strings.TrimSpace(e.mustCLI(t, "export", "/Root/pub/photo.dat"))
	assert.Contains(t, fileURL, "/file/")

	// Public commands work after logout.
	e.mustCLI(t, "logout")

	var info publicInfoJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "public", "info", fileURL)), &info))
	assert.Equal(t, "photo.dat", info.Name)
	assert.Equal(t, int64(len("public bytes")), info.Size)

	out := t.TempDir()
	e.mustCLI(t, "public", "get", fileURL, out)

	got, err := os.ReadFile(filepath.Join(out, "photo.dat"))
	require.NoError(t, err)
	assert.Equal(t, "public bytes", string(got))

	e.mustCLI(t, "login", testEmail)
	folderURL := strings.TrimSpace(e.mustCLI(t, "export", "/Root/pub"))
	assert.Contains(t, folderURL, "/folder/")

	assert.Contains(t, e.mustCLI(t, "public", "ls", folderURL), "photo.dat")

	out = t.TempDir()
	e.mustCLI(t, "public", "get", folderURL, "/photo.dat", out)

	got, err = os.ReadFile(filepath.Join(out, "photo.dat"))
	require.NoError(t, err)
	assert.Equal(t, "public bytes", string(got))

	_, _, code := e.cli(t, "public", "get", folderURL)
	assert.Equal(t, exitError, code)

	_, _, code = e.cli(t, "public", "info", "https://example.com/not-a-link")
	assert.Equal(t, exitError, code)
}

func TestCLI_ShareAndContacts(t *testing.T) {
	e := newTestEnv(t)
	e.login(t)
	e.srv.AddUser("bob@example.com", "bob pw", megatest.WithCSID())
	e.srv.AddContact(testEmail, "bob@example.com")

	e.mustCLI(t, "mkdir", "/Root/team")

	_, _, code := e.cli(t, "share", "/Root/team", "bob@example.com", "--access", "admin")
	assert.Equal(t, exitError, code)

	e.mustCLI(t, "share", "/Root/team", "bob@example.com", "--access", "write")

	var n nodeJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "stat", "/Root/team")), &n))
	assert.True(t, n.Shared)

	var contacts []contactJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "contacts")), &contacts))
	require.Len(t, contacts, 1)
	assert.Equal(t, "bob@example.com", contacts[0].Email)
}

func TestCLI_Quota(t *testing.T) {
	e := newTestEnv(t)
	e.srv.AddUser(testEmail, testPassword, megatest.WithCSID(), megatest.WithQuota(1<<30))
	e.mustCLI(t, "login", testEmail)

	var q quotaJSON
	require.NoError(t, json.Unmarshal([]byte(e.mustCLI(t, "--json", "quota")), &q))
	assert.Equal(t, int64(1<<30), q.Total)
}

func TestCLI_RegisterAndVerify(t *testing.T) {
	e := newTestEnv(t)

	e.mustCLI(t, "register", "new@example.com", "--name", "Newcomer")

	statePath := filepath.Join(e.home, ".local", "share", "mega-go", "registration.state")
	_, err := os.Stat(statePath)
	require.NoError(t, err)

	_, _, code := e.cli(t, "verify", "wrong-code")
	assert.Equal(t, exitError, code)

	e.mustCLI(t, "verify", e.srv.SignupCode("new@example.com"))

	_, err = os.Stat(statePath)
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, stderr, code := e.cli(t, "verify", "anything")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, "no pending registration")
}

func TestCLI_Config(t *testing.T) {
	e := newTestEnv(t)
	cfgPath := filepath.Join(e.home, "config.toml")

	e.mustCLI(t, "config", "init")

	_, _, code := e.cli(t, "config", "init")
	assert.Equal(t, exitError, code)

	e.mustCLI(t, "config", "init", "--force")

	show := e.mustCLI(t, "--workers", "7", "config", "show")
	assert.Contains(t, show, "workers          = 7")
	assert.Contains(t, show, e.srv.URL())

	require.NoError(t, os.WriteFile(cfgPath, []byte("[transfers]\nworker = 2\n"), 0o600))

	_, stderr, code := e.cli(t, "config", "show")
	assert.Equal(t, exitError, code)
	assert.Contains(t, stderr, `did you mean "workers"`)

	// init still runs against a broken file.
	e.mustCLI(t, "config", "init", "--force")
	e.mustCLI(t, "config", "show")
}

func TestCLI_MetricsTextfile(t *testing.T) {
	e := newTestEnv(t)
	textfile := filepath.Join(e.home, "mega.prom")

	require.NoError(t, os.WriteFile(filepath.Join(e.home, "config.toml"),
		[]byte("[transfers]\nmetrics_textfile = \""+textfile+"\"\n"), 0o600))

	e.login(t)

	local := filepath.Join(t.TempDir(), "m.bin")
	require.NoError(t, os.WriteFile(local, []byte("metrics"), 0o600))
	e.mustCLI(t, "put", local, "/Root/m.bin")

	data, err := os.ReadFile(textfile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `mega_transfer_jobs_total{direction="upload",status="completed"} 1`)
}
