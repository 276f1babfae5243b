//go:build e2e

package e2e

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/megatest"
	"github.com/tonimelisma/mega-go/testutil"
)

// Live runs are selected by setting these (directly or in .env).
const (
	envLiveEmail    = "MEGA_GO_E2E_EMAIL"
	envLivePassword = "MEGA_GO_E2E_PASSWORD"
)

const (
	fakeEmail    = "e2e@example.com"
	fakePassword = "e2e password"
)

var (
	binaryPath string

	// account and password are what the suite logs in with.
	account  string
	password string

	// live is false when the suite runs against the in-process fake.
	live bool

	// realHomeDir holds the original HOME before isolation overrides it.
	realHomeDir string
)

// productionEnv lists the app variables that could leak a real config or
// session into the tests.
var productionEnv = []string{
	"MEGA_GO_CONFIG",
	"MEGA_GO_SESSION_FILE",
	"MEGA_GO_BASE_URL",
	"MEGA_GO_PROXY",
	"MEGA_GO_LOG_LEVEL",
	"MEGA_GO_EMAIL",
	"MEGA_GO_PASSWORD",
}

func TestMain(m *testing.M) {
	os.Exit(runMain(m))
}

func runMain(m *testing.M) int {
	moduleRoot := testutil.FindModuleRoot("..")
	testutil.LoadDotEnv(filepath.Join(moduleRoot, ".env"))

	tmpDir, err := os.MkdirTemp("", "mega-go-e2e-bin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating temp dir: %v\n", err)
		return 1
	}
	defer os.RemoveAll(tmpDir)

	binaryPath = filepath.Join(tmpDir, "mega-go")

	build := exec.Command("go", "build", "-o", binaryPath, ".")
	build.Dir = moduleRoot
	build.Stdout = os.Stdout
	build.Stderr = os.Stderr

	if err := build.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "building binary: %v\n", err)
		return 1
	}

	baseURL := ""

	if os.Getenv(envLiveEmail) != "" {
		testutil.ValidateAllowlist(envLiveEmail)

		live = true
		account = os.Getenv(envLiveEmail)
		password = os.Getenv(envLivePassword)
	} else {
		srv := megatest.New()
		defer srv.Close()

		srv.AddUser(fakeEmail, fakePassword, megatest.WithCSID())

		account, password, baseURL = fakeEmail, fakePassword, srv.URL()
	}

	cleanup := setupIsolation(baseURL)
	defer cleanup()

	if out, err := cliCommand([]string{"MEGA_GO_PASSWORD=" + password}, "login", account).CombinedOutput(); err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: login as %s failed: %v\n%s", account, err, out)
		return 1
	}

	fmt.Fprintf(os.Stderr, "E2E: account=%s live=%t\n", account, live)

	code := m.Run()

	_ = cliCommand(nil, "logout").Run()

	return code
}

// setupIsolation points HOME and the XDG directories at a temp root so the
// binary never reads or writes the real config, session or history.
func setupIsolation(baseURL string) func() {
	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: cannot determine home dir: %v\n", err)
		os.Exit(1)
	}

	realHomeDir = home

	for _, v := range productionEnv {
		os.Unsetenv(v)
	}

	tempRoot, err := os.MkdirTemp("", "mega-go-e2e-isolation-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: creating isolation temp dir: %v\n", err)
		os.Exit(1)
	}

	dirs := map[string]string{
		"HOME":            filepath.Join(tempRoot, "home"),
		"XDG_CONFIG_HOME": filepath.Join(tempRoot, "config"),
		"XDG_DATA_HOME":   filepath.Join(tempRoot, "data"),
		"XDG_CACHE_HOME":  filepath.Join(tempRoot, "cache"),
	}

	for env, d := range dirs {
		if mkErr := os.MkdirAll(d, 0o755); mkErr != nil {
			fmt.Fprintf(os.Stderr, "FATAL: creating dir %s: %v\n", d, mkErr)
			os.Exit(1)
		}

		os.Setenv(env, d)
	}

	if baseURL != "" {
		os.Setenv("MEGA_GO_BASE_URL", baseURL)
	}

	verifyIsolation(tempRoot)

	return func() {
		os.RemoveAll(tempRoot)
	}
}

// verifyIsolation hard-crashes the process if any production path could leak
// into test execution. Runs before m.Run so no test executes when isolation
// is broken.
func verifyIsolation(tempRoot string) {
	crash := func(msg string) {
		fmt.Fprintf(os.Stderr, "FATAL: isolation check failed: %s\n", msg)
		os.Exit(1)
	}

	for _, v := range productionEnv {
		if v != "MEGA_GO_BASE_URL" && os.Getenv(v) != "" {
			crash(v + " is set")
		}
	}

	for _, v := range []string{"HOME", "XDG_DATA_HOME", "XDG_CONFIG_HOME", "XDG_CACHE_HOME"} {
		val := os.Getenv(v)
		if val == "" || !strings.HasPrefix(val, tempRoot) {
			crash(v + " not overridden to temp dir")
		}
	}

	homeDir, _ := os.UserHomeDir()
	if !strings.HasPrefix(homeDir, tempRoot) {
		crash("UserHomeDir() returns " + homeDir + " (not under temp)")
	}
}

func cliCommand(extraEnv []string, args ...string) *exec.Cmd {
	cmd := exec.Command(binaryPath, args...)
	cmd.Env = append(os.Environ(), extraEnv...)

	return cmd
}

// runCLI runs the binary and fails the test on a non-zero exit.
func runCLI(t *testing.T, args ...string) (string, string) {
	t.Helper()

	stdout, stderr, err := execCLI(args...)
	if err != nil {
		t.Fatalf("mega-go %v failed: %v\nstdout: %s\nstderr: %s", args, err, stdout, stderr)
	}

	return stdout, stderr
}

// runCLIExpectError runs the binary and returns its exit code, failing the
// test if it succeeded.
func runCLIExpectError(t *testing.T, args ...string) (int, string) {
	t.Helper()

	_, stderr, err := execCLI(args...)

	var exitErr *exec.ExitError
	require.ErrorAs(t, err, &exitErr, "mega-go %v should fail", args)

	return exitErr.ExitCode(), stderr
}

func execCLI(args ...string) (string, string, error) {
	cmd := cliCommand(nil, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	return stdout.String(), stderr.String(), err
}

func TestIsolation_HomeOverridden(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)
	assert.NotEqual(t, realHomeDir, home, "HOME should be overridden to temp dir")
}

func TestIsolation_XDGDirs(t *testing.T) {
	for _, v := range []string{"XDG_DATA_HOME", "XDG_CONFIG_HOME", "XDG_CACHE_HOME"} {
		xdg := os.Getenv(v)
		assert.NotEmpty(t, xdg, "%s should be set", v)
		assert.NotContains(t, xdg, realHomeDir, "%s should not be under real home", v)
	}
}

// TestIsolation_BinaryResolvesTemp checks that the binary resolves every
// path under the isolation root.
func TestIsolation_BinaryResolvesTemp(t *testing.T) {
	stdout, stderr := runCLI(t, "config", "show")

	assert.NotContains(t, stdout, realHomeDir)
	assert.NotContains(t, stderr, realHomeDir)
	assert.Contains(t, stdout, os.Getenv("XDG_DATA_HOME"))
	assert.Contains(t, stdout, os.Getenv("XDG_CACHE_HOME"))
}
