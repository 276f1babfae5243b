package mega

import (
	"context"
	"crypto/rand"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/internal/megatest"
	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

// testChunkSize keeps request counts meaningful for small test files.
const testChunkSize = 64

// testSchedule shrinks MAC chunks to a 16-byte unit so small files span
// many of them.
var testSchedule = megacrypto.Schedule{Unit: 16}

// batchCount returns how many storage requests a file of size bytes takes
// under testConfig.
func batchCount(size int) int {
	return len(testSchedule.Batches(int64(size), testChunkSize))
}

// noopSleep skips retry backoff in tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

func testLogger(t *testing.T) *slog.Logger {
	t.Helper()
	return slog.New(slog.DiscardHandler)
}

func newTestServer(t *testing.T) *megatest.Server {
	t.Helper()

	srv := megatest.New()
	t.Cleanup(srv.Close)

	return srv
}

func testConfig(t *testing.T, srv *megatest.Server) Config {
	t.Helper()

	return Config{
		BaseURL:     srv.URL(),
		ResumeDir:   t.TempDir(),
		ChunkSize:   testChunkSize,
		Workers:     3,
		RSAKeyBits:  1024,
		Logger:      testLogger(t),
		sleepFunc:   noopSleep,
		macSchedule: testSchedule,
	}
}

func testPassword(email string) string {
	return "pw-" + email
}

// loginNew creates an account on srv and logs in to it.
func loginNew(t *testing.T, srv *megatest.Server, email string, opts ...megatest.UserOption) *Session {
	t.Helper()

	srv.AddUser(email, testPassword(email), opts...)

	s, err := Login(context.Background(), email, testPassword(email), testConfig(t, srv))
	require.NoError(t, err)

	return s
}

// writeRandomFile creates a file of size random bytes.
func writeRandomFile(t *testing.T, dir, name string, size int) (string, []byte) {
	t.Helper()

	data := make([]byte, size)
	_, err := rand.Read(data)
	require.NoError(t, err)

	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path, data
}

// uploadBytes uploads random content to remote and returns it.
func uploadBytes(t *testing.T, s *Session, remote string, size int) []byte {
	t.Helper()

	local, data := writeRandomFile(t, t.TempDir(), "src.bin", size)

	_, err := s.Upload(context.Background(), local, remote)
	require.NoError(t, err)

	return data
}
