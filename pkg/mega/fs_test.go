package mega

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/mega-go/pkg/megacrypto"
)

func TestMkdir_CreatesAndConflicts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "mk@example.com")
	ctx := context.Background()

	n, err := s.Mkdir(ctx, "/Root/photos")
	require.NoError(t, err)
	assert.True(t, n.IsFolder())
	assert.True(t, srv.HasNode(n.Handle))
	assert.Equal(t, n.Handle, s.Stat("/Root/photos").Handle)

	_, err = s.Mkdir(ctx, "/Root/photos/2024")
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, "/Root/photos")
	assert.ErrorIs(t, err, ErrConflict)

	_, err = s.Mkdir(ctx, "/Root/missing/child")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = s.Mkdir(ctx, "/Root/bad/..")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	// The folders survive a fresh listing.
	require.NoError(t, s.Refresh(ctx))
	assert.NotNil(t, s.Stat("/Root/photos/2024"))
}

func TestRename_KeepsNodeAndChecksSiblings(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "rn@example.com")
	ctx := context.Background()

	a, err := s.Mkdir(ctx, "/Root/a")
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, "/Root/b")
	require.NoError(t, err)

	require.NoError(t, s.Rename(ctx, "/Root/a", "renamed"))
	assert.Nil(t, s.Stat("/Root/a"))
	assert.Equal(t, a.Handle, s.Stat("/Root/renamed").Handle)

	assert.ErrorIs(t, s.Rename(ctx, "/Root/renamed", "b"), ErrConflict)
	assert.ErrorIs(t, s.Rename(ctx, "/Root/renamed", "x/y"), ErrInvalidArgument)

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, a.Handle, s.Stat("/Root/renamed").Handle)
}

func TestMv_MovesFileIntoFolder(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	srv.AddUser("mv@example.com", "pw")

	cfg := testConfig(t, srv)
	cfg.ChunkSize = 65536
	cfg.macSchedule = megacrypto.StandardSchedule

	ctx := context.Background()

	s, err := Login(ctx, "mv@example.com", "pw", cfg)
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, "/Root/a")
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, "/Root/b")
	require.NoError(t, err)

	data := uploadBytes(t, s, "/Root/a/report.pdf", 500000)
	orig := s.Stat("/Root/a/report.pdf")
	require.NotNil(t, orig)

	require.NoError(t, s.Mv(ctx, "/Root/a/report.pdf", "/Root/b"))

	moved := s.Stat("/Root/b/report.pdf")
	require.NotNil(t, moved)
	assert.Equal(t, orig.Handle, moved.Handle)
	assert.Equal(t, int64(500000), moved.Size)
	assert.Nil(t, s.Stat("/Root/a/report.pdf"))

	require.NoError(t, s.Refresh(ctx))
	require.NotNil(t, s.Stat("/Root/b/report.pdf"))

	local := filepath.Join(t.TempDir(), "report.pdf")
	require.NoError(t, s.Download(ctx, "/Root/b/report.pdf", local))

	got, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestMv_RenamesWhenTargetMissing(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "mv2@example.com")
	ctx := context.Background()

	_, err := s.Mkdir(ctx, "/Root/a")
	require.NoError(t, err)

	n, err := s.Mkdir(ctx, "/Root/a/inner")
	require.NoError(t, err)

	_, err = s.Mkdir(ctx, "/Root/b")
	require.NoError(t, err)

	require.NoError(t, s.Mv(ctx, "/Root/a/inner", "/Root/b/outer"))
	assert.Equal(t, n.Handle, s.Stat("/Root/b/outer").Handle)

	require.NoError(t, s.Refresh(ctx))
	assert.Equal(t, n.Handle, s.Stat("/Root/b/outer").Handle)
	assert.Nil(t, s.Stat("/Root/a/inner"))
}

func TestMv_Conflicts(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "mv3@example.com")
	ctx := context.Background()

	for _, p := range []string{"/Root/a", "/Root/a/sub", "/Root/b", "/Root/b/sub"} {
		_, err := s.Mkdir(ctx, p)
		require.NoError(t, err)
	}

	assert.ErrorIs(t, s.Mv(ctx, "/Root/a", "/Root/a/sub"), ErrConflict)
	assert.ErrorIs(t, s.Mv(ctx, "/Root/a", "/Root/a"), ErrConflict)
	assert.ErrorIs(t, s.Mv(ctx, "/Root/a/sub", "/Root/b"), ErrConflict)
	assert.ErrorIs(t, s.Mv(ctx, "/Root/missing", "/Root/b"), ErrNotFound)

	// Moving a node onto its own location changes nothing.
	before := srv.CommandCount()
	require.NoError(t, s.Mv(ctx, "/Root/a/sub", "/Root/a"))
	assert.Equal(t, before, srv.CommandCount())
}

func TestRm_TrashThenDelete(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "rm@example.com")
	ctx := context.Background()

	n, err := s.Mkdir(ctx, "/Root/junk")
	require.NoError(t, err)

	require.NoError(t, s.Rm(ctx, "/Root/junk"))
	assert.Nil(t, s.Stat("/Root/junk"))
	assert.Equal(t, n.Handle, s.Stat("/Trash/junk").Handle)
	assert.True(t, srv.HasNode(n.Handle))

	require.NoError(t, s.Rm(ctx, "/Trash/junk"))
	assert.Nil(t, s.Stat("/Trash/junk"))
	assert.False(t, srv.HasNode(n.Handle))

	require.NoError(t, s.Refresh(ctx))
	assert.Nil(t, s.Stat("/Trash/junk"))
}

func TestFS_RootsAreImmutable(t *testing.T) {
	t.Parallel()

	srv := newTestServer(t)
	s := loginNew(t, srv, "ro@example.com")
	ctx := context.Background()

	_, err := s.Mkdir(ctx, "/Root/a")
	require.NoError(t, err)

	before := srv.CommandCount()

	assert.ErrorIs(t, s.Rm(ctx, "/Root"), ErrInvalidArgument)
	assert.ErrorIs(t, s.Rm(ctx, "/Trash"), ErrInvalidArgument)
	assert.ErrorIs(t, s.Rename(ctx, "/Inbox", "x"), ErrInvalidArgument)
	assert.ErrorIs(t, s.Mv(ctx, "/Root", "/Root/a"), ErrInvalidArgument)
	assert.ErrorIs(t, s.Rm(ctx, "relative"), ErrInvalidArgument)

	assert.Equal(t, before, srv.CommandCount())
}
