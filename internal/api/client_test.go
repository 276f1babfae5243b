package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// noopSleep is a sleep function that returns immediately, for fast tests.
func noopSleep(_ context.Context, _ time.Duration) error {
	return nil
}

// newTestClient creates a Client pointing at the given httptest server
// with instant retry sleeps for fast tests.
func newTestClient(t *testing.T, url string) *Client {
	t.Helper()

	c := NewClient(Options{BaseURL: url, UserAgent: "test-agent"})
	c.sleepFunc = noopSleep

	return c
}

func decodeCommand(t *testing.T, r *http.Request) map[string]any {
	t.Helper()

	var cmds []map[string]any
	require.NoError(t, json.NewDecoder(r.Body).Decode(&cmds))
	require.Len(t, cmds, 1)

	return cmds[0]
}

func TestCall_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/cs", r.URL.Path)
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		assert.NotEmpty(t, r.URL.Query().Get("id"))

		cmd := decodeCommand(t, r)
		assert.Equal(t, "us0", cmd["a"])
		assert.Equal(t, "alice@example.com", cmd["user"])

		_, _ = w.Write([]byte(`[{"v":2,"s":"c2FsdA"}]`))
	}))
	defer srv.Close()

	resp, err := newTestClient(t, srv.URL).Prelogin(context.Background(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Version)
	assert.Equal(t, "c2FsdA", resp.Salt)
}

func TestCall_SessionAndFolderParams(t *testing.T) {
	var gotSID, gotFolder atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotSID.Store(r.URL.Query().Get("sid"))
		gotFolder.Store(r.URL.Query().Get("n"))
		_, _ = w.Write([]byte(`[{"f":[]}]`))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.SetSessionID("session-1")

	_, err := c.FetchNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "session-1", gotSID.Load())
	assert.Equal(t, "", gotFolder.Load())

	_, err = c.WithFolder("ph123").FetchNodes(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "", gotSID.Load())
	assert.Equal(t, "ph123", gotFolder.Load())
}

func TestCall_ErrorCodes(t *testing.T) {
	tests := []struct {
		name     string
		body     string
		sentinel error
		code     int
	}{
		{"bare code", `-9`, ErrNotFound, CodeNotFound},
		{"array code", `[-12]`, ErrExists, CodeExists},
		{"session", `-15`, ErrSession, CodeSession},
		{"unknown", `-99`, ErrUnknownCode, -99},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			err := newTestClient(t, srv.URL).Delete(context.Background(), "h")
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.sentinel)

			var apiErr *APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, "d", apiErr.Action)
		})
	}
}

func TestCall_RetriesAgain(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			_, _ = w.Write([]byte(`-3`))
			return
		}

		_, _ = w.Write([]byte(`[{"mstrg":100,"cstrg":40}]`))
	}))
	defer srv.Close()

	q, err := newTestClient(t, srv.URL).Quota(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100), q.Total)
	assert.Equal(t, int64(40), q.Used)
	assert.Equal(t, int32(3), calls.Load())
}

func TestCall_ServerErrorExhaustsRetries(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Quota(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNetwork)
	assert.True(t, IsRetryable(err))
	assert.Equal(t, int32(maxRetries+1), calls.Load())
}

func TestCall_NoRetryOnPermanentCode(t *testing.T) {
	var calls atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		_, _ = w.Write([]byte(`-4`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).Login(context.Background(), "a@b.c", "hash")
	assert.ErrorIs(t, err, ErrRateLimit)
	assert.False(t, IsRetryable(err))
	assert.Equal(t, int32(1), calls.Load())
}

func TestCall_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{not json`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).UserInfo(context.Background())
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestCall_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newTestClient(t, srv.URL).Quota(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPutNodes_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cmd := decodeCommand(t, r)
		assert.Equal(t, "p", cmd["a"])
		assert.Equal(t, "parent", cmd["t"])
		_, _ = w.Write([]byte(`[{"f":[]}]`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).PutNodes(context.Background(), "parent",
		[]NewNode{{Handle: PlaceholderHandle, Type: NodeFolder}}, "")
	assert.ErrorIs(t, err, ErrNetwork)
}

func TestDownloadURL_ErrorField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"e":-11}]`))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).DownloadURL(context.Background(), "h")
	assert.ErrorIs(t, err, ErrAccess)
}

func TestUploadChunk(t *testing.T) {
	var got []byte

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/ul/abc/1024", r.URL.Path)

		got, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte("completion-token"))
	}))
	defer srv.Close()

	tok, err := newTestClient(t, srv.URL).UploadChunk(context.Background(), srv.URL+"/ul/abc", 1024, []byte("data"))
	require.NoError(t, err)
	assert.Equal(t, "completion-token", tok)
	assert.Equal(t, []byte("data"), got)
}

func TestUploadChunk_ExpiredURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("-8"))
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv.URL).UploadChunk(context.Background(), srv.URL+"/ul/x", 0, []byte("d"))
	assert.ErrorIs(t, err, ErrExpired)
	assert.False(t, IsRetryable(err))
}

func TestDownloadChunk(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/dl/f/16-31":
			_, _ = w.Write(make([]byte, 16))
		case "/dl/short/0-15":
			_, _ = w.Write(make([]byte, 3))
		default:
			w.WriteHeader(http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	data, err := c.DownloadChunk(context.Background(), srv.URL+"/dl/f", 16, 32)
	require.NoError(t, err)
	assert.Len(t, data, 16)

	_, err = c.DownloadChunk(context.Background(), srv.URL+"/dl/short", 0, 16)
	assert.ErrorIs(t, err, ErrNetwork)

	_, err = c.DownloadChunk(context.Background(), srv.URL+"/dl/other", 0, 16)
	assert.ErrorIs(t, err, ErrNetwork)

	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
}

func TestUploadFileAttr(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte{1, 2, 3, 4, 5, 6, 7, 8})
	}))
	defer srv.Close()

	h, err := newTestClient(t, srv.URL).UploadFileAttr(context.Background(), srv.URL+"/fa", []byte("thumb"))
	require.NoError(t, err)
	assert.Equal(t, b64([]byte{1, 2, 3, 4, 5, 6, 7, 8}), h)
}

func TestParseProxy(t *testing.T) {
	for _, ok := range []string{"http://proxy:3128", "https://proxy", "socks5://127.0.0.1:1080"} {
		_, err := ParseProxy(ok)
		assert.NoError(t, err, ok)
	}

	for _, bad := range []string{"ftp://proxy", "socks5://", "::"} {
		_, err := ParseProxy(bad)
		assert.Error(t, err, bad)
	}

	c, err := NewHTTPClient("socks5://127.0.0.1:1080", time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Second, c.Timeout)
}
