package download

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPDownloader_Download(t *testing.T) {
	body := strings.Repeat("x", 4096)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Declare the length explicitly: the body exceeds net/http's
		// buffering threshold, so the server would otherwise respond
		// chunked and this test would exercise the unknown-length path.
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		_, _ = w.Write([]byte(body))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "source.mp4")
	var last Progress
	d := NewHTTPDownloader()
	err := d.Download(context.Background(), srv.URL, dest, func(p Progress) { last = p })

	require.NoError(t, err)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, body, string(got))
	assert.Equal(t, int64(len(body)), last.BytesReceived)
	assert.Equal(t, int64(len(body)), last.TotalBytes)
	assert.Equal(t, 100, last.Percent)
}

func TestHTTPDownloader_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	d := NewHTTPDownloader()
	err := d.Download(context.Background(), srv.URL, filepath.Join(t.TempDir(), "out"), nil)

	var statusErr *HTTPStatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.Status)
}

func TestHTTPDownloader_UnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Chunked response, no Content-Length.
		f := w.(http.Flusher)
		_, _ = w.Write([]byte("part one "))
		f.Flush()
		_, _ = w.Write([]byte("part two"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	var last Progress
	d := NewHTTPDownloader()
	require.NoError(t, d.Download(context.Background(), srv.URL, dest, func(p Progress) { last = p }))

	assert.Equal(t, int64(len("part one part two")), last.BytesReceived)
	assert.Equal(t, int64(0), last.TotalBytes)
	assert.Equal(t, -1, last.Percent)
}

func TestHTTPDownloader_ResumeSendsRange(t *testing.T) {
	var gotRange string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotRange = r.Header.Get("Range")
		w.Header().Set("Content-Range", "bytes 4-7/8")
		w.WriteHeader(http.StatusPartialContent)
		_, _ = w.Write([]byte("tail"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(dest, []byte("head"), 0600))

	d := NewHTTPDownloader(WithResume(true))
	require.NoError(t, d.Download(context.Background(), srv.URL, dest, nil))

	assert.Equal(t, "bytes=4-", gotRange)
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "headtail", string(got))
}

func TestHTTPDownloader_ResumeIgnoredByServer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("full body"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(dest, []byte("stale partial"), 0600))

	d := NewHTTPDownloader(WithResume(true))
	require.NoError(t, d.Download(context.Background(), srv.URL, dest, nil))

	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "full body", string(got))
}

func TestHTTPDownloader_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	d := NewHTTPDownloader()
	err := d.Download(ctx, srv.URL, filepath.Join(t.TempDir(), "out"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
