// Package download streams HTTP resources to local files with
// byte-based progress reporting.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"time"
)

// HTTPStatusError is returned for non-2xx responses.
type HTTPStatusError struct {
	Status int
	URL    string
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("download: unexpected status %d for %s", e.Status, e.URL)
}

// Progress reports download progress. TotalBytes is zero when the
// server did not send Content-Length; Percent is -1 in that case.
type Progress struct {
	BytesReceived int64
	TotalBytes    int64
	Percent       int
}

// ProgressFunc receives progress callbacks. It may be nil.
type ProgressFunc func(Progress)

// Downloader streams a URL into a local file.
type Downloader interface {
	// Download fetches url into destPath, reporting progress.
	Download(ctx context.Context, url, destPath string, onProgress ProgressFunc) error
}

// Compile-time check that HTTPDownloader implements Downloader.
var _ Downloader = (*HTTPDownloader)(nil)

// HTTPDownloader implements Downloader over net/http. The caller
// decides retry policy; a failed download returns the error as-is.
type HTTPDownloader struct {
	httpClient *http.Client
	resume     bool
}

// Option is a function that configures an HTTPDownloader.
type Option func(*HTTPDownloader)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(d *HTTPDownloader) {
		d.httpClient = c
	}
}

// WithResume enables Range-based resumption of partial files.
func WithResume(enabled bool) Option {
	return func(d *HTTPDownloader) {
		d.resume = enabled
	}
}

// NewHTTPDownloader creates a downloader. The default client has no
// overall timeout; cancellation comes from the request context.
func NewHTTPDownloader(opts ...Option) *HTTPDownloader {
	d := &HTTPDownloader{
		httpClient: &http.Client{
			Transport: &http.Transport{
				ResponseHeaderTimeout: 30 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Download streams the response body into destPath. When resume is
// enabled and a partial file exists, a Range request continues from
// its end; servers that ignore the Range restart from scratch.
func (d *HTTPDownloader) Download(ctx context.Context, url, destPath string, onProgress ProgressFunc) error {
	var offset int64
	if d.resume {
		if info, err := os.Stat(destPath); err == nil {
			offset = info.Size()
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("download: create request: %w", err)
	}
	if offset > 0 {
		req.Header.Set("Range", "bytes="+strconv.FormatInt(offset, 10)+"-")
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download: request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		// Full body; any partial file is restarted.
		offset = 0
	case http.StatusPartialContent:
	default:
		return &HTTPStatusError{Status: resp.StatusCode, URL: url}
	}

	flags := os.O_CREATE | os.O_WRONLY
	if offset > 0 {
		flags |= os.O_APPEND
	} else {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(destPath, flags, 0600) // #nosec G304 - destPath is an internal workspace path
	if err != nil {
		return fmt.Errorf("download: open destination: %w", err)
	}

	total := int64(0)
	if resp.ContentLength > 0 {
		total = offset + resp.ContentLength
	}

	pw := &progressWriter{
		received:   offset,
		total:      total,
		onProgress: onProgress,
	}

	if _, err := io.Copy(io.MultiWriter(f, pw), resp.Body); err != nil {
		_ = f.Close()
		if ctx.Err() != nil {
			return fmt.Errorf("download: cancelled: %w", ctx.Err())
		}
		return fmt.Errorf("download: stream body: %w", err)
	}

	if err := f.Close(); err != nil {
		return fmt.Errorf("download: close destination: %w", err)
	}

	pw.flush()
	return nil
}

// progressWriter counts bytes and throttles callbacks to percent
// changes (or 256 KiB steps when the total is unknown).
type progressWriter struct {
	received   int64
	total      int64
	lastReport int64
	onProgress ProgressFunc
}

const unknownTotalStep = 256 * 1024

func (w *progressWriter) Write(p []byte) (int, error) {
	w.received += int64(len(p))
	if w.onProgress == nil {
		return len(p), nil
	}

	if w.total > 0 {
		if (w.received-w.lastReport)*100 >= w.total {
			w.report()
		}
	} else if w.received-w.lastReport >= unknownTotalStep {
		w.report()
	}
	return len(p), nil
}

// flush emits the final progress callback.
func (w *progressWriter) flush() {
	if w.onProgress != nil {
		w.report()
	}
}

func (w *progressWriter) report() {
	w.lastReport = w.received
	p := Progress{BytesReceived: w.received, TotalBytes: w.total, Percent: -1}
	if w.total > 0 {
		p.Percent = int(w.received * 100 / w.total)
		if p.Percent > 100 {
			p.Percent = 100
		}
	}
	w.onProgress(p)
}
