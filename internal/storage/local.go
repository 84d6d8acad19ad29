package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalPublisher implements Publisher on the local disk. The returned
// URL is the published file's absolute path, suitable for serving from
// the same host.
type LocalPublisher struct {
	dir string
}

// Compile-time check that LocalPublisher implements Publisher.
var _ Publisher = (*LocalPublisher)(nil)

// NewLocalPublisher creates a publisher rooted at dir; the directory
// is created if it doesn't exist. An empty dir defaults to a
// "published" directory under os.TempDir().
func NewLocalPublisher(dir string) (*LocalPublisher, error) {
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "dubflow-published")
	}

	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create publish directory: %w", err)
	}

	return &LocalPublisher{dir: dir}, nil
}

// Dir returns the publish root.
func (p *LocalPublisher) Dir() string {
	return p.dir
}

// Publish copies localPath into <dir>/<jobID>/<filename> and returns
// the destination path.
func (p *LocalPublisher) Publish(ctx context.Context, jobID, localPath string) (string, error) {
	select {
	case <-ctx.Done():
		return "", fmt.Errorf("context cancelled: %w", ctx.Err())
	default:
	}

	src, err := os.Open(localPath) // #nosec G304 - path is an internal workspace path
	if err != nil {
		return "", fmt.Errorf("open final video: %w", err)
	}
	defer func() { _ = src.Close() }()

	jobDir := filepath.Join(p.dir, jobID)
	if err := os.MkdirAll(jobDir, 0750); err != nil {
		return "", fmt.Errorf("create job publish directory: %w", err)
	}

	destPath := filepath.Join(jobDir, filepath.Base(localPath))
	dest, err := os.Create(destPath) // #nosec G304 - destination is under the publish root
	if err != nil {
		return "", fmt.Errorf("create published file: %w", err)
	}

	if _, err := io.Copy(dest, src); err != nil {
		_ = dest.Close()
		_ = os.Remove(destPath)
		return "", fmt.Errorf("copy final video: %w", err)
	}
	if err := dest.Close(); err != nil {
		_ = os.Remove(destPath)
		return "", fmt.Errorf("close published file: %w", err)
	}

	return destPath, nil
}
