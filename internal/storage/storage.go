// Package storage publishes finished videos to their final home. It
// defines the Publisher port plus local-disk and S3 implementations.
package storage

import (
	"context"
	"errors"
)

// ErrS3NotConfigured is returned when S3 publishing is attempted
// without proper configuration.
var ErrS3NotConfigured = errors.New("storage: S3 publishing is not configured")

// Publisher stores a job's final video and returns a reference the
// client can fetch it from.
type Publisher interface {
	// Publish copies the file at localPath to its final destination
	// under the job's namespace and returns its URL.
	Publish(ctx context.Context, jobID, localPath string) (url string, err error)
}
