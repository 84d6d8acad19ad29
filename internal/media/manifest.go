package media

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ManifestVersion is the current manifest schema version.
const ManifestVersion = 1

// ManifestFilename is the name of the manifest file inside the
// segments directory.
const ManifestFilename = "manifest.json"

// ErrManifestWrite is returned when the manifest cannot be committed.
var ErrManifestWrite = errors.New("media: manifest write failed")

// Segment describes one time-contiguous slice of the source media.
type Segment struct {
	// Index is the 0-based, contiguous position in the sequence.
	Index int `json:"index"`
	// Filename is the segment's file name inside the segments dir.
	Filename string `json:"filename"`
	// StartTime is the slice start offset in seconds.
	StartTime float64 `json:"startTime"`
	// EndTime is the slice end offset in seconds.
	EndTime float64 `json:"endTime"`
	// Duration is EndTime - StartTime in seconds.
	Duration float64 `json:"duration"`
	// Path is the absolute on-disk path of the segment file.
	Path string `json:"path"`
}

// Manifest is the splitter's commit record enumerating a job's
// segments. It is written atomically so readers never observe a
// partial manifest.
type Manifest struct {
	Version         int       `json:"version"`
	JobID           string    `json:"jobId"`
	TotalCount      int       `json:"totalCount"`
	SegmentDuration int       `json:"segmentDuration"`
	Segments        []Segment `json:"segments"`
}

// WriteManifest commits the manifest into dir via write-to-temp,
// fsync, and rename so a concurrent reader sees either the old file
// or the complete new one.
func WriteManifest(dir string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal: %w", ErrManifestWrite, err)
	}

	tmp, err := os.CreateTemp(dir, ManifestFilename+".tmp-*")
	if err != nil {
		return fmt.Errorf("%w: create temp: %w", ErrManifestWrite, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: write: %w", ErrManifestWrite, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: sync: %w", ErrManifestWrite, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: close: %w", ErrManifestWrite, err)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, ManifestFilename)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("%w: rename: %w", ErrManifestWrite, err)
	}

	return nil
}

// ReadManifest loads the manifest committed in dir.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFilename)) // #nosec G304 - dir is an internal workspace path
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}

	return &m, nil
}

// ManifestExists reports whether a committed manifest is present in dir.
func ManifestExists(dir string) bool {
	_, err := os.Stat(filepath.Join(dir, ManifestFilename))
	return err == nil
}

// ChunkFilename returns the canonical name of segment i, e.g.
// ChunkFilename(2, "mp4") -> "chunk_002.mp4".
func ChunkFilename(i int, ext string) string {
	return fmt.Sprintf("chunk_%03d.%s", i, strings.TrimPrefix(ext, "."))
}

// DubbedFilename derives the dubbed-audio file name for a segment file,
// e.g. "chunk_002.mp4" -> "chunk_002_dubbed.mp3". The worker pool
// writes these names and the merger reads them back.
func DubbedFilename(segmentFilename string) string {
	stem := strings.TrimSuffix(segmentFilename, filepath.Ext(segmentFilename))
	return stem + "_dubbed.mp3"
}
