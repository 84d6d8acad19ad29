package media

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Merge step labels reported through the progress callback.
const (
	MergeStepReplacingAudio = "replacing-audio"
	MergeStepConcatenating  = "concatenating"
	MergeStepFinalizing     = "finalizing"
)

// ErrNoSegments is returned when the manifest lists no segments.
var ErrNoSegments = errors.New("media: manifest has no segments")

// MissingDubbedSegmentError is returned when a segment's dubbed audio
// file is absent from the dubbed directory.
type MissingDubbedSegmentError struct {
	Index int
	Path  string
}

func (e *MissingDubbedSegmentError) Error() string {
	return fmt.Sprintf("missing dubbed audio for segment %d: %s", e.Index, e.Path)
}

// MergeProgress reports merger progress to the caller.
type MergeProgress struct {
	Step    string
	Percent int
}

// MergeProgressFunc receives progress callbacks during a merge.
// It may be nil.
type MergeProgressFunc func(MergeProgress)

// Merger recombines dubbed audio with the source segments into the
// final output file.
type Merger interface {
	// Merge replaces each segment's audio track with its dubbed audio
	// from dubbedDir, concatenates the results in manifest order, and
	// writes the final file to finalPath. workDir holds intermediates.
	Merge(ctx context.Context, manifest *Manifest, dubbedDir, workDir, finalPath string, onProgress MergeProgressFunc) error
}

// Compile-time check that FFmpegMerger implements Merger.
var _ Merger = (*FFmpegMerger)(nil)

// FFmpegMerger implements Merger using the ffmpeg CLI.
type FFmpegMerger struct {
	*FFmpeg
}

// NewFFmpegMerger creates a merger backed by the given runner.
func NewFFmpegMerger(ff *FFmpeg) *FFmpegMerger {
	return &FFmpegMerger{FFmpeg: ff}
}

// Merge runs the three merge steps: replacing-audio (one ffmpeg run per
// segment, video stream copied), concatenating (concat demuxer, stream
// copy), finalizing. All dubbed files are checked up front so a missing
// segment fails fast before any work.
func (m *FFmpegMerger) Merge(ctx context.Context, manifest *Manifest, dubbedDir, workDir, finalPath string, onProgress MergeProgressFunc) error {
	if manifest == nil || len(manifest.Segments) == 0 {
		return ErrNoSegments
	}

	for _, seg := range manifest.Segments {
		dubbed := filepath.Join(dubbedDir, DubbedFilename(seg.Filename))
		if _, err := os.Stat(dubbed); err != nil {
			return &MissingDubbedSegmentError{Index: seg.Index, Path: dubbed}
		}
	}

	report := func(step string, percent int) {
		if onProgress != nil {
			onProgress(MergeProgress{Step: step, Percent: percent})
		}
	}

	total := len(manifest.Segments)
	mergedPaths := make([]string, 0, total)
	for i, seg := range manifest.Segments {
		dubbed := filepath.Join(dubbedDir, DubbedFilename(seg.Filename))
		merged := filepath.Join(workDir, fmt.Sprintf("merged_%03d.mp4", seg.Index))

		if err := m.replaceAudio(ctx, seg.Path, dubbed, merged); err != nil {
			return fmt.Errorf("replace audio for segment %d: %w", seg.Index, err)
		}
		mergedPaths = append(mergedPaths, merged)

		// replacing-audio spans the first 90% of the merge.
		report(MergeStepReplacingAudio, (i+1)*90/total)
	}

	report(MergeStepConcatenating, 90)
	if err := m.concat(ctx, mergedPaths, finalPath); err != nil {
		return fmt.Errorf("concatenate segments: %w", err)
	}

	report(MergeStepFinalizing, 100)
	return nil
}

// replaceAudio replaces a segment's audio track with the dubbed audio,
// copying the video stream. -shortest trims to the shorter input so a
// slightly long dub cannot stretch the segment.
func (m *FFmpegMerger) replaceAudio(ctx context.Context, videoPath, audioPath, outputPath string) error {
	args := []string{
		"-y",
		"-i", videoPath,
		"-i", audioPath,
		"-map", "0:v:0",
		"-map", "1:a:0",
		"-c:v", "copy",
		"-c:a", "aac",
		"-b:a", "192k",
		"-shortest",
		outputPath,
	}
	return m.run(ctx, args)
}

// concat joins the merged segments in order using the concat demuxer
// with stream copy.
func (m *FFmpegMerger) concat(ctx context.Context, paths []string, finalPath string) error {
	if len(paths) == 1 {
		return copyFile(paths[0], finalPath)
	}

	listFile, err := createConcatList(paths)
	if err != nil {
		return fmt.Errorf("create concat list: %w", err)
	}
	defer func() { _ = os.Remove(listFile) }()

	args := []string{
		"-y",
		"-f", "concat",
		"-safe", "0",
		"-i", listFile,
		"-c", "copy",
		finalPath,
	}
	return m.run(ctx, args)
}

// createConcatList writes the temporary file list consumed by ffmpeg's
// concat demuxer.
func createConcatList(paths []string) (string, error) {
	f, err := os.CreateTemp("", "ffmpeg-concat-*.txt")
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer func() { _ = f.Close() }()

	for _, path := range paths {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("get absolute path for %s: %w", path, err)
		}
		// Escape single quotes in path
		escapedPath := strings.ReplaceAll(absPath, "'", "'\\''")
		if _, err := fmt.Fprintf(f, "file '%s'\n", escapedPath); err != nil {
			return "", fmt.Errorf("write to concat list: %w", err)
		}
	}

	return f.Name(), nil
}

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	input, err := os.ReadFile(src) // #nosec G304 - src is provided by trusted internal code
	if err != nil {
		return fmt.Errorf("read source file: %w", err)
	}
	if err := os.WriteFile(dst, input, 0600); err != nil {
		return fmt.Errorf("write destination file: %w", err)
	}
	return nil
}
