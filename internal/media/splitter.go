package media

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
)

// SplitOpts configures the fixed-duration split.
type SplitOpts struct {
	// SegmentDuration is the duration of each segment in seconds.
	// The last segment may be shorter.
	SegmentDuration int
}

// SplitProgress reports split progress to the caller.
type SplitProgress struct {
	Processed      int
	Total          int
	CurrentSegment string
}

// SplitProgressFunc receives progress callbacks during a split.
// It may be nil.
type SplitProgressFunc func(SplitProgress)

// Splitter divides a source video into contiguous segments and commits
// the manifest describing them.
type Splitter interface {
	// Split cuts inputPath into fixed-duration segments inside
	// outputDir, writes the manifest there, and returns it.
	Split(ctx context.Context, inputPath, outputDir, jobID string, opts SplitOpts, onProgress SplitProgressFunc) (*Manifest, error)
}

// Compile-time check that FFmpegSplitter implements Splitter.
var _ Splitter = (*FFmpegSplitter)(nil)

// FFmpegSplitter implements Splitter using the ffmpeg CLI with
// stream-copy extraction, so no re-encode happens.
type FFmpegSplitter struct {
	*FFmpeg
}

// NewFFmpegSplitter creates a splitter backed by the given runner.
func NewFFmpegSplitter(ff *FFmpeg) *FFmpegSplitter {
	return &FFmpegSplitter{FFmpeg: ff}
}

// Split cuts the input into segments of opts.SegmentDuration seconds,
// covering [0, totalDuration] contiguously. Each segment is extracted
// with stream copy and its timestamps reset to zero so it plays back
// independently. The manifest is written atomically as the last step.
func (s *FFmpegSplitter) Split(ctx context.Context, inputPath, outputDir, jobID string, opts SplitOpts, onProgress SplitProgressFunc) (*Manifest, error) {
	if opts.SegmentDuration <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidSegmentDuration, opts.SegmentDuration)
	}
	if _, err := os.Stat(inputPath); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrInputNotReadable, inputPath, err)
	}

	totalDuration, err := s.Duration(ctx, inputPath)
	if err != nil {
		return nil, fmt.Errorf("probe input duration: %w", err)
	}

	segDur := float64(opts.SegmentDuration)
	total := int(math.Ceil(totalDuration / segDur))
	if total < 1 {
		total = 1
	}

	ext := filepath.Ext(inputPath)
	if ext == "" {
		ext = ".mp4"
	}

	segments := make([]Segment, 0, total)
	for i := 0; i < total; i++ {
		start := float64(i) * segDur
		end := math.Min(start+segDur, totalDuration)
		filename := ChunkFilename(i, ext)
		outPath := filepath.Join(outputDir, filename)

		if err := s.extractSegment(ctx, inputPath, outPath, start, end-start); err != nil {
			return nil, fmt.Errorf("extract segment %d: %w", i, err)
		}

		segments = append(segments, Segment{
			Index:     i,
			Filename:  filename,
			StartTime: start,
			EndTime:   end,
			Duration:  end - start,
			Path:      outPath,
		})

		if onProgress != nil {
			onProgress(SplitProgress{
				Processed:      i + 1,
				Total:          total,
				CurrentSegment: filename,
			})
		}
	}

	manifest := &Manifest{
		Version:         ManifestVersion,
		JobID:           jobID,
		TotalCount:      len(segments),
		SegmentDuration: opts.SegmentDuration,
		Segments:        segments,
	}
	if err := WriteManifest(outputDir, manifest); err != nil {
		return nil, err
	}

	return manifest, nil
}

// extractSegment stream-copies one slice of the input to a new file.
// -avoid_negative_ts make_zero resets timestamps so the segment plays
// back from zero on its own.
func (s *FFmpegSplitter) extractSegment(ctx context.Context, inputPath, outputPath string, start, duration float64) error {
	args := []string{
		"-y",
		"-ss", fmt.Sprintf("%.3f", start),
		"-t", fmt.Sprintf("%.3f", duration),
		"-i", inputPath,
		"-c", "copy",
		"-avoid_negative_ts", "make_zero",
		outputPath,
	}
	return s.run(ctx, args)
}
