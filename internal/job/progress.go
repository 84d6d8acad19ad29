package job

import "time"

// Stage identifies one of the five pipeline phases.
type Stage string

const (
	StageDownload Stage = "download"
	StageChunking Stage = "chunking"
	StageDubbing  Stage = "dubbing"
	StageMerging  Stage = "merging"
	StageFinalize Stage = "finalize"
)

// Level is the severity of a log entry.
type Level string

const (
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
)

// Progress is a point-in-time view of how far a job has advanced.
type Progress struct {
	// Stage is the pipeline phase currently running.
	Stage Stage `json:"stage"`
	// OverallPercent is the whole-pipeline completion (0-100).
	// It is monotonically non-decreasing while the job runs.
	OverallPercent int `json:"overall_percent"`
	// StartedAt is when the pipeline started running.
	StartedAt time.Time `json:"started_at"`
	// Detail holds the stage-specific progress payload.
	Detail StageDetail `json:"detail"`
}

// clone returns a deep copy of the progress snapshot.
func (p Progress) clone() Progress {
	out := p
	out.Detail = p.Detail.clone()
	return out
}

// StageDetail is a tagged union over the five stages. Exactly one field
// is non-nil for a populated snapshot; finalize carries no payload.
type StageDetail struct {
	Download *DownloadDetail `json:"download,omitempty"`
	Chunking *ChunkingDetail `json:"chunking,omitempty"`
	Dubbing  *DubbingDetail  `json:"dubbing,omitempty"`
	Merging  *MergingDetail  `json:"merging,omitempty"`
}

// clone returns a deep copy of the detail union.
func (d StageDetail) clone() StageDetail {
	var out StageDetail
	if d.Download != nil {
		v := *d.Download
		out.Download = &v
	}
	if d.Chunking != nil {
		v := *d.Chunking
		out.Chunking = &v
	}
	if d.Dubbing != nil {
		v := *d.Dubbing
		v.Segments = make(map[int]string, len(d.Dubbing.Segments))
		for k, s := range d.Dubbing.Segments {
			v.Segments[k] = s
		}
		out.Dubbing = &v
	}
	if d.Merging != nil {
		v := *d.Merging
		out.Merging = &v
	}
	return out
}

// DownloadDetail reports byte-based download progress.
// TotalBytes is zero when the server did not send Content-Length.
type DownloadDetail struct {
	BytesReceived int64 `json:"bytes_received"`
	TotalBytes    int64 `json:"total_bytes,omitempty"`
	Percent       int   `json:"percent"`
}

// ChunkingDetail reports split progress in segment counts.
type ChunkingDetail struct {
	Processed      int    `json:"processed"`
	Total          int    `json:"total"`
	CurrentSegment string `json:"current_segment,omitempty"`
}

// DubbingDetail reports the worker-pool snapshot. The four counters
// always sum to the total segment count.
type DubbingDetail struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	// Segments maps segment index to its per-segment state label.
	Segments map[int]string `json:"segments,omitempty"`
}

// MergingDetail reports the merger step label and stage-local percent.
type MergingDetail struct {
	Step    string `json:"step"`
	Percent int    `json:"percent"`
}

// LogEntry is a single append-only diagnostic record on a job.
type LogEntry struct {
	Timestamp time.Time      `json:"timestamp"`
	Stage     Stage          `json:"stage"`
	Level     Level          `json:"level"`
	Message   string         `json:"message"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Error codes for terminal job failures and control-surface rejections.
const (
	CodeValidation     = "VALIDATION"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeChunkingFailed = "CHUNKING_FAILED"
	CodeDubbingFailed  = "DUBBING_FAILED"
	CodeMergingFailed  = "MERGING_FAILED"
	CodeFinalizeFailed = "FINALIZE_FAILED"
	CodeCancelled      = "CANCELLED"
	CodeInvalidState   = "INVALID_STATE"
)

// Error is the structured terminal error recorded on a failed job.
type Error struct {
	// Code is one of the Code* constants.
	Code string `json:"code"`
	// Message is a human-readable description.
	Message string `json:"message"`
	// Stage is the pipeline phase the error occurred in.
	Stage Stage `json:"stage"`
	// Recoverable is true when the retry flow can resume the job.
	Recoverable bool `json:"recoverable"`
	// Details carries optional diagnostic context.
	Details string `json:"details,omitempty"`
	// FailedSegmentIndices lists the segments that exhausted retries,
	// set only for dubbing failures.
	FailedSegmentIndices []int `json:"failed_segment_indices,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Code + ": " + e.Message
}
