// Package job provides the Job aggregate for the video dubbing pipeline.
// It includes the Job entity with stage state machine transitions,
// progress tracking, append-only logging, and repository interfaces
// for persistence.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/dubflow/dubflow-api/internal/job/id"
)

// Status represents the current state of a Job.
// States follow the pipeline stages plus the three terminal outcomes.
type Status string

const (
	// StatusPending indicates the job is created but processing has not started.
	StatusPending Status = "PENDING"
	// StatusDownloading indicates the source video is being downloaded.
	StatusDownloading Status = "DOWNLOADING"
	// StatusChunking indicates the source is being split into segments.
	StatusChunking Status = "CHUNKING"
	// StatusDubbing indicates segments are being dubbed by the provider.
	StatusDubbing Status = "DUBBING"
	// StatusMerging indicates dubbed audio is being merged back into the video.
	StatusMerging Status = "MERGING"
	// StatusFinalizing indicates the output is being finalized.
	StatusFinalizing Status = "FINALIZING"
	// StatusComplete indicates the job finished successfully.
	StatusComplete Status = "COMPLETE"
	// StatusFailed indicates the job encountered a terminal error.
	// Failed jobs may re-enter StatusDubbing via the retry flow.
	StatusFailed Status = "FAILED"
	// StatusCancelled indicates the job was manually cancelled.
	StatusCancelled Status = "CANCELLED"
)

// ErrInvalidTransition is returned when an invalid state transition is attempted.
var ErrInvalidTransition = errors.New("invalid state transition")

// validTransitions defines which state transitions are allowed.
// Every running stage may fail or be cancelled; Failed is recoverable
// back into Dubbing through the retry-failed-segments flow.
var validTransitions = map[Status][]Status{
	StatusPending:     {StatusDownloading, StatusFailed, StatusCancelled},
	StatusDownloading: {StatusChunking, StatusFailed, StatusCancelled},
	StatusChunking:    {StatusDubbing, StatusFailed, StatusCancelled},
	StatusDubbing:     {StatusMerging, StatusFailed, StatusCancelled},
	StatusMerging:     {StatusFinalizing, StatusFailed, StatusCancelled},
	StatusFinalizing:  {StatusComplete, StatusFailed, StatusCancelled},
	StatusComplete:    {},
	StatusFailed:      {StatusDubbing},
	StatusCancelled:   {},
}

// canTransition checks if a transition from one status to another is valid.
func canTransition(from, to Status) bool {
	allowed, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal returns true if the status is a terminal state.
// Failed counts as terminal even though it is recoverable via retry.
func (s Status) IsTerminal() bool {
	return s == StatusComplete || s == StatusFailed || s == StatusCancelled
}

// SegmentStrategy selects how the source is split into segments.
type SegmentStrategy string

const (
	// StrategyFixed splits at fixed-duration boundaries with stream copy.
	StrategyFixed SegmentStrategy = "fixed"
	// StrategyScene splits at scene-change boundaries.
	// Currently falls back to fixed; the fallback is logged.
	StrategyScene SegmentStrategy = "scene"
	// StrategySilence splits at silence boundaries.
	// Currently falls back to fixed; the fallback is logged.
	StrategySilence SegmentStrategy = "silence"
)

// IsValid returns true if the strategy is a recognized value.
func (s SegmentStrategy) IsValid() bool {
	return s == StrategyFixed || s == StrategyScene || s == StrategySilence
}

// Config holds the immutable per-job processing options.
type Config struct {
	// SegmentDuration is the target duration of each segment in seconds.
	SegmentDuration int
	// TargetLanguage is the language code the audio is dubbed into.
	TargetLanguage string
	// MaxParallelJobs bounds the number of segments dubbed concurrently (1..5).
	MaxParallelJobs int
	// VideoQuality is the requested output quality preset.
	VideoQuality string
	// OutputFormat is the requested output container format.
	OutputFormat string
	// UseWatermark requests a watermark on the dubbed audio.
	UseWatermark bool
	// KeepIntermediateFiles disables cleanup of the segments and dubbed dirs.
	KeepIntermediateFiles bool
	// SegmentStrategy selects the splitting strategy.
	SegmentStrategy SegmentStrategy
}

// Paths holds the per-job workspace directory roots.
type Paths struct {
	Source   string
	Segments string
	Dubbed   string
	Output   string
}

// Job represents a video dubbing job aggregate.
// It contains all state for a single run of the pipeline.
type Job struct {
	mu sync.RWMutex

	// ID is the unique identifier for this job.
	ID string
	// SourceRef is the URL of the source video.
	SourceRef string
	// Config holds the immutable processing options.
	Config Config
	// Status is the current job state.
	Status Status
	// Progress is the current progress snapshot.
	Progress Progress
	// OutputFile is the path of the final dubbed video, set on finalize.
	OutputFile string
	// OutputURL is the published URL when the output is pushed to
	// object storage, empty otherwise.
	OutputURL string
	// Logs is the append-only diagnostic log.
	Logs []LogEntry
	// Error holds the terminal error when Status is Failed.
	Error *Error
	// Paths holds the per-job workspace roots.
	Paths Paths
	// CreatedAt is when the job was created.
	CreatedAt time.Time
	// UpdatedAt is when the job was last updated.
	UpdatedAt time.Time
	// StartedAt is when processing started.
	StartedAt time.Time
	// CompletedAt is when the job reached a terminal state.
	CompletedAt time.Time
}

// New creates a new Job with a generated ID in Pending status.
func New(sourceRef string, cfg Config) *Job {
	return NewWithID(id.Generate(), sourceRef, cfg)
}

// NewWithID creates a new Job with the specified ID in Pending status.
// Useful for testing or when the ID is generated externally.
func NewWithID(jobID, sourceRef string, cfg Config) *Job {
	now := time.Now()
	return &Job{
		ID:        jobID,
		SourceRef: sourceRef,
		Config:    cfg,
		Status:    StatusPending,
		Progress:  Progress{Stage: StageDownload},
		Logs:      make([]LogEntry, 0),
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo attempts to change the job status to the specified state.
// Returns ErrInvalidTransition if the transition is not allowed.
func (j *Job) TransitionTo(status Status) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if !canTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	j.Status = status
	j.UpdatedAt = time.Now()

	switch status {
	case StatusDownloading:
		if j.StartedAt.IsZero() {
			j.StartedAt = j.UpdatedAt
			j.Progress.StartedAt = j.UpdatedAt
		}
	case StatusComplete, StatusFailed, StatusCancelled:
		j.CompletedAt = j.UpdatedAt
	}

	// Re-entering Dubbing from Failed clears the previous terminal error.
	if status == StatusDubbing {
		j.Error = nil
		j.CompletedAt = time.Time{}
	}

	return nil
}

// Fail transitions the job to Failed and records the terminal error.
func (j *Job) Fail(jobErr *Error) error {
	if err := j.TransitionTo(StatusFailed); err != nil {
		return err
	}
	j.mu.Lock()
	j.Error = jobErr
	j.mu.Unlock()
	return nil
}

// Cancel transitions the job to Cancelled.
func (j *Job) Cancel() error {
	return j.TransitionTo(StatusCancelled)
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// SetProgress replaces the progress snapshot. OverallPercent is clamped
// so it never decreases while the job is running.
func (j *Job) SetProgress(p Progress) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if p.OverallPercent < j.Progress.OverallPercent {
		p.OverallPercent = j.Progress.OverallPercent
	}
	if p.StartedAt.IsZero() {
		p.StartedAt = j.Progress.StartedAt
	}
	j.Progress = p
	j.UpdatedAt = time.Now()
}

// AppendLog appends an entry to the job's diagnostic log.
func (j *Job) AppendLog(entry LogEntry) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	j.Logs = append(j.Logs, entry)
	j.UpdatedAt = time.Now()
}

// SetPaths records the per-job workspace roots.
func (j *Job) SetPaths(p Paths) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Paths = p
	j.UpdatedAt = time.Now()
}

// SetOutput sets the final output path and optional published URL.
func (j *Job) SetOutput(path, url string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputFile = path
	j.OutputURL = url
	j.UpdatedAt = time.Now()
}

// ClearOutput clears the output path and URL, used when the output
// file is removed by workspace cleanup.
func (j *Job) ClearOutput() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.OutputFile = ""
	j.OutputURL = ""
	j.UpdatedAt = time.Now()
}

// Clone creates a deep copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	logs := make([]LogEntry, len(j.Logs))
	copy(logs, j.Logs)

	var jobErr *Error
	if j.Error != nil {
		e := *j.Error
		e.FailedSegmentIndices = append([]int(nil), j.Error.FailedSegmentIndices...)
		jobErr = &e
	}

	return &Job{
		ID:          j.ID,
		SourceRef:   j.SourceRef,
		Config:      j.Config,
		Status:      j.Status,
		Progress:    j.Progress.clone(),
		OutputFile:  j.OutputFile,
		OutputURL:   j.OutputURL,
		Logs:        logs,
		Error:       jobErr,
		Paths:       j.Paths,
		CreatedAt:   j.CreatedAt,
		UpdatedAt:   j.UpdatedAt,
		StartedAt:   j.StartedAt,
		CompletedAt: j.CompletedAt,
	}
}
