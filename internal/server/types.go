// Package server provides the HTTP surface of the dubbing API.
// It includes handlers, middleware, routes, SSE streaming, and DTOs
// separated from domain types.
package server

import (
	"time"

	"github.com/dubflow/dubflow-api/internal/job"
)

// StartJobRequest is the HTTP request body for starting a new job.
// Unknown fields are rejected.
type StartJobRequest struct {
	// SourceURL is the URL of the source video to dub.
	SourceURL string `json:"source_url" validate:"required,url"`
	// TargetLanguage is the language code to dub into.
	TargetLanguage string `json:"target_language" validate:"required,min=2,max=8"`
	// SegmentDuration is the split duration in seconds (15-600).
	SegmentDuration int `json:"segment_duration" validate:"omitempty,min=15,max=600"`
	// MaxParallelJobs bounds concurrent segment dubbing (1-5).
	MaxParallelJobs int `json:"max_parallel_jobs" validate:"omitempty,min=1,max=5"`
	// VideoQuality is the requested output quality preset.
	VideoQuality string `json:"video_quality" validate:"omitempty,oneof=low medium high"`
	// OutputFormat is the requested output container.
	OutputFormat string `json:"output_format" validate:"omitempty,oneof=mp4 mkv mov"`
	// UseWatermark requests an audible watermark on the dubbed audio.
	UseWatermark bool `json:"use_watermark"`
	// KeepIntermediateFiles disables workspace cleanup after completion.
	KeepIntermediateFiles bool `json:"keep_intermediate_files"`
	// SegmentStrategy selects the splitting strategy.
	SegmentStrategy string `json:"segment_strategy" validate:"omitempty,oneof=fixed scene silence"`
}

// jobConfig maps the request onto the domain config.
func (r StartJobRequest) jobConfig() job.Config {
	strategy := job.SegmentStrategy(r.SegmentStrategy)
	if strategy == "" {
		strategy = job.StrategyFixed
	}
	return job.Config{
		SegmentDuration:       r.SegmentDuration,
		TargetLanguage:        r.TargetLanguage,
		MaxParallelJobs:       r.MaxParallelJobs,
		VideoQuality:          r.VideoQuality,
		OutputFormat:          r.OutputFormat,
		UseWatermark:          r.UseWatermark,
		KeepIntermediateFiles: r.KeepIntermediateFiles,
		SegmentStrategy:       strategy,
	}
}

// RetryJobRequest is the optional HTTP request body for retrying a
// failed job. An absent body or empty list retries every failed
// segment.
type RetryJobRequest struct {
	// SegmentIndices nominates the failed segments to re-dub.
	SegmentIndices []int `json:"segment_indices" validate:"omitempty,dive,min=0"`
}

// JobResponse is the HTTP representation of a job.
type JobResponse struct {
	ID          string         `json:"id"`
	SourceURL   string         `json:"source_url"`
	Status      string         `json:"status"`
	Progress    job.Progress   `json:"progress"`
	OutputFile  string         `json:"output_file,omitempty"`
	OutputURL   string         `json:"output_url,omitempty"`
	Error       *job.Error     `json:"error,omitempty"`
	Logs        []job.LogEntry `json:"logs,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
}

// newJobResponse builds the DTO from a job snapshot. includeLogs is
// false for list responses to keep them small.
func newJobResponse(j *job.Job, includeLogs bool) JobResponse {
	resp := JobResponse{
		ID:         j.ID,
		SourceURL:  j.SourceRef,
		Status:     string(j.Status),
		Progress:   j.Progress,
		OutputFile: j.OutputFile,
		OutputURL:  j.OutputURL,
		Error:      j.Error,
		CreatedAt:  j.CreatedAt,
	}
	if includeLogs {
		resp.Logs = j.Logs
	}
	if !j.StartedAt.IsZero() {
		t := j.StartedAt
		resp.StartedAt = &t
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

// ListJobsResponse is the HTTP response for listing jobs.
type ListJobsResponse struct {
	Jobs    []JobResponse `json:"jobs"`
	HasMore bool          `json:"has_more"`
}

// ErrorResponse is the standard error response format.
type ErrorResponse struct {
	// Error is the human-readable error message.
	Error string `json:"error"`
	// Code is the error code for programmatic handling.
	Code string `json:"code"`
}

// HealthResponse is the HTTP response for the health check endpoint.
type HealthResponse struct {
	// Status is the health status of the service.
	Status string `json:"status"`
}
