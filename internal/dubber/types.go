// Package dubber provides the HTTP client for the external speech
// dubbing provider. The client hides the provider's transport and
// exposes the submit/status/download contract. It performs no retries
// itself; retry policy belongs to the worker pool.
package dubber

import (
	"errors"
	"fmt"
	"time"
)

// State represents the remote state of a dubbing task.
type State string

// Provider task states.
const (
	StateQueued     State = "QUEUED"
	StateProcessing State = "PROCESSING"
	StateCompleted  State = "COMPLETED"
	StateFailed     State = "FAILED"
)

// IsTerminal returns true if the state is a terminal state.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// SubmitOptions contains optional parameters for submitting a segment.
type SubmitOptions struct {
	// Watermark requests an audible watermark on the dubbed audio.
	Watermark bool
	// VoicePreset selects a provider voice preset, empty for default.
	VoicePreset string
}

// StatusResult contains the result of a status poll.
type StatusResult struct {
	// State is the remote task state.
	State State
	// Progress is the provider-reported percent (0-100), when available.
	Progress int
	// AudioURL is where the dubbed audio can be fetched, set when
	// State is StateCompleted.
	AudioURL string
	// Error is the provider's failure message, set when State is
	// StateFailed.
	Error string
}

// ErrorKind classifies a provider failure for the caller's retry policy.
type ErrorKind string

const (
	// KindAuth marks authentication/authorization failures. Not retryable.
	KindAuth ErrorKind = "auth"
	// KindRateLimit marks 429 responses. Retryable after RetryAfter.
	KindRateLimit ErrorKind = "rate_limit"
	// KindTransient marks network failures and 5xx responses. Retryable.
	KindTransient ErrorKind = "transient"
	// KindPermanent marks all other failures. Not retryable.
	KindPermanent ErrorKind = "permanent"
)

// ProviderError is the classified transport failure surfaced to callers.
type ProviderError struct {
	// Kind is the retry classification.
	Kind ErrorKind
	// StatusCode is the HTTP status, zero for network failures.
	StatusCode int
	// RetryAfter is the server's backoff hint, set for rate limits.
	RetryAfter time.Duration
	// Message is the provider's error body or transport error text.
	Message string
	// Err is the underlying error, if any.
	Err error
}

func (e *ProviderError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("dubber: %s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("dubber: %s: %s", e.Kind, e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true when the error is a transient or rate-limit
// provider failure.
func IsRetryable(err error) bool {
	var pe *ProviderError
	if !errors.As(err, &pe) {
		return false
	}
	return pe.Kind == KindTransient || pe.Kind == KindRateLimit
}

// RetryAfterHint extracts the server's backoff hint from a rate-limit
// error, zero otherwise.
func RetryAfterHint(err error) time.Duration {
	var pe *ProviderError
	if errors.As(err, &pe) && pe.Kind == KindRateLimit {
		return pe.RetryAfter
	}
	return 0
}

// submitRequest is the request body for the provider's submit endpoint.
type submitRequest struct {
	AudioBase64    string `json:"audio_base64"`
	TargetLanguage string `json:"target_language"`
	Watermark      bool   `json:"watermark,omitempty"`
	VoicePreset    string `json:"voice_preset,omitempty"`
}

// submitResponse is the response from the provider's submit endpoint.
type submitResponse struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// statusResponse is the response from the provider's status endpoint.
type statusResponse struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Progress int    `json:"progress,omitempty"`
	AudioURL string `json:"audio_url,omitempty"`
	Error    string `json:"error,omitempty"`
}
