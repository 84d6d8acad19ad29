// Package bus provides the in-process progress event bus. It decouples
// the pipeline (producer) from any number of subscribers per job, with
// bounded buffering and a drop-oldest overflow policy so a slow
// subscriber can never stall the producer.
package bus

import "github.com/dubflow/dubflow-api/internal/job"

// EventType discriminates the event union.
type EventType string

const (
	// EventProgress carries a job progress snapshot.
	EventProgress EventType = "progress"
	// EventLog carries a diagnostic log entry.
	EventLog EventType = "log"
	// EventError carries the terminal job error.
	EventError EventType = "error"
	// EventComplete carries the terminal success payload.
	EventComplete EventType = "complete"
	// EventDropped is the sentinel inserted where buffered events were
	// discarded for a lagging subscriber.
	EventDropped EventType = "dropped"
)

// Event is the tagged union delivered to subscribers. Exactly one of
// the payload fields matching Type is set.
type Event struct {
	Type     EventType     `json:"type"`
	Progress *job.Progress `json:"progress,omitempty"`
	Log      *job.LogEntry `json:"log,omitempty"`
	Error    *job.Error    `json:"error,omitempty"`
	Complete *Complete     `json:"complete,omitempty"`
	Dropped  *Dropped      `json:"dropped,omitempty"`
}

// IsTerminal returns true for the two events that end a job's stream.
func (e Event) IsTerminal() bool {
	return e.Type == EventError || e.Type == EventComplete
}

// Complete is the payload of a terminal success event.
type Complete struct {
	// OutputFile is the path of the final dubbed video.
	OutputFile string `json:"output_file"`
	// OutputURL is the published URL when configured, empty otherwise.
	OutputURL string `json:"output_url,omitempty"`
	// ElapsedMs is the total pipeline wall time in milliseconds.
	ElapsedMs int64 `json:"elapsed_ms"`
}

// Dropped is the payload of the drop sentinel.
type Dropped struct {
	// Count is the number of events discarded since the last delivery.
	Count int `json:"count"`
}

// NewProgress builds a progress event.
func NewProgress(p job.Progress) Event {
	return Event{Type: EventProgress, Progress: &p}
}

// NewLog builds a log event.
func NewLog(entry job.LogEntry) Event {
	return Event{Type: EventLog, Log: &entry}
}

// NewError builds a terminal error event.
func NewError(jobErr *job.Error) Event {
	return Event{Type: EventError, Error: jobErr}
}

// NewComplete builds a terminal success event.
func NewComplete(outputFile, outputURL string, elapsedMs int64) Event {
	return Event{Type: EventComplete, Complete: &Complete{
		OutputFile: outputFile,
		OutputURL:  outputURL,
		ElapsedMs:  elapsedMs,
	}}
}
