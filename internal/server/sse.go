package server

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dubflow/dubflow-api/internal/bus"
	"github.com/dubflow/dubflow-api/internal/job"
)

// StreamEvents handles GET /jobs/{id}/events requests as a Server-Sent
// Events stream. Each bus event becomes a named SSE event whose data is
// the JSON payload. The stream ends after the terminal event is
// delivered, or when the client disconnects. A job that already
// finished gets its terminal event replayed from the store, so a late
// subscriber never hangs on a torn-down topic.
func (h *Handlers) StreamEvents(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	found, err := h.repo.Get(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, jobID, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported", "STREAMING_UNSUPPORTED")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	if found.Status.IsTerminal() {
		if err := writeSSE(w, terminalEvent(found)); err == nil {
			flusher.Flush()
		}
		return
	}

	sub := h.bus.Subscribe(jobID)
	defer h.bus.Unsubscribe(jobID, sub)

	h.logger.Debug("sse stream opened",
		slog.String("job_id", jobID),
		slog.String("subscriber", sub.ID),
	)

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.C:
			if !open {
				return
			}
			if err := writeSSE(w, ev); err != nil {
				h.logger.Debug("sse write failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
				return
			}
			flusher.Flush()
			if ev.IsTerminal() {
				return
			}
		}
	}
}

// terminalEvent rebuilds the terminal event from a stored job snapshot.
func terminalEvent(j *job.Job) bus.Event {
	switch j.Status {
	case job.StatusComplete:
		var elapsed int64
		if !j.StartedAt.IsZero() && !j.CompletedAt.IsZero() {
			elapsed = j.CompletedAt.Sub(j.StartedAt).Milliseconds()
		}
		return bus.NewComplete(j.OutputFile, j.OutputURL, elapsed)
	case job.StatusFailed:
		if j.Error != nil {
			return bus.NewError(j.Error)
		}
		return bus.NewError(&job.Error{Code: "INTERNAL_ERROR", Message: "job failed", Stage: j.Progress.Stage})
	default:
		return bus.NewError(&job.Error{Code: job.CodeCancelled, Message: "job cancelled", Stage: j.Progress.Stage})
	}
}

// writeSSE serializes one event in SSE wire format.
func writeSSE(w http.ResponseWriter, ev bus.Event) error {
	data, err := json.Marshal(ssePayload(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Type, data)
	return err
}

// ssePayload picks the union member matching the event type.
func ssePayload(ev bus.Event) any {
	switch ev.Type {
	case bus.EventProgress:
		return ev.Progress
	case bus.EventLog:
		return ev.Log
	case bus.EventError:
		return ev.Error
	case bus.EventComplete:
		return ev.Complete
	case bus.EventDropped:
		return ev.Dropped
	default:
		return ev
	}
}
