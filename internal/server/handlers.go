package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-playground/validator/v10"

	"github.com/dubflow/dubflow-api/internal/bus"
	"github.com/dubflow/dubflow-api/internal/job"
	"github.com/dubflow/dubflow-api/internal/orchestrator"
)

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	orch      *orchestrator.Orchestrator
	repo      job.Repository
	bus       *bus.Bus
	validator *validator.Validate
	logger    *slog.Logger
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(orch *orchestrator.Orchestrator, repo job.Repository, eventBus *bus.Bus, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{
		orch:      orch,
		repo:      repo,
		bus:       eventBus,
		validator: validator.New(),
		logger:    logger,
	}
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// StartJob handles POST /jobs requests.
func (h *Handlers) StartJob(w http.ResponseWriter, r *http.Request) {
	var req StartJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), job.CodeValidation)
		return
	}

	// Validate request
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), job.CodeValidation)
		return
	}

	created, err := h.orch.StartJob(r.Context(), req.SourceURL, req.jobConfig())
	if err != nil {
		h.logger.Error("failed to start job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to start job", "JOB_START_FAILED")
		return
	}

	h.logger.Info("job accepted",
		slog.String("job_id", created.ID),
		slog.String("target_language", req.TargetLanguage),
	)

	writeJSON(w, http.StatusAccepted, newJobResponse(created, false))
}

// GetJob handles GET /jobs/{id} requests.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	found, err := h.repo.Get(r.Context(), jobID)
	if err != nil {
		h.writeDomainError(w, jobID, err)
		return
	}

	writeJSON(w, http.StatusOK, newJobResponse(found, true))
}

// ListJobs handles GET /jobs requests. Supports ?status=, ?limit= and
// ?offset= query parameters.
func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	filter := job.ListFilter{
		Status: job.Status(r.URL.Query().Get("status")),
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit", job.CodeValidation)
			return
		}
		filter.Limit = n
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "invalid offset", job.CodeValidation)
			return
		}
		filter.Offset = n
	}

	jobs, hasMore, err := h.repo.List(r.Context(), filter)
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_LIST_FAILED")
		return
	}

	resp := ListJobsResponse{Jobs: make([]JobResponse, 0, len(jobs)), HasMore: hasMore}
	for _, j := range jobs {
		resp.Jobs = append(resp.Jobs, newJobResponse(j, false))
	}
	writeJSON(w, http.StatusOK, resp)
}

// CancelJob handles POST /jobs/{id}/cancel requests.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.orch.Cancel(r.Context(), jobID); err != nil {
		h.writeDomainError(w, jobID, err)
		return
	}

	h.logger.Info("job cancel requested", slog.String("job_id", jobID))
	w.WriteHeader(http.StatusAccepted)
}

// RetryJob handles POST /jobs/{id}/retry requests. The body is
// optional; when present it may nominate a subset of the failed
// segments.
func (h *Handlers) RetryJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	var req RetryJobRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error(), job.CodeValidation)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), job.CodeValidation)
		return
	}

	retried, err := h.orch.RetryJob(r.Context(), jobID, req.SegmentIndices)
	if err != nil {
		h.writeDomainError(w, jobID, err)
		return
	}

	h.logger.Info("job retry accepted", slog.String("job_id", jobID))
	writeJSON(w, http.StatusAccepted, newJobResponse(retried, false))
}

// DeleteJob handles DELETE /jobs/{id} requests.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")

	if err := h.orch.DeleteJob(r.Context(), jobID); err != nil {
		h.writeDomainError(w, jobID, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// writeDomainError maps domain errors onto HTTP status codes:
// not-found to 404, state conflicts to 409, everything else to a
// sanitized 500.
func (h *Handlers) writeDomainError(w http.ResponseWriter, jobID string, err error) {
	switch {
	case errors.Is(err, job.ErrNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, orchestrator.ErrInvalidState),
		errors.Is(err, orchestrator.ErrRetryNotRecoverable),
		errors.Is(err, orchestrator.ErrManifestMissing),
		errors.Is(err, orchestrator.ErrSegmentNotFailed),
		errors.Is(err, job.ErrInvalidTransition),
		errors.Is(err, job.ErrNotTerminal):
		writeError(w, http.StatusConflict, err.Error(), job.CodeInvalidState)
	default:
		h.logger.Error("request failed",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Error("failed to encode JSON response", slog.String("error", err.Error()))
	}
}

// writeError writes an error response in the standard format.
func writeError(w http.ResponseWriter, status int, message, code string) {
	writeJSON(w, status, ErrorResponse{
		Error: message,
		Code:  code,
	})
}
