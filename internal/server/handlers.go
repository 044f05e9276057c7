package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/maauso/soragen/internal/generator"
	"github.com/maauso/soragen/internal/history"
	"github.com/maauso/soragen/internal/job"
	"github.com/maauso/soragen/internal/sora"
)

// maxRequestBody bounds POST bodies; reference images arrive inline as data URIs.
const maxRequestBody = 20 << 20

// Handlers contains the HTTP handlers for the API.
type Handlers struct {
	service            *job.GenerationService
	validator          *validator.Validate
	logger             *slog.Logger
	activeBaseURL      string
	enableAsyncProcess bool
}

// HandlerOption is a function that configures a Handlers instance.
type HandlerOption func(*Handlers)

// WithAsyncProcessing enables or disables background processing.
// When disabled, CreateGeneration only creates the job and returns immediately
// without submitting it.
func WithAsyncProcessing(enabled bool) HandlerOption {
	return func(h *Handlers) {
		h.enableAsyncProcess = enabled
	}
}

// WithActiveBaseURL reports the gateway in use on GET /endpoints.
func WithActiveBaseURL(u string) HandlerOption {
	return func(h *Handlers) {
		h.activeBaseURL = u
	}
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(service *job.GenerationService, logger *slog.Logger, opts ...HandlerOption) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handlers{
		service:            service,
		validator:          validator.New(),
		logger:             logger,
		enableAsyncProcess: true,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Health handles GET /health requests.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// Endpoints handles GET /endpoints requests.
func (h *Handlers) Endpoints(w http.ResponseWriter, _ *http.Request) {
	names := sora.EndpointNames()
	resp := EndpointsResponse{
		Active:    h.activeBaseURL,
		Endpoints: make([]EndpointResponse, 0, len(names)),
	}
	for _, name := range names {
		resp.Endpoints = append(resp.Endpoints, EndpointResponse{Name: name, BaseURL: sora.Endpoints[name]})
	}
	writeJSON(w, http.StatusOK, resp)
}

// CreateGeneration handles POST /generations requests.
func (h *Handlers) CreateGeneration(w http.ResponseWriter, r *http.Request) {
	var req CreateGenerationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		h.logger.Warn("failed to decode request body",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, "invalid JSON body", "INVALID_JSON")
		return
	}

	req.normalize()
	if err := h.validator.Struct(req); err != nil {
		h.logger.Warn("request validation failed",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
		return
	}

	input := job.Input{
		Prompt:         req.Prompt,
		AspectRatio:    req.AspectRatio,
		Duration:       req.Duration,
		Resolution:     req.Resolution,
		ReferenceImage: req.ReferenceImage,
		Archive:        req.Archive,
	}

	created, err := h.service.CreateJob(r.Context(), input)
	if err != nil {
		if errors.Is(err, generator.ErrEmptyPrompt) || errors.Is(err, generator.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error(), "VALIDATION_ERROR")
			return
		}
		h.logger.Error("failed to create job",
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to create job", "JOB_CREATION_FAILED")
		return
	}

	// The request context ends with the response; the job must outlive it.
	if h.enableAsyncProcess {
		go func(ctx context.Context, jobID string, in job.Input) {
			if _, err := h.service.ProcessExistingJob(ctx, jobID, in); err != nil {
				h.logger.Error("background processing failed",
					slog.String("job_id", jobID),
					slog.String("error", err.Error()),
				)
			}
		}(context.WithoutCancel(r.Context()), created.ID, input)
	}

	h.logger.Info("generation accepted",
		slog.String("job_id", created.ID),
		slog.String("aspect_ratio", created.AspectRatio),
		slog.Int("duration", created.Duration),
	)

	writeJSON(w, http.StatusAccepted, CreateGenerationResponse{
		ID:     created.ID,
		Status: string(created.Status),
	})
}

// GetGeneration handles GET /generations/{id} requests.
func (h *Handlers) GetGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	found, err := h.service.GetJob(r.Context(), jobID)
	if err != nil {
		if errors.Is(err, job.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
			return
		}
		h.logger.Error("failed to get job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to get job", "JOB_FETCH_FAILED")
		return
	}

	writeJSON(w, http.StatusOK, toGenerationResponse(found))
}

// DeleteGeneration handles DELETE /generations/{id} requests.
func (h *Handlers) DeleteGeneration(w http.ResponseWriter, r *http.Request) {
	jobID := r.PathValue("id")
	if jobID == "" {
		writeError(w, http.StatusBadRequest, "job ID is required", "MISSING_JOB_ID")
		return
	}

	err := h.service.DeleteJob(r.Context(), jobID)
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, job.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found", "JOB_NOT_FOUND")
	case errors.Is(err, job.ErrJobActive):
		writeError(w, http.StatusConflict, "job is still running", "JOB_ACTIVE")
	default:
		h.logger.Error("failed to delete job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		writeError(w, http.StatusInternalServerError, "failed to delete job", "JOB_DELETE_FAILED")
	}
}

// ListGenerations handles GET /generations requests.
func (h *Handlers) ListGenerations(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.service.ListJobs(r.Context())
	if err != nil {
		h.logger.Error("failed to list jobs", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list jobs", "JOB_FETCH_FAILED")
		return
	}

	resp := GenerationListResponse{
		Generations: make([]GenerationResponse, 0, len(jobs)),
		Count:       len(jobs),
	}
	for _, j := range jobs {
		resp.Generations = append(resp.Generations, toGenerationResponse(j))
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListHistory handles GET /history requests.
func (h *Handlers) ListHistory(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, toHistoryResponse(h.service.History().List()))
}

// ClearHistory handles DELETE /history requests.
func (h *Handlers) ClearHistory(w http.ResponseWriter, _ *http.Request) {
	h.service.History().Clear()
	h.logger.Info("history cleared")
	w.WriteHeader(http.StatusNoContent)
}

func toGenerationResponse(j *job.Job) GenerationResponse {
	resp := GenerationResponse{
		ID:                 j.ID,
		RemoteID:           j.RemoteID,
		Status:             string(j.Status),
		Prompt:             j.Prompt,
		AspectRatio:        j.AspectRatio,
		Duration:           j.Duration,
		Resolution:         j.Resolution,
		UsedReferenceImage: j.UsedReferenceImage,
		Progress:           j.Progress,
		ResultURL:          j.ResultURL,
		ArchivedURL:        j.ArchivedURL,
		Warning:            j.Warning,
		Error:              j.Error,
		CreatedAt:          j.CreatedAt,
	}
	if !j.CompletedAt.IsZero() {
		t := j.CompletedAt
		resp.CompletedAt = &t
	}
	return resp
}

func toHistoryResponse(records []history.Record) HistoryResponse {
	resp := HistoryResponse{
		Records: make([]HistoryRecordResponse, 0, len(records)),
		Count:   len(records),
	}
	for _, r := range records {
		resp.Records = append(resp.Records, HistoryRecordResponse{
			ID:                 r.ID,
			Timestamp:          r.Timestamp,
			Prompt:             r.Prompt,
			ResultURL:          r.ResultURL,
			UsedReferenceImage: r.UsedReferenceImage,
		})
	}
	return resp
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
