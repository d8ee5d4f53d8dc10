package queuehttp

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/queuekit/pkg/jobqueue"
	"github.com/dmitrymomot/queuekit/pkg/logger"
)

// StatsProvider reports per-state job counts. Both the dispatcher and the
// storages satisfy it.
type StatsProvider interface {
	Stats(ctx context.Context) (jobqueue.Stats, error)
}

// Handler exposes the queue over HTTP:
//
//	POST /jobs       submit a job, 201 with {id, status}, 400 on a bad
//	                 request or 409 when the supplied id already exists
//	GET  /jobs/{id}  job status, 200 or 404
//	GET  /stats      per-state counts
type Handler struct {
	producer *jobqueue.Producer
	repo     jobqueue.ProducerRepository
	stats    StatsProvider
	logger   *slog.Logger
}

// Option configures a Handler.
type Option func(*Handler)

// WithLogger sets the logger for the handler.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHandler creates the HTTP surface over the queue components.
func NewHandler(producer *jobqueue.Producer, repo jobqueue.ProducerRepository, stats StatsProvider, opts ...Option) (*Handler, error) {
	if producer == nil || repo == nil || stats == nil {
		return nil, jobqueue.ErrStorageNil
	}

	h := &Handler{
		producer: producer,
		repo:     repo,
		stats:    stats,
		logger:   slog.Default(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// Routes mounts the handler on a chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/jobs", h.submitJob)
	r.Get("/jobs/{id}", h.getJob)
	r.Get("/stats", h.getStats)
	return r
}

// submitRequest is the POST /jobs body.
type submitRequest struct {
	ID          string          `json:"id,omitempty"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
	Priority    int             `json:"priority,omitempty"`
	MaxAttempts int             `json:"maxAttempts,omitempty"`
	UserID      string          `json:"userId,omitempty"`
	DelaySecs   int             `json:"delaySeconds,omitempty"`
}

// submitResponse is the POST /jobs success body.
type submitResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
		return
	}

	opts := make([]jobqueue.SubmitOption, 0, 5)
	if req.ID != "" {
		opts = append(opts, jobqueue.WithJobID(req.ID))
	}
	if req.Priority != 0 {
		opts = append(opts, jobqueue.WithPriority(jobqueue.Priority(req.Priority)))
	}
	if req.MaxAttempts != 0 {
		opts = append(opts, jobqueue.WithMaxAttempts(req.MaxAttempts))
	}
	if req.UserID != "" {
		opts = append(opts, jobqueue.WithUserID(req.UserID))
	}
	if req.DelaySecs > 0 {
		opts = append(opts, jobqueue.WithDelay(time.Duration(req.DelaySecs)*time.Second))
	}

	var payload any
	if len(req.Payload) > 0 {
		payload = req.Payload
	}

	job, err := h.producer.Submit(r.Context(), req.Type, payload, opts...)
	if err != nil {
		switch {
		case errors.Is(err, jobqueue.ErrValidation):
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		case errors.Is(err, jobqueue.ErrDuplicateJobID):
			writeJSON(w, http.StatusConflict, errorResponse{Error: err.Error()})
		default:
			h.logger.Error("failed to submit job", logger.Error(err))
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to submit job"})
		}
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{ID: job.ID, Status: string(job.State)})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	job, err := h.repo.GetJob(r.Context(), id)
	if err != nil {
		if errors.Is(err, jobqueue.ErrJobNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "job not found"})
			return
		}
		h.logger.Error("failed to load job",
			logger.JobID(id),
			logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load job"})
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("failed to load queue stats", logger.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "failed to load stats"})
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
