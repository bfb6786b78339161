// Package server exposes the pipeline over HTTP: ingestion, event inspection, manual
// review actions, pipeline status, health and metrics.
package server

import (
	// Go Internal Packages
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"time"

	// Local Packages
	errors "kirana-ledger/errors"
	models "kirana-ledger/models"
	pipeline "kirana-ledger/services/pipeline"

	// External Packages
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type Pipeline interface {
	Ingest(ctx context.Context, req models.CandidateEvent) (pipeline.IngestResult, error)
	Get(ctx context.Context, eventID string) (pipeline.EventView, error)
	Dispute(ctx context.Context, eventID, reason string) error
	Promote(ctx context.Context, eventID string) error
	Status(ctx context.Context) (models.PipelineStatus, error)
}

type Aggregates interface {
	Get(ctx context.Context, shopkeeperID string) (*models.CreditAggregate, error)
}

// FailedEvents lists events waiting for operator attention.
type FailedEvents interface {
	ListFailed(ctx context.Context, n int64) ([]models.FailedEvent, error)
}

// Check reports whether a dependency is healthy.
type Check func(ctx context.Context) error

type Handler struct {
	pipeline   Pipeline
	aggregates Aggregates
	failed     FailedEvents
	checks     map[string]Check
	gatherer   prometheus.Gatherer
	logger     *zap.Logger
}

func New(p Pipeline, a Aggregates, logger *zap.Logger) *Handler {
	return &Handler{pipeline: p, aggregates: a, checks: map[string]Check{}, logger: logger}
}

// WithCheck adds a dependency probe to /healthz.
func (h *Handler) WithCheck(name string, check Check) *Handler {
	h.checks[name] = check
	return h
}

// WithFailedEvents serves the operator queue on /v1/failed.
func (h *Handler) WithFailedEvents(f FailedEvents) *Handler {
	h.failed = f
	return h
}

// WithMetrics serves g on /metrics.
func (h *Handler) WithMetrics(g prometheus.Gatherer) *Handler {
	h.gatherer = g
	return h
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(h.logRequests)

	r.Get("/healthz", h.handleHealth)
	if h.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Get("/status", h.handleStatus)
		r.Post("/events", h.handleIngest)
		r.Get("/events/{id}", h.handleGetEvent)
		r.Post("/events/{id}/dispute", h.handleDispute)
		r.Post("/events/{id}/promote", h.handlePromote)
		r.Get("/aggregates/{shopkeeperID}", h.handleGetAggregate)
		if h.failed != nil {
			r.Get("/failed", h.handleListFailed)
		}
	})
	return r
}

func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

func (h *Handler) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req models.CandidateEvent
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidBodyErr(err))
		return
	}

	res, err := h.pipeline.Ingest(r.Context(), req)
	if err != nil {
		h.logFailure(r, "ingest failed", err)
		writeError(w, err)
		return
	}
	status := http.StatusAccepted
	if res.Duplicate {
		status = http.StatusOK
	}
	writeJSON(w, status, res)
}

func (h *Handler) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	view, err := h.pipeline.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.logFailure(r, "get event failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) handleDispute(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.InvalidBodyErr(err))
		return
	}
	if err := h.pipeline.Dispute(r.Context(), chi.URLParam(r, "id"), req.Reason); err != nil {
		h.logFailure(r, "dispute failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePromote(w http.ResponseWriter, r *http.Request) {
	if err := h.pipeline.Promote(r.Context(), chi.URLParam(r, "id")); err != nil {
		h.logFailure(r, "promote failed", err)
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.pipeline.Status(r.Context())
	if err != nil {
		h.logFailure(r, "status failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) handleGetAggregate(w http.ResponseWriter, r *http.Request) {
	agg, err := h.aggregates.Get(r.Context(), chi.URLParam(r, "shopkeeperID"))
	if err != nil {
		h.logFailure(r, "get aggregate failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, agg)
}

func (h *Handler) handleListFailed(w http.ResponseWriter, r *http.Request) {
	limit := int64(50)
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, errors.E(errors.Invalid, "limit must be between 1 and 1000", err))
			return
		}
		limit = n
	}
	failed, err := h.failed.ListFailed(r.Context(), limit)
	if err != nil {
		h.logFailure(r, "list failed events failed", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, failed)
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)

	resp := healthResponse{Status: "ok", Checks: make(map[string]string, len(names))}
	code := http.StatusOK
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			resp.Checks[name] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}
	writeJSON(w, code, resp)
}

func (h *Handler) logFailure(r *http.Request, msg string, err error) {
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.String("request_id", middleware.GetReqID(r.Context())), zap.Error(err)}
	switch errors.KindOf(err) {
	case errors.Invalid, errors.NotFound, errors.Conflict:
		h.logger.Debug(msg, fields...)
	default:
		h.logger.Error(msg, fields...)
	}
}
