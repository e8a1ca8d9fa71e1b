package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/sentinel/internal/config"
	"github.com/gyaneshwarpardhi/sentinel/internal/correlation"
	"github.com/gyaneshwarpardhi/sentinel/internal/engine"
	"github.com/gyaneshwarpardhi/sentinel/internal/metrics"
)

const (
	maxBatchSize = 100
	maxBodyBytes = 1 << 20
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	eng    *engine.Engine
	loader *config.Loader
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil,
// in which case reload requests are refused.
func New(eng *engine.Engine, loader *config.Loader, logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{eng: eng, loader: loader, logger: logger, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /v1/events", h.ingestEvent)
	h.mux.HandleFunc("POST /v1/events/batch", h.ingestBatch)
	h.mux.HandleFunc("GET /v1/rules", h.listRules)
	h.mux.HandleFunc("POST /v1/rules/reload", h.reloadRules)
	h.mux.HandleFunc("POST /v1/sweep", h.sweep)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(logger, h.mux)
}

// POST /v1/events: Synchronous single-event ingestion. The body is passed
// to the validation gate untouched.
func (h *Handler) ingestEvent(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	res, err := h.eng.ProcessSync(r.Context(), raw)
	if errors.Is(err, engine.ErrQueueFull) {
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, statusFor(res.Outcome), res)
}

// POST /v1/events/batch: Async batch ingestion (up to 100 events).
func (h *Handler) ingestBatch(w http.ResponseWriter, r *http.Request) {
	var events []json.RawMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBatchSize*maxBodyBytes)).Decode(&events); err != nil {
		writeError(w, http.StatusBadRequest, "batch must be a JSON array")
		return
	}
	if len(events) == 0 {
		writeError(w, http.StatusBadRequest, "batch must contain at least one event")
		return
	}
	if len(events) > maxBatchSize {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("batch size %d exceeds max %d", len(events), maxBatchSize))
		return
	}

	jobID := uuid.New().String()
	queued := 0
	for _, raw := range events {
		if h.eng.ProcessAsync(raw) {
			queued++
		}
	}
	h.logger.Info("batch queued", "job_id", jobID, "total", len(events), "queued", queued)

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id":  jobID,
		"total":   len(events),
		"queued":  queued,
		"dropped": len(events) - queued,
	})
}

// GET /v1/rules: Summary of the catalog in force.
func (h *Handler) listRules(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.eng.Catalog().Summary())
}

// POST /v1/rules/reload: Re-read the rule file and swap the catalog. An
// invalid file leaves the current catalog in force.
func (h *Handler) reloadRules(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotImplemented, "rule reload is not configured")
		return
	}
	if _, err := h.loader.Reload(); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	s := h.eng.Catalog().Summary()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded":        true,
		"ruleset_version": s.Version,
		"enabled":         s.Enabled,
	})
}

// POST /v1/sweep: Run one correlation sweep now.
func (h *Handler) sweep(w http.ResponseWriter, r *http.Request) {
	res, err := h.eng.Sweep(r.Context())
	switch {
	case errors.Is(err, correlation.ErrSweepInProgress):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil && res == nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case err != nil:
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"error": err.Error(),
			"sweep": res,
		})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// GET /healthz: Always 200 (liveness probe).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 if event queue >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.eng.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
		"ruleset_version":   h.eng.Catalog().Version(),
	})
}

func statusFor(o engine.Outcome) int {
	switch o {
	case engine.OutcomeRejected:
		return http.StatusUnprocessableEntity
	case engine.OutcomeFailed:
		return http.StatusInternalServerError
	}
	return http.StatusOK
}
