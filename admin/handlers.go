package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/selk/catalogpub/ledger"
	"github.com/selk/catalogpub/publisher"
	"gitlab.com/tozd/go/errors"
)

// RunController triggers runs and reports their outcome
type RunController interface {
	Run(ctx context.Context) (publisher.RunSummary, error)
	LastRun() (publisher.RunSummary, bool)
	Running() bool
}

// MappingSource exposes the name table
type MappingSource interface {
	Mapping() map[string]string
}

// Handlers serves the admin API
type Handlers struct {
	runs    RunController
	ledger  ledger.Ledger
	mapping MappingSource
	metrics http.Handler // nil when metrics are disabled
	started time.Time
	logger  zerolog.Logger
}

// NewHandlers creates the admin handlers
func NewHandlers(runs RunController, l ledger.Ledger, mapping MappingSource, metrics http.Handler, logger zerolog.Logger) *Handlers {
	return &Handlers{
		runs:    runs,
		ledger:  l,
		mapping: mapping,
		metrics: metrics,
		started: time.Now(),
		logger:  logger.With().Str("component", "admin").Logger(),
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":  "ok",
		"running": h.runs.Running(),
		"uptime":  time.Since(h.started).Round(time.Second).String(),
	}
	if last, ok := h.runs.LastRun(); ok {
		resp["last_execution_id"] = last.ExecutionID
		resp["last_finished_at"] = last.FinishedAt.UTC().Format(time.RFC3339)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil {
		writeErrorResponse(w, http.StatusNotFound, "metrics disabled")
		return
	}
	h.metrics.ServeHTTP(w, r)
}

func (h *Handlers) handleMapping(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": h.mapping.Mapping()})
}

func (h *Handlers) handleLastRun(w http.ResponseWriter, r *http.Request) {
	last, ok := h.runs.LastRun()
	if !ok {
		writeErrorResponse(w, http.StatusNotFound, "no run has finished yet")
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": last})
}

func (h *Handlers) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	summary, err := h.runs.Run(r.Context())
	switch {
	case errors.Is(err, publisher.ErrRunInProgress):
		writeErrorResponse(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		h.logger.Error().Err(err).Str("execution_id", summary.ExecutionID).Msg("Ad-hoc run failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"error": err.Error(), "data": summary})
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"data": summary})
}

func (h *Handlers) handleLedger(w http.ResponseWriter, r *http.Request) {
	executionID := chi.URLParam(r, "executionID")
	records, err := h.ledger.Records(r.Context(), executionID)
	if err != nil {
		h.logger.Error().Err(err).Str("execution_id", executionID).Msg("Failed to read ledger")
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"data":       records,
		"candidates": ledger.Aggregate(executionID, records),
	})
}

func (h *Handlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error().Err(err).Msg("Failed to encode JSON response")
	}
}

// writeErrorResponse writes an error JSON response
func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
