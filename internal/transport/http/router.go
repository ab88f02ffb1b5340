// Package httptransport is the engine's thin HTTP surface: the provider
// status webhook, action-link acknowledgement, and operator diagnostics.
// Handlers delegate to stores and services; no engine logic lives here.
package httptransport

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vigil/internal/platform/middleware"
	dErrors "vigil/pkg/domain-errors"
)

// NewRouter wires all endpoints.
func NewRouter(h *Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Post("/webhooks/delivery", h.handleDeliveryWebhook)
	r.Get("/actions/ack", h.handleAcknowledge)
	r.Get("/diagnostics/dead-letters", h.handleDeadLetters)
	r.Get("/diagnostics/stale-runs", h.handleStaleRuns)
	r.Get("/healthz", h.handleHealthz)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	return r
}

// writeJSON renders a response body with a status code.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeError maps domain error codes onto HTTP statuses with a consistent
// JSON envelope.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch dErrors.CodeOf(err) {
	case dErrors.CodeNotFound:
		status = http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		status = http.StatusBadRequest
	case dErrors.CodeUnauthorized:
		status = http.StatusUnauthorized
	case dErrors.CodeConflict:
		status = http.StatusConflict
	case dErrors.CodeUnavailable:
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]string{"error": string(dErrors.CodeOf(err))})
}
