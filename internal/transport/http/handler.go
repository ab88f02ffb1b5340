package httptransport

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"vigil/internal/dispatch/deadletter"
	"vigil/internal/escalate/actionlink"
	jobports "vigil/internal/jobs/ports"
	"vigil/internal/notify/models"
	notifyports "vigil/internal/notify/ports"
	dErrors "vigil/pkg/domain-errors"
)

const (
	defaultDeadLetterLimit = 50
	maxDeadLetterLimit     = 500
)

// Handler serves the webhook, acknowledgement and diagnostics endpoints.
type Handler struct {
	logger         *slog.Logger
	notifications  notifyports.Store
	deadLetters    deadletter.Store
	runs           jobports.RunStore
	links          *actionlink.Signer
	staleThreshold time.Duration
	health         []func(ctx context.Context) error
}

// NewHandler creates a Handler. healthChecks are probed by /healthz.
func NewHandler(
	notifications notifyports.Store,
	deadLetters deadletter.Store,
	runs jobports.RunStore,
	links *actionlink.Signer,
	staleThreshold time.Duration,
	logger *slog.Logger,
	healthChecks ...func(ctx context.Context) error,
) *Handler {
	return &Handler{
		logger:         logger,
		notifications:  notifications,
		deadLetters:    deadLetters,
		runs:           runs,
		links:          links,
		staleThreshold: staleThreshold,
		health:         healthChecks,
	}
}

// deliveryEvent is the provider's status callback payload.
type deliveryEvent struct {
	ProviderMessageID string `json:"provider_message_id"`
	Event             string `json:"event"`
}

// handleDeliveryWebhook records provider delivery feedback. The webhook only
// updates delivery metadata; a bounce on a SENT notification never reopens
// its lifecycle.
func (h *Handler) handleDeliveryWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var event deliveryEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "malformed webhook payload"))
		return
	}
	if event.ProviderMessageID == "" {
		writeError(w, dErrors.New(dErrors.CodeInvalidInput, "provider_message_id is required"))
		return
	}
	status := models.DeliveryStatus(event.Event)
	if !status.IsValid() {
		writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "unsupported delivery event %q", event.Event))
		return
	}

	matched, err := h.notifications.UpdateDeliveryStatus(ctx, event.ProviderMessageID, status)
	if err != nil {
		h.logger.ErrorContext(ctx, "delivery status update failed",
			"provider_message_id", event.ProviderMessageID,
			"error", err,
		)
		writeError(w, err)
		return
	}
	if !matched {
		// Unknown ids get a 200 anyway: providers retry on errors and the
		// message may belong to another system sharing the account.
		h.logger.WarnContext(ctx, "delivery event for unknown message",
			"provider_message_id", event.ProviderMessageID,
			"event", event.Event,
		)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"matched": matched})
}

// handleAcknowledge verifies a signed action link and reports the item it
// refers to. The host application performs the actual resolution write.
func (h *Handler) handleAcknowledge(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		writeError(w, dErrors.New(dErrors.CodeBadRequest, "token is required"))
		return
	}
	claims, err := h.links.Verify(token)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"item_ref":     claims.ItemRef,
		"recipient_id": claims.RecipientID,
	})
}

// handleDeadLetters lists recent dead-lettered notifications.
func (h *Handler) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := defaultDeadLetterLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 || parsed > maxDeadLetterLimit {
			writeError(w, dErrors.Newf(dErrors.CodeInvalidInput, "limit must be 1..%d", maxDeadLetterLimit))
			return
		}
		limit = parsed
	}

	records, err := h.deadLetters.List(r.Context(), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	type entry struct {
		ID             string    `json:"id"`
		NotificationID string    `json:"notification_id"`
		RecipientEmail string    `json:"recipient_email"`
		Subject        string    `json:"subject"`
		Reason         string    `json:"reason"`
		RetryCount     int       `json:"retry_count"`
		CreatedAt      time.Time `json:"created_at"`
	}
	out := make([]entry, 0, len(records))
	for _, rec := range records {
		out = append(out, entry{
			ID:             rec.ID,
			NotificationID: rec.NotificationID.String(),
			RecipientEmail: rec.RecipientEmail,
			Subject:        rec.Subject,
			Reason:         rec.Reason,
			RetryCount:     rec.RetryCount,
			CreatedAt:      rec.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"dead_letters": out})
}

// handleStaleRuns surfaces job runs without heartbeat progress.
func (h *Handler) handleStaleRuns(w http.ResponseWriter, r *http.Request) {
	cutoff := time.Now().Add(-h.staleThreshold)
	runs, err := h.runs.StaleRuns(r.Context(), cutoff)
	if err != nil {
		writeError(w, err)
		return
	}
	type entry struct {
		ID          string    `json:"id"`
		Job         string    `json:"job"`
		StartedAt   time.Time `json:"started_at"`
		HeartbeatAt time.Time `json:"heartbeat_at"`
	}
	out := make([]entry, 0, len(runs))
	for _, run := range runs {
		out = append(out, entry{
			ID:          run.ID,
			Job:         run.Job,
			StartedAt:   run.StartedAt,
			HeartbeatAt: run.HeartbeatAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"stale_runs": out})
}

// handleHealthz probes the wired dependencies.
func (h *Handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	for _, check := range h.health {
		if err := check(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
