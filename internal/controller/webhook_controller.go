package controller

import (
	"io"
	"net/http"

	"github.com/gatewire/gatewire/internal/domain/attempt"
	"github.com/gatewire/gatewire/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// maxWebhookBodySize bounds inbound webhook payloads.
const maxWebhookBodySize = 1 << 20

// WebhookController receives gateway webhook deliveries. The contract with
// the gateways is coarse: 2xx means "stop retrying this delivery", anything
// else means "deliver it again later". Invalid and duplicate deliveries are
// therefore acknowledged, not errored.
type WebhookController struct {
	reconciler *service.ReconcileService
	logger     zerolog.Logger
}

// NewWebhookController creates a new WebhookController.
func NewWebhookController(reconciler *service.ReconcileService, logger zerolog.Logger) *WebhookController {
	return &WebhookController{reconciler: reconciler, logger: logger}
}

// Receive handles POST /webhooks/{gateway}
func (h *WebhookController) Receive(w http.ResponseWriter, r *http.Request) {
	gw, err := attempt.ParseGateway(chi.URLParam(r, "gateway"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "unknown gateway", Code: "unknown_gateway"})
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodySize+1))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unreadable body", Code: "bad_request"})
		return
	}
	if len(body) > maxWebhookBodySize {
		writeJSON(w, http.StatusRequestEntityTooLarge, ErrorResponse{Error: "payload too large", Code: "payload_too_large"})
		return
	}

	res, err := h.reconciler.Reconcile(r.Context(), gw, body, r.Header.Get("X-Signature"))
	if err != nil {
		// Retryable: the gateway redelivers, or the background loop picks
		// the recorded notification up.
		h.logger.Error().Err(err).Str("gateway", string(gw)).Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "processing failed", Code: "internal_error"})
		return
	}

	writeJSON(w, http.StatusOK, WebhookResponse{Received: true, Outcome: string(res.Outcome)})
}
