package pipeline

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/sirupsen/logrus"

	"visionlake/stripe"
)

// maxPayloadBytes bounds webhook bodies; real checkout events are a few KB.
const maxPayloadBytes = 1 << 20

// Handler exposes the pipeline over HTTP.
type Handler struct {
	service       *Service
	webhookSecret string
	logger        *logrus.Logger
}

// NewHandler builds the HTTP layer around the orchestrator.
func NewHandler(service *Service, webhookSecret string, logger *logrus.Logger) *Handler {
	return &Handler{service: service, webhookSecret: webhookSecret, logger: logger}
}

// Routes registers the webhook endpoint and health check.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/webhook/stripe", h.handleStripeWebhook)
	r.Get("/healthz", h.handleHealth)
}

func (h *Handler) handleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "unreadable payload"})
		return
	}

	if err := stripe.VerifySignature(body, r.Header.Get("Stripe-Signature"), h.webhookSecret, stripe.DefaultTolerance); err != nil {
		h.logger.WithError(err).Warn("rejected webhook delivery with bad signature")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid signature"})
		return
	}

	event, err := stripe.ParseEvent(body)
	if err != nil {
		h.logger.WithError(err).Warn("rejected malformed webhook payload")
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "malformed payload"})
		return
	}

	// Only completed checkout sessions drive the saga. Everything else is
	// acknowledged untouched so the source does not retry event types this
	// service will never handle.
	if event.Type != stripe.EventCheckoutSessionCompleted {
		writeJSON(w, http.StatusOK, map[string]any{"received": true})
		return
	}

	if _, err := h.service.HandleCheckoutCompleted(r.Context(), event.Data.Object); err != nil {
		// Retryable: the source's redelivery is the recovery mechanism.
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}

	// Success, duplicate replay, or a recorded terminal rejection: in every
	// case the outcome is durable, so the delivery is acknowledged.
	writeJSON(w, http.StatusOK, map[string]any{"received": true})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, body map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
