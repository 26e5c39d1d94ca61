package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/mihaimyh/stripesync/pkg/billing"
	"github.com/mihaimyh/stripesync/pkg/api/internal"
)

const maxWebhookBody = 256 * 1024

// Handler provides the HTTP surface: the provider-facing webhook endpoint and
// the caller-invoked portal and sync operations.
type Handler struct {
	config Config
}

// Routes returns a router with all endpoints mounted.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/webhooks/stripe", h.Webhook)
	r.Post("/billing/portal", h.Portal)
	r.Post("/billing/sync", h.Sync)
	r.Get("/healthz", h.Healthz)
	return r
}

// Webhook processes an inbound provider webhook delivery.
//
// The provider only ever sees 200, 400 or 500: 400 for requests that fail
// authentication or parsing (a retry carries a fresh signature, so nothing is
// lost), 500 for transient faults the provider should redeliver, and 200 for
// everything else including permanently unprocessable events.
func (h *Handler) Webhook(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	setSecurityHeaders(w)

	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if h.config.WebhookSecret == "" {
		http.Error(w, "webhook not configured", http.StatusServiceUnavailable)
		return
	}

	body, err := internal.ReadBodyStrict(w, r, maxWebhookBody)
	if err != nil {
		if errors.Is(err, internal.ErrPayloadTooLarge) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
			h.config.Metrics.RecordWebhookError("payload_too_large")
		} else {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			h.config.Metrics.RecordWebhookError("invalid_payload")
		}
		return
	}

	sig := r.Header.Get("Stripe-Signature")

	event, err := h.config.DecodeEvent(body, sig, h.config.WebhookSecret)
	if err != nil {
		if errors.Is(err, billing.ErrInvalidWebhookSignature) {
			h.config.Logger.Error("webhook signature verification failed",
				billing.Field{Key: "error", Value: err.Error()})
			http.Error(w, "invalid signature", http.StatusBadRequest)
			h.config.Metrics.RecordWebhookError("auth_failed")
			return
		}
		h.config.Logger.Error("webhook payload could not be decoded",
			billing.Field{Key: "error", Value: err.Error()})
		http.Error(w, "invalid payload", http.StatusBadRequest)
		h.config.Metrics.RecordWebhookError("invalid_payload")
		return
	}

	if err := h.config.Reconciler.Apply(r.Context(), event); err != nil {
		h.config.Logger.Error("webhook processing failed",
			billing.Field{Key: "event_type", Value: event.Type},
			billing.Field{Key: "error", Value: err.Error()})
		http.Error(w, "failed to process webhook", http.StatusInternalServerError)
		h.config.Metrics.RecordWebhookEvent(event.Type, "error")
		h.config.Metrics.RecordWebhookError("processing_error")
		h.config.Metrics.RecordWebhookProcessingDuration(event.Type, time.Since(startTime))
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, ackResponse{Received: true})

	h.config.Metrics.RecordWebhookEvent(event.Type, "success")
	h.config.Metrics.RecordWebhookProcessingDuration(event.Type, time.Since(startTime))
}

// Portal creates a provider-hosted management session for the caller.
func (h *Handler) Portal(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		_ = internal.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: billing.ErrUnauthorized.Error()})
		return
	}

	url, err := h.config.Reconciler.PortalURL(r.Context(), userID)
	if err != nil {
		if errors.Is(err, billing.ErrCustomerNotFound) {
			_ = internal.WriteJSON(w, http.StatusNotFound, errorResponse{Error: "no billing customer on record"})
			return
		}
		h.config.Logger.Error("portal session creation failed",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "error", Value: err.Error()})
		_ = internal.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, portalResponse{URL: url})
}

// Sync forces a re-pull of the caller's subscription state from the provider.
func (h *Handler) Sync(w http.ResponseWriter, r *http.Request) {
	userID := h.config.GetUserID(r)
	if userID == "" {
		_ = internal.WriteJSON(w, http.StatusUnauthorized, errorResponse{Error: billing.ErrUnauthorized.Error()})
		return
	}

	result, err := h.config.Reconciler.SyncUser(r.Context(), userID)
	if err != nil {
		h.config.Logger.Error("manual sync failed",
			billing.Field{Key: "user_id", Value: userID},
			billing.Field{Key: "error", Value: err.Error()})
		_ = internal.WriteJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	_ = internal.WriteJSON(w, http.StatusOK, result)
}

// Healthz is a liveness endpoint.
func (h *Handler) Healthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("ok")); err != nil {
		return
	}
}

func setSecurityHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
