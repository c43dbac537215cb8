package handler

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/Rrens/meeting-assistant/internal/api/response"
	"github.com/Rrens/meeting-assistant/internal/security"
	"github.com/Rrens/meeting-assistant/internal/transcript"
)

const maxWebhookBody = 1 << 20

// WebhookQueue accepts parsed webhooks for background processing
type WebhookQueue interface {
	Submit(env transcript.Envelope) bool
}

// WebhookHandler receives provider webhooks
type WebhookHandler struct {
	provider string
	verifier *security.WebhookVerifier
	queue    WebhookQueue
}

// NewWebhookHandler creates a webhook handler for the named provider
func NewWebhookHandler(provider string, verifier *security.WebhookVerifier, queue WebhookQueue) *WebhookHandler {
	return &WebhookHandler{provider: provider, verifier: verifier, queue: queue}
}

// Receive acknowledges the webhook before it is processed. Senders retry
// on anything but a fast 2xx, so unknown sessions and malformed payloads
// are acknowledged too.
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	if chi.URLParam(r, "provider") != h.provider {
		response.NotFound(w, "unknown webhook provider")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		response.Error(w, http.StatusRequestEntityTooLarge, "webhook body too large")
		return
	}

	if err := h.verifier.Verify(body, r.Header.Get(security.WebhookSignatureHeader)); err != nil {
		log.Warn().Err(err).Str("provider", h.provider).Str("remote_addr", r.RemoteAddr).Msg("rejected webhook")
		response.Unauthorized(w, err.Error())
		return
	}

	response.OK(w, map[string]bool{"received": true})

	env, err := transcript.ParseEnvelope(body)
	if err != nil {
		log.Warn().Err(err).Str("provider", h.provider).Msg("malformed webhook body")
		return
	}
	h.queue.Submit(env)
}
