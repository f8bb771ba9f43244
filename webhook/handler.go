package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"dealflow/httpx"
	"dealflow/signing"
)

// Signature header sent by the e-sign provider. Older tenant configurations
// still deliver the legacy name, so both are accepted.
const (
	SignatureHeader       = "x-signature-verification"
	LegacySignatureHeader = "x-esign-signature"
)

// CompletionHandler consumes verified completion events.
type CompletionHandler interface {
	HandleCompletion(ctx context.Context, evt signing.CompletionEvent) error
}

// Handler terminates provider webhook deliveries: it authenticates the raw
// body, decodes the event, and hands it to the completion service.
type Handler struct {
	verifier   *Verifier
	completion CompletionHandler
}

func NewHandler(verifier *Verifier, completion CompletionHandler) *Handler {
	return &Handler{verifier: verifier, completion: completion}
}

type completionPayload struct {
	EventType          string `json:"event_type"`
	SignatureRequestID string `json:"signature_request_id"`
	WorkflowRunID      string `json:"workflow_run_id"`
	DocumentType       string `json:"document_type"`
	Status             string `json:"status"`
}

// ServeHTTP verifies the delivery before any byte of the body is interpreted.
// The provider retries on non-2xx, so processing errors surface as 500 to get
// a redelivery, while authentication failures are terminal 401s.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_request", "failed to read body", nil)
		return
	}

	signature := r.Header.Get(SignatureHeader)
	if signature == "" {
		signature = r.Header.Get(LegacySignatureHeader)
	}
	if err := h.verifier.Verify(body, signature); err != nil {
		if errors.Is(err, ErrMissingSecret) {
			log.Printf("webhook: delivery rejected: %v", err)
			httpx.WriteError(w, http.StatusInternalServerError, "not_configured", "webhook secret not configured", nil)
			return
		}
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed", nil)
		return
	}

	var payload completionPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "bad_payload", "failed to decode payload", nil)
		return
	}

	evt := signing.CompletionEvent{
		SignatureRequestID: payload.SignatureRequestID,
		WorkflowRunID:      payload.WorkflowRunID,
		DocumentType:       signing.DocumentType(payload.DocumentType),
		Status:             payload.Status,
	}
	if err := h.completion.HandleCompletion(r.Context(), evt); err != nil {
		log.Printf("webhook: completion %s failed: %v", payload.SignatureRequestID, err)
		httpx.WriteError(w, http.StatusInternalServerError, "processing_failed", "completion processing failed", nil)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}
