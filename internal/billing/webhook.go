package billing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	stripelib "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/blogmatic/blogmatic/internal/metrics"
	"github.com/blogmatic/blogmatic/internal/registry"
)

const webhookBodyLimit = 1024 * 1024 // 1 MiB

// eventOutcome is the terminal state of a webhook delivery. Every delivery
// starts as received, becomes verified only when its signature checks out,
// and ends applied, ignored, or rejected.
type eventOutcome string

const (
	outcomeApplied  eventOutcome = "applied"
	outcomeIgnored  eventOutcome = "ignored"
	outcomeRejected eventOutcome = "rejected"
)

// WebhookHandler verifies and applies incoming Stripe webhook events.
// Unverified payloads are rejected before any event content is examined;
// the only path to the ledger runs through a verified event.
type WebhookHandler struct {
	secret   string
	registry *registry.AccountRegistry
}

type webhookErrorResponse struct {
	Error string `json:"error"`
}

type webhookReceivedResponse struct {
	Received bool `json:"received"`
}

// NewWebhookHandler creates a Stripe webhook HTTP handler.
func NewWebhookHandler(secret string, reg *registry.AccountRegistry) *WebhookHandler {
	return &WebhookHandler{
		secret:   secret,
		registry: reg,
	}
}

// ServeHTTP verifies the Stripe signature and dispatches the event.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	delivery := uuid.NewString()

	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, webhookErrorResponse{Error: "method not allowed"})
		return
	}
	if strings.TrimSpace(h.secret) == "" {
		writeJSON(w, http.StatusServiceUnavailable, webhookErrorResponse{Error: "webhook secret not configured"})
		return
	}

	event, ok := h.verify(w, r, delivery)
	if !ok {
		// Rejected: the response has already been written.
		return
	}

	outcome, err := h.apply(event)
	if err != nil {
		metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), "error").Inc()
		log.Error().Err(err).
			Str("delivery", delivery).
			Str("event_id", event.ID).
			Str("type", string(event.Type)).
			Msg("webhook processing failed")
		writeJSON(w, http.StatusInternalServerError, webhookErrorResponse{Error: "processing failed"})
		return
	}

	metrics.WebhookEventsTotal.WithLabelValues(string(event.Type), string(outcome)).Inc()
	writeJSON(w, http.StatusOK, webhookReceivedResponse{Received: true})
}

// verify reads the payload and checks its signature against the shared
// secret. On failure it writes the rejection response and returns ok=false;
// callers never see an unverified event.
func (h *WebhookHandler) verify(w http.ResponseWriter, r *http.Request, delivery string) (*stripelib.Event, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, webhookBodyLimit)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "failed to read request body"})
		return nil, false
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		h.reject(delivery, r, "missing signature")
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "missing Stripe signature"})
		return nil, false
	}

	event, err := webhook.ConstructEventWithOptions(payload, sigHeader, h.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		h.reject(delivery, r, "signature verification failed")
		writeJSON(w, http.StatusBadRequest, webhookErrorResponse{Error: "invalid Stripe signature"})
		return nil, false
	}
	return &event, true
}

// reject logs a failed verification as a security-relevant event.
func (h *WebhookHandler) reject(delivery string, r *http.Request, reason string) {
	metrics.WebhookEventsTotal.WithLabelValues("unknown", string(outcomeRejected)).Inc()
	log.Warn().
		Str("delivery", delivery).
		Str("remote_addr", r.RemoteAddr).
		Str("reason", reason).
		Msg("webhook rejected")
}

// apply routes a verified event. Redelivery is safe: granting a
// subscription twice leaves the same state, so no event-id deduplication is
// needed. Unknown event kinds are acknowledged without effect so the
// provider does not retry them forever.
func (h *WebhookHandler) apply(event *stripelib.Event) (eventOutcome, error) {
	switch event.Type {
	case "checkout.session.completed":
		var session CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return "", fmt.Errorf("decode checkout.session: %w", err)
		}
		return h.applyCheckoutCompleted(event.ID, session)

	default:
		log.Info().
			Str("type", string(event.Type)).
			Str("event_id", event.ID).
			Msg("webhook ignored (unhandled type)")
		return outcomeIgnored, nil
	}
}

func (h *WebhookHandler) applyCheckoutCompleted(eventID string, session CheckoutSession) (eventOutcome, error) {
	if session.Mode != "" && session.Mode != string(stripelib.CheckoutSessionModeSubscription) {
		log.Info().Str("event_id", eventID).Str("mode", session.Mode).
			Msg("webhook ignored (non-subscription checkout)")
		return outcomeIgnored, nil
	}

	customerID := strings.TrimSpace(session.Customer)
	if customerID == "" {
		log.Warn().Str("event_id", eventID).Msg("checkout completed without a customer reference")
		return outcomeIgnored, nil
	}

	acct, err := h.registry.GetAccountByBillingCustomerID(customerID)
	if errors.Is(err, registry.ErrAccountNotFound) {
		// The ref is committed before checkout opens, so this is a customer
		// we never issued. Acknowledge it; retrying will not help.
		log.Warn().Str("event_id", eventID).Str("customer_id", customerID).
			Msg("checkout completed for unknown billing customer")
		return outcomeIgnored, nil
	}
	if err != nil {
		return "", fmt.Errorf("lookup account by customer: %w", err)
	}

	if err := h.registry.GrantSubscription(acct.Email); err != nil {
		return "", fmt.Errorf("grant subscription: %w", err)
	}

	log.Info().
		Str("event_id", eventID).
		Str("email", acct.Email).
		Str("customer_id", customerID).
		Msg("subscription granted")
	return outcomeApplied, nil
}

// CheckoutSession is a minimal representation of a Stripe checkout.session event.
type CheckoutSession struct {
	ID       string `json:"id"`
	Mode     string `json:"mode"`
	Customer string `json:"customer"`
}

func writeJSON[T any](w http.ResponseWriter, status int, v T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Int("status", status).Msg("billing: encode webhook response")
	}
}
