package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/blogmatic/blogmatic/internal/auth"
	"github.com/blogmatic/blogmatic/internal/billing"
	"github.com/blogmatic/blogmatic/internal/registry"
)

type checkoutResponse struct {
	URL string `json:"url"`
}

// CheckoutInitiator opens a hosted checkout session for an account.
// Satisfied by *billing.Checkout; faked in tests.
type CheckoutInitiator interface {
	Initiate(ctx context.Context, email string) (string, error)
}

// HandleCheckout opens a subscription checkout session for the caller and
// returns the redirect URL.
func HandleCheckout(checkout CheckoutInitiator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		email := auth.IdentityFromContext(r.Context())

		url, err := checkout.Initiate(r.Context(), email)
		if errors.Is(err, registry.ErrAccountNotFound) {
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		if errors.Is(err, billing.ErrPaymentProvider) {
			log.Warn().Err(err).Str("email", email).Msg("checkout initiation failed")
			writeError(w, http.StatusBadGateway, "payment provider unavailable, please retry")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("email", email).Msg("checkout initiation failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, checkoutResponse{URL: url})
	}
}
