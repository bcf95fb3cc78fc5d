package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blogmatic/blogmatic/internal/auth"
	"github.com/blogmatic/blogmatic/internal/generator"
	"github.com/blogmatic/blogmatic/internal/metrics"
	"github.com/blogmatic/blogmatic/internal/registry"
)

const (
	generateRequestBodyLimit = 64 * 1024

	// generationTimeout bounds the external generation call. The upstream
	// client has its own transport timeout; this caps the whole attempt.
	generationTimeout = 2 * time.Minute
)

// Generator produces a blog post for a topic. Satisfied by
// *generator.BlogGenerator; faked in tests.
type Generator interface {
	Generate(ctx context.Context, topic string) (*generator.BlogPost, error)
}

// generationLedger is the slice of the account registry the generation gate
// touches. Narrowed so tests can fail individual steps.
type generationLedger interface {
	ReserveCredit(email string) (registry.Reservation, error)
	ReleaseCredit(email string) error
	InsertPost(p *registry.Post) error
}

type generateRequest struct {
	Topic string `json:"topic"`
}

type generateResponse struct {
	Content *generator.BlogPost `json:"content"`
}

// HandleGenerate gates a generation request on the account's entitlement.
//
// The flow is reserve, generate, then commit or release: the credit is
// claimed before the slow external call (so racing requests cannot both
// spend the last credit), and handed back if the call yields nothing
// usable. No ledger access happens while the external call is in flight.
func HandleGenerate(reg generationLedger, gen Generator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		outcome := "error"
		defer func() {
			metrics.GenerationRequestsTotal.WithLabelValues(outcome).Inc()
			metrics.GenerationDuration.Observe(time.Since(start).Seconds())
		}()

		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		email := auth.IdentityFromContext(r.Context())

		r.Body = http.MaxBytesReader(w, r.Body, generateRequestBodyLimit)
		var req generateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		req.Topic = strings.TrimSpace(req.Topic)
		if req.Topic == "" {
			writeError(w, http.StatusBadRequest, "topic is required")
			return
		}

		reservation, err := reg.ReserveCredit(email)
		if errors.Is(err, registry.ErrCreditsExhausted) {
			outcome = "credits_exhausted"
			// An expected business condition, not an error log event.
			log.Info().Str("email", email).Msg("generation denied: free credits exhausted")
			writeError(w, http.StatusPaymentRequired, "free limit reached, please subscribe")
			return
		}
		if errors.Is(err, registry.ErrAccountNotFound) {
			outcome = "unauthorized"
			writeError(w, http.StatusUnauthorized, "unknown account")
			return
		}
		if err != nil {
			log.Error().Err(err).Str("email", email).Msg("credit reservation failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), generationTimeout)
		defer cancel()

		post, err := gen.Generate(ctx, req.Topic)
		if err != nil {
			outcome = "upstream_failure"
			releaseReservation(reg, email, reservation)
			log.Warn().Err(err).Str("email", email).Str("topic", req.Topic).
				Msg("upstream generation failed")
			writeError(w, http.StatusBadGateway, "generation failed, no credit was charged; please retry")
			return
		}

		content, err := json.Marshal(post)
		if err != nil {
			outcome = "error"
			releaseReservation(reg, email, reservation)
			log.Error().Err(err).Msg("encode generated post")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if err := reg.InsertPost(&registry.Post{
			Email:   email,
			Topic:   req.Topic,
			Content: string(content),
		}); err != nil {
			// Keep record and charge atomic from the caller's view: if the
			// record cannot be stored, hand the credit back.
			outcome = "error"
			releaseReservation(reg, email, reservation)
			log.Error().Err(err).Str("email", email).Msg("store generated post")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		outcome = "generated"
		writeJSON(w, http.StatusOK, generateResponse{Content: post})
	}
}

func releaseReservation(reg generationLedger, email string, res registry.Reservation) {
	if !res.Charged {
		return
	}
	if err := reg.ReleaseCredit(email); err != nil {
		log.Error().Err(err).Str("email", email).Msg("credit release failed")
	}
}

// HandleListPosts returns the caller's generated posts, newest first.
func HandleListPosts(reg *registry.AccountRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		email := auth.IdentityFromContext(r.Context())
		posts, err := reg.ListPosts(email)
		if err != nil {
			log.Error().Err(err).Str("email", email).Msg("list posts failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if posts == nil {
			posts = []*registry.Post{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"posts": posts,
			"count": len(posts),
		})
	}
}
