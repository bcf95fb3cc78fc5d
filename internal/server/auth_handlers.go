package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/blogmatic/blogmatic/internal/auth"
	"github.com/blogmatic/blogmatic/internal/registry"
)

const authRequestBodyLimit = 64 * 1024

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// HandleRegister creates an account and issues a session token.
func HandleRegister(reg *registry.AccountRegistry, sessions *auth.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		req, ok := decodeCredentials(w, r)
		if !ok {
			return
		}
		if err := auth.ValidatePasswordComplexity(req.Password); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		hash, err := auth.HashPassword(req.Password)
		if err != nil {
			log.Error().Err(err).Msg("password hashing failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		acct, err := reg.CreateAccount(req.Email, hash)
		if errors.Is(err, registry.ErrAccountExists) {
			writeError(w, http.StatusConflict, "account already exists")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("account creation failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		token, err := sessions.Issue(acct.Email)
		if err != nil {
			log.Error().Err(err).Msg("session token issue failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		log.Info().Str("email", acct.Email).Msg("account registered")
		writeJSON(w, http.StatusCreated, tokenResponse{Token: token})
	}
}

// HandleLogin verifies credentials and issues a session token.
func HandleLogin(reg *registry.AccountRegistry, sessions *auth.Sessions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		req, ok := decodeCredentials(w, r)
		if !ok {
			return
		}

		acct, err := reg.GetAccount(req.Email)
		if errors.Is(err, registry.ErrAccountNotFound) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}
		if err != nil {
			log.Error().Err(err).Msg("account lookup failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		if !auth.CheckPasswordHash(req.Password, acct.PasswordHash) {
			writeError(w, http.StatusUnauthorized, "invalid credentials")
			return
		}

		token, err := sessions.Issue(acct.Email)
		if err != nil {
			log.Error().Err(err).Msg("session token issue failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, tokenResponse{Token: token})
	}
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, authRequestBodyLimit)

	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return credentialsRequest{}, false
	}

	req.Email = strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(req.Email); err != nil {
		writeError(w, http.StatusBadRequest, "invalid email address")
		return credentialsRequest{}, false
	}
	if req.Password == "" {
		writeError(w, http.StatusBadRequest, "password is required")
		return credentialsRequest{}, false
	}
	return req, true
}
