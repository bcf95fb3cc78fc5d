package server

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/blogmatic/blogmatic/internal/registry"
)

// HandleHealthz returns 200 "ok" unconditionally (liveness probe).
func HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// HandleReadyz returns a handler that checks database connectivity (readiness probe).
func HandleReadyz(reg *registry.AccountRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := reg.Ping(); err != nil {
			w.Header().Set("Content-Type", "text/plain")
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}
}

// HandleAdminStats returns a read-only dump of all accounts with aggregate
// counts. Restricted by requireAdmin to the designated admin identity.
func HandleAdminStats(reg *registry.AccountRegistry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		accounts, err := reg.ListAccounts()
		if err != nil {
			log.Error().Err(err).Msg("list accounts failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
		if accounts == nil {
			accounts = []*registry.Account{}
		}

		stats, err := reg.CountStats()
		if err != nil {
			log.Error().Err(err).Msg("count stats failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"accounts": accounts,
			"stats":    stats,
		})
	}
}
