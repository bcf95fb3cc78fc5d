package server

import (
	"net/http"
	"strings"

	"github.com/blogmatic/blogmatic/internal/auth"
)

// requireSession verifies the Bearer token and stores the resolved account
// email in the request context.
func requireSession(sessions *auth.Sessions, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			writeError(w, http.StatusUnauthorized, "missing bearer token")
			return
		}

		email, err := sessions.Verify(strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithIdentity(r.Context(), email)))
	})
}

// requireAdmin restricts a session-authenticated handler to the one
// designated admin identity. An empty admin email disables the endpoint.
func requireAdmin(adminEmail string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if adminEmail == "" || auth.IdentityFromContext(r.Context()) != adminEmail {
			writeError(w, http.StatusForbidden, "forbidden")
			return
		}
		next.ServeHTTP(w, r)
	})
}
