package server

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/blogmatic/blogmatic/internal/auth"
	"github.com/blogmatic/blogmatic/internal/registry"
)

// Deps holds shared dependencies injected into HTTP handlers.
type Deps struct {
	Config    *Config
	Registry  *registry.AccountRegistry
	Sessions  *auth.Sessions
	Generator Generator
	Checkout  CheckoutInitiator
	Webhook   http.Handler
	Version   string
}

// RegisterRoutes wires all HTTP handlers onto the given ServeMux.
func RegisterRoutes(mux *http.ServeMux, deps *Deps) {
	sessionAuth := func(next http.Handler) http.Handler {
		return requireSession(deps.Sessions, next)
	}
	adminAuth := func(next http.Handler) http.Handler {
		return sessionAuth(requireAdmin(deps.Config.AdminEmail, next))
	}

	// Health / readiness are unauthenticated liveness/readiness probes.
	mux.HandleFunc("/healthz", HandleHealthz)
	mux.HandleFunc("/readyz", HandleReadyz(deps.Registry))

	// Metrics are private by default.
	metricsHandler := promhttp.Handler()
	if deps.Config.PublicMetrics {
		mux.Handle("/metrics", metricsHandler)
	} else {
		mux.Handle("/metrics", adminAuth(metricsHandler))
	}

	// Credential endpoints are unauthenticated and rate limited.
	authLimiter := NewRateLimiter(30, time.Minute)
	mux.Handle("/api/register", authLimiter.Middleware(HandleRegister(deps.Registry, deps.Sessions)))
	mux.Handle("/api/login", authLimiter.Middleware(HandleLogin(deps.Registry, deps.Sessions)))

	// Stripe webhook (signature-authenticated).
	webhookLimiter := NewRateLimiter(120, time.Minute)
	mux.Handle("/api/stripe/webhook", webhookLimiter.Middleware(deps.Webhook))

	// Session-authenticated API.
	mux.Handle("/api/generate", sessionAuth(HandleGenerate(deps.Registry, deps.Generator)))
	mux.Handle("/api/posts", sessionAuth(HandleListPosts(deps.Registry)))
	mux.Handle("/api/checkout", sessionAuth(HandleCheckout(deps.Checkout)))

	// Admin API (restricted to the designated identity).
	mux.Handle("/api/admin/stats", adminAuth(HandleAdminStats(deps.Registry)))
}
