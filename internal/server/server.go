// Package server wires Blogmatic's HTTP surface: account registration and
// login, credit-gated blog generation, Stripe checkout, and webhook
// reconciliation.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/blogmatic/blogmatic/internal/auth"
	"github.com/blogmatic/blogmatic/internal/billing"
	"github.com/blogmatic/blogmatic/internal/generator"
	"github.com/blogmatic/blogmatic/internal/logging"
	"github.com/blogmatic/blogmatic/internal/metrics"
	"github.com/blogmatic/blogmatic/internal/registry"
)

// Run starts the Blogmatic HTTP server with graceful shutdown.
func Run(ctx context.Context, version string) error {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logging.Init(logging.Config{
		Format:    cfg.LogFormat,
		Level:     cfg.LogLevel,
		Component: "blogmatic",
	})

	log.Info().Str("version", version).Msg("Starting Blogmatic")

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	reg, err := registry.NewAccountRegistry(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("open account registry: %w", err)
	}
	defer reg.Close()
	reg.SetFreeCredits(cfg.FreeCredits)

	sessions, err := auth.NewSessions(cfg.JWTSecret)
	if err != nil {
		return fmt.Errorf("init sessions: %w", err)
	}

	provider := generator.NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBaseURL)
	blogGen := generator.NewBlogGenerator(provider)

	checkout := billing.NewCheckout(reg, billing.CheckoutConfig{
		APIKey:  cfg.StripeAPIKey,
		PriceID: cfg.StripePriceID,
		BaseURL: cfg.BaseURL,
	})
	webhook := billing.NewWebhookHandler(cfg.StripeWebhookSecret, reg)

	mux := http.NewServeMux()
	RegisterRoutes(mux, &Deps{
		Config:    cfg,
		Registry:  reg,
		Sessions:  sessions,
		Generator: blogGen,
		Checkout:  checkout,
		Webhook:   webhook,
		Version:   version,
	})

	addr := fmt.Sprintf("%s:%d", cfg.BindAddress, cfg.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// Derived context for background goroutines
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go runAccountMetrics(ctx, reg)
	go checkProviderConnectivity(ctx, provider, cfg.OpenAIModel)

	go func() {
		log.Info().Str("addr", addr).Msg("Blogmatic listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("Server failed")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("Shutting down")
	case <-ctx.Done():
		log.Info().Msg("Context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}

// checkProviderConnectivity verifies the generation provider's credentials
// at startup. A failure is logged but does not stop the server; generation
// requests surface the error to callers without charging credits.
func checkProviderConnectivity(ctx context.Context, provider generator.Provider, model string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := provider.Verify(ctx); err != nil {
		log.Warn().Err(err).Str("model", model).Msg("generation provider connectivity check failed")
		return
	}
	log.Info().Str("model", model).Msg("generation provider reachable")
}

// runAccountMetrics periodically refreshes ledger gauges.
func runAccountMetrics(ctx context.Context, reg *registry.AccountRegistry) {
	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	update := func() {
		stats, err := reg.CountStats()
		if err != nil {
			log.Warn().Err(err).Msg("account metrics refresh failed")
			return
		}
		metrics.AccountsTotal.Set(float64(stats.Accounts))
		metrics.SubscribedAccounts.Set(float64(stats.Subscribed))
	}

	update()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			update()
		}
	}
}
