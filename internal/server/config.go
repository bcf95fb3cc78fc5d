package server

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the Blogmatic server.
type Config struct {
	DataDir     string
	BindAddress string
	Port        int
	BaseURL     string

	JWTSecret  string
	AdminEmail string // the one identity allowed to read /api/admin/stats

	FreeCredits int // starting allowance for new accounts

	OpenAIAPIKey  string
	OpenAIModel   string
	OpenAIBaseURL string // override for tests/self-hosted gateways

	StripeAPIKey        string
	StripeWebhookSecret string
	StripePriceID       string

	LogLevel      string
	LogFormat     string
	PublicMetrics bool
}

// LoadConfig loads server configuration from environment variables.
// A .env file is loaded if present but not required.
func LoadConfig() (*Config, error) {
	// Best-effort .env loading (not required)
	_ = godotenv.Load()

	port, err := envOrDefaultInt("BM_PORT", 8080)
	if err != nil {
		return nil, err
	}
	freeCredits, err := envOrDefaultInt("BM_FREE_CREDITS", 3)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		DataDir:             envOrDefault("BM_DATA_DIR", "/data"),
		BindAddress:         envOrDefault("BM_BIND_ADDRESS", "0.0.0.0"),
		Port:                port,
		BaseURL:             strings.TrimSpace(os.Getenv("BM_BASE_URL")),
		JWTSecret:           strings.TrimSpace(os.Getenv("JWT_SECRET")),
		AdminEmail:          strings.TrimSpace(strings.ToLower(os.Getenv("BM_ADMIN_EMAIL"))),
		FreeCredits:         freeCredits,
		OpenAIAPIKey:        strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		OpenAIModel:         envOrDefault("OPENAI_MODEL", "gpt-4"),
		OpenAIBaseURL:       strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
		StripeAPIKey:        strings.TrimSpace(os.Getenv("STRIPE_API_KEY")),
		StripeWebhookSecret: strings.TrimSpace(os.Getenv("STRIPE_WEBHOOK_SECRET")),
		StripePriceID:       strings.TrimSpace(os.Getenv("STRIPE_PRICE_ID")),
		LogLevel:            envOrDefault("BM_LOG_LEVEL", "info"),
		LogFormat:           envOrDefault("BM_LOG_FORMAT", "auto"),
		PublicMetrics:       envBool("BM_PUBLIC_METRICS"),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate server config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.JWTSecret == "" {
		missing = append(missing, "JWT_SECRET")
	}
	if c.BaseURL == "" {
		missing = append(missing, "BM_BASE_URL")
	}
	if c.OpenAIAPIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if c.StripeAPIKey == "" {
		missing = append(missing, "STRIPE_API_KEY")
	}
	if c.StripeWebhookSecret == "" {
		missing = append(missing, "STRIPE_WEBHOOK_SECRET")
	}
	if c.StripePriceID == "" {
		missing = append(missing, "STRIPE_PRICE_ID")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}

	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("BM_PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.FreeCredits < 0 {
		return fmt.Errorf("BM_FREE_CREDITS must not be negative, got %d", c.FreeCredits)
	}

	parsedBaseURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("BM_BASE_URL must be a valid URL: %w", err)
	}
	if parsedBaseURL.Scheme != "http" && parsedBaseURL.Scheme != "https" {
		return fmt.Errorf("BM_BASE_URL must use http or https scheme")
	}
	if parsedBaseURL.Host == "" {
		return fmt.Errorf("BM_BASE_URL must include a host")
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer: %w", key, err)
	}
	return n, nil
}

func envBool(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}
