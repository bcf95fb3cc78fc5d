package server

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("BM_BASE_URL", "https://blog.example.com")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("STRIPE_API_KEY", "sk_test_123")
	t.Setenv("STRIPE_WEBHOOK_SECRET", "whsec_test")
	t.Setenv("STRIPE_PRICE_ID", "price_123")
}

func TestLoadConfigDefaults(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 8080 {
		t.Errorf("Port = %d, want 8080", cfg.Port)
	}
	if cfg.BindAddress != "0.0.0.0" {
		t.Errorf("BindAddress = %q, want 0.0.0.0", cfg.BindAddress)
	}
	if cfg.FreeCredits != 3 {
		t.Errorf("FreeCredits = %d, want 3", cfg.FreeCredits)
	}
	if cfg.OpenAIModel != "gpt-4" {
		t.Errorf("OpenAIModel = %q, want gpt-4", cfg.OpenAIModel)
	}
	if cfg.LogLevel != "info" || cfg.LogFormat != "auto" {
		t.Errorf("LogLevel/LogFormat = %q/%q, want info/auto", cfg.LogLevel, cfg.LogFormat)
	}
	if cfg.PublicMetrics {
		t.Error("PublicMetrics should default to false")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BM_PORT", "9090")
	t.Setenv("BM_FREE_CREDITS", "5")
	t.Setenv("OPENAI_MODEL", "gpt-4o")
	t.Setenv("BM_ADMIN_EMAIL", "Admin@Example.com")
	t.Setenv("BM_PUBLIC_METRICS", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Port != 9090 {
		t.Errorf("Port = %d, want 9090", cfg.Port)
	}
	if cfg.FreeCredits != 5 {
		t.Errorf("FreeCredits = %d, want 5", cfg.FreeCredits)
	}
	if cfg.OpenAIModel != "gpt-4o" {
		t.Errorf("OpenAIModel = %q, want gpt-4o", cfg.OpenAIModel)
	}
	if cfg.AdminEmail != "admin@example.com" {
		t.Errorf("AdminEmail = %q, want lowercased", cfg.AdminEmail)
	}
	if !cfg.PublicMetrics {
		t.Error("PublicMetrics should be enabled")
	}
}

func TestLoadConfigMissingRequired(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("JWT_SECRET", "")
	t.Setenv("STRIPE_PRICE_ID", "")

	_, err := LoadConfig()
	if err == nil {
		t.Fatal("expected error for missing required variables")
	}
	for _, name := range []string{"JWT_SECRET", "STRIPE_PRICE_ID"} {
		if !strings.Contains(err.Error(), name) {
			t.Errorf("error %q should mention %s", err, name)
		}
	}
}

func TestLoadConfigInvalidPort(t *testing.T) {
	setRequiredEnv(t)

	for _, port := range []string{"0", "70000", "abc"} {
		t.Setenv("BM_PORT", port)
		if _, err := LoadConfig(); err == nil {
			t.Errorf("BM_PORT=%s should be rejected", port)
		}
	}
}

func TestLoadConfigInvalidBaseURL(t *testing.T) {
	setRequiredEnv(t)

	for _, base := range []string{"not-a-url", "ftp://example.com", "http://"} {
		t.Setenv("BM_BASE_URL", base)
		if _, err := LoadConfig(); err == nil {
			t.Errorf("BM_BASE_URL=%s should be rejected", base)
		}
	}
}

func TestLoadConfigNegativeFreeCredits(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("BM_FREE_CREDITS", "-1")

	if _, err := LoadConfig(); err == nil {
		t.Error("negative BM_FREE_CREDITS should be rejected")
	}
}
