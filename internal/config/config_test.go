package config

import (
	"reflect"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"SERVER_PORT", "SCORING_BASE_URL", "SCORING_USER_ID", "SESSION_IDLE_TTL_MINUTES", "ALLOWED_ORIGINS", "COOKIE_SECURE"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.ServerPort != "8501" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.ScoringBaseURL != "http://localhost:8080" {
		t.Errorf("ScoringBaseURL = %q", cfg.ScoringBaseURL)
	}
	if cfg.UserID != "user123" {
		t.Errorf("UserID = %q", cfg.UserID)
	}
	if cfg.SessionIdleTTL != 30*time.Minute {
		t.Errorf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.AllowedOrigins != nil {
		t.Errorf("AllowedOrigins = %v, want nil", cfg.AllowedOrigins)
	}
	if cfg.CookieSecure {
		t.Error("CookieSecure = true by default")
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("SCORING_BASE_URL", "https://scoring.internal")
	t.Setenv("SCORING_USER_ID", "learner-7")
	t.Setenv("SESSION_IDLE_TTL_MINUTES", "5")
	t.Setenv("ACTION_RATE_PER_MINUTE", "not-a-number")
	t.Setenv("COOKIE_SECURE", "true")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")

	cfg := Load()
	if cfg.ScoringBaseURL != "https://scoring.internal" || cfg.UserID != "learner-7" {
		t.Errorf("backend = %q / %q", cfg.ScoringBaseURL, cfg.UserID)
	}
	if cfg.SessionIdleTTL != 5*time.Minute {
		t.Errorf("SessionIdleTTL = %v", cfg.SessionIdleTTL)
	}
	if cfg.ActionRatePerMinute != 30 {
		t.Errorf("ActionRatePerMinute = %d, want fallback 30", cfg.ActionRatePerMinute)
	}
	if !cfg.CookieSecure {
		t.Error("CookieSecure = false")
	}
	want := []string{"https://a.example", "https://b.example"}
	if !reflect.DeepEqual(cfg.AllowedOrigins, want) {
		t.Errorf("AllowedOrigins = %v, want %v", cfg.AllowedOrigins, want)
	}
}
