package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration.
type Config struct {
	ServerPort string
	GinMode    string
	LogLevel   string
	LogFormat  string

	// ScoringBaseURL is the root of the remote scoring backend.
	ScoringBaseURL string
	// UserID is the fixed identifier sent with every backend call.
	UserID string

	SessionIdleTTL      time.Duration
	SessionSweepEvery   time.Duration
	ActionRatePerMinute int
	CookieSecure        bool

	// AllowedOrigins controls HTTP CORS and WebSocket origin validation.
	// Empty slice means all origins are permitted (dev default).
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // .env is optional

	return &Config{
		ServerPort:          getEnv("SERVER_PORT", "8501"),
		GinMode:             getEnv("GIN_MODE", "debug"),
		LogLevel:            getEnv("LOG_LEVEL", "info"),
		LogFormat:           getEnv("LOG_FORMAT", "pretty"),
		ScoringBaseURL:      getEnv("SCORING_BASE_URL", "http://localhost:8080"),
		UserID:              getEnv("SCORING_USER_ID", "user123"),
		SessionIdleTTL:      time.Duration(getEnvInt("SESSION_IDLE_TTL_MINUTES", 30)) * time.Minute,
		SessionSweepEvery:   time.Duration(getEnvInt("SESSION_SWEEP_SECONDS", 60)) * time.Second,
		ActionRatePerMinute: getEnvInt("ACTION_RATE_PER_MINUTE", 30),
		CookieSecure:        getEnvBool("COOKIE_SECURE", false),
		AllowedOrigins:      parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// parseOrigins splits a comma-separated origins string into a trimmed slice.
// Returns nil (allow-all) if the input is empty.
func parseOrigins(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}
