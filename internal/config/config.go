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
	// APIBaseURL is the root of the exam service, e.g. "http://localhost:8000/api/v1".
	APIBaseURL string
	// APIToken is the bearer credential supplied by the external identity provider.
	APIToken string
	// JWTSecret, when non-empty, enables signature verification of APIToken.
	JWTSecret string
	LogLevel  string
	LogFormat string
	// StoreBackend selects the durable marker store: memory, redis or sqlite.
	StoreBackend string
	RedisURL     string
	SQLitePath   string
	// ViolationLimit is the number of hidden/focus-loss events that forces
	// auto-submission.
	ViolationLimit int
	RequestTimeout time.Duration
	// ProctorFeedURL, when set, is a WebSocket endpoint streaming visibility
	// events from the page shell.
	ProctorFeedURL string
	// Stub service settings (cmd/stubexam).
	StubPort       string
	GinMode        string
	AllowedOrigins []string
}

// Load reads configuration from environment variables with sensible defaults.
// It loads .env file if present but does not fail if missing.
func Load() *Config {
	_ = godotenv.Load() // Ignore error — .env is optional

	return &Config{
		APIBaseURL:     getEnv("EXAM_API_BASE_URL", "http://localhost:8000/api/v1"),
		APIToken:       getEnv("EXAM_API_TOKEN", ""),
		JWTSecret:      getEnv("JWT_SECRET", ""),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "pretty"),
		StoreBackend:   getEnv("STORE_BACKEND", "sqlite"),
		RedisURL:       getEnv("REDIS_URL", "redis://localhost:6379/0"),
		SQLitePath:     getEnv("SQLITE_PATH", "./examsession.db"),
		ViolationLimit: getEnvInt("VIOLATION_LIMIT", 3),
		RequestTimeout: time.Duration(getEnvInt("REQUEST_TIMEOUT_SECONDS", 15)) * time.Second,
		ProctorFeedURL: getEnv("PROCTOR_FEED_URL", ""),
		StubPort:       getEnv("STUB_PORT", "8000"),
		GinMode:        getEnv("GIN_MODE", "debug"),
		AllowedOrigins: parseOrigins(getEnv("ALLOWED_ORIGINS", "")),
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
	if err != nil {
		return fallback
	}
	return n
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
