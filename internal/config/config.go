package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config contains all runtime settings for the medical assistant gateway.
type Config struct {
	BindAddr                 string
	ShutdownTimeout          time.Duration
	SessionInactivityTimeout time.Duration
	MetricsNamespace         string

	AllowAnyOrigin bool

	GeminiMode        string
	GeminiAPIKey      string
	GeminiBaseURL     string
	GeminiFastModel   string
	GeminiProModel    string
	GeminiVisionModel string
	GeminiTimeout     time.Duration
	GeminiMaxRetries  int

	DatabaseURL   string
	HistoryWindow int

	LogLevel string
	LogFile  string
}

// Load reads environment variables (and a local .env file when present) and applies safe defaults.
func Load() (Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8000"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "aidex"),
		AllowAnyOrigin:    true,
		GeminiMode:        envOrDefault("GEMINI_MODE", "http"),
		GeminiAPIKey:      stringsTrimSpace("GEMINI_API_KEY"),
		GeminiBaseURL:     envOrDefault("GEMINI_BASE_URL", "https://generativelanguage.googleapis.com"),
		GeminiFastModel:   envOrDefault("GEMINI_FAST_MODEL", "gemini-2.0-flash"),
		GeminiProModel:    envOrDefault("GEMINI_PRO_MODEL", "gemini-2.5-pro"),
		GeminiVisionModel: envOrDefault("GEMINI_VISION_MODEL", "gemini-2.5-pro"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		HistoryWindow:     10,
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
		LogFile:           stringsTrimSpace("LOG_FILE"),

		ShutdownTimeout:          15 * time.Second,
		SessionInactivityTimeout: 30 * time.Minute,
		GeminiTimeout:            60 * time.Second,
	}
	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionInactivityTimeout, err = durationFromEnv("APP_SESSION_INACTIVITY_TIMEOUT", cfg.SessionInactivityTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiTimeout, err = durationFromEnv("GEMINI_TIMEOUT", cfg.GeminiTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.GeminiMaxRetries, err = intFromEnv("GEMINI_MAX_RETRIES", cfg.GeminiMaxRetries)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryWindow, err = intFromEnv("HISTORY_WINDOW", cfg.HistoryWindow)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_CORS_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionInactivityTimeout < 5*time.Second {
		return Config{}, fmt.Errorf("APP_SESSION_INACTIVITY_TIMEOUT must be at least 5s")
	}
	if cfg.GeminiTimeout <= 0 {
		return Config{}, fmt.Errorf("GEMINI_TIMEOUT must be positive")
	}
	if cfg.GeminiMaxRetries < 0 {
		return Config{}, fmt.Errorf("GEMINI_MAX_RETRIES must be >= 0")
	}
	if cfg.HistoryWindow <= 0 {
		return Config{}, fmt.Errorf("HISTORY_WINDOW must be positive")
	}
	switch strings.ToLower(cfg.GeminiMode) {
	case "http", "mock":
	default:
		return Config{}, fmt.Errorf("invalid GEMINI_MODE: %q (expected http|mock)", cfg.GeminiMode)
	}

	return cfg, nil
}

// loadDotEnv populates unset variables from path. A missing file is not an error.
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
