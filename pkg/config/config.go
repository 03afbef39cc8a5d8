package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds runtime configuration for the tribunal service.
type Config struct {
	LogLevel string

	// Model backend.
	ModelEndpoint string
	Model         string
	APIKey        string
	CallTimeout   time.Duration

	// Decision thresholds.
	MinConfidence       float64
	ConsensusThreshold  float64
	DispersionThreshold float64

	// Audit persistence. DatabaseURL selects Postgres when set; otherwise
	// AuditPath selects a local SQLite file, and an empty AuditPath keeps
	// the log in memory.
	DatabaseURL string
	AuditPath   string

	// PersonasPath points at an optional YAML persona catalog.
	PersonasPath string
}

// Load loads configuration from environment variables.
func Load() *Config {
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	endpoint := os.Getenv("MODEL_ENDPOINT")
	if endpoint == "" {
		// Default to LM Studio Local
		endpoint = "http://localhost:1234/v1/chat/completions"
	}

	model := os.Getenv("MODEL")
	if model == "" {
		model = "local-model"
	}

	return &Config{
		LogLevel:            logLevel,
		ModelEndpoint:       endpoint,
		Model:               model,
		APIKey:              os.Getenv("MODEL_API_KEY"),
		CallTimeout:         durationEnv("CALL_TIMEOUT", 90*time.Second),
		MinConfidence:       floatEnv("MIN_CONFIDENCE", 0.80),
		ConsensusThreshold:  floatEnv("CONSENSUS_THRESHOLD", 0.70),
		DispersionThreshold: floatEnv("DISPERSION_THRESHOLD", 0.08),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		AuditPath:           os.Getenv("AUDIT_PATH"),
		PersonasPath:        os.Getenv("PERSONAS_PATH"),
	}
}

func floatEnv(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < 0 || v > 1 {
		return fallback
	}
	return v
}

func durationEnv(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
