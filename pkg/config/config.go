package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds server and worker configuration.
type Config struct {
	Port             string
	LogLevel         string
	DatabasePath     string
	ArtifactDir      string
	FixtureDir       string
	PollInterval     time.Duration
	CanaryStrings    []string
	FixtureHosts     []string
	WebhookRate      float64
	TelemetryEnabled bool
	OTLPEndpoint     string
}

// Load loads configuration from environment variables. A .env file in the
// working directory is read first when present; explicit environment
// variables win over .env entries.
func Load() *Config {
	_ = godotenv.Load()

	port := getenv("PORT", "8080")
	logLevel := getenv("LOG_LEVEL", "INFO")
	dbPath := getenv("DATABASE_PATH", "reprove.db")
	artifactDir := getenv("ARTIFACT_DIR", "artifacts")
	fixtureDir := getenv("FIXTURE_DIR", "fixtures")

	interval := 5 * time.Second
	if raw := os.Getenv("POLL_INTERVAL"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil && d > 0 {
			interval = d
		}
	}

	rate := 10.0
	if raw := os.Getenv("WEBHOOK_RATE_PER_SEC"); raw != "" {
		if f, err := strconv.ParseFloat(raw, 64); err == nil && f > 0 {
			rate = f
		}
	}

	return &Config{
		Port:             port,
		LogLevel:         logLevel,
		DatabasePath:     dbPath,
		ArtifactDir:      artifactDir,
		FixtureDir:       fixtureDir,
		PollInterval:     interval,
		CanaryStrings:    splitList(os.Getenv("CANARY_STRINGS")),
		FixtureHosts:     splitList(os.Getenv("FIXTURE_HOSTS")),
		WebhookRate:      rate,
		TelemetryEnabled: os.Getenv("TELEMETRY_ENABLED") == "true",
		OTLPEndpoint:     getenv("OTLP_ENDPOINT", "localhost:4317"),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func splitList(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
