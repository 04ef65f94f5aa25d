package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reprove-ai/reprove/pkg/config"
)

// TestLoad_Defaults verifies the zero-environment configuration.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_PATH", "ARTIFACT_DIR", "FIXTURE_DIR",
		"POLL_INTERVAL", "CANARY_STRINGS", "FIXTURE_HOSTS",
		"WEBHOOK_RATE_PER_SEC", "TELEMETRY_ENABLED", "OTLP_ENDPOINT",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Equal(t, "reprove.db", cfg.DatabasePath)
	assert.Equal(t, "artifacts", cfg.ArtifactDir)
	assert.Equal(t, "fixtures", cfg.FixtureDir)
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Empty(t, cfg.CanaryStrings)
	assert.Empty(t, cfg.FixtureHosts)
	assert.Equal(t, 10.0, cfg.WebhookRate)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
}

// TestLoad_Overrides verifies environment variables win, lists split on
// commas, and malformed numerics fall back rather than fail.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("POLL_INTERVAL", "250ms")
	t.Setenv("CANARY_STRINGS", " seed_email@example.com , canary-two ,")
	t.Setenv("FIXTURE_HOSTS", "fixtures.internal")
	t.Setenv("WEBHOOK_RATE_PER_SEC", "2.5")
	t.Setenv("TELEMETRY_ENABLED", "true")

	cfg := config.Load()
	assert.Equal(t, "9999", cfg.Port)
	assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, []string{"seed_email@example.com", "canary-two"}, cfg.CanaryStrings)
	assert.Equal(t, []string{"fixtures.internal"}, cfg.FixtureHosts)
	assert.Equal(t, 2.5, cfg.WebhookRate)
	assert.True(t, cfg.TelemetryEnabled)

	t.Setenv("POLL_INTERVAL", "not-a-duration")
	t.Setenv("WEBHOOK_RATE_PER_SEC", "-3")
	cfg = config.Load()
	assert.Equal(t, 5*time.Second, cfg.PollInterval)
	assert.Equal(t, 10.0, cfg.WebhookRate)
}

// TestLoadProfile_Overlay verifies the profile overrides only the fields
// it sets.
func TestLoadProfile_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "staging.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: staging
port: "7070"
poll_interval: 1s
canary_strings:
  - canary-a
`), 0o644))

	cfg := &config.Config{
		Port:         "8080",
		DatabasePath: "reprove.db",
		PollInterval: 5 * time.Second,
		FixtureHosts: []string{"fixtures.internal"},
	}
	require.NoError(t, config.LoadProfile(cfg, path))

	assert.Equal(t, "7070", cfg.Port)
	assert.Equal(t, time.Second, cfg.PollInterval)
	assert.Equal(t, []string{"canary-a"}, cfg.CanaryStrings)
	// untouched fields keep their environment-derived values
	assert.Equal(t, "reprove.db", cfg.DatabasePath)
	assert.Equal(t, []string{"fixtures.internal"}, cfg.FixtureHosts)
}

// TestLoadProfile_Errors verifies missing files and malformed values are
// reported, not silently ignored.
func TestLoadProfile_Errors(t *testing.T) {
	cfg := &config.Config{}
	assert.Error(t, config.LoadProfile(cfg, filepath.Join(t.TempDir(), "missing.yaml")))

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("poll_interval: banana\n"), 0o644))
	err := config.LoadProfile(cfg, bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "poll_interval")
}
