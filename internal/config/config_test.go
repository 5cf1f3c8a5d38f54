package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqirelay/internal/config"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"PORT", "API_KEY", "APP_ENV", "LOG_LEVEL", "OWM_GEO_URL",
		"OWM_AIR_POLLUTION_URL", "UPSTREAM_MAX_RETRIES", "OTEL_ENABLED",
		"OTEL_EXPORTER_OTLP_ENDPOINT", "UPSTREAM_CIRCUIT_FAILURES",
		"UPSTREAM_CIRCUIT_OPEN_TIMEOUT", "OTEL_TRACE_SAMPLE_RATIO",
	} {
		t.Setenv(key, "")
	}
}

func TestFromEnv_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := config.FromEnv()

	assert.Equal(t, 3001, cfg.Port)
	assert.Equal(t, ":3001", cfg.Addr())
	assert.Empty(t, cfg.APIKey)
	assert.Equal(t, "development", cfg.Environment)
	assert.True(t, cfg.IsDevelopment())
	assert.Equal(t, config.DefaultGeoBaseURL, cfg.GeoBaseURL)
	assert.Equal(t, config.DefaultAirPollutionURL, cfg.AirPollutionURL)
	assert.Equal(t, uint64(0), cfg.UpstreamMaxRetries)
	assert.Zero(t, cfg.UpstreamCircuitFailures, "circuits stay closed unless configured")
	assert.Equal(t, config.DefaultCircuitOpenTimeout, cfg.UpstreamCircuitOpenTimeout)
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.False(t, cfg.TelemetryEnabled)
	assert.Equal(t, "localhost:4317", cfg.OTLPEndpoint)
	assert.Equal(t, zerolog.InfoLevel, cfg.ZerologLevel())
}

func TestFromEnv_Overrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "8089")
	t.Setenv("API_KEY", "secret")
	t.Setenv("APP_ENV", "production")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("OWM_GEO_URL", "http://geo.local/")
	t.Setenv("UPSTREAM_MAX_RETRIES", "2")
	t.Setenv("OTEL_ENABLED", "true")
	t.Setenv("UPSTREAM_CIRCUIT_FAILURES", "5")
	t.Setenv("UPSTREAM_CIRCUIT_OPEN_TIMEOUT", "15s")
	t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "0.1")

	cfg := config.FromEnv()

	assert.Equal(t, 8089, cfg.Port)
	assert.Equal(t, "secret", cfg.APIKey)
	assert.False(t, cfg.IsDevelopment())
	assert.Equal(t, "http://geo.local", cfg.GeoBaseURL)
	assert.Equal(t, uint64(2), cfg.UpstreamMaxRetries)
	assert.True(t, cfg.TelemetryEnabled)
	assert.Equal(t, uint32(5), cfg.UpstreamCircuitFailures)
	assert.Equal(t, 15*time.Second, cfg.UpstreamCircuitOpenTimeout)
	assert.Equal(t, 0.1, cfg.TraceSampleRatio)
	assert.Equal(t, zerolog.DebugLevel, cfg.ZerologLevel())
}

func TestFromEnv_PortFallback(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"unset", "", 3001},
		{"non-numeric", "abc", 3001},
		{"negative", "-1", 3001},
		{"too large", "70000", 3001},
		{"padded", " 4000 ", 4000},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clearEnv(t)
			t.Setenv("PORT", tc.value)
			assert.Equal(t, tc.want, config.FromEnv().Port)
		})
	}
}

func TestFromEnv_InvalidRetriesFallsBackToZero(t *testing.T) {
	clearEnv(t)
	t.Setenv("UPSTREAM_MAX_RETRIES", "many")

	assert.Equal(t, uint64(0), config.FromEnv().UpstreamMaxRetries)
}

func TestFromEnv_InvalidTuningFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("UPSTREAM_CIRCUIT_FAILURES", "-3")
	t.Setenv("UPSTREAM_CIRCUIT_OPEN_TIMEOUT", "soon")
	t.Setenv("OTEL_TRACE_SAMPLE_RATIO", "2.5")

	cfg := config.FromEnv()
	assert.Equal(t, 1.0, cfg.TraceSampleRatio)
	assert.Zero(t, cfg.UpstreamCircuitFailures)
	assert.Equal(t, config.DefaultCircuitOpenTimeout, cfg.UpstreamCircuitOpenTimeout)
}

func TestZerologLevel_InvalidFallsBackToInfo(t *testing.T) {
	cfg := config.Config{LogLevel: "loud"}
	assert.Equal(t, zerolog.InfoLevel, cfg.ZerologLevel())
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("API_KEY")

	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("API_KEY=from-dotenv\nPORT=5005\n"), 0o600))

	require.NoError(t, config.LoadDotEnv(path))
	t.Cleanup(func() {
		os.Unsetenv("API_KEY")
	})

	cfg := config.FromEnv()
	assert.Equal(t, "from-dotenv", cfg.APIKey)
	// PORT was already set (to empty) by clearEnv, so godotenv leaves it alone.
	assert.Equal(t, 3001, cfg.Port)
}

func TestLoadDotEnv_MissingDefaultFileIsIgnored(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(t.TempDir()))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	assert.NoError(t, config.LoadDotEnv())
}
