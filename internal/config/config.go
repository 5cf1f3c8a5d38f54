// Package config provides process configuration for the AQI relay.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Defaults applied when the environment does not provide a value.
const (
	DefaultPort            = 3001
	DefaultEnvironment     = "development"
	DefaultLogLevel        = "info"
	DefaultGeoBaseURL      = "https://api.openweathermap.org/geo/1.0"
	DefaultAirPollutionURL = "https://api.openweathermap.org/data/2.5/air_pollution"
	DefaultOTLPEndpoint    = "localhost:4317"

	DefaultCircuitOpenTimeout = 60 * time.Second
)

// Config holds all runtime settings. It is built once at startup and passed
// to the components that need it.
type Config struct {
	// Port is the TCP port the relay listens on.
	Port int

	// APIKey is the OpenWeatherMap credential used for both upstream calls.
	// It is not validated; an empty key fails authentication upstream.
	APIKey string

	// Environment is the deployment environment (development, production, ...).
	Environment string

	// LogLevel is a zerolog level name.
	LogLevel string

	// GeoBaseURL is the base URL of the geocoding API.
	GeoBaseURL string

	// AirPollutionURL is the full URL of the air pollution endpoint.
	AirPollutionURL string

	// UpstreamMaxRetries is the number of retries for failed upstream calls.
	// Default: 0 (every call is attempted exactly once)
	UpstreamMaxRetries uint64

	// UpstreamCircuitFailures is the number of consecutive failed calls that
	// opens an upstream's circuit breaker.
	// Default: 0 (circuits never open; every query reaches upstream)
	UpstreamCircuitFailures uint32

	// UpstreamCircuitOpenTimeout is how long an opened circuit rejects calls
	// before letting a trial call through.
	UpstreamCircuitOpenTimeout time.Duration

	// TraceSampleRatio is the fraction of new traces exported (default 1).
	TraceSampleRatio float64

	// TelemetryEnabled turns on the OTLP trace and metric exporters.
	TelemetryEnabled bool

	// OTLPEndpoint is the OTLP gRPC collector address.
	OTLPEndpoint string
}

// LoadDotEnv loads a .env file from the working directory if one exists.
// Variables already present in the environment are not overridden.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
	}
	return godotenv.Load(filenames...)
}

// FromEnv creates a Config from environment variables.
func FromEnv() Config {
	retries, err := strconv.ParseUint(getEnvOrDefault("UPSTREAM_MAX_RETRIES", "0"), 10, 64)
	if err != nil {
		retries = 0
	}

	circuitFailures, err := strconv.ParseUint(getEnvOrDefault("UPSTREAM_CIRCUIT_FAILURES", "0"), 10, 32)
	if err != nil {
		circuitFailures = 0
	}

	openTimeout, err := time.ParseDuration(getEnvOrDefault("UPSTREAM_CIRCUIT_OPEN_TIMEOUT", DefaultCircuitOpenTimeout.String()))
	if err != nil || openTimeout <= 0 {
		openTimeout = DefaultCircuitOpenTimeout
	}

	sampleRatio, err := strconv.ParseFloat(getEnvOrDefault("OTEL_TRACE_SAMPLE_RATIO", "1"), 64)
	if err != nil || sampleRatio <= 0 || sampleRatio > 1 {
		sampleRatio = 1
	}

	return Config{
		Port:                       parsePort(os.Getenv("PORT")),
		APIKey:                     os.Getenv("API_KEY"),
		Environment:                getEnvOrDefault("APP_ENV", DefaultEnvironment),
		LogLevel:                   strings.ToLower(getEnvOrDefault("LOG_LEVEL", DefaultLogLevel)),
		GeoBaseURL:                 strings.TrimRight(getEnvOrDefault("OWM_GEO_URL", DefaultGeoBaseURL), "/"),
		AirPollutionURL:            getEnvOrDefault("OWM_AIR_POLLUTION_URL", DefaultAirPollutionURL),
		UpstreamMaxRetries:         retries,
		UpstreamCircuitFailures:    uint32(circuitFailures),
		UpstreamCircuitOpenTimeout: openTimeout,
		TraceSampleRatio:           sampleRatio,
		TelemetryEnabled:           os.Getenv("OTEL_ENABLED") == "true",
		OTLPEndpoint:               getEnvOrDefault("OTEL_EXPORTER_OTLP_ENDPOINT", DefaultOTLPEndpoint),
	}
}

// Addr returns the listen address for the HTTP server.
func (c Config) Addr() string {
	return ":" + strconv.Itoa(c.Port)
}

// IsDevelopment reports whether the relay runs in the development environment.
func (c Config) IsDevelopment() bool {
	return c.Environment == DefaultEnvironment
}

// ZerologLevel returns the configured log level, falling back to info.
func (c Config) ZerologLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

// parsePort returns the port in s, or DefaultPort when s is empty,
// non-numeric or outside the valid TCP port range.
func parsePort(s string) int {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port <= 0 || port > 65535 {
		return DefaultPort
	}
	return port
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
