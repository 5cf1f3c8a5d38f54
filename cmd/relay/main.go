// Package main provides the entrypoint for the AQI relay server.
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/breatheroute/aqirelay/internal/airquality"
	"github.com/breatheroute/aqirelay/internal/airquality/openweathermap"
	"github.com/breatheroute/aqirelay/internal/api"
	"github.com/breatheroute/aqirelay/internal/api/middleware"
	"github.com/breatheroute/aqirelay/internal/config"
	"github.com/breatheroute/aqirelay/internal/provider/resilience"
	"github.com/breatheroute/aqirelay/internal/relay"
	"github.com/breatheroute/aqirelay/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

const serviceName = "aqirelay"

func main() {
	if err := config.LoadDotEnv(); err != nil {
		// Logging is not configured yet.
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load .env")
	}
	cfg := config.FromEnv()

	log := newLogger(cfg)
	log.Info().
		Str("build_time", BuildTime).
		Str("environment", cfg.Environment).
		Msg("starting AQI relay")

	if cfg.APIKey == "" {
		log.Warn().Msg("API_KEY is not set - upstream calls will be rejected")
	}

	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		OTLPEndpoint:   cfg.OTLPEndpoint,
		Enabled:        cfg.TelemetryEnabled,
		SampleRatio:    cfg.TraceSampleRatio,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if cfg.TelemetryEnabled {
		log.Info().
			Str("otlp_endpoint", cfg.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	httpMetrics, err := middleware.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize metrics")
		os.Exit(1) //nolint:gocritic // intentional exit, telemetry cleanup is best-effort
	}
	relayMetrics, err := relay.NewMetrics()
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize relay metrics")
		os.Exit(1)
	}
	upstreamMetrics, err := telemetry.NewUpstreamMetrics(openweathermap.ProviderName)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize upstream metrics")
		os.Exit(1)
	}

	registry := resilience.NewRegistry()
	owm := openweathermap.NewClient(openweathermap.ClientConfig{
		APIKey:          cfg.APIKey,
		GeoBaseURL:      cfg.GeoBaseURL,
		AirPollutionURL: cfg.AirPollutionURL,
		GeoHTTPClient:   newUpstreamClient("openweathermap-geo", cfg, registry, log),
		AirHTTPClient:   newUpstreamClient("openweathermap-air", cfg, registry, log),
		Metrics:         upstreamMetrics,
		Logger:          log,
	})

	resolver := airquality.NewResolver(airquality.ResolverConfig{
		Geocoder:  owm,
		Pollution: owm,
		Logger:    log.With().Str("component", "resolver").Logger(),
	})

	relayHandler := relay.NewHandler(relay.HandlerConfig{
		Resolver: resolver,
		Logger:   log.With().Str("component", "relay").Logger(),
		Metrics:  relayMetrics,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     httpMetrics,
		Registry:    registry,
		Relay:       relayHandler,
	})

	// No read or write timeouts: upgraded connections stay open for as long
	// as the client keeps them.
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ln, err := listen(cfg.Addr(), log)
	if err != nil {
		log.Fatal().Err(err).Str("addr", cfg.Addr()).Msg("failed to bind listener")
	}

	go func() {
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server stopped")
}

func newLogger(cfg config.Config) zerolog.Logger {
	var log zerolog.Logger
	if cfg.IsDevelopment() {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stdout)
	}

	return log.Level(cfg.ZerologLevel()).
		With().
		Timestamp().
		Str("service", serviceName).
		Str("version", Version).
		Logger()
}

// listen binds addr and only then reports the bound address.
func listen(addr string, log zerolog.Logger) (net.Listener, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("addr", ln.Addr().String()).
		Msg("server listening")
	return ln, nil
}

// newUpstreamClient builds the client for one upstream endpoint. Its breaker
// only opens when UPSTREAM_CIRCUIT_FAILURES is set.
func newUpstreamClient(name string, cfg config.Config, registry *resilience.Registry, log zerolog.Logger) *resilience.Client {
	cb := resilience.DefaultCircuitBreakerConfig(name)
	cb.OnStateChange = resilience.LogStateChanges(log)
	if cfg.UpstreamCircuitFailures > 0 {
		cb.ReadyToTrip = resilience.ConsecutiveFailuresTrip(cfg.UpstreamCircuitFailures)
		cb.Timeout = cfg.UpstreamCircuitOpenTimeout
	}

	clientCfg := resilience.DefaultClientConfig(name)
	clientCfg.MaxRetries = cfg.UpstreamMaxRetries
	clientCfg.CircuitBreaker = &cb
	clientCfg.Registry = registry

	return resilience.NewClient(clientCfg)
}
