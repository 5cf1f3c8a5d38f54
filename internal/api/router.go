// Package api assembles the relay's HTTP surface: the WebSocket endpoint and
// the ops endpoints behind a shared middleware chain.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqirelay/internal/api/handler"
	"github.com/breatheroute/aqirelay/internal/api/middleware"
	"github.com/breatheroute/aqirelay/internal/api/response"
	"github.com/breatheroute/aqirelay/internal/provider/resilience"
	"github.com/breatheroute/aqirelay/internal/relay"
)

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Version     string
	BuildTime   string
	Logger      zerolog.Logger
	ServiceName string
	Metrics     *middleware.Metrics
	Registry    *resilience.Registry
	Relay       *relay.Handler
}

// NewRouter creates a new chi router with the relay and ops routes configured.
func NewRouter(cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aqirelay"
	}

	// Global middleware - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.Tracing(serviceName))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware())
	}
	r.Use(middleware.Logger(cfg.Logger))
	r.Use(middleware.Recovery(cfg.Logger))
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.SecurityHeaders)

	// Any path accepts a WebSocket handshake; other unrouted requests get a
	// problem response.
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		if cfg.Relay != nil && websocket.IsWebSocketUpgrade(r) {
			cfg.Relay.ServeHTTP(w, r)
			return
		}
		response.Problem(w, r, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		response.Problem(w, r, http.StatusMethodNotAllowed, r.Method+" is not supported on "+r.URL.Path)
	})

	opsCfg := handler.OpsConfig{
		Version:   cfg.Version,
		BuildTime: cfg.BuildTime,
		Registry:  cfg.Registry,
	}

	// WebSocket endpoint; clients connect to the root URL.
	if cfg.Relay != nil {
		r.Get("/", cfg.Relay.ServeHTTP)
		r.Get("/ws", cfg.Relay.ServeHTTP)
		opsCfg.Connections = cfg.Relay
	}

	opsHandler := handler.NewOpsHandler(opsCfg)

	r.Route("/v1/ops", func(r chi.Router) {
		r.Get("/health", opsHandler.HealthCheck)
		r.Get("/ready", opsHandler.ReadinessCheck)
		r.Get("/status", opsHandler.SystemStatus)
	})

	return r
}
