package relay

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/breatheroute/aqirelay/internal/api/middleware"
)

// HandlerConfig holds configuration for the WebSocket handler.
type HandlerConfig struct {
	// Resolver answers queries for every connection.
	Resolver Resolver

	// Logger for connection events.
	Logger zerolog.Logger

	// Metrics records connection and reply metrics (optional).
	Metrics *Metrics

	// ReadBufferSize and WriteBufferSize size the per-connection I/O buffers
	// (optional, gorilla defaults when zero).
	ReadBufferSize  int
	WriteBufferSize int
}

// Handler upgrades HTTP requests to WebSocket connections and runs a
// Session on each one.
type Handler struct {
	resolver Resolver
	logger   zerolog.Logger
	metrics  *Metrics
	upgrader websocket.Upgrader

	active atomic.Int64
}

// NewHandler creates a new WebSocket handler.
func NewHandler(cfg HandlerConfig) *Handler {
	return &Handler{
		resolver: cfg.Resolver,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			// Clients are not authenticated; any origin may connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// ServeHTTP upgrades the request and serves the connection until it closes.
// The connection is named by the request id, which the 101 response echoes
// in X-Request-Id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	id := middleware.GetRequestID(r.Context())
	if id == "" {
		id = middleware.NewRequestID()
		r = r.WithContext(middleware.WithRequestID(r.Context(), id))
	}

	conn, err := h.upgrader.Upgrade(w, r, middleware.UpgradeHeader(r.Context()))
	if err != nil {
		// Upgrade has already written an HTTP error response.
		h.logger.Warn().
			Err(err).
			Str("request_id", id).
			Str("remote_addr", r.RemoteAddr).
			Msg("websocket upgrade failed")
		return
	}

	session := NewSession(SessionConfig{
		ID:       id,
		Conn:     conn,
		Resolver: h.resolver,
		Logger:   h.logger.With().Str("remote_addr", r.RemoteAddr).Logger(),
		Metrics:  h.metrics,
	})

	h.active.Add(1)
	defer h.active.Add(-1)

	// Resolutions outlive the request: a reply for a closed connection is
	// dropped rather than cancelled.
	session.Run(context.WithoutCancel(r.Context()))
}

// ActiveConnections returns the number of connections currently being served.
func (h *Handler) ActiveConnections() int64 {
	return h.active.Load()
}
