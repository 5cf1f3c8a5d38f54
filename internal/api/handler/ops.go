// Package handler provides the relay's HTTP handlers for operational endpoints.
package handler

import (
	"fmt"
	"net/http"
	"time"

	"github.com/breatheroute/aqirelay/internal/api/models"
	"github.com/breatheroute/aqirelay/internal/api/response"
	"github.com/breatheroute/aqirelay/internal/provider/resilience"
)

// ConnectionCounter reports how many WebSocket clients are connected.
type ConnectionCounter interface {
	ActiveConnections() int64
}

// OpsConfig holds configuration for the ops handler.
type OpsConfig struct {
	Version   string
	BuildTime string

	// Registry tracks upstream provider health (optional).
	Registry *resilience.Registry

	// Connections reports the relay's open connections (optional).
	Connections ConnectionCounter
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version     string
	buildTime   string
	registry    *resilience.Registry
	connections ConnectionCounter
	now         func() time.Time
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{
		version:     cfg.Version,
		buildTime:   cfg.BuildTime,
		registry:    cfg.Registry,
		connections: cfg.Connections,
		now:         time.Now,
	}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.WireTime(h.now()),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready. The relay is not ready while any
// upstream circuit is open, since no query can then succeed.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.WireTime(h.now()),
	}

	if h.registry != nil && h.registry.AnyOpen() {
		health.Status = models.HealthStatusFail
		health.Details = map[string]interface{}{"reason": "upstream circuit open"}
		response.JSON(w, r, http.StatusServiceUnavailable, health)
		return
	}

	response.JSON(w, r, http.StatusOK, health)
}

// SystemStatus handles GET /v1/ops/status - relay and provider status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	relayStatus := models.SubsystemStatus{Name: "relay", Status: models.HealthStatusOK}
	if h.connections != nil {
		relayStatus.Detail = fmt.Sprintf("%d open connections", h.connections.ActiveConnections())
	}

	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.WireTime(h.now()),
		Subsystems: []models.SubsystemStatus{relayStatus},
		Providers:  h.providerStatuses(),
	}
	for _, p := range status.Providers {
		status.Status = status.Status.Worst(p.Status)
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) providerStatuses() []models.ProviderStatus {
	statuses := []models.ProviderStatus{}
	if h.registry == nil {
		return statuses
	}

	for _, health := range h.registry.Snapshot() {
		statuses = append(statuses, models.ProviderStatus{
			Provider:      health.Name,
			Status:        upstreamStatus(health),
			CircuitState:  health.CircuitState.String(),
			Calls:         health.Calls,
			Failures:      health.Failures,
			LastSuccessAt: models.WireTimePtr(health.LastSuccessAt),
			LastFailureAt: models.WireTimePtr(health.LastFailureAt),
			Message:       health.LastError,
		})
	}
	return statuses
}

func upstreamStatus(health resilience.UpstreamHealth) models.HealthStatus {
	switch {
	case health.Open():
		return models.HealthStatusFail
	case health.Degraded():
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}
