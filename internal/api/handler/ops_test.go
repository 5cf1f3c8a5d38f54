package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqirelay/internal/api/handler"
	"github.com/breatheroute/aqirelay/internal/api/models"
	"github.com/breatheroute/aqirelay/internal/provider/resilience"
)

type refusingTransport struct{}

func (refusingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

type fixedConnections int64

func (c fixedConnections) ActiveConnections() int64 { return int64(c) }

// registerTripped adds a provider whose circuit opens on its first failure and
// fails it once.
func registerTripped(t *testing.T, registry *resilience.Registry, name string) {
	t.Helper()

	cb := resilience.CircuitBreakerConfig{
		Name:        name,
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailuresTrip(1),
	}
	cfg := resilience.DefaultClientConfig(name)
	cfg.CircuitBreaker = &cb
	cfg.Registry = registry
	cfg.Transport = refusingTransport{}
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://upstream.invalid", http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		_ = resp.Body.Close()
	}
	require.Error(t, err)
}

func get(t *testing.T, h http.HandlerFunc, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h(rec, httptest.NewRequest(http.MethodGet, path, http.NoBody))
	return rec
}

func TestOpsHandler_HealthCheck(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{Version: "1.2.3", BuildTime: "2024-01-01T00:00:00Z"})

	rec := get(t, h.HealthCheck, "/v1/ops/health")
	assert.Equal(t, http.StatusOK, rec.Code)

	var health models.Health
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.Equal(t, models.HealthStatusOK, health.Status)
	assert.Equal(t, "1.2.3", health.Details["version"])
	assert.Equal(t, "2024-01-01T00:00:00Z", health.Details["buildTime"])
}

func TestOpsHandler_ReadinessCheck(t *testing.T) {
	t.Run("ready without providers", func(t *testing.T) {
		h := handler.NewOpsHandler(handler.OpsConfig{Registry: resilience.NewRegistry()})

		rec := get(t, h.ReadinessCheck, "/v1/ops/ready")
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("not ready with an open circuit", func(t *testing.T) {
		registry := resilience.NewRegistry()
		registerTripped(t, registry, "openweathermap-geo")
		h := handler.NewOpsHandler(handler.OpsConfig{Registry: registry})

		rec := get(t, h.ReadinessCheck, "/v1/ops/ready")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

		var health models.Health
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
		assert.Equal(t, models.HealthStatusFail, health.Status)
	})
}

func TestOpsHandler_SystemStatus(t *testing.T) {
	registry := resilience.NewRegistry()
	airCfg := resilience.DefaultClientConfig("openweathermap-air")
	airCfg.Registry = registry
	resilience.NewClient(airCfg)
	registerTripped(t, registry, "openweathermap-geo")

	h := handler.NewOpsHandler(handler.OpsConfig{
		Registry:    registry,
		Connections: fixedConnections(3),
	})

	rec := get(t, h.SystemStatus, "/v1/ops/status")
	assert.Equal(t, http.StatusOK, rec.Code)

	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))

	assert.Equal(t, models.HealthStatusFail, status.Status)
	require.Len(t, status.Subsystems, 1)
	assert.Equal(t, "relay", status.Subsystems[0].Name)
	assert.Equal(t, "3 open connections", status.Subsystems[0].Detail)

	require.Len(t, status.Providers, 2)
	air, geo := status.Providers[0], status.Providers[1]

	assert.Equal(t, "openweathermap-air", air.Provider)
	assert.Equal(t, models.HealthStatusOK, air.Status)
	assert.Equal(t, "closed", air.CircuitState)
	assert.Zero(t, air.Calls)
	assert.Nil(t, air.LastFailureAt)

	assert.Equal(t, "openweathermap-geo", geo.Provider)
	assert.Equal(t, models.HealthStatusFail, geo.Status)
	assert.Equal(t, "open", geo.CircuitState)
	assert.Equal(t, uint64(1), geo.Calls)
	assert.Equal(t, uint64(1), geo.Failures)
	assert.NotNil(t, geo.LastFailureAt)
	assert.NotEmpty(t, geo.Message)
}

func TestOpsHandler_FailingUpstreamIsDegradedNotDown(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("openweathermap-geo")
	cfg.Registry = registry
	resilience.NewClient(cfg)
	registry.Record("openweathermap-geo", errors.New("server error: Bad Gateway"))

	h := handler.NewOpsHandler(handler.OpsConfig{Registry: registry})

	ready := get(t, h.ReadinessCheck, "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, ready.Code, "a closed circuit still lets queries through")

	rec := get(t, h.SystemStatus, "/v1/ops/status")
	var status models.SystemStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, models.HealthStatusDegraded, status.Status)
	require.Len(t, status.Providers, 1)
	assert.Equal(t, models.HealthStatusDegraded, status.Providers[0].Status)
	assert.Equal(t, "server error: Bad Gateway", status.Providers[0].Message)
}

func TestOpsHandler_SystemStatusWithoutRegistry(t *testing.T) {
	h := handler.NewOpsHandler(handler.OpsConfig{})

	rec := get(t, h.SystemStatus, "/v1/ops/status")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"providers":[]`)
	assert.Contains(t, rec.Body.String(), `"status":"OK"`)
}
