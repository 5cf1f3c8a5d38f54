package resilience_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/breatheroute/aqirelay/internal/provider/resilience"
)

type failingTransport struct{}

func (failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	return nil, errors.New("connection refused")
}

func register(registry *resilience.Registry, name string) *resilience.Client {
	cfg := resilience.DefaultClientConfig(name)
	cfg.Registry = registry
	return resilience.NewClient(cfg)
}

func TestRegistry_RegisterStartsEmptyLedger(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "openweathermap-geo")

	health, ok := registry.Health("openweathermap-geo")
	require.True(t, ok)

	assert.Equal(t, "openweathermap-geo", health.Name)
	assert.Equal(t, gobreaker.StateClosed, health.CircuitState)
	assert.Zero(t, health.Calls)
	assert.Nil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
	assert.False(t, health.Open())
	assert.False(t, health.Degraded())
}

func TestRegistry_RecordKeepsRunningCounts(t *testing.T) {
	registry := resilience.NewRegistry()
	register(registry, "openweathermap-air")

	registry.Record("openweathermap-air", assert.AnError)
	registry.Record("openweathermap-air", assert.AnError)

	health, ok := registry.Health("openweathermap-air")
	require.True(t, ok)
	assert.Equal(t, uint64(2), health.Calls)
	assert.Equal(t, uint64(2), health.Failures)
	assert.Equal(t, uint32(2), health.ConsecutiveFailures)
	assert.Equal(t, assert.AnError.Error(), health.LastError)
	require.NotNil(t, health.LastFailureAt)
	assert.WithinDuration(t, time.Now(), *health.LastFailureAt, time.Second)
	assert.True(t, health.Degraded())

	registry.Record("openweathermap-air", nil)

	health, _ = registry.Health("openweathermap-air")
	assert.Equal(t, uint64(3), health.Calls)
	assert.Equal(t, uint64(2), health.Failures)
	assert.Zero(t, health.ConsecutiveFailures)
	require.NotNil(t, health.LastSuccessAt)
	assert.False(t, health.Degraded())
}

func TestRegistry_UnknownUpstream(t *testing.T) {
	registry := resilience.NewRegistry()

	registry.Record("nonexistent", assert.AnError)

	_, ok := registry.Health("nonexistent")
	assert.False(t, ok)
	assert.Empty(t, registry.Snapshot())
}

func TestRegistry_SnapshotIsSortedByName(t *testing.T) {
	registry := resilience.NewRegistry()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		register(registry, name)
	}

	snapshot := registry.Snapshot()
	require.Len(t, snapshot, 3)
	assert.Equal(t, "alpha", snapshot[0].Name)
	assert.Equal(t, "mid", snapshot[1].Name)
	assert.Equal(t, "zeta", snapshot[2].Name)
}

func TestRegistry_AnyOpen(t *testing.T) {
	registry := resilience.NewRegistry()
	assert.False(t, registry.AnyOpen())

	cfg := resilience.DefaultClientConfig("flaky")
	cfg.CircuitBreaker = &resilience.CircuitBreakerConfig{
		Name:        "flaky",
		MaxRequests: 1,
		Timeout:     time.Minute,
		ReadyToTrip: resilience.ConsecutiveFailuresTrip(1),
	}
	cfg.Registry = registry
	cfg.Transport = failingTransport{}
	client := resilience.NewClient(cfg)

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://upstream.invalid", http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	if resp != nil {
		resp.Body.Close()
	}
	require.Error(t, err)

	assert.True(t, registry.AnyOpen())
	health, ok := registry.Health("flaky")
	require.True(t, ok)
	assert.True(t, health.Open())
	assert.False(t, health.Degraded(), "an open circuit is reported as down")
	assert.NotEmpty(t, health.LastError)
}

func TestRegistry_DefaultClientNeverOpens(t *testing.T) {
	registry := resilience.NewRegistry()
	cfg := resilience.DefaultClientConfig("geo")
	cfg.Registry = registry
	cfg.Transport = failingTransport{}
	client := resilience.NewClient(cfg)

	for i := 0; i < 8; i++ {
		req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://upstream.invalid", http.NoBody)
		require.NoError(t, err)
		_, err = client.Do(req)
		require.Error(t, err)
	}

	assert.False(t, registry.AnyOpen())
	health, _ := registry.Health("geo")
	assert.Equal(t, uint64(8), health.Failures)
	assert.True(t, health.Degraded())
}

func TestClient_Records4xxAsSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := register(registry, "geo")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	health, ok := registry.Health("geo")
	require.True(t, ok)
	assert.Equal(t, uint64(1), health.Calls)
	assert.NotNil(t, health.LastSuccessAt)
	assert.Nil(t, health.LastFailureAt)
}

func TestClient_Records5xxAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	registry := resilience.NewRegistry()
	client := register(registry, "air")

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, server.URL, http.NoBody)
	require.NoError(t, err)
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	health, _ := registry.Health("air")
	assert.Equal(t, uint64(1), health.Failures)
	assert.Contains(t, health.LastError, "Service Unavailable")
}

func TestUpstreamHealth_States(t *testing.T) {
	tests := []struct {
		name     string
		health   resilience.UpstreamHealth
		open     bool
		degraded bool
	}{
		{"closed and clean", resilience.UpstreamHealth{CircuitState: gobreaker.StateClosed}, false, false},
		{"closed after failure", resilience.UpstreamHealth{CircuitState: gobreaker.StateClosed, ConsecutiveFailures: 1}, false, true},
		{"half open", resilience.UpstreamHealth{CircuitState: gobreaker.StateHalfOpen}, false, true},
		{"open", resilience.UpstreamHealth{CircuitState: gobreaker.StateOpen, ConsecutiveFailures: 5}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.open, tt.health.Open())
			assert.Equal(t, tt.degraded, tt.health.Degraded())
		})
	}
}
