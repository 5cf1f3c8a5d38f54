package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/breatheroute/aqirelay/internal/provider/resilience"
)

const meterName = "github.com/breatheroute/aqirelay/internal/telemetry"

// Call outcomes reported on the upstream.outcome attribute.
const (
	OutcomeOK          = "ok"
	OutcomeEmpty       = "empty"
	OutcomeCircuitOpen = "circuit_open"
	OutcomeCanceled    = "canceled"
	OutcomeError       = "error"
)

// UpstreamMetrics times and counts calls to the air quality provider.
type UpstreamMetrics struct {
	provider string
	latency  metric.Float64Histogram
	calls    metric.Int64Counter
	results  metric.Int64Histogram
}

// NewUpstreamMetrics registers the instruments for calls to provider.
func NewUpstreamMetrics(provider string) (*UpstreamMetrics, error) {
	meter := otel.Meter(meterName)
	m := &UpstreamMetrics{provider: provider}

	var err error
	if m.latency, err = meter.Float64Histogram(
		"upstream.call.duration",
		metric.WithDescription("Duration of upstream calls in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.calls, err = meter.Int64Counter(
		"upstream.call.total",
		metric.WithDescription("Upstream calls by operation and outcome"),
		metric.WithUnit("{call}"),
	); err != nil {
		return nil, err
	}
	if m.results, err = meter.Int64Histogram(
		"upstream.call.results",
		metric.WithDescription("Items returned by successful upstream calls"),
		metric.WithUnit("{item}"),
		metric.WithExplicitBucketBoundaries(0, 1, 2, 5),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Observe records one call to operation that returned results items.
// A nil receiver is a no-op.
func (m *UpstreamMetrics) Observe(operation string, results int, elapsed time.Duration, err error) {
	if m == nil {
		return
	}

	outcome := Outcome(results, err)
	set := metric.WithAttributes(
		attribute.String("upstream.provider", m.provider),
		attribute.String("upstream.operation", operation),
		attribute.String("upstream.outcome", outcome),
	)

	// The caller's context may already be canceled; the sample is still kept.
	ctx := context.Background()
	m.calls.Add(ctx, 1, set)
	if outcome == OutcomeCircuitOpen {
		return
	}
	m.latency.Record(ctx, elapsed.Seconds(), set)
	if err == nil {
		m.results.Record(ctx, int64(results), set)
	}
}

// Outcome classifies a finished call.
func Outcome(results int, err error) string {
	switch {
	case errors.Is(err, resilience.ErrCircuitOpen):
		return OutcomeCircuitOpen
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCanceled
	case err != nil:
		return OutcomeError
	case results == 0:
		return OutcomeEmpty
	default:
		return OutcomeOK
	}
}
