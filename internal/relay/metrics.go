package relay

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/breatheroute/aqirelay/internal/relay"

// Reply outcomes recorded as the "relay.outcome" attribute.
const (
	OutcomeOK           = "ok"
	OutcomeCityNotFound = "city_not_found"
	OutcomeFetchFailed  = "fetch_failed"
)

// Metrics holds the OpenTelemetry instruments for the relay.
type Metrics struct {
	activeConnections metric.Int64UpDownCounter
	connectionsTotal  metric.Int64Counter
	repliesTotal      metric.Int64Counter
	replyDuration     metric.Float64Histogram
	droppedReplies    metric.Int64Counter
}

// NewMetrics creates a new Metrics instance with initialized instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)

	activeConnections, err := meter.Int64UpDownCounter(
		"relay.connections.active",
		metric.WithDescription("Number of open client connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	connectionsTotal, err := meter.Int64Counter(
		"relay.connections.total",
		metric.WithDescription("Total number of accepted client connections"),
		metric.WithUnit("{connection}"),
	)
	if err != nil {
		return nil, err
	}

	repliesTotal, err := meter.Int64Counter(
		"relay.replies.total",
		metric.WithDescription("Total number of replies produced, by outcome"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, err
	}

	replyDuration, err := meter.Float64Histogram(
		"relay.reply.duration",
		metric.WithDescription("Time from receiving a query to producing its reply in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	droppedReplies, err := meter.Int64Counter(
		"relay.replies.dropped",
		metric.WithDescription("Replies discarded because the connection was gone"),
		metric.WithUnit("{reply}"),
	)
	if err != nil {
		return nil, err
	}

	return &Metrics{
		activeConnections: activeConnections,
		connectionsTotal:  connectionsTotal,
		repliesTotal:      repliesTotal,
		replyDuration:     replyDuration,
		droppedReplies:    droppedReplies,
	}, nil
}

// connectionOpened records a new connection. A nil receiver is a no-op.
func (m *Metrics) connectionOpened() {
	if m == nil {
		return
	}
	ctx := context.TODO()
	m.activeConnections.Add(ctx, 1)
	m.connectionsTotal.Add(ctx, 1)
}

// connectionClosed records a closed connection.
func (m *Metrics) connectionClosed() {
	if m == nil {
		return
	}
	m.activeConnections.Add(context.TODO(), -1)
}

// replyProduced records a reply and the time it took.
func (m *Metrics) replyProduced(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("relay.outcome", outcome))
	ctx := context.TODO()
	m.repliesTotal.Add(ctx, 1, attrs)
	m.replyDuration.Record(ctx, duration.Seconds(), attrs)
}

// replyDropped records a reply that could not be delivered.
func (m *Metrics) replyDropped() {
	if m == nil {
		return
	}
	m.droppedReplies.Add(context.TODO(), 1)
}
