package middleware

import (
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
)

// Metrics holds the HTTP server instruments.
type Metrics struct {
	duration metric.Float64Histogram
	requests metric.Int64Counter
	active   metric.Int64UpDownCounter
	size     metric.Int64Histogram
	upgrades metric.Int64Counter
}

// NewMetrics creates the HTTP server instruments on the global meter provider.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(instrumentationName)
	m := &Metrics{}

	var err error
	if m.duration, err = meter.Float64Histogram("http.server.request.duration",
		metric.WithDescription("Duration of plain HTTP requests in seconds"),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}
	if m.requests, err = meter.Int64Counter("http.server.request.total",
		metric.WithDescription("Requests served, upgrades included"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.active, err = meter.Int64UpDownCounter("http.server.active_requests",
		metric.WithDescription("Requests being served, including open WebSocket connections"),
		metric.WithUnit("{request}"),
	); err != nil {
		return nil, err
	}
	if m.size, err = meter.Int64Histogram("http.server.response.body.size",
		metric.WithDescription("Plain HTTP response body size"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}
	if m.upgrades, err = meter.Int64Counter("http.server.websocket.upgrades",
		metric.WithDescription("Requests switched to the WebSocket protocol"),
		metric.WithUnit("{connection}"),
	); err != nil {
		return nil, err
	}
	return m, nil
}

// Middleware returns an HTTP middleware that records metrics per request,
// labelled by route pattern. Upgraded requests are counted as upgrades and
// kept out of the latency and size histograms.
func (m *Metrics) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ctx := r.Context()

			method := metric.WithAttributes(semconv.HTTPRequestMethodKey.String(r.Method))
			m.active.Add(ctx, 1, method)
			defer m.active.Add(ctx, -1, method)

			rec := newStatusRecorder(w)
			next.ServeHTTP(rec, r)

			attrs := metric.WithAttributes(
				semconv.HTTPRequestMethodKey.String(r.Method),
				semconv.HTTPRoute(routeLabel(r)),
				semconv.HTTPResponseStatusCode(rec.status),
			)

			m.requests.Add(ctx, 1, attrs)
			if rec.upgraded {
				m.upgrades.Add(ctx, 1, attrs)
				return
			}
			m.duration.Record(ctx, time.Since(start).Seconds(), attrs)
			m.size.Record(ctx, rec.bytes, attrs)
		})
	}
}
