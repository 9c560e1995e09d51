// Package metrics exposes server activity as OpenTelemetry counters backed
// by a Prometheus exporter, served on their own listener separate from the
// cache's main HTTP traffic.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	promclient "github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the counters every request handler reports to. The zero
// value is safe to use (every method is a no-op), so handlers never need a
// nil check before reporting.
type Metrics struct {
	NarinfoRequestsTotal metric.Int64Counter
	NarBytesServedTotal  metric.Int64Counter
	NarRequestsTotal     metric.Int64Counter
	ErrorsTotal          metric.Int64Counter
}

// New registers a Prometheus exporter as the global OTel meter provider and
// builds the counters the request handlers report to.
func New() (m Metrics, err error) {
	exporter, err := prometheus.New()
	if err != nil {
		return Metrics{}, fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter("github.com/nixcached/nixcached")

	if m.NarinfoRequestsTotal, err = meter.Int64Counter("narinfo_requests_total", metric.WithDescription("Total narinfo requests served")); err != nil {
		return Metrics{}, fmt.Errorf("create narinfo_requests_total counter: %w", err)
	}
	if m.NarRequestsTotal, err = meter.Int64Counter("nar_requests_total", metric.WithDescription("Total NAR requests served, by compression method")); err != nil {
		return Metrics{}, fmt.Errorf("create nar_requests_total counter: %w", err)
	}
	if m.NarBytesServedTotal, err = meter.Int64Counter("nar_bytes_served_total", metric.WithDescription("Total uncompressed NAR bytes covered by NAR responses")); err != nil {
		return Metrics{}, fmt.Errorf("create nar_bytes_served_total counter: %w", err)
	}
	if m.ErrorsTotal, err = meter.Int64Counter("errors_total", metric.WithDescription("Total non-2xx responses, by error kind")); err != nil {
		return Metrics{}, fmt.Errorf("create errors_total counter: %w", err)
	}

	return m, nil
}

// ListenAndServe serves the Prometheus scrape endpoint on addr, blocking
// until the listener fails.
func ListenAndServe(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promclient.Handler())
	return http.ListenAndServe(addr, mux)
}

func (m Metrics) IncrementNarinfoRequests(ctx context.Context) {
	if m.NarinfoRequestsTotal == nil {
		return
	}
	m.NarinfoRequestsTotal.Add(ctx, 1)
}

func (m Metrics) IncrementNarRequest(ctx context.Context, compression string, bytes int64) {
	if m.NarRequestsTotal != nil {
		m.NarRequestsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("compression", compression)))
	}
	if m.NarBytesServedTotal != nil {
		m.NarBytesServedTotal.Add(ctx, bytes, metric.WithAttributes(attribute.String("compression", compression)))
	}
}

func (m Metrics) IncrementErrors(ctx context.Context, kind string) {
	if m.ErrorsTotal == nil {
		return
	}
	m.ErrorsTotal.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}
