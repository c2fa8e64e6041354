package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/kongswap/kong-backend/internal/ledger"
	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics implements the metrics hooks of settlement, claims, archive and
// the stream hub.
type Metrics struct {
	HTTPRequests       metric.Int64Counter
	HTTPDuration       metric.Float64Histogram
	Swaps              metric.Int64Counter
	DuplicateTransfers metric.Int64Counter
	ClaimsCreated      metric.Int64Counter
	ClaimAttempts      metric.Int64Counter
	ArchiveFailures    metric.Int64Counter
	ActiveConnections  metric.Int64UpDownCounter
}

func Setup(serviceName string) (*Metrics, http.Handler, error) {
	m, err := setup(serviceName, promclient.DefaultRegisterer)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.Handler(), nil
}

// SetupWithRegistry exports into reg instead of the global registry.
func SetupWithRegistry(serviceName string, reg *promclient.Registry) (*Metrics, http.Handler, error) {
	m, err := setup(serviceName, reg)
	if err != nil {
		return nil, nil, err
	}
	return m, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), nil
}

func setup(serviceName string, registerer promclient.Registerer) (*Metrics, error) {
	exporter, err := prometheus.New(prometheus.WithRegisterer(registerer))
	if err != nil {
		return nil, err
	}

	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	meter := provider.Meter(serviceName)

	m := &Metrics{}

	m.HTTPRequests, err = meter.Int64Counter(
		"kong_http_requests_total",
		metric.WithDescription("Total number of HTTP requests"),
	)
	if err != nil {
		return nil, err
	}

	m.HTTPDuration, err = meter.Float64Histogram(
		"kong_http_duration_seconds",
		metric.WithDescription("HTTP request duration in seconds"),
	)
	if err != nil {
		return nil, err
	}

	m.Swaps, err = meter.Int64Counter(
		"kong_swaps_total",
		metric.WithDescription("Finalized swaps by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.DuplicateTransfers, err = meter.Int64Counter(
		"kong_duplicate_transfers_total",
		metric.WithDescription("Pay transfers rejected as already used"),
	)
	if err != nil {
		return nil, err
	}

	m.ClaimsCreated, err = meter.Int64Counter(
		"kong_claims_created_total",
		metric.WithDescription("Claims created after a failed delivery"),
	)
	if err != nil {
		return nil, err
	}

	m.ClaimAttempts, err = meter.Int64Counter(
		"kong_claim_attempts_total",
		metric.WithDescription("Claim payout attempts by terminal status"),
	)
	if err != nil {
		return nil, err
	}

	m.ArchiveFailures, err = meter.Int64Counter(
		"kong_archive_failures_total",
		metric.WithDescription("Archive writes that failed or were dropped"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveConnections, err = meter.Int64UpDownCounter(
		"kong_stream_connections",
		metric.WithDescription("Number of active stream connections"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordHTTPRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	labels := metric.WithAttributes(
		attribute.String("method", method),
		attribute.String("path", path),
		attribute.Int("status", status),
	)

	m.HTTPRequests.Add(ctx, 1, labels)
	m.HTTPDuration.Record(ctx, duration.Seconds(), labels)
}

func (m *Metrics) RecordSwap(ctx context.Context, status ledger.StatusCode, hops int) {
	m.Swaps.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.Int("hops", hops),
	))
}

func (m *Metrics) RecordDuplicateTransfer(ctx context.Context) {
	m.DuplicateTransfers.Add(ctx, 1)
}

func (m *Metrics) RecordClaimCreated(ctx context.Context, tokenSymbol string) {
	m.ClaimsCreated.Add(ctx, 1, metric.WithAttributes(attribute.String("token", tokenSymbol)))
}

func (m *Metrics) RecordClaimAttempt(ctx context.Context, status ledger.StatusCode) {
	m.ClaimAttempts.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *Metrics) RecordArchiveFailure(ctx context.Context, sink string) {
	m.ArchiveFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink)))
}

func (m *Metrics) IncrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, 1)
}

func (m *Metrics) DecrementConnections(ctx context.Context) {
	m.ActiveConnections.Add(ctx, -1)
}
