package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	// SyncMetricsMeterName is the name used for the sync metrics meter
	SyncMetricsMeterName = "github.com/stacklok/oic-target/sync"
)

// SyncMetrics holds the OpenTelemetry instruments for a sync run.
// A nil *SyncMetrics is valid and records nothing.
type SyncMetrics struct {
	recordsTotal   metric.Int64Counter
	batchDuration  metric.Float64Histogram
	requestsTotal  metric.Int64Counter
	tokenRefreshes metric.Int64Counter
}

// NewSyncMetrics creates a new SyncMetrics instance with the given meter provider.
// If provider is nil, it returns nil (no-op metrics).
func NewSyncMetrics(provider metric.MeterProvider) (*SyncMetrics, error) {
	if provider == nil {
		return nil, nil
	}

	meter := provider.Meter(SyncMetricsMeterName)

	recordsTotal, err := meter.Int64Counter(
		"oic_target_records_total",
		metric.WithDescription("Records reconciled, by stream, operation and status"),
		metric.WithUnit("{record}"),
	)
	if err != nil {
		return nil, err
	}

	batchDuration, err := meter.Float64Histogram(
		"oic_target_batch_duration_seconds",
		metric.WithDescription("Duration of batch processing in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300),
	)
	if err != nil {
		return nil, err
	}

	requestsTotal, err := meter.Int64Counter(
		"oic_target_http_requests_total",
		metric.WithDescription("Requests sent to the OIC REST API, by method and status code"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	tokenRefreshes, err := meter.Int64Counter(
		"oic_target_token_refreshes_total",
		metric.WithDescription("OAuth2 token requests, by result"),
		metric.WithUnit("{request}"),
	)
	if err != nil {
		return nil, err
	}

	return &SyncMetrics{
		recordsTotal:   recordsTotal,
		batchDuration:  batchDuration,
		requestsTotal:  requestsTotal,
		tokenRefreshes: tokenRefreshes,
	}, nil
}

// RecordOutcome counts one reconciled record
func (m *SyncMetrics) RecordOutcome(ctx context.Context, stream, operation, status string) {
	if m == nil || m.recordsTotal == nil {
		return
	}

	m.recordsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("operation", operation),
		attribute.String("status", status),
	))
}

// RecordBatchDuration records how long a batch took to reach a terminal state
func (m *SyncMetrics) RecordBatchDuration(ctx context.Context, stream, status string, duration time.Duration) {
	if m == nil || m.batchDuration == nil {
		return
	}

	m.batchDuration.Record(ctx, duration.Seconds(), metric.WithAttributes(
		attribute.String("stream", stream),
		attribute.String("status", status),
	))
}

// RecordRequest counts one HTTP attempt; statusCode is 0 for transport failures
func (m *SyncMetrics) RecordRequest(ctx context.Context, method string, statusCode int) {
	if m == nil || m.requestsTotal == nil {
		return
	}

	m.requestsTotal.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", method),
		attribute.Int("status_code", statusCode),
	))
}

// RecordTokenRefresh counts one token endpoint call
func (m *SyncMetrics) RecordTokenRefresh(ctx context.Context, success bool) {
	if m == nil || m.tokenRefreshes == nil {
		return
	}

	m.tokenRefreshes.Add(ctx, 1, metric.WithAttributes(attribute.Bool("success", success)))
}
