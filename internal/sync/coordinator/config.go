package coordinator

import (
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/telemetry"
)

const (
	// DefaultBatchSize is used when no batch size function is configured
	DefaultBatchSize = config.DefaultBatchSize
	// DefaultQueueDepth is the number of full batches a lane buffers
	DefaultQueueDepth = 2
)

// Option is a function that configures the coordinator
type Option func(*DefaultCoordinator)

// WithBatchSize sets the batch size per stream
func WithBatchSize(size func(stream string) int) Option {
	return func(c *DefaultCoordinator) {
		c.batchSize = size
	}
}

// WithMaxErrors sets the per-batch failure threshold; 0 disables it
func WithMaxErrors(n int) Option {
	return func(c *DefaultCoordinator) {
		c.maxErrors = n
	}
}

// WithMaxWorkers bounds the number of batches executing at once
func WithMaxWorkers(n int) Option {
	return func(c *DefaultCoordinator) {
		c.maxWorkers = n
	}
}

// WithQueueDepth bounds the full batches waiting in one lane
func WithQueueDepth(n int) Option {
	return func(c *DefaultCoordinator) {
		c.queueDepth = n
	}
}

// WithIdentifier names the entity of records that are skipped without being
// dispatched
func WithIdentifier(identify func(*entity.Record) string) Option {
	return func(c *DefaultCoordinator) {
		c.identify = identify
	}
}

// WithTracer sets the tracer for batch spans
func WithTracer(tracer trace.Tracer) Option {
	return func(c *DefaultCoordinator) {
		c.tracer = tracer
	}
}

// WithSyncMetrics sets the sync metrics for the coordinator
func WithSyncMetrics(metrics *telemetry.SyncMetrics) Option {
	return func(c *DefaultCoordinator) {
		c.metrics = metrics
	}
}

// FromConfig maps the target configuration to coordinator options
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithBatchSize(cfg.GetBatchSize),
		WithMaxErrors(cfg.GetMaxErrors()),
		WithMaxWorkers(cfg.GetMaxWorkers()),
	}
}
