package orchestrator

import (
	"io"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/status"
)

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStateOutput sets where STATE values are written, one per line
func WithStateOutput(w io.Writer) Option {
	return func(o *Orchestrator) {
		o.stateOut = w
	}
}

// WithStatusPersistence records the run status of instance in p and holds the
// instance's run lock for the duration of the run
func WithStatusPersistence(p status.StatusPersistence, instance string) Option {
	return func(o *Orchestrator) {
		o.persistence = p
		o.instance = instance
	}
}

// WithMaxErrorMessages bounds the error messages kept in the result
func WithMaxErrorMessages(n int) Option {
	return func(o *Orchestrator) {
		o.maxErrorMessages = n
	}
}

// WithStopOnError fails the run on any failed record
func WithStopOnError(stop bool) Option {
	return func(o *Orchestrator) {
		o.stopOnError = stop
	}
}

// WithDryRun marks the result as a dry run
func WithDryRun(dryRun bool) Option {
	return func(o *Orchestrator) {
		o.dryRun = dryRun
	}
}

// WithTracer sets the tracer for the run span
func WithTracer(tracer trace.Tracer) Option {
	return func(o *Orchestrator) {
		o.tracer = tracer
	}
}

// FromConfig returns the options derived from the target configuration
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithMaxErrorMessages(cfg.GetMaxErrorMessages()),
		WithStopOnError(cfg.StopOnError),
		WithDryRun(cfg.DryRunMode),
	}
}
