package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/auth"
	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/httpclient"
	"github.com/stacklok/oic-target/internal/otel"
	"github.com/stacklok/oic-target/internal/telemetry"
)

// Dispatcher reconciles single records with the remote API
//
//go:generate mockgen -destination=mocks/mock_dispatcher.go -package=mocks github.com/stacklok/oic-target/internal/sync Dispatcher
type Dispatcher interface {
	// Dispatch always returns an outcome. The error is non-nil only when the
	// failure must end the batch; it is then an *Error.
	Dispatch(ctx context.Context, rec *entity.Record) (*Outcome, error)
}

// DispatcherOption configures a DefaultDispatcher
type DispatcherOption func(*DefaultDispatcher)

// WithImportMode sets how existence maps to create or update
func WithImportMode(mode config.ImportMode) DispatcherOption {
	return func(d *DefaultDispatcher) {
		d.mode = mode
	}
}

// WithDryRun runs existence checks but sends no mutating request
func WithDryRun(dryRun bool) DispatcherOption {
	return func(d *DefaultDispatcher) {
		d.dryRun = dryRun
	}
}

// WithIgnoreTransformationErrors keeps payload build failures local to the record
func WithIgnoreTransformationErrors(ignore bool) DispatcherOption {
	return func(d *DefaultDispatcher) {
		d.ignoreTransformationErrors = ignore
	}
}

// WithTracer sets the tracer for dispatch spans
func WithTracer(tracer trace.Tracer) DispatcherOption {
	return func(d *DefaultDispatcher) {
		d.tracer = tracer
	}
}

// WithDispatchMetrics sets the outcome counters
func WithDispatchMetrics(m *telemetry.SyncMetrics) DispatcherOption {
	return func(d *DefaultDispatcher) {
		d.metrics = m
	}
}

// DefaultDispatcher routes records to entity handlers and executes their plans
type DefaultDispatcher struct {
	registry                   *entity.Registry
	client                     httpclient.Client
	mode                       config.ImportMode
	dryRun                     bool
	ignoreTransformationErrors bool
	tracer                     trace.Tracer
	metrics                    *telemetry.SyncMetrics
}

var _ Dispatcher = (*DefaultDispatcher)(nil)

// NewDispatcher creates a dispatcher in create_or_update mode
func NewDispatcher(registry *entity.Registry, client httpclient.Client, opts ...DispatcherOption) *DefaultDispatcher {
	d := &DefaultDispatcher{
		registry:                   registry,
		client:                     client,
		mode:                       config.ImportModeCreateOrUpdate,
		ignoreTransformationErrors: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch implements Dispatcher
func (d *DefaultDispatcher) Dispatch(ctx context.Context, rec *entity.Record) (*Outcome, error) {
	start := time.Now()
	ctx, span := otel.StartSpan(ctx, d.tracer, "sync.dispatch",
		trace.WithAttributes(otel.AttrStream.String(rec.Stream)))
	defer span.End()

	m := newMachine(span)
	out := &Outcome{Stream: rec.Stream, Operation: entity.OpSkip}
	err := d.dispatch(ctx, m, rec, out)
	if !m.state.Terminal() {
		// Unsettled records count as failures
		out.Status = StatusFailed
		out.Message = fmt.Sprintf("dispatch ended in non-terminal state %s", m.state)
	}
	out.Duration = time.Since(start)

	span.SetAttributes(
		otel.AttrEntityID.String(out.EntityID),
		otel.AttrOperation.String(string(out.Operation)),
		otel.AttrOutcome.String(string(out.Status)),
	)
	if out.Failed() {
		otel.RecordError(span, errors.New(out.Message))
	}
	d.metrics.RecordOutcome(ctx, out.Stream, string(out.Operation), string(out.Status))

	slog.Debug("Record dispatched",
		"stream", out.Stream,
		"entity_id", out.EntityID,
		"operation", out.Operation,
		"status", out.Status,
		"http_status", out.HTTPStatus,
		"duration", out.Duration)
	return out, err
}

func (d *DefaultDispatcher) dispatch(ctx context.Context, m *machine, rec *entity.Record, out *Outcome) error {
	h, ok := d.registry.Lookup(rec.Stream)
	if !ok {
		out.EntityID, _ = h.Identify(rec)
		return d.skip(m, out, fmt.Sprintf("no handler registered for stream %s", rec.Stream))
	}
	if err := m.to(StateRouted); err != nil {
		return d.fail(m, out, err)
	}

	id, err := h.Identify(rec)
	if err != nil {
		return d.buildFailed(m, out, err)
	}
	out.EntityID = id

	switch h := h.(type) {
	case entity.ActionHandler:
		return d.act(ctx, m, h, id, rec, out)
	case entity.ResourceHandler:
		return d.reconcile(ctx, m, h, id, rec, out)
	default:
		return d.fail(m, out, fmt.Errorf("handler for %s supports neither actions nor resources", rec.Stream))
	}
}

// reconcile runs the existence check and then creates, updates or skips
func (d *DefaultDispatcher) reconcile(
	ctx context.Context, m *machine, h entity.ResourceHandler, id string, rec *entity.Record, out *Outcome,
) error {
	exists, err := entity.Exists(ctx, d.client, h, id)
	if err != nil {
		return d.fail(m, out, fmt.Errorf("existence check failed: %w", err))
	}
	if err := m.to(StateChecked); err != nil {
		return d.fail(m, out, err)
	}

	op := h.Decide(d.mode, exists)
	var plan *entity.Plan
	switch op {
	case entity.OpSkip:
		state := "absent"
		if exists {
			state = "exists"
		}
		return d.skip(m, out, fmt.Sprintf("entity %s, import mode %s", state, d.mode))
	case entity.OpCreate:
		if err := m.to(StateCreating); err != nil {
			return d.fail(m, out, err)
		}
		plan, err = h.BuildCreate(id, rec)
	default:
		if err := m.to(StateUpdating); err != nil {
			return d.fail(m, out, err)
		}
		plan, err = d.buildUpdate(h, id, rec)
	}
	out.Operation = op
	if err != nil {
		return d.buildFailed(m, out, err)
	}
	return d.execute(ctx, m, plan, out)
}

// buildUpdate prefers a full archive re-import in replace mode
func (d *DefaultDispatcher) buildUpdate(h entity.ResourceHandler, id string, rec *entity.Record) (*entity.Plan, error) {
	if r, ok := h.(entity.Replacer); ok && d.mode == config.ImportModeReplace {
		plan, ok, err := r.BuildReplace(id, rec)
		if err != nil || ok {
			return plan, err
		}
	}
	return h.BuildUpdate(id, rec)
}

func (d *DefaultDispatcher) act(
	ctx context.Context, m *machine, h entity.ActionHandler, id string, rec *entity.Record, out *Outcome,
) error {
	if err := m.to(StateActing); err != nil {
		return d.fail(m, out, err)
	}
	out.Operation = entity.OpAction

	action := entity.Action(rec)
	plan, err := h.BuildAction(action, id, rec)
	if errors.Is(err, entity.ErrUnknownAction) {
		out.Operation = entity.OpSkip
		slog.Warn("Skipping unsupported action", "stream", out.Stream, "entity_id", id, "action", action)
		return d.skip(m, out, err.Error())
	}
	if err != nil {
		return d.buildFailed(m, out, err)
	}
	return d.execute(ctx, m, plan, out)
}

// execute runs the plan's steps in order; the first failure ends the plan
func (d *DefaultDispatcher) execute(ctx context.Context, m *machine, plan *entity.Plan, out *Outcome) error {
	if d.dryRun {
		for _, step := range plan.Steps {
			slog.Info("Dry run, request not sent",
				"stream", out.Stream,
				"entity_id", out.EntityID,
				"method", step.Request.Method,
				"path", step.Request.Path)
		}
		out.Message = fmt.Sprintf("dry run: %d request(s) not sent", len(plan.Steps))
		return d.succeed(m, out)
	}

	deleted := false
	for _, step := range plan.Steps {
		resp, err := d.client.Do(ctx, step.Request)
		if err != nil {
			switch {
			case step.Role == entity.RoleActivate:
				err = fmt.Errorf("imported but activation failed: %w", err)
			case deleted:
				// The entity is gone until a later run recreates it
				err = fmt.Errorf("deleted %s but recreating it failed: %w", out.EntityID, err)
			}
			return d.fail(m, out, err)
		}

		switch step.Role {
		case entity.RoleDelete:
			deleted = true
		case entity.RoleActivate:
			out.Activated = true
		default:
			out.HTTPStatus = resp.StatusCode
		}
	}
	return d.succeed(m, out)
}

func (*DefaultDispatcher) succeed(m *machine, out *Outcome) error {
	if err := m.to(StateSucceeded); err != nil {
		out.Status = StatusFailed
		out.Message = err.Error()
		return nil
	}
	out.Status = StatusSuccess
	return nil
}

func (*DefaultDispatcher) skip(m *machine, out *Outcome, message string) error {
	if err := m.to(StateSkipped); err != nil {
		out.Status = StatusFailed
		out.Message = err.Error()
		return nil
	}
	out.Status = StatusSkipped
	out.Message = message
	return nil
}

// fail settles the record as FAILED. Authentication failures also end the batch.
func (*DefaultDispatcher) fail(m *machine, out *Outcome, err error) error {
	// every non-terminal state may fail
	_ = m.to(StateFailed)
	out.Status = StatusFailed
	out.Message = err.Error()
	if code := httpclient.StatusCode(err); code != 0 {
		out.HTTPStatus = code
	}

	if auth.IsAuthenticationError(err) {
		return &Error{Err: err, Message: fmt.Sprintf("authentication failed: %v", err), Reason: ReasonAuthentication}
	}
	return nil
}

// buildFailed handles errors raised while building a plan. Missing fields skip
// the record; transformation errors fail it.
func (d *DefaultDispatcher) buildFailed(m *machine, out *Outcome, err error) error {
	if entity.IsValidationError(err) {
		slog.Warn("Skipping record", "stream", out.Stream, "entity_id", out.EntityID, "error", err)
		out.Operation = entity.OpSkip
		return d.skip(m, out, err.Error())
	}

	batchErr := d.fail(m, out, err)
	if entity.IsTransformationError(err) && !d.ignoreTransformationErrors {
		return &Error{Err: err, Message: err.Error(), Reason: ReasonTransformation}
	}
	return batchErr
}
