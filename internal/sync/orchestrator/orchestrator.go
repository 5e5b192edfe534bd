// Package orchestrator drives a run: it reads the Singer message stream, feeds
// records to the batch coordinator, and emits state checkpoints once the work
// they cover is terminal.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/config"
	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/otel"
	"github.com/stacklok/oic-target/internal/singer"
	"github.com/stacklok/oic-target/internal/status"
	"github.com/stacklok/oic-target/internal/sync/coordinator"
)

// ErrAlreadyRun is returned when Run is called a second time
var ErrAlreadyRun = errors.New("orchestrator has already run")

// Orchestrator runs the target once
type Orchestrator struct {
	coordinator      coordinator.Coordinator
	stateOut         io.Writer
	persistence      status.StatusPersistence
	instance         string
	maxErrorMessages int
	stopOnError      bool
	dryRun           bool
	tracer           trace.Tracer

	ran     bool
	streams map[string]*streamInfo
}

// streamInfo is what the SCHEMA messages told us about a stream
type streamInfo struct {
	schema        *singer.Schema
	keyProperties []string
	// warned holds the diagnostics already logged for the stream
	warned map[string]struct{}
}

type item struct {
	msg *singer.Message
	err error
}

// New creates an orchestrator feeding c. The coordinator is closed by Run.
func New(c coordinator.Coordinator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		coordinator:      c,
		stateOut:         io.Discard,
		maxErrorMessages: config.DefaultMaxErrorMessages,
		streams:          make(map[string]*streamInfo),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run consumes in until EOF, cancellation or a fatal error. The result is
// returned whenever the run started, together with the error that ended it
// early, if any.
func (o *Orchestrator) Run(ctx context.Context, in io.Reader) (*RunResult, error) {
	if o.ran {
		return nil, ErrAlreadyRun
	}
	o.ran = true

	if o.persistence != nil {
		unlock, err := o.persistence.Lock(o.instance)
		if err != nil {
			return nil, fmt.Errorf("failed to lock instance %s: %w", o.instance, err)
		}
		defer func() {
			if err := unlock(); err != nil {
				slog.Warn("Failed to release run lock", "instance", o.instance, "error", err)
			}
		}()
	}

	res := newRunResult(uuid.NewString(), o.maxErrorMessages, o.stopOnError, o.dryRun)
	ctx, span := otel.StartSpan(ctx, o.tracer, "sync.run", trace.WithAttributes(otel.AttrRunID.String(res.RunID)))
	defer span.End()

	slog.Info("Starting run", "run_id", res.RunID, "instance", o.instance, "dry_run", o.dryRun)
	o.saveStatus(ctx, res)

	cp := newCheckpointer(singer.NewStateWriter(o.stateOut))
	runErr := o.consume(ctx, in, res, cp)

	results, err := o.coordinator.Close(ctx)
	res.absorb(results)
	if err != nil && ctx.Err() == nil {
		slog.Warn("Failed to close coordinator", "error", err)
	}

	switch {
	case ctx.Err() != nil:
		res.Cancelled = true
		runErr = ctx.Err()
	case runErr == nil:
		// An authentication failure in the last batches ends the run too
		runErr = o.coordinator.Err()
	}
	if runErr != nil && !res.Cancelled {
		res.Aborted = runErr
	}
	res.CompletedAt = time.Now()
	o.saveStatus(ctx, res)

	if res.Failed() {
		otel.RecordError(span, errors.New(res.failureMessage()))
	}
	log := slog.Info
	if res.Failed() {
		log = slog.Warn
	}
	log("Run finished",
		"run_id", res.RunID,
		"processed", res.Totals.Processed,
		"created", res.Totals.Created,
		"updated", res.Totals.Updated,
		"actions", res.Totals.Actions,
		"activated", res.Totals.Activated,
		"skipped", res.Totals.Skipped,
		"failed", res.Totals.Failed,
		"batches", res.Batches,
		"failed_batches", res.FailedBatches,
		"cancelled", res.Cancelled,
		"duration", res.CompletedAt.Sub(res.StartedAt))
	return res, runErr
}

// consume handles messages in input order. It returns nil at EOF.
func (o *Orchestrator) consume(ctx context.Context, in io.Reader, res *RunResult, cp *checkpointer) error {
	readCtx, stop := context.WithCancel(ctx)
	defer stop()

	items := make(chan item)
	go read(readCtx, singer.NewReader(in), items)

	for {
		var (
			it item
			ok bool
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok = <-items:
		}
		if !ok {
			return nil
		}
		if it.err != nil {
			return fmt.Errorf("input corrupted: %w", it.err)
		}
		if err := o.handle(ctx, it.msg, res, cp); err != nil {
			return err
		}
	}
}

// read pumps messages until EOF, a read error, or ctx is done
func read(ctx context.Context, r *singer.Reader, out chan<- item) {
	defer close(out)
	for {
		msg, err := r.Next()
		if errors.Is(err, io.EOF) {
			return
		}
		select {
		case out <- item{msg: msg, err: err}:
		case <-ctx.Done():
			return
		}
		if err != nil {
			return
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, msg *singer.Message, res *RunResult, cp *checkpointer) error {
	switch msg.Type {
	case singer.TypeSchema:
		o.registerSchema(msg)
		return nil
	case singer.TypeRecord:
		return o.submit(ctx, msg, res)
	case singer.TypeState:
		return o.checkpoint(ctx, msg, res, cp)
	default:
		slog.Warn("Ignoring message of unknown type", "type", msg.Type, "line", msg.Line)
		return nil
	}
}

func (o *Orchestrator) stream(name string) *streamInfo {
	info, ok := o.streams[name]
	if !ok {
		info = &streamInfo{warned: make(map[string]struct{})}
		o.streams[name] = info
	}
	return info
}

func (o *Orchestrator) registerSchema(msg *singer.Message) {
	info := o.stream(msg.Stream)
	info.keyProperties = msg.KeyProperties

	schema, err := singer.CompileSchema(msg.Stream, msg.Schema, msg.KeyProperties)
	if err != nil {
		info.schema = nil
		slog.Warn("Schema diagnostics disabled for stream", "stream", msg.Stream, "error", err)
		return
	}
	info.schema = schema
	slog.Debug("Registered schema", "stream", msg.Stream, "key_properties", msg.KeyProperties)
}

func (o *Orchestrator) submit(ctx context.Context, msg *singer.Message, res *RunResult) error {
	if !msg.HasRecord() {
		slog.Warn("Skipping RECORD without a record object", "stream", msg.Stream, "line", msg.Line)
		res.skip(msg.Stream)
		return nil
	}

	info := o.stream(msg.Stream)
	rec, err := entity.NewRecord(msg.Stream, msg.Record, info.keyProperties)
	if err != nil {
		slog.Warn("Skipping unreadable record", "stream", msg.Stream, "line", msg.Line, "error", err)
		res.skip(msg.Stream)
		return nil
	}
	o.diagnose(info, rec)

	return o.coordinator.Submit(ctx, rec)
}

// diagnose logs each schema mismatch once per stream and field
func (*Orchestrator) diagnose(info *streamInfo, rec *entity.Record) {
	if info.schema == nil {
		return
	}
	for _, field := range info.schema.Undeclared(rec.Fields) {
		if _, seen := info.warned[field]; seen {
			continue
		}
		info.warned[field] = struct{}{}
		slog.Warn("Record field is not declared in the stream schema", "stream", rec.Stream, "field", field)
	}
	for _, field := range info.schema.Missing(rec.Fields) {
		key := "required:" + field
		if _, seen := info.warned[key]; seen {
			continue
		}
		info.warned[key] = struct{}{}
		slog.Warn("Record lacks a field the stream schema requires", "stream", rec.Stream, "field", field)
	}
}

// checkpoint flushes every open batch and emits the state once they are terminal
func (o *Orchestrator) checkpoint(ctx context.Context, msg *singer.Message, res *RunResult, cp *checkpointer) error {
	received, err := singer.ParseState(msg.Value)
	if err != nil {
		slog.Warn("Ignoring STATE message", "line", msg.Line, "error", err)
		return nil
	}

	results, err := o.coordinator.Flush(ctx)
	cp.hold(res.absorb(results)...)
	if err != nil {
		// Unfinished batches: nothing may be emitted
		return err
	}

	written, err := cp.emit(received)
	if err != nil {
		return err
	}
	if written {
		res.LastCheckpoint = cp.writer.Last()
		slog.Debug("Emitted checkpoint", "line", msg.Line)
		o.saveStatus(ctx, res)
	}
	return nil
}

func (o *Orchestrator) saveStatus(ctx context.Context, res *RunResult) {
	if o.persistence == nil {
		return
	}
	if err := o.persistence.SaveStatus(context.WithoutCancel(ctx), o.instance, res.Status(o.instance)); err != nil {
		slog.Warn("Failed to save run status", "instance", o.instance, "error", err)
	}
}
