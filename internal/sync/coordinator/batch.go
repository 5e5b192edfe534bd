package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/otel"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
)

// BatchStatus is the lifecycle phase of a batch
type BatchStatus string

const (
	// BatchPending means the batch is queued
	BatchPending BatchStatus = "PENDING"
	// BatchProcessing means the batch holds a worker slot
	BatchProcessing BatchStatus = "PROCESSING"
	// BatchCompleted means every record was dispatched
	BatchCompleted BatchStatus = "COMPLETED"
	// BatchFailed means the batch stopped early or could not run
	BatchFailed BatchStatus = "FAILED"
)

// BatchResult describes one batch. It is terminal once Status is COMPLETED or FAILED.
type BatchResult struct {
	ID          string
	Stream      string
	RecordCount int
	// RecordsProcessed counts dispatched records whose outcome is not FAILED
	RecordsProcessed int
	RecordsFailed    int
	// RecordsSkipped counts records that were never dispatched
	RecordsSkipped int
	StartedAt      time.Time
	CompletedAt    time.Time
	Status         BatchStatus
	Reason         string
	Message        string
	Outcomes       []*pkgsync.Outcome
}

// Terminal reports whether the batch reached its final status
func (r *BatchResult) Terminal() bool {
	return r.Status == BatchCompleted || r.Status == BatchFailed
}

// failAt marks the batch FAILED and every record from index i on SKIPPED
func (c *DefaultCoordinator) failAt(r *BatchResult, b *batch, i int, reason, message string) {
	r.Status = BatchFailed
	r.Reason = reason
	r.Message = message
	for _, rec := range b.records[i:] {
		r.Outcomes = append(r.Outcomes, pkgsync.SkippedOutcome(b.stream, c.entityID(rec), message))
		r.RecordsSkipped++
	}
}

// abandoned is the result of a batch that never got to dispatch a record
func (c *DefaultCoordinator) abandoned(b *batch, reason, message string) *BatchResult {
	now := time.Now()
	res := &BatchResult{
		ID:          b.id,
		Stream:      b.stream,
		RecordCount: len(b.records),
		StartedAt:   now,
		CompletedAt: now,
	}
	c.failAt(res, b, 0, reason, message)
	return res
}

func (c *DefaultCoordinator) entityID(rec *entity.Record) string {
	if c.identify == nil {
		return ""
	}
	return c.identify(rec)
}

// process executes one batch on a worker slot
func (c *DefaultCoordinator) process(b *batch) *BatchResult {
	ctx, span := otel.StartSpan(b.ctx, c.tracer, "sync.batch", trace.WithAttributes(
		otel.AttrBatchID.String(b.id),
		otel.AttrStream.String(b.stream),
		otel.AttrBatchSize.Int(len(b.records)),
	))
	defer span.End()

	res := c.execute(ctx, b)
	if res.CompletedAt.IsZero() {
		res.CompletedAt = time.Now()
	}
	duration := res.CompletedAt.Sub(res.StartedAt)

	span.SetAttributes(otel.AttrBatchStatus.String(string(res.Status)))
	if res.Status == BatchFailed {
		otel.RecordError(span, errors.New(res.Message))
	}
	c.metrics.RecordBatchDuration(ctx, res.Stream, string(res.Status), duration)

	log := slog.Info
	if res.Status == BatchFailed {
		log = slog.Warn
	}
	log("Batch finished",
		"batch_id", res.ID,
		"stream", res.Stream,
		"status", res.Status,
		"reason", res.Reason,
		"records", res.RecordCount,
		"processed", res.RecordsProcessed,
		"failed", res.RecordsFailed,
		"skipped", res.RecordsSkipped,
		"duration", duration)
	return res
}

func (c *DefaultCoordinator) execute(ctx context.Context, b *batch) *BatchResult {
	if err := c.Err(); err != nil {
		return c.abandoned(b, pkgsync.ReasonAuthentication, fmt.Sprintf("not attempted: %v", err))
	}

	res := &BatchResult{
		ID:          b.id,
		Stream:      b.stream,
		RecordCount: len(b.records),
		Status:      BatchPending,
	}
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return c.abandoned(b, pkgsync.ReasonCancelled, "run cancelled while waiting for a worker")
	}
	defer c.sem.Release(1)

	res.Status = BatchProcessing
	res.StartedAt = time.Now()
	for i, rec := range b.records {
		if ctx.Err() != nil {
			c.failAt(res, b, i, pkgsync.ReasonCancelled, "run cancelled")
			break
		}
		if err := c.Err(); err != nil {
			c.failAt(res, b, i, pkgsync.ReasonAuthentication, fmt.Sprintf("not attempted: %v", err))
			break
		}

		// A dispatched record runs to completion even if the run is cancelled
		out, err := c.dispatcher.Dispatch(context.WithoutCancel(ctx), rec)
		res.Outcomes = append(res.Outcomes, out)
		if out.Failed() {
			res.RecordsFailed++
		} else {
			res.RecordsProcessed++
		}

		if err != nil {
			reason := pkgsync.ReasonTransformation
			var syncErr *pkgsync.Error
			if errors.As(err, &syncErr) {
				reason = syncErr.Reason
			}
			if reason == pkgsync.ReasonAuthentication {
				c.setFatal(err)
			}
			c.failAt(res, b, i+1, reason, err.Error())
			break
		}
		if c.maxErrors > 0 && res.RecordsFailed >= c.maxErrors {
			c.failAt(res, b, i+1, pkgsync.ReasonMaxErrors,
				fmt.Sprintf("%d records failed, reaching max_errors=%d", res.RecordsFailed, c.maxErrors))
			break
		}
	}

	if res.Status == BatchProcessing {
		res.Status = BatchCompleted
	}
	res.CompletedAt = time.Now()
	return res
}
