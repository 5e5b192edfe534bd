package orchestrator

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/status"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
	"github.com/stacklok/oic-target/internal/sync/coordinator"
)

// RunResult is the summary of one run
type RunResult struct {
	RunID       string
	StartedAt   time.Time
	CompletedAt time.Time
	DryRun      bool

	Totals  status.Counts
	Streams map[string]status.Counts

	Batches       int
	FailedBatches int

	// Errors holds the first max_error_messages error messages
	Errors []string
	// DroppedErrors counts messages beyond that bound
	DroppedErrors int

	// Cancelled is set when the run was interrupted
	Cancelled bool
	// Aborted holds the error that stopped the run before the input ended
	Aborted error

	LastCheckpoint json.RawMessage

	stopOnError bool
	maxErrors   int
}

func newRunResult(runID string, maxErrors int, stopOnError, dryRun bool) *RunResult {
	return &RunResult{
		RunID:       runID,
		StartedAt:   time.Now(),
		DryRun:      dryRun,
		Streams:     make(map[string]status.Counts),
		stopOnError: stopOnError,
		maxErrors:   maxErrors,
	}
}

// ExitCode is 0 when the run succeeded and 1 otherwise. A run failed when a
// batch failed or the run was aborted; with stop_on_error any failed record
// fails the run.
func (r *RunResult) ExitCode() int {
	if r.Failed() {
		return 1
	}
	return 0
}

// Failed reports whether the run failed
func (r *RunResult) Failed() bool {
	switch {
	case r.Aborted != nil, r.Cancelled, r.FailedBatches > 0:
		return true
	case r.stopOnError && r.Totals.Failed > 0:
		return true
	}
	return false
}

// Status converts the result into the persisted run status
func (r *RunResult) Status(instance string) *status.RunStatus {
	s := &status.RunStatus{
		RunID:          r.RunID,
		Instance:       instance,
		Phase:          status.RunPhaseCompleted,
		StartedAt:      r.StartedAt,
		DryRun:         r.DryRun,
		Cancelled:      r.Cancelled,
		Totals:         r.Totals,
		Streams:        r.Streams,
		Batches:        r.Batches,
		FailedBatches:  r.FailedBatches,
		Errors:         r.Errors,
		LastCheckpoint: r.LastCheckpoint,
	}
	if !r.CompletedAt.IsZero() {
		completed := r.CompletedAt
		s.CompletedAt = &completed
	}

	switch {
	case r.CompletedAt.IsZero():
		s.Phase = status.RunPhaseRunning
	case r.Failed():
		s.Phase = status.RunPhaseFailed
		s.Message = r.failureMessage()
	default:
		s.Message = fmt.Sprintf("%d records processed", r.Totals.Processed)
	}
	return s
}

func (r *RunResult) failureMessage() string {
	switch {
	case r.Aborted != nil:
		return fmt.Sprintf("run aborted: %v", r.Aborted)
	case r.Cancelled:
		return "run cancelled"
	case r.FailedBatches > 0:
		return fmt.Sprintf("%d of %d batches failed", r.FailedBatches, r.Batches)
	default:
		return fmt.Sprintf("%d records failed and stop_on_error is set", r.Totals.Failed)
	}
}

// addError keeps the first maxErrors messages and counts the rest
func (r *RunResult) addError(msg string) {
	if r.maxErrors > 0 && len(r.Errors) >= r.maxErrors {
		r.DroppedErrors++
		return
	}
	r.Errors = append(r.Errors, msg)
}

// skip counts a record that never reached the coordinator
func (r *RunResult) skip(stream string) {
	c := status.Counts{Processed: 1, Skipped: 1}
	r.Totals = r.Totals.Add(c)
	r.Streams[stream] = r.Streams[stream].Add(c)
}

// absorb adds finished batches to the totals. It returns the streams that had
// a FAILED batch.
func (r *RunResult) absorb(results []*coordinator.BatchResult) []string {
	var failed []string
	for _, b := range results {
		r.Batches++
		if b.Status == coordinator.BatchFailed {
			r.FailedBatches++
			failed = append(failed, b.Stream)
			r.addError(fmt.Sprintf("batch %s (%s) failed: %s", b.ID, b.Stream, b.Message))
		}
		for _, out := range b.Outcomes {
			c := count(out)
			r.Totals = r.Totals.Add(c)
			r.Streams[out.Stream] = r.Streams[out.Stream].Add(c)
			if out.Failed() {
				r.addError(describe(out))
			}
		}
	}
	return failed
}

func count(out *pkgsync.Outcome) status.Counts {
	c := status.Counts{Processed: 1}
	switch out.Status {
	case pkgsync.StatusFailed:
		c.Failed = 1
	case pkgsync.StatusSkipped:
		c.Skipped = 1
	case pkgsync.StatusSuccess:
		switch out.Operation {
		case entity.OpCreate:
			c.Created = 1
		case entity.OpUpdate:
			c.Updated = 1
		case entity.OpAction:
			c.Actions = 1
		}
	}
	if out.Activated {
		c.Activated = 1
	}
	return c
}

func describe(out *pkgsync.Outcome) string {
	id := out.EntityID
	if id == "" {
		id = "<unknown>"
	}
	if out.HTTPStatus != 0 {
		return fmt.Sprintf("%s/%s %s (HTTP %d): %s", out.Stream, id, out.Operation, out.HTTPStatus, out.Message)
	}
	return fmt.Sprintf("%s/%s %s: %s", out.Stream, id, out.Operation, out.Message)
}
