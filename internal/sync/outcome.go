package sync

import (
	"time"

	"github.com/stacklok/oic-target/internal/entity"
)

// Status is the terminal status of one record
type Status string

const (
	// StatusSuccess means every request of the record's plan succeeded
	StatusSuccess Status = "SUCCESS"
	// StatusFailed means a request failed or the record could not be processed
	StatusFailed Status = "FAILED"
	// StatusSkipped means nothing was sent for the record
	StatusSkipped Status = "SKIPPED"
)

// Outcome is the result of dispatching one record. Every dispatched record
// yields exactly one Outcome.
type Outcome struct {
	Stream     string
	EntityID   string
	Operation  entity.Operation
	Status     Status
	HTTPStatus int
	Message    string
	// Activated is set when an integration activation step succeeded
	Activated bool
	Duration  time.Duration
}

// Failed reports whether the outcome counts against the error threshold
func (o *Outcome) Failed() bool {
	return o.Status == StatusFailed
}

// SkippedOutcome is the outcome of a record that was never attempted
func SkippedOutcome(stream, entityID, message string) *Outcome {
	return &Outcome{Stream: stream, EntityID: entityID, Operation: entity.OpSkip, Status: StatusSkipped, Message: message}
}
