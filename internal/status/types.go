package status

import (
	"encoding/json"
	"time"
)

// RunPhase represents the current phase of a target run
type RunPhase string

const (
	// RunPhaseRunning means the run is in progress
	RunPhaseRunning RunPhase = "Running"

	// RunPhaseCompleted means the input was consumed and no batch failed
	RunPhaseCompleted RunPhase = "Completed"

	// RunPhaseFailed means a batch failed or the run was aborted
	RunPhaseFailed RunPhase = "Failed"
)

// Counts aggregates record outcomes
type Counts struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Actions   int `json:"actions"`
	Activated int `json:"activated"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Add sums two counts
func (c Counts) Add(o Counts) Counts {
	return Counts{
		Processed: c.Processed + o.Processed,
		Created:   c.Created + o.Created,
		Updated:   c.Updated + o.Updated,
		Actions:   c.Actions + o.Actions,
		Activated: c.Activated + o.Activated,
		Skipped:   c.Skipped + o.Skipped,
		Failed:    c.Failed + o.Failed,
	}
}

// RunStatus represents the state of the latest run against one OIC instance
type RunStatus struct {
	// RunID identifies the run
	RunID string `json:"runId"`

	// Instance is the OIC host the run synced to
	Instance string `json:"instance"`

	// Phase represents the current run phase
	Phase RunPhase `json:"phase"`

	// Message provides additional information about the run
	Message string `json:"message,omitempty"`

	// StartedAt is when the run began
	StartedAt time.Time `json:"startedAt"`

	// CompletedAt is when the run ended
	CompletedAt *time.Time `json:"completedAt,omitempty"`

	// DryRun is set when no mutating request was sent
	DryRun bool `json:"dryRun,omitempty"`

	// Cancelled is set when the run was interrupted
	Cancelled bool `json:"cancelled,omitempty"`

	// Totals aggregates every outcome of the run
	Totals Counts `json:"totals"`

	// Streams breaks the totals down per stream
	Streams map[string]Counts `json:"streams,omitempty"`

	// Batches is the number of batches executed, FailedBatches those that failed
	Batches       int `json:"batches"`
	FailedBatches int `json:"failedBatches"`

	// Errors holds the first error messages of the run
	Errors []string `json:"errors,omitempty"`

	// LastCheckpoint is the last state value emitted downstream
	LastCheckpoint json.RawMessage `json:"lastCheckpoint,omitempty"`
}

// Duration returns how long the run took, or has taken so far
func (s *RunStatus) Duration() time.Duration {
	if s.CompletedAt == nil {
		return time.Since(s.StartedAt)
	}
	return s.CompletedAt.Sub(s.StartedAt)
}
