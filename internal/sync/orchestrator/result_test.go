package orchestrator

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stacklok/oic-target/internal/entity"
	"github.com/stacklok/oic-target/internal/status"
	pkgsync "github.com/stacklok/oic-target/internal/sync"
	"github.com/stacklok/oic-target/internal/sync/coordinator"
)

func TestCount(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		out  pkgsync.Outcome
		want status.Counts
	}{
		{
			name: "created",
			out:  pkgsync.Outcome{Operation: entity.OpCreate, Status: pkgsync.StatusSuccess},
			want: status.Counts{Processed: 1, Created: 1},
		},
		{
			name: "created and activated",
			out:  pkgsync.Outcome{Operation: entity.OpCreate, Status: pkgsync.StatusSuccess, Activated: true},
			want: status.Counts{Processed: 1, Created: 1, Activated: 1},
		},
		{
			name: "updated",
			out:  pkgsync.Outcome{Operation: entity.OpUpdate, Status: pkgsync.StatusSuccess},
			want: status.Counts{Processed: 1, Updated: 1},
		},
		{
			name: "action",
			out:  pkgsync.Outcome{Operation: entity.OpAction, Status: pkgsync.StatusSuccess},
			want: status.Counts{Processed: 1, Actions: 1},
		},
		{
			name: "failed update",
			out:  pkgsync.Outcome{Operation: entity.OpUpdate, Status: pkgsync.StatusFailed},
			want: status.Counts{Processed: 1, Failed: 1},
		},
		{
			name: "skipped",
			out:  pkgsync.Outcome{Operation: entity.OpSkip, Status: pkgsync.StatusSkipped},
			want: status.Counts{Processed: 1, Skipped: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, count(&tt.out))
		})
	}
}

func TestRunResult_ErrorsAreBounded(t *testing.T) {
	t.Parallel()

	r := newRunResult("run", 3, false, false)
	batch := &coordinator.BatchResult{ID: "b1", Stream: "lookups", Status: coordinator.BatchCompleted}
	for i := range 5 {
		batch.Outcomes = append(batch.Outcomes, &pkgsync.Outcome{
			Stream:     "lookups",
			EntityID:   fmt.Sprintf("L%d", i),
			Operation:  entity.OpCreate,
			Status:     pkgsync.StatusFailed,
			HTTPStatus: 400,
			Message:    "bad request",
		})
	}

	failed := r.absorb([]*coordinator.BatchResult{batch})
	assert.Empty(t, failed)
	assert.Equal(t, []string{
		"lookups/L0 CREATE (HTTP 400): bad request",
		"lookups/L1 CREATE (HTTP 400): bad request",
		"lookups/L2 CREATE (HTTP 400): bad request",
	}, r.Errors)
	assert.Equal(t, 2, r.DroppedErrors)
	assert.Equal(t, 5, r.Streams["lookups"].Failed)
}

func TestRunResult_Status(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		mutate    func(r *RunResult)
		wantPhase status.RunPhase
		wantMsg   string
	}{
		{
			name:      "running",
			mutate:    func(*RunResult) {},
			wantPhase: status.RunPhaseRunning,
		},
		{
			name: "completed",
			mutate: func(r *RunResult) {
				r.CompletedAt = time.Now()
				r.Totals.Processed = 7
			},
			wantPhase: status.RunPhaseCompleted,
			wantMsg:   "7 records processed",
		},
		{
			name: "failed batches",
			mutate: func(r *RunResult) {
				r.CompletedAt = time.Now()
				r.Batches = 4
				r.FailedBatches = 1
			},
			wantPhase: status.RunPhaseFailed,
			wantMsg:   "1 of 4 batches failed",
		},
		{
			name: "aborted",
			mutate: func(r *RunResult) {
				r.CompletedAt = time.Now()
				r.Aborted = errors.New("input corrupted")
			},
			wantPhase: status.RunPhaseFailed,
			wantMsg:   "run aborted: input corrupted",
		},
		{
			name: "cancelled",
			mutate: func(r *RunResult) {
				r.CompletedAt = time.Now()
				r.Cancelled = true
			},
			wantPhase: status.RunPhaseFailed,
			wantMsg:   "run cancelled",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := newRunResult("run-1", 10, false, false)
			tt.mutate(r)

			s := r.Status("host")
			assert.Equal(t, "run-1", s.RunID)
			assert.Equal(t, "host", s.Instance)
			assert.Equal(t, tt.wantPhase, s.Phase)
			assert.Equal(t, tt.wantMsg, s.Message)
			assert.Equal(t, tt.wantPhase == status.RunPhaseRunning, s.CompletedAt == nil)
		})
	}
}
