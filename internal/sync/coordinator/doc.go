// Package coordinator groups records into per-stream batches and executes
// them on a bounded worker pool.
//
// # Lanes
//
// Every stream gets a lane: a goroutine fed by a bounded queue of batches.
// A lane runs its batches one after the other, so records of one stream are
// dispatched in arrival order and an update for an entity id never overtakes
// its create. Lanes of different streams run in parallel, bounded by a shared
// weighted semaphore of max_workers slots.
//
// # Batch lifecycle
//
//	PENDING -> PROCESSING -> COMPLETED
//	                      -> FAILED
//
// A batch is COMPLETED once every record was dispatched, whatever the
// individual outcomes. It is FAILED when:
//
//   - the number of FAILED outcomes reaches max_errors (0 disables the check)
//   - the run was cancelled before every record was dispatched
//   - the API rejected the credentials (this also fails every later batch)
//   - a payload could not be built and transformation errors are not ignored
//
// Records that were not attempted are reported as SKIPPED.
//
// # Usage
//
//	c := coordinator.New(dispatcher, coordinator.WithMaxWorkers(4))
//	for rec := range records {
//	    if err := c.Submit(ctx, rec); err != nil {
//	        break
//	    }
//	}
//	results, err := c.Close(ctx)
//
// Submit, Flush and Close must be called from a single goroutine.
package coordinator
