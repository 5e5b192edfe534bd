// Package sync reconciles individual Singer records with the Oracle
// Integration Cloud REST API.
//
// # Core Interfaces
//
//   - Dispatcher: routes one record to its entity handler and executes the
//     resulting request plan
//
// # Dispatch State Machine
//
// Every record walks a small state machine. Transitions are checked against a
// fixed table and recorded as span events:
//
//	RECEIVED -> ROUTED -> CHECKED -> CREATING | UPDATING -> SUCCEEDED
//	                   -> ACTING                         -> SUCCEEDED
//
// Any non-terminal state may move to SKIPPED or FAILED. A record that ends in
// a non-terminal state is reported as FAILED.
//
// # Outcomes
//
// Dispatch always returns an Outcome with a terminal status:
//
//   - SUCCESS: every request of the plan succeeded (or would have, in dry run)
//   - SKIPPED: nothing was sent; unknown stream, missing required field,
//     unsupported action, or the import mode excluded the operation
//   - FAILED: a request failed after retries or the payload could not be built
//
// # Batch-Level Errors
//
// Dispatch returns a non-nil *Error only when the failure must end the batch:
// authentication failures (reason "authentication") and, when transformation
// errors are not ignored, payload build failures (reason "transformation").
// The coordinator subpackage adds "max-errors" and "cancelled".
package sync
