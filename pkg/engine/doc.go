// Package engine provides the core types and execution machinery of the sif
// provisioning orchestrator.
//
// # Overview
//
// A provisioning job takes a set of components and a target directory and
// drives them through a plan of steps:
//
//  1. Resolve - order components so each follows its dependencies (Resolve)
//  2. Plan - expand components into steps with action descriptors (see pkg/orchestrator)
//  3. Execute - run the steps with retries and parallelism (Executor)
//  4. Compensate - undo succeeded steps in reverse order after a failure
//  5. Recover - rebuild step state from the journal after a crash (RecoverJob)
//
// # Idempotency
//
// Every step has a fingerprint derived from its kind, action, target and
// effective configuration. When the FingerprintStore already holds a record
// for the fingerprint, the step passes through running to succeeded with
// Reused set and its action does not run. Compensating a step removes its fingerprint.
//
// # Journal
//
// Step transitions are appended to a Journal before they are applied in
// memory. The legal transitions are:
//
//	pending      -> running
//	running      -> succeeded | failed
//	succeeded    -> compensating
//	compensating -> compensated
//
// # Error Classification
//
// Errors are classified for retry and reporting:
//
//   - Transient: retried with exponential backoff (step timeouts are transient)
//   - Throttled: retried with a longer backoff
//   - Permanent: fails the step and triggers compensation
//   - Structural: invalid requests or catalogs, rejected before any step runs
//   - Conflict: divergence that needs an operator decision
//   - Busy: the target is locked by another job
//
// Use the helper functions to inspect errors:
//
//	if errors.Is(err, engine.ErrCycleDetected) {
//	    // reject the request
//	}
//
// # Example Usage
//
//	order, err := engine.Resolve(components)
//
//	exec := engine.NewExecutor(engine.DefaultExecutorConfig(), actions, fingerprints, journal)
//	if err := exec.Run(ctx, job); err != nil {
//	    var failure *engine.JobFailure
//	    if errors.As(err, &failure) {
//	        // failure.Compensation lists undone and leftover steps
//	    }
//	}
//
// # Thread Safety
//
// Executor, MemoryJournal and MemoryFingerprintStore are safe for concurrent
// use. A Job passed to Executor.Run must not be mutated by the caller until Run
// returns.
package engine
