// Package pipeline turns uploaded documents into embedded, searchable
// chunks: a worker leases one job at a time, drives it through the
// parsing/chunking/embedding stage machine, and persists every
// transition atomically with the lease that authorized it.
//
// # Overview
//
// A Job references a Document and carries two independent axes: Stage
// (how far through the pipeline it has progressed) and State (whether it
// is eligible for work, currently leased, waiting out a retry delay, or
// terminal). Each active stage has exactly one handler; handlers are
// idempotent, so redelivery after a crash just repeats safe work.
//
// # Delivery Semantics
//
// Pipeline provides at-least-once processing. A job may be handled more
// than once if a worker crashes after its handler's side effects land
// but before the stage transition commits. Handlers are written so a
// repeat is a no-op: per-document blob paths fixed at intake,
// insert-if-absent chunk writes under deterministic chunk ids, vector
// writes that overwrite by chunk id, and idempotent external submissions.
//
// # Lease Model
//
// Leasing a job means winning a SELECT ... FOR UPDATE SKIP LOCKED race
// against every other worker process and flipping its state to working
// in the same statement (store/postgres.JobStore.Lease). The lease lives
// exactly as long as one stage handler call; there is no heartbeat to
// extend, since a handler either finishes its one external call and
// transitions, or it doesn't and the row falls back to retryable/queued
// for the next worker to pick up.
//
// # State Machine
//
// Jobs advance:
//
//	job_validated -> parsing -> parsed -> parse_validated ->
//	chunking -> chunked -> embedding -> embedded
//
// reaching state done once stage is at or past the configured terminal
// stage. A handler failure is classified into a retryable or fatal
// ErrorKind; retryable failures go back to state retryable with a
// computed backoff delay, fatal failures (or retry exhaustion) go to
// state deadletter at the failed_* stage matching where they died.
//
// # Worker
//
// Worker repeatedly leases one job, dispatches it to the handler
// registered for its stage, and applies the resulting transition. It
// wraps job leasing in its own circuit breaker, independent from the
// per-service breakers inside external/parser and external/embedding,
// so a broken job store doesn't turn into a busy-loop.
//
// # Concurrency Model
//
// Parallelism is between worker processes, not within one: each Worker
// is a single-threaded cooperative loop that blocks only on I/O
// (leasing, external calls). The job store's skip-locked semantics are
// the only coordination primitive; Worker itself holds no pool.
//
// # Summary
//
// pipeline provides the stage machine, retry/backoff policy, and
// worker loop that turn a validated upload into a fully embedded,
// queryable document.
package pipeline
