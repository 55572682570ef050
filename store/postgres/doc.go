// Package postgres provides the bun-based Postgres storage implementation
// for the pipeline's job queue and document/chunk registry (C1).
//
// # Overview
//
// The Postgres backend provides:
//
//   - durable persistence of jobs, documents, and chunks
//   - atomic stage/state transitions guarded by row-level locking
//   - lease semantics via SELECT ... FOR UPDATE SKIP LOCKED
//   - insert-if-absent and upsert writes so stage handlers are idempotent
//
// # Concurrency Model
//
// Lease is implemented as a single atomic UPDATE statement driven by a
// FOR UPDATE SKIP LOCKED subquery, so two workers racing to pick up work
// never observe or lock the same row; the loser simply sees one fewer
// candidate and moves on to the next.
//
// # Schema
//
// InitSchema creates the "pipeline" schema with three tables (jobs,
// documents, chunks) and their indexes:
//
//   - jobs: (stage, state, retry_at), (updated_at)
//   - documents: unique (user_id, content_hash), (content_hash)
//   - chunks: unique (document_id, chunker_name, chunker_version, ordinal)
//
// InitSchema is idempotent and runs inside a transaction. It does not
// perform destructive migrations; schema evolution is handled externally.
//
// # Database Lifecycle
//
// This package does not manage connection pooling or migrations. Callers
// are responsible for constructing *bun.DB with pgdialect and pgdriver (or
// any other Postgres driver bun supports) and running InitSchema before
// use.
//
// # Summary
//
// Package postgres is the only storage backend the pipeline ships: it
// keeps queue, document, and chunk logic colocated behind one schema so a
// single transaction can cover cross-table writes such as cross-user
// document cloning.
package postgres
