// Package job defines the pipeline's unit of work: the Stage/State dual
// axis, the structured failure record, and the Job row itself. It has no
// dependency on storage, transport, or the worker loop so that every other
// package (store/postgres, pipeline, intake) can share one vocabulary
// without import cycles.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Payload carries the stage-specific knobs a job was created with. It is
// fixed-shape rather than a generic bag because the pipeline only ever
// needs the chunker identity that produced (or will produce) this job's
// chunks.
type Payload struct {
	ChunkerName    string `json:"chunker_name,omitempty"`
	ChunkerVersion string `json:"chunker_version,omitempty"`
}

// Progress holds the named counters surfaced through the job inspection
// API: chunks_total, chunks_done, embeds_total, embeds_done.
type Progress map[string]int

// Job is a row in the job queue: a document reference plus the
// stage/state machine driving it toward the configured terminal stage.
//
// Job instances should be treated as snapshots of store state. Mutating
// fields directly does not change the underlying row; transitions must go
// through store/postgres.JobStore.
type Job struct {
	ID         uuid.UUID
	DocumentID uuid.UUID

	Stage Stage
	State State

	RetryCount int
	LastError  *LastError

	Progress Progress
	Payload  Payload

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Snapshot is the read-only projection returned by the job inspection API
// (spec §6): job_id, document_id, stage, state, retry_count, progress,
// last_error, updated_at.
type Snapshot struct {
	JobID      uuid.UUID  `json:"job_id"`
	DocumentID uuid.UUID  `json:"document_id"`
	Stage      Stage      `json:"stage"`
	State      State      `json:"state"`
	RetryCount int        `json:"retry_count"`
	Progress   Progress   `json:"progress"`
	LastError  *LastError `json:"last_error,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// ToSnapshot projects j into its inspection-API shape.
func (j *Job) ToSnapshot() Snapshot {
	return Snapshot{
		JobID:      j.ID,
		DocumentID: j.DocumentID,
		Stage:      j.Stage,
		State:      j.State,
		RetryCount: j.RetryCount,
		Progress:   j.Progress,
		LastError:  j.LastError,
		UpdatedAt:  j.UpdatedAt,
	}
}

// New constructs the initial job row for a freshly validated document:
// stage job_validated, state queued.
func New(documentID uuid.UUID, payload Payload) *Job {
	return &Job{
		ID:         uuid.New(),
		DocumentID: documentID,
		Stage:      StageJobValidated,
		State:      StateQueued,
		Payload:    payload,
		Progress:   Progress{},
	}
}

// NewTerminal constructs a job already anchored at terminal/done, used
// when intake resolves a cross-user duplicate whose chunks were cloned
// with vectors intact and need no further processing (spec §4.9).
func NewTerminal(documentID uuid.UUID, terminal Stage, payload Payload) *Job {
	return &Job{
		ID:         uuid.New(),
		DocumentID: documentID,
		Stage:      terminal,
		State:      StateDone,
		Payload:    payload,
		Progress:   Progress{},
	}
}
