// Package dedup implements cross-user and same-user content-addressed
// document deduplication (C5): given a content hash, find whether this
// user or any user already holds it, and if another user does, clone
// their parsed document and chunks for the new owner inside one
// transaction instead of re-running parse/chunk/embed from scratch.
package dedup

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/blob"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/job"
	"github.com/ingestpipe/pipeline/store/postgres"
)

// Outcome reports which of spec §4.9's three intake paths Resolve took.
type Outcome int

const (
	// OutcomeNew means no existing document matched; the caller should
	// create a fresh document and job and run the normal
	// parse/chunk/embed pipeline.
	OutcomeNew Outcome = iota
	// OutcomeOwnedByUser means this user already has a document for this
	// content hash; Resolve writes no rows. Intake returns the document
	// as-is and anchors a new terminal-stage job only when the document
	// has already reached a completed or failed_* status.
	OutcomeOwnedByUser
	// OutcomeClonedFromOther means another user's document (and its
	// chunks) were cloned for this user, anchored at a terminal job
	// needing no further processing.
	OutcomeClonedFromOther
)

// Resolution is the result of resolving a content hash for a user.
type Resolution struct {
	Outcome  Outcome
	Document *document.Document
	Job      *job.Job // non-nil only for OutcomeClonedFromOther
}

// NewDocumentParams carries the fields intake already validated and needs
// persisted when no existing document can be reused.
type NewDocumentParams struct {
	Filename string
	MIME     string
	ByteLen  int64
	Ext      string
	RawPath  string
}

// Service resolves document identity against existing Postgres rows and
// performs the cross-user clone. Grounded on document_duplication.py's
// duplicate_document_for_user / find_existing_document_by_content_hash /
// check_user_has_document.
type Service struct {
	db    *bun.DB
	blobs blob.Store
}

// New constructs a Service over db. blobs is used to physically copy a
// source document's parsed artifact to the clone's own path, since the
// store has no alias or reference-counting concept.
func New(db *bun.DB, blobs blob.Store) *Service {
	return &Service{db: db, blobs: blobs}
}

// Resolve implements the three-way dedup decision for a freshly hashed
// upload: a same-user match wins over a cross-user match (returned as-is,
// no new rows), a cross-user match is cloned transactionally, and no
// match at all leaves row creation to the caller (OutcomeNew).
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID, contentHash string, params NewDocumentParams) (Resolution, error) {
	docID := document.ID(userID, contentHash)

	docs := postgres.NewDocumentStore(s.db)
	if owned, err := docs.FindByUserAndContentHash(ctx, userID, contentHash); err == nil {
		return Resolution{Outcome: OutcomeOwnedByUser, Document: owned}, nil
	} else if !errors.Is(err, postgres.ErrDocumentNotFound) {
		return Resolution{}, err
	}

	source, err := docs.FindAnyByContentHash(ctx, contentHash)
	if errors.Is(err, postgres.ErrDocumentNotFound) {
		return Resolution{Outcome: OutcomeNew}, nil
	}
	if err != nil {
		return Resolution{}, err
	}

	if _, ok := TerminalStageFor(source.Status); !ok {
		// The cross-user match hasn't reached a stable outcome yet, so
		// there is nothing finished to clone. Let the caller create a
		// fresh document and run its own pipeline instead of anchoring
		// a clone with no job to drive it.
		return Resolution{Outcome: OutcomeNew}, nil
	}

	cloned, clonedJob, err := s.cloneForUser(ctx, userID, docID, source, params)
	if err != nil {
		return Resolution{}, err
	}
	return Resolution{Outcome: OutcomeClonedFromOther, Document: cloned, Job: clonedJob}, nil
}

// cloneForUser copies source's parsed state and chunks to a new document
// row owned by userID, and anchors it with an already-done job, all
// inside one transaction (document_duplication.py's
// duplicate_document_for_user + _copy_document_chunks).
func (s *Service) cloneForUser(ctx context.Context, userID, docID uuid.UUID, source *document.Document, params NewDocumentParams) (*document.Document, *job.Job, error) {
	// Resolve() already confirmed source has reached a terminal status.
	terminalStage, _ := TerminalStageFor(source.Status)

	now := time.Now().UTC()
	parsedPath := ""
	if source.ParsedPath != "" {
		parsedPath = blob.ParsedPath(userID, docID, now)
		content, err := s.blobs.Get(ctx, source.ParsedPath)
		if err != nil {
			return nil, nil, fmt.Errorf("reading source parsed artifact: %w", err)
		}
		if err := s.blobs.Put(ctx, parsedPath, content); err != nil {
			return nil, nil, fmt.Errorf("copying parsed artifact for clone: %w", err)
		}
	}

	var cloned *document.Document
	var clonedJob *job.Job

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		cloned = &document.Document{
			ID:          docID,
			UserID:      userID,
			Filename:    params.Filename,
			MIME:        params.MIME,
			ByteLen:     params.ByteLen,
			Ext:         params.Ext,
			ContentHash: source.ContentHash,
			ParsedHash:  source.ParsedHash,
			RawPath:     params.RawPath,
			ParsedPath:  parsedPath,
			Status:      source.Status,
			CreatedAt:   now,
			UpdatedAt:   now,
		}

		docs := postgres.NewDocumentStore(tx)
		if err := docs.Insert(ctx, cloned); err != nil {
			return err
		}

		chunks := postgres.NewChunkStore(tx)
		if _, err := chunks.CloneForDocument(ctx, source.ID, docID); err != nil {
			return err
		}

		clonedJob = job.NewTerminal(docID, terminalStage, job.Payload{})
		jobs := postgres.NewJobStore(tx)
		return jobs.Create(ctx, clonedJob)
	})
	if err != nil {
		return nil, nil, err
	}
	return cloned, clonedJob, nil
}

// TerminalStageFor maps a document's status to the job.Stage an anchor job
// for it should report, mirroring spec §7's disposition table. Only
// documents that reached a stable outcome (completed or one of the
// failed_* markers) are eligible for cloning with a pre-finished job, or
// for a duplicate-upload anchor job in the same-user case.
func TerminalStageFor(status document.Status) (job.Stage, bool) {
	switch status {
	case document.StatusCompleted:
		return job.StageEmbedded, true
	case document.StatusFailedParse:
		return job.StageFailedParse, true
	case document.StatusFailedChunking:
		return job.StageFailedChunking, true
	case document.StatusFailedEmbedding:
		return job.StageFailedEmbedding, true
	case document.StatusFailedUnknown:
		return job.StageFailedUnknown, true
	default:
		return job.StageUnknown, false
	}
}
