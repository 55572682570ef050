// Package intake implements the Intake API (C8): validates an upload
// request, resolves content-hash deduplication, and creates the document
// and job rows that anchor a new pipeline run.
package intake

import (
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/blob"
	"github.com/ingestpipe/pipeline/dedup"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/job"
	"github.com/ingestpipe/pipeline/store/postgres"
)

// contentHashPattern matches a lowercase hex SHA-256 digest.
var contentHashPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// ValidationError reports why a CreateDocument request was rejected. It
// always classifies as job.ErrorKindInvalidInput.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Kind reports the job.ErrorKind a caller should record for a rejected
// request, satisfying the same "classified error" shape external clients
// use.
func (e *ValidationError) Kind() job.ErrorKind {
	return job.ErrorKindInvalidInput
}

// Request is the Intake API's input: {user_id, filename, mime,
// byte_length, content_hash}, per spec §6.
type Request struct {
	UserID      uuid.UUID
	Filename    string
	MIME        string
	ByteLength  int64
	ContentHash string
}

// Result is the Intake API's output: {job_id, document_id, upload_target,
// upload_expires_at}, per spec §6. UploadTarget is the blob key the
// caller (the out-of-scope HTTP surface) should turn into a signed URL or
// equivalent.
type Result struct {
	JobID           uuid.UUID
	DocumentID      uuid.UUID
	UploadTarget    string
	UploadExpiresAt time.Time
}

// uploadWindow is how long the returned upload target stays valid.
const uploadWindow = 15 * time.Minute

// Service validates intake requests and creates the document/job rows
// that anchor a pipeline run, delegating identity resolution to
// dedup.Service.
type Service struct {
	db               *bun.DB
	dedup            *dedup.Service
	maxFileSizeBytes int64
}

// New constructs a Service. maxFileSizeBytes is the configured intake cap
// (config.Config.MaxFileSizeBytes).
func New(db *bun.DB, dedupSvc *dedup.Service, maxFileSizeBytes int64) *Service {
	return &Service{db: db, dedup: dedupSvc, maxFileSizeBytes: maxFileSizeBytes}
}

// CreateDocument validates req and creates (or resolves) the document and
// job rows it anchors, per spec §4.9 and §6.
func (s *Service) CreateDocument(ctx context.Context, req Request) (Result, error) {
	filename, ext, err := normalizeFilename(req.Filename)
	if err != nil {
		return Result{}, err
	}
	if req.MIME != "application/pdf" {
		return Result{}, &ValidationError{Field: "mime", Message: fmt.Sprintf("must be application/pdf, got %q", req.MIME)}
	}
	if req.ByteLength <= 0 {
		return Result{}, &ValidationError{Field: "byte_length", Message: "must be greater than 0"}
	}
	if req.ByteLength > s.maxFileSizeBytes {
		return Result{}, &ValidationError{
			Field: "byte_length",
			Message: fmt.Sprintf("%s exceeds the %s limit",
				humanize.Bytes(uint64(req.ByteLength)), humanize.Bytes(uint64(s.maxFileSizeBytes))),
		}
	}
	if !contentHashPattern.MatchString(req.ContentHash) {
		return Result{}, &ValidationError{Field: "content_hash", Message: "must be a lowercase hex sha256 digest"}
	}

	docID := document.ID(req.UserID, req.ContentHash)
	now := time.Now().UTC()
	rawPath := blob.RawPath(req.UserID, docID, now, ext)

	resolution, err := s.dedup.Resolve(ctx, req.UserID, req.ContentHash, dedup.NewDocumentParams{
		Filename: filename,
		MIME:     req.MIME,
		ByteLen:  req.ByteLength,
		Ext:      ext,
		RawPath:  rawPath,
	})
	if err != nil {
		return Result{}, fmt.Errorf("resolving document identity: %w", err)
	}

	switch resolution.Outcome {
	case dedup.OutcomeOwnedByUser:
		return s.createDuplicateJob(ctx, resolution.Document, now)

	case dedup.OutcomeClonedFromOther:
		return Result{
			JobID:           resolution.Job.ID,
			DocumentID:      resolution.Document.ID,
			UploadTarget:    resolution.Document.RawPath,
			UploadExpiresAt: now.Add(uploadWindow),
		}, nil

	default: // dedup.OutcomeNew
		return s.createFresh(ctx, req, docID, filename, ext, rawPath, now)
	}
}

// createDuplicateJob handles a same-user re-upload of already-owned
// content (spec §8 Scenario 2): the document itself is returned as-is,
// but if it has already reached a terminal status, a new terminal-stage
// job is created to anchor the upload so the caller has something to
// report on. A document still mid-pipeline gets no duplicate job; its
// existing job already covers it.
func (s *Service) createDuplicateJob(ctx context.Context, doc *document.Document, now time.Time) (Result, error) {
	result := Result{
		DocumentID:      doc.ID,
		UploadTarget:    doc.RawPath,
		UploadExpiresAt: now.Add(uploadWindow),
	}

	stage, ok := dedup.TerminalStageFor(doc.Status)
	if !ok {
		return result, nil
	}

	j := job.NewTerminal(doc.ID, stage, job.Payload{})
	if err := postgres.NewJobStore(s.db).Create(ctx, j); err != nil {
		return Result{}, fmt.Errorf("creating duplicate-upload job: %w", err)
	}
	result.JobID = j.ID
	return result, nil
}

func (s *Service) createFresh(ctx context.Context, req Request, docID uuid.UUID, filename, ext, rawPath string, now time.Time) (Result, error) {
	parsedPath := blob.ParsedPath(req.UserID, docID, now)
	doc := &document.Document{
		ID:          docID,
		UserID:      req.UserID,
		Filename:    filename,
		MIME:        req.MIME,
		ByteLen:     req.ByteLength,
		Ext:         ext,
		ContentHash: req.ContentHash,
		RawPath:     rawPath,
		ParsedPath:  parsedPath,
		Status:      document.StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	j := job.New(docID, job.Payload{})

	err := s.db.RunInTx(ctx, &sql.TxOptions{}, func(ctx context.Context, tx bun.Tx) error {
		if err := postgres.NewDocumentStore(tx).Insert(ctx, doc); err != nil {
			return fmt.Errorf("inserting document: %w", err)
		}
		if err := postgres.NewJobStore(tx).Create(ctx, j); err != nil {
			return fmt.Errorf("creating job: %w", err)
		}
		return nil
	})
	if err != nil {
		return Result{}, err
	}

	return Result{
		JobID:           j.ID,
		DocumentID:      doc.ID,
		UploadTarget:    doc.RawPath,
		UploadExpiresAt: now.Add(uploadWindow),
	}, nil
}

// normalizeFilename strips control characters (code points < 0x20) and
// derives the extension, per spec §6.
func normalizeFilename(raw string) (filename, ext string, err error) {
	var b strings.Builder
	for _, r := range raw {
		if r < 0x20 {
			continue
		}
		b.WriteRune(r)
	}
	filename = b.String()
	if filename == "" {
		return "", "", &ValidationError{Field: "filename", Message: "must be non-empty after stripping control characters"}
	}
	ext = strings.TrimPrefix(extOf(filename), ".")
	return filename, ext, nil
}

func extOf(filename string) string {
	if i := strings.LastIndexByte(filename, '.'); i >= 0 && i < len(filename)-1 {
		return filename[i:]
	}
	return ""
}
