package postgres

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/chunk"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/job"
)

// jobRow mirrors job.Job as a bun model. Stage/state are stored as their
// text representations so the schema stays readable in a psql shell; the
// dual Stage/State axis replaces the teacher's single Status column.
type jobRow struct {
	bun.BaseModel `bun:"table:pipeline.jobs"`

	ID         uuid.UUID `bun:"id,pk,type:uuid"`
	DocumentID uuid.UUID `bun:"document_id,notnull,type:uuid"`

	Stage string `bun:"stage,notnull"`
	State string `bun:"state,notnull"`

	RetryCount int `bun:"retry_count,notnull,default:0"`

	LastErrorKind    *string    `bun:"last_error_kind"`
	LastErrorMessage *string    `bun:"last_error_message"`
	LastErrorAt      *time.Time `bun:"last_error_at"`
	RetryAt          *time.Time `bun:"retry_at"`

	Progress map[string]int `bun:"progress,type:jsonb,notnull,default:'{}'"`

	ChunkerName    string `bun:"chunker_name"`
	ChunkerVersion string `bun:"chunker_version"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *jobRow) toJob() (*job.Job, error) {
	stage, err := job.ParseStage(r.Stage)
	if err != nil {
		return nil, err
	}
	state, err := job.ParseState(r.State)
	if err != nil {
		return nil, err
	}
	j := &job.Job{
		ID:         r.ID,
		DocumentID: r.DocumentID,
		Stage:      stage,
		State:      state,
		RetryCount: r.RetryCount,
		Progress:   job.Progress(r.Progress),
		Payload: job.Payload{
			ChunkerName:    r.ChunkerName,
			ChunkerVersion: r.ChunkerVersion,
		},
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if r.LastErrorKind != nil {
		kind, err := job.ParseErrorKind(*r.LastErrorKind)
		if err != nil {
			return nil, err
		}
		le := &job.LastError{Kind: kind}
		if r.LastErrorMessage != nil {
			le.Message = *r.LastErrorMessage
		}
		if r.LastErrorAt != nil {
			le.Timestamp = *r.LastErrorAt
		}
		if r.RetryAt != nil {
			le.RetryAt = *r.RetryAt
		}
		j.LastError = le
	}
	return j, nil
}

func rowFromJob(j *job.Job) *jobRow {
	r := &jobRow{
		ID:             j.ID,
		DocumentID:     j.DocumentID,
		Stage:          j.Stage.String(),
		State:          j.State.String(),
		RetryCount:     j.RetryCount,
		Progress:       map[string]int(j.Progress),
		ChunkerName:    j.Payload.ChunkerName,
		ChunkerVersion: j.Payload.ChunkerVersion,
	}
	if j.LastError != nil {
		kind := j.LastError.Kind.String()
		msg := j.LastError.Message
		ts := j.LastError.Timestamp
		retryAt := j.LastError.RetryAt
		r.LastErrorKind = &kind
		r.LastErrorMessage = &msg
		r.LastErrorAt = &ts
		r.RetryAt = &retryAt
	}
	return r
}

// documentRow mirrors document.Document.
type documentRow struct {
	bun.BaseModel `bun:"table:pipeline.documents"`

	ID     uuid.UUID `bun:"id,pk,type:uuid"`
	UserID uuid.UUID `bun:"user_id,notnull,type:uuid"`

	Filename string `bun:"filename,notnull"`
	MIME     string `bun:"mime,notnull"`
	ByteLen  int64  `bun:"byte_len,notnull"`
	Ext      string `bun:"ext,notnull"`

	ContentHash string  `bun:"content_hash,notnull"`
	ParsedHash  *string `bun:"parsed_hash"`

	RawPath    string  `bun:"raw_path,notnull"`
	ParsedPath *string `bun:"parsed_path"`

	Status string `bun:"status,notnull"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *documentRow) toDocument() *document.Document {
	d := &document.Document{
		ID:          r.ID,
		UserID:      r.UserID,
		Filename:    r.Filename,
		MIME:        r.MIME,
		ByteLen:     r.ByteLen,
		Ext:         r.Ext,
		ContentHash: r.ContentHash,
		RawPath:     r.RawPath,
		Status:      document.Status(r.Status),
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if r.ParsedHash != nil {
		d.ParsedHash = *r.ParsedHash
	}
	if r.ParsedPath != nil {
		d.ParsedPath = *r.ParsedPath
	}
	return d
}

func rowFromDocument(d *document.Document) *documentRow {
	r := &documentRow{
		ID:          d.ID,
		UserID:      d.UserID,
		Filename:    d.Filename,
		MIME:        d.MIME,
		ByteLen:     d.ByteLen,
		Ext:         d.Ext,
		ContentHash: d.ContentHash,
		RawPath:     d.RawPath,
		Status:      string(d.Status),
	}
	if d.ParsedHash != "" {
		r.ParsedHash = &d.ParsedHash
	}
	if d.ParsedPath != "" {
		r.ParsedPath = &d.ParsedPath
	}
	return r
}

// chunkRow mirrors chunk.Chunk, with the embedding vector stored via
// pgvector's fixed-dimension column type.
type chunkRow struct {
	bun.BaseModel `bun:"table:pipeline.chunks"`

	ID             uuid.UUID `bun:"id,pk,type:uuid"`
	DocumentID     uuid.UUID `bun:"document_id,notnull,type:uuid"`
	Ordinal        int       `bun:"ordinal,notnull"`
	ChunkerName    string    `bun:"chunker_name,notnull"`
	ChunkerVersion string    `bun:"chunker_version,notnull"`

	Text     string `bun:"text,notnull"`
	TextHash string `bun:"text_hash,notnull"`

	EmbedModel   *string          `bun:"embed_model"`
	EmbedVersion *string          `bun:"embed_version"`
	VectorDim    *int             `bun:"vector_dim"`
	Vector       *pgvector.Vector `bun:"vector,type:vector(1536)"`
	VectorHash   *string          `bun:"vector_hash"`

	LineStart int    `bun:"line_start,notnull,default:0"`
	LineEnd   int    `bun:"line_end,notnull,default:0"`
	Type      string `bun:"type,notnull,default:'markdown'"`

	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

func (r *chunkRow) toChunk() chunk.Chunk {
	c := chunk.Chunk{
		ID:             r.ID,
		DocumentID:     r.DocumentID,
		Ordinal:        r.Ordinal,
		ChunkerName:    r.ChunkerName,
		ChunkerVersion: r.ChunkerVersion,
		Text:           r.Text,
		TextHash:       r.TextHash,
		LineStart:      r.LineStart,
		LineEnd:        r.LineEnd,
		Type:           r.Type,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.EmbedModel != nil {
		c.EmbedModel = *r.EmbedModel
	}
	if r.EmbedVersion != nil {
		c.EmbedVersion = *r.EmbedVersion
	}
	if r.VectorDim != nil {
		c.VectorDim = *r.VectorDim
	}
	if r.Vector != nil {
		c.Vector = r.Vector.Slice()
	}
	if r.VectorHash != nil {
		c.VectorHash = *r.VectorHash
	}
	return c
}

func rowFromChunk(c chunk.Chunk) *chunkRow {
	r := &chunkRow{
		ID:             c.ID,
		DocumentID:     c.DocumentID,
		Ordinal:        c.Ordinal,
		ChunkerName:    c.ChunkerName,
		ChunkerVersion: c.ChunkerVersion,
		Text:           c.Text,
		TextHash:       c.TextHash,
		LineStart:      c.LineStart,
		LineEnd:        c.LineEnd,
		Type:           c.Type,
	}
	if c.EmbedModel != "" {
		r.EmbedModel = &c.EmbedModel
	}
	if c.EmbedVersion != "" {
		r.EmbedVersion = &c.EmbedVersion
	}
	if c.VectorDim != 0 {
		r.VectorDim = &c.VectorDim
	}
	if c.Vector != nil {
		v := pgvector.NewVector(c.Vector)
		r.Vector = &v
	}
	if c.VectorHash != "" {
		r.VectorHash = &c.VectorHash
	}
	return r
}
