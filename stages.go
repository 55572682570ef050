package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ingestpipe/pipeline/blob"
	"github.com/ingestpipe/pipeline/chunk"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/external"
	"github.com/ingestpipe/pipeline/external/embedding"
	"github.com/ingestpipe/pipeline/external/parser"
	"github.com/ingestpipe/pipeline/job"
	"github.com/ingestpipe/pipeline/store/postgres"
)

// DocumentStore is the subset of store/postgres.DocumentStore a stage
// handler needs.
type DocumentStore interface {
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
	FindByParsedHash(ctx context.Context, parsedHash string, excludeID uuid.UUID) (*document.Document, error)
	UpdateParsed(ctx context.Context, id uuid.UUID, parsedPath, parsedHash string) error
	UpdateStatus(ctx context.Context, id uuid.UUID, status document.Status) error
}

// ChunkStore is the subset of store/postgres.ChunkStore a stage handler
// needs.
type ChunkStore interface {
	InsertIfAbsent(ctx context.Context, c chunk.Chunk) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]chunk.Chunk, error)
	UpsertVector(ctx context.Context, chunkID uuid.UUID, embedModel, embedVersion string, vector []float32, vectorHash string) error
}

// stageDeps bundles everything a stage handler needs to do its work. All
// fields are interfaces or already-constructed clients so tests can
// substitute fakes.
type stageDeps struct {
	documents DocumentStore
	chunks    ChunkStore
	blobs     blob.Store
	parser    *parser.Client
	embedder  *embedding.Client
	chunker   chunk.Chunker

	embedModel     string
	embedVersion   string
	vectorDim      int
	webhookBaseURI string
}

// NewStageDeps bundles a stage handler's collaborators for Worker. The
// embedModel/embedVersion pair is stamped onto every vector a handler
// writes; webhookBaseURI is passed to the parser client's Submit calls so
// it can sign callbacks when configured.
func NewStageDeps(
	documents DocumentStore,
	chunks ChunkStore,
	blobs blob.Store,
	parserClient *parser.Client,
	embedder *embedding.Client,
	chunker chunk.Chunker,
	embedModel, embedVersion string,
	vectorDim int,
	webhookBaseURI string,
) *stageDeps {
	return &stageDeps{
		documents:      documents,
		chunks:         chunks,
		blobs:          blobs,
		parser:         parserClient,
		embedder:       embedder,
		chunker:        chunker,
		embedModel:     embedModel,
		embedVersion:   embedVersion,
		vectorDim:      vectorDim,
		webhookBaseURI: webhookBaseURI,
	}
}

// stageHandler performs one stage's side effects and reports the stage to
// advance to. Input j is a snapshot of the leased job; handlers read and
// write through deps, and the only stored field they set on j is
// Progress, which the worker persists with the Advance transition.
type stageHandler func(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error)

var stageHandlers = map[job.Stage]stageHandler{
	job.StageJobValidated:   handleJobValidated,
	job.StageParsing:        handleParsing,
	job.StageParsed:         handleParsed,
	job.StageParseValidated: handleParseValidated,
	job.StageChunking:       handleChunking,
	job.StageChunked:        handleChunked,
	job.StageEmbedding:      handleEmbedding,
}

// handleJobValidated has no side effects of its own; job_validated exists
// so a freshly created job has a stage distinct from parsing's
// in-progress state. It advances straight to parsing.
func handleJobValidated(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	return job.StageParsing, nil
}

// handleParsing implements spec §4.3: submit the raw artifact to the
// parser, and once it reports completion, write the parsed markdown to
// the blob store at the document's parsed path.
func handleParsing(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	doc, err := deps.documents.Get(ctx, j.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("loading document: %w", err)
	}

	submitted, err := deps.parser.Submit(ctx, j.ID, doc.RawPath, deps.webhookBaseURI)
	if err != nil {
		return 0, err
	}

	status, err := deps.parser.Status(ctx, submitted.ParserJobID)
	if err != nil {
		return 0, err
	}
	if status.Status != "completed" {
		return 0, &external.Error{Kind: job.ErrorKindTransientRemote, Err: fmt.Errorf("parse job %s not yet complete: %s", submitted.ParserJobID, status.Status)}
	}

	content, err := deps.blobs.Get(ctx, status.ResultURI)
	if err != nil {
		return 0, fmt.Errorf("fetching parsed artifact: %w", err)
	}
	if err := deps.blobs.Put(ctx, doc.ParsedPath, content); err != nil {
		return 0, fmt.Errorf("writing parsed artifact: %w", err)
	}

	return job.StageParsed, nil
}

// handleParsed implements spec §4.4: normalize and hash the parsed
// markdown, reject empty content, dedup at the parsed-content layer, and
// persist the parsed hash.
func handleParsed(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	doc, err := deps.documents.Get(ctx, j.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("loading document: %w", err)
	}

	raw, err := deps.blobs.Get(ctx, doc.ParsedPath)
	if err != nil {
		return 0, fmt.Errorf("reading parsed artifact: %w", err)
	}

	normalized := normalizeMarkdown(string(raw))
	if strings.TrimSpace(normalized) == "" {
		return 0, &ClassifiedError{Kind: job.ErrorKindContentInvariant, Err: fmt.Errorf("parsed artifact for document %s is empty", doc.ID)}
	}

	parsedHash := chunk.TextHash(normalized)

	if existing, err := deps.documents.FindByParsedHash(ctx, parsedHash, doc.ID); err == nil {
		doc.ParsedPath = existing.ParsedPath
	} else if err != postgres.ErrDocumentNotFound {
		return 0, fmt.Errorf("checking parsed-hash dedup: %w", err)
	}

	if err := deps.documents.UpdateParsed(ctx, doc.ID, doc.ParsedPath, parsedHash); err != nil {
		return 0, fmt.Errorf("writing parsed hash: %w", err)
	}
	return job.StageParseValidated, nil
}

// normalizeMarkdown trims the document and strips trailing whitespace
// from each line, per spec §4.4.
func normalizeMarkdown(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

// handleParseValidated has no side effects; it exists so dedup/validation
// (parsed) is distinct from the stage that kicks off chunking.
func handleParseValidated(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	return job.StageChunking, nil
}

// handleChunking implements spec §4.5: split the parsed markdown with the
// configured chunker and write one row per chunk with insert-if-absent
// semantics.
func handleChunking(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	doc, err := deps.documents.Get(ctx, j.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("loading document: %w", err)
	}

	content, err := deps.blobs.Get(ctx, doc.ParsedPath)
	if err != nil {
		return 0, fmt.Errorf("reading parsed artifact: %w", err)
	}

	chunks := deps.chunker.Split(string(content))
	for i := range chunks {
		chunks[i].DocumentID = doc.ID
		chunks[i].ID = chunk.ID(doc.ID, deps.chunker.Name(), deps.chunker.Version(), chunks[i].Ordinal)
		chunks[i].ChunkerName = deps.chunker.Name()
		chunks[i].ChunkerVersion = deps.chunker.Version()
		if err := deps.chunks.InsertIfAbsent(ctx, chunks[i]); err != nil {
			return 0, fmt.Errorf("writing chunk %d: %w", chunks[i].Ordinal, err)
		}
	}

	if j.Progress == nil {
		j.Progress = job.Progress{}
	}
	j.Progress["chunks_total"] = len(chunks)
	j.Progress["chunks_done"] = len(chunks)

	return job.StageChunked, nil
}

// handleChunked has no side effects; it exists so the chunking side
// effects and the decision to start embedding are distinct stages.
func handleChunked(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	return job.StageEmbedding, nil
}

// handleEmbedding implements spec §4.6: embed every chunk for this
// document and upsert the resulting vectors.
func handleEmbedding(ctx context.Context, deps *stageDeps, j *job.Job) (job.Stage, error) {
	chunks, err := deps.chunks.ListByDocument(ctx, j.DocumentID)
	if err != nil {
		return 0, fmt.Errorf("loading chunks: %w", err)
	}
	if len(chunks) == 0 {
		return job.StageEmbedded, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	results, err := deps.embedder.Embed(ctx, texts)
	if err != nil {
		return 0, err
	}
	if len(results) != len(chunks) {
		return 0, &ClassifiedError{
			Kind: job.ErrorKindContentInvariant,
			Err:  fmt.Errorf("embedding client returned %d vectors for %d chunks", len(results), len(chunks)),
		}
	}

	for i, c := range chunks {
		vector := results[i].Vector
		if deps.vectorDim > 0 && len(vector) != deps.vectorDim {
			return 0, &ClassifiedError{
				Kind: job.ErrorKindContentInvariant,
				Err:  fmt.Errorf("chunk %s embedding has dimension %d, expected %d", c.ID, len(vector), deps.vectorDim),
			}
		}
		vectorHash := chunk.VectorHash(vector)
		if err := deps.chunks.UpsertVector(ctx, c.ID, deps.embedModel, deps.embedVersion, vector, vectorHash); err != nil {
			return 0, fmt.Errorf("writing vector for chunk %s: %w", c.ID, err)
		}
	}

	if j.Progress == nil {
		j.Progress = job.Progress{}
	}
	j.Progress["embeds_total"] = len(chunks)
	j.Progress["embeds_done"] = len(chunks)

	return job.StageEmbedded, nil
}
