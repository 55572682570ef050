package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/chunk"
)

// ChunkStore implements chunk-row access: insert-if-absent writes from
// the chunking stage handler, vector upserts from the embedding stage
// handler, and the row clone used by cross-user dedup.
type ChunkStore struct {
	db bun.IDB
}

// NewChunkStore constructs a ChunkStore over db (a *bun.DB or a *bun.Tx).
func NewChunkStore(db bun.IDB) *ChunkStore {
	return &ChunkStore{db: db}
}

// InsertIfAbsent writes c, doing nothing if a row with the same id already
// exists. Because chunk ids are deterministic over (document_id,
// chunker_name, chunker_version, ordinal), re-running the chunking stage
// handler on the same parsed content is a no-op (spec §4.5).
func (s *ChunkStore) InsertIfAbsent(ctx context.Context, c chunk.Chunk) error {
	row := rowFromChunk(c)
	_, err := s.db.NewInsert().
		Model(row).
		On("CONFLICT (id) DO NOTHING").
		Exec(ctx)
	return err
}

// ListByDocument returns every chunk row for documentID, ordered by
// ordinal, as the embedding stage handler needs them (spec §4.6).
func (s *ChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]chunk.Chunk, error) {
	var rows []chunkRow
	err := s.db.NewSelect().
		Model(&rows).
		Where("document_id = ?", documentID).
		OrderExpr("ordinal ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]chunk.Chunk, len(rows))
	for i := range rows {
		out[i] = rows[i].toChunk()
	}
	return out, nil
}

// UpsertVector writes the embedding vector, its integrity hash, the
// embed model/version and the vector dimension onto the existing chunk
// row identified by chunkID. The row is matched by chunk id alone: a chunk
// holds one vector at a time, so a write under a different model/version
// replaces the previous one, and no row is inserted when none exists.
// Re-running the embedding stage handler with the same model/version
// overwrites with an identical vector and is therefore idempotent.
func (s *ChunkStore) UpsertVector(ctx context.Context, chunkID uuid.UUID, embedModel, embedVersion string, vector []float32, vectorHash string) error {
	v := pgvector.NewVector(vector)
	_, err := s.db.NewUpdate().
		Model((*chunkRow)(nil)).
		Set("embed_model = ?", embedModel).
		Set("embed_version = ?", embedVersion).
		Set("vector_dim = ?", len(vector)).
		Set("vector = ?", v).
		Set("vector_hash = ?", vectorHash).
		Set("updated_at = now()").
		Where("id = ?", chunkID).
		Exec(ctx)
	return err
}

// CloneForDocument copies every chunk row owned by sourceDocumentID to
// targetDocumentID, preserving text, text hash, embedding, embed
// model/version, and vector dimension but assigning a fresh chunk id per
// row (spec §4.9's clone_document_for_user). It is intended to run inside
// the same transaction that inserts the target document row.
func (s *ChunkStore) CloneForDocument(ctx context.Context, sourceDocumentID, targetDocumentID uuid.UUID) ([]chunk.Chunk, error) {
	var sourceRows []chunkRow
	if err := s.db.NewSelect().
		Model(&sourceRows).
		Where("document_id = ?", sourceDocumentID).
		OrderExpr("ordinal ASC").
		Scan(ctx); err != nil {
		return nil, err
	}

	cloned := make([]chunk.Chunk, 0, len(sourceRows))
	for _, src := range sourceRows {
		c := src.toChunk()
		c.DocumentID = targetDocumentID
		c.ID = chunk.ID(targetDocumentID, c.ChunkerName, c.ChunkerVersion, c.Ordinal)
		cloned = append(cloned, c)
	}
	if len(cloned) == 0 {
		return cloned, nil
	}

	rows := make([]*chunkRow, len(cloned))
	for i := range cloned {
		rows[i] = rowFromChunk(cloned[i])
	}
	if _, err := s.db.NewInsert().Model(&rows).Exec(ctx); err != nil {
		return nil, err
	}
	return cloned, nil
}
