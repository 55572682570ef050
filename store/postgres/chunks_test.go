package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ingestpipe/pipeline/chunk"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/store/postgres"
)

func insertDoc(t *testing.T, ctx context.Context, docs *postgres.DocumentStore, userID uuid.UUID, hash string) *document.Document {
	t.Helper()
	d := newDoc(userID, hash)
	require.NoError(t, docs.Insert(ctx, d))
	return d
}

func TestChunkInsertIfAbsentIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	docs := postgres.NewDocumentStore(db)
	chunks := postgres.NewChunkStore(db)
	ctx := context.Background()

	d := insertDoc(t, ctx, docs, uuid.New(), "h1")
	c := chunk.Chunk{
		ID:             chunk.ID(d.ID, chunk.MarkdownSimpleName, chunk.MarkdownSimpleVersion, 0),
		DocumentID:     d.ID,
		Ordinal:        0,
		ChunkerName:    chunk.MarkdownSimpleName,
		ChunkerVersion: chunk.MarkdownSimpleVersion,
		Text:           "hello",
		TextHash:       chunk.TextHash("hello"),
		Type:           "markdown",
	}

	require.NoError(t, chunks.InsertIfAbsent(ctx, c))
	require.NoError(t, chunks.InsertIfAbsent(ctx, c))

	rows, err := chunks.ListByDocument(ctx, d.ID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestChunkUpsertVectorWritesIntegrityHash(t *testing.T) {
	db := newTestDB(t)
	docs := postgres.NewDocumentStore(db)
	chunks := postgres.NewChunkStore(db)
	ctx := context.Background()

	d := insertDoc(t, ctx, docs, uuid.New(), "h2")
	c := chunk.Chunk{
		ID:             chunk.ID(d.ID, chunk.MarkdownSimpleName, chunk.MarkdownSimpleVersion, 0),
		DocumentID:     d.ID,
		Ordinal:        0,
		ChunkerName:    chunk.MarkdownSimpleName,
		ChunkerVersion: chunk.MarkdownSimpleVersion,
		Text:           "hello",
		TextHash:       chunk.TextHash("hello"),
		Type:           "markdown",
	}
	require.NoError(t, chunks.InsertIfAbsent(ctx, c))

	vector := make([]float32, 1536)
	vector[0] = 0.5
	vectorHash := chunk.VectorHash(vector)
	require.NoError(t, chunks.UpsertVector(ctx, c.ID, "text-embedding-3-small", "1", vector, vectorHash))

	rows, err := chunks.ListByDocument(ctx, d.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, vectorHash, rows[0].VectorHash)
	assert.Equal(t, 1536, rows[0].VectorDim)
	assert.Len(t, rows[0].Vector, 1536)
}

func TestChunkCloneForDocumentPreservesVectors(t *testing.T) {
	db := newTestDB(t)
	docs := postgres.NewDocumentStore(db)
	chunks := postgres.NewChunkStore(db)
	ctx := context.Background()

	source := insertDoc(t, ctx, docs, uuid.New(), "shared")
	c := chunk.Chunk{
		ID:             chunk.ID(source.ID, chunk.MarkdownSimpleName, chunk.MarkdownSimpleVersion, 0),
		DocumentID:     source.ID,
		Ordinal:        0,
		ChunkerName:    chunk.MarkdownSimpleName,
		ChunkerVersion: chunk.MarkdownSimpleVersion,
		Text:           "shared text",
		TextHash:       chunk.TextHash("shared text"),
		Type:           "markdown",
	}
	require.NoError(t, chunks.InsertIfAbsent(ctx, c))
	vector := make([]float32, 1536)
	vector[0], vector[1], vector[2] = 1, 2, 3
	require.NoError(t, chunks.UpsertVector(ctx, c.ID, "text-embedding-3-small", "1", vector, chunk.VectorHash(vector)))

	target := insertDoc(t, ctx, docs, uuid.New(), "shared")
	cloned, err := chunks.CloneForDocument(ctx, source.ID, target.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 1)
	assert.NotEqual(t, c.ID, cloned[0].ID)
	assert.Equal(t, target.ID, cloned[0].DocumentID)
	assert.Equal(t, vector, cloned[0].Vector)
	assert.Equal(t, chunk.VectorHash(vector), cloned[0].VectorHash)
}
