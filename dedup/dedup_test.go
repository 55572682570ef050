package dedup_test

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ingestpipe/pipeline/blob"
	"github.com/ingestpipe/pipeline/blob/memory"
	"github.com/ingestpipe/pipeline/chunk"
	"github.com/ingestpipe/pipeline/dedup"
	"github.com/ingestpipe/pipeline/document"
	"github.com/ingestpipe/pipeline/store/postgres"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("pipeline"),
		tcpostgres.WithUsername("pipeline"),
		tcpostgres.WithPassword("pipeline"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqlDB, pgdialect.New())
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, postgres.InitSchema(ctx, db))
	return db
}

// seedVector is a vector sized for the chunks table's vector(1536) column,
// with its first three components set.
func seedVector() []float32 {
	v := make([]float32, 1536)
	v[0], v[1], v[2] = 0.1, 0.2, 0.3
	return v
}

func seedCompletedDocument(t *testing.T, ctx context.Context, db *bun.DB, blobs blob.Store, userID uuid.UUID, contentHash string) *document.Document {
	t.Helper()
	docs := postgres.NewDocumentStore(db)
	chunks := postgres.NewChunkStore(db)

	parsedPath := "files/user/" + userID.String() + "/parsed/aa_bb.md"
	d := &document.Document{
		ID:          document.ID(userID, contentHash),
		UserID:      userID,
		Filename:    "report.pdf",
		MIME:        "application/pdf",
		ByteLen:     1024,
		Ext:         "pdf",
		ContentHash: contentHash,
		ParsedHash:  "parsed-hash",
		RawPath:     "files/user/" + userID.String() + "/raw/aa_bb.pdf",
		ParsedPath:  parsedPath,
		Status:      document.StatusCompleted,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, docs.Insert(ctx, d))
	require.NoError(t, blobs.Put(ctx, parsedPath, []byte("# hello\n\nworld")))

	c := chunk.Chunk{
		ID:             chunk.ID(d.ID, "markdown-simple", "1", 0),
		DocumentID:     d.ID,
		Ordinal:        0,
		ChunkerName:    "markdown-simple",
		ChunkerVersion: "1",
		Text:           "hello world",
		TextHash:       chunk.TextHash("hello world"),
		EmbedModel:     "text-embedding-3-small",
		EmbedVersion:   "1",
		VectorDim:      1536,
		Vector:         seedVector(),
		VectorHash:     chunk.VectorHash(seedVector()),
		CreatedAt:      time.Now().UTC(),
		UpdatedAt:      time.Now().UTC(),
	}
	require.NoError(t, chunks.InsertIfAbsent(ctx, c))
	return d
}

func seedPendingDocument(t *testing.T, ctx context.Context, db *bun.DB, userID uuid.UUID, contentHash string) *document.Document {
	t.Helper()
	docs := postgres.NewDocumentStore(db)

	d := &document.Document{
		ID:          document.ID(userID, contentHash),
		UserID:      userID,
		Filename:    "report.pdf",
		MIME:        "application/pdf",
		ByteLen:     1024,
		Ext:         "pdf",
		ContentHash: contentHash,
		RawPath:     "files/user/" + userID.String() + "/raw/aa_bb.pdf",
		Status:      document.StatusPending,
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	require.NoError(t, docs.Insert(ctx, d))
	return d
}

func TestResolveReturnsOwnedByUserWithoutCloning(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	blobs := memory.New()
	userID := uuid.New()
	contentHash := "deadbeef"
	owned := seedCompletedDocument(t, ctx, db, blobs, userID, contentHash)

	svc := dedup.New(db, blobs)
	res, err := svc.Resolve(ctx, userID, contentHash, dedup.NewDocumentParams{})
	require.NoError(t, err)
	assert.Equal(t, dedup.OutcomeOwnedByUser, res.Outcome)
	assert.Equal(t, owned.ID, res.Document.ID)
	assert.Nil(t, res.Job)
}

func TestResolveReturnsNewWhenNoMatch(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	svc := dedup.New(db, memory.New())

	res, err := svc.Resolve(ctx, uuid.New(), "no-such-hash", dedup.NewDocumentParams{})
	require.NoError(t, err)
	assert.Equal(t, dedup.OutcomeNew, res.Outcome)
	assert.Nil(t, res.Document)
}

func TestResolveClonesAcrossUsersWithChunksAndTerminalJob(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	blobs := memory.New()
	ownerID := uuid.New()
	newUserID := uuid.New()
	contentHash := "shared-hash"
	source := seedCompletedDocument(t, ctx, db, blobs, ownerID, contentHash)

	svc := dedup.New(db, blobs)
	res, err := svc.Resolve(ctx, newUserID, contentHash, dedup.NewDocumentParams{
		Filename: "report.pdf",
		MIME:     "application/pdf",
		ByteLen:  1024,
		Ext:      "pdf",
		RawPath:  "files/user/" + newUserID.String() + "/raw/cc_dd.pdf",
	})
	require.NoError(t, err)
	require.Equal(t, dedup.OutcomeClonedFromOther, res.Outcome)
	assert.NotEqual(t, source.ID, res.Document.ID)
	assert.Equal(t, newUserID, res.Document.UserID)
	assert.Equal(t, document.StatusCompleted, res.Document.Status)
	require.NotNil(t, res.Job)
	assert.True(t, res.Job.State.Terminal())
	assert.NotEqual(t, source.ParsedPath, res.Document.ParsedPath)

	copied, err := blobs.Get(ctx, res.Document.ParsedPath)
	require.NoError(t, err)
	assert.Equal(t, []byte("# hello\n\nworld"), copied)

	chunks := postgres.NewChunkStore(db)
	cloned, err := chunks.ListByDocument(ctx, res.Document.ID)
	require.NoError(t, err)
	require.Len(t, cloned, 1)
	assert.Equal(t, seedVector(), cloned[0].Vector)
	assert.NotEqual(t, source.ID, cloned[0].DocumentID)
}

func TestResolveFallsThroughToNewWhenCrossUserSourceIsPending(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	ownerID := uuid.New()
	newUserID := uuid.New()
	contentHash := "still-processing"
	seedPendingDocument(t, ctx, db, ownerID, contentHash)

	svc := dedup.New(db, memory.New())
	res, err := svc.Resolve(ctx, newUserID, contentHash, dedup.NewDocumentParams{
		Filename: "report.pdf",
		MIME:     "application/pdf",
		ByteLen:  1024,
		Ext:      "pdf",
		RawPath:  "files/user/" + newUserID.String() + "/raw/cc_dd.pdf",
	})
	require.NoError(t, err)
	assert.Equal(t, dedup.OutcomeNew, res.Outcome)
	assert.Nil(t, res.Document)
	assert.Nil(t, res.Job)

	docs := postgres.NewDocumentStore(db)
	_, err = docs.FindByUserAndContentHash(ctx, newUserID, contentHash)
	assert.ErrorIs(t, err, postgres.ErrDocumentNotFound)
}
