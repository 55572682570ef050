package postgres

import (
	"context"
	"errors"

	"github.com/uptrace/bun"
)

const createSchemaSQL = `CREATE SCHEMA IF NOT EXISTS pipeline`

const createVectorExtensionSQL = `CREATE EXTENSION IF NOT EXISTS vector`

func createSchema(ctx context.Context, db bun.IDB) error {
	_, err := db.ExecContext(ctx, createSchemaSQL)
	return err
}

func createVectorExtension(ctx context.Context, db bun.IDB) error {
	_, err := db.ExecContext(ctx, createVectorExtensionSQL)
	return err
}

func createJobsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*jobRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func createDocumentsTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*documentRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

func createChunksTable(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateTable().Model((*chunkRow)(nil)).IfNotExists().Exec(ctx)
	return err
}

// createJobLeaseIndex backs the lease query's (stage, state, retry_at)
// filter, generalizing the teacher's single (status, next_run_at) index
// to the spec's dual stage/state axis.
func createJobLeaseIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobRow)(nil)).
		Index("idx_jobs_stage_state_retry").
		Column("stage", "state", "retry_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func createJobUpdatedIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*jobRow)(nil)).
		Index("idx_jobs_updated").
		Column("updated_at").
		IfNotExists().
		Exec(ctx)
	return err
}

func createDocumentUserHashIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*documentRow)(nil)).
		Index("idx_documents_user_hash").
		Column("user_id", "content_hash").
		Unique().
		IfNotExists().
		Exec(ctx)
	return err
}

func createDocumentContentHashIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*documentRow)(nil)).
		Index("idx_documents_content_hash").
		Column("content_hash").
		IfNotExists().
		Exec(ctx)
	return err
}

func createChunkIdentityIndex(ctx context.Context, db bun.IDB) error {
	_, err := db.NewCreateIndex().
		Model((*chunkRow)(nil)).
		Index("idx_chunks_identity").
		Column("document_id", "chunker_name", "chunker_version", "ordinal").
		Unique().
		IfNotExists().
		Exec(ctx)
	return err
}

func initSchema(ctx context.Context, db *bun.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	steps := []func(context.Context, bun.IDB) error{
		createSchema,
		createVectorExtension,
		createJobsTable,
		createDocumentsTable,
		createChunksTable,
		createJobLeaseIndex,
		createJobUpdatedIndex,
		createDocumentUserHashIndex,
		createDocumentContentHashIndex,
		createChunkIdentityIndex,
	}
	for _, step := range steps {
		if err := step(ctx, tx); err != nil {
			return errors.Join(err, tx.Rollback())
		}
	}
	return tx.Commit()
}

// InitSchema creates the pipeline schema's tables and indexes inside a
// single transaction, if they do not already exist. It is idempotent and
// safe to call on every process startup, mirroring the teacher's InitDB.
func InitSchema(ctx context.Context, db *bun.DB) error {
	return initSchema(ctx, db)
}

// MustInitSchema behaves like InitSchema but panics on failure, for use in
// application bootstrap where a broken schema is unrecoverable.
func MustInitSchema(ctx context.Context, db *bun.DB) {
	if err := initSchema(ctx, db); err != nil {
		panic(err)
	}
}
