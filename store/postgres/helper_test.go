package postgres_test

import (
	"context"
	"database/sql"
	"testing"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"github.com/ingestpipe/pipeline/store/postgres"
)

// newTestDB spins up a disposable Postgres container, with the pgvector
// extension pre-installed, and returns a bun.DB with the pipeline schema
// already initialized. Mirrors the teacher's sql/helper_test.go shape,
// swapped from an in-memory SQLite handle to a real container since the
// lease query depends on Postgres-only SKIP LOCKED semantics.
func newTestDB(t *testing.T) *bun.DB {
	t.Helper()
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "pgvector/pgvector:pg16",
		tcpostgres.WithDatabase("pipeline"),
		tcpostgres.WithUsername("pipeline"),
		tcpostgres.WithPassword("pipeline"),
	)
	require := func(err error) {
		if err != nil {
			t.Fatal(err)
		}
	}
	require(err)
	t.Cleanup(func() {
		_ = container.Terminate(ctx)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require(err)

	sqlDB := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	db := bun.NewDB(sqlDB, pgdialect.New())
	t.Cleanup(func() {
		_ = db.Close()
	})

	require(postgres.InitSchema(ctx, db))
	return db
}
