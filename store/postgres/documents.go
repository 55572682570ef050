package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/ingestpipe/pipeline/document"
)

// DocumentStore implements document-row access for C1 (Job Store) and is
// consulted directly by dedup.Service for content-hash lookups.
type DocumentStore struct {
	db bun.IDB
}

// NewDocumentStore constructs a DocumentStore over db, which may be a
// *bun.DB or a *bun.Tx so dedup.Service can run lookups and clones inside
// one transaction.
func NewDocumentStore(db bun.IDB) *DocumentStore {
	return &DocumentStore{db: db}
}

// Insert writes a new document row. The caller is responsible for
// generating its UUIDv5 id (document.ID) before calling Insert.
func (s *DocumentStore) Insert(ctx context.Context, d *document.Document) error {
	row := rowFromDocument(d)
	_, err := s.db.NewInsert().Model(row).Exec(ctx)
	return err
}

// Get retrieves a document by id.
func (s *DocumentStore) Get(ctx context.Context, id uuid.UUID) (*document.Document, error) {
	var row documentRow
	err := s.db.NewSelect().Model(&row).Where("id = ?", id).Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return row.toDocument(), nil
}

// FindByUserAndContentHash implements C5's find_user_document: the
// document this user already owns for contentHash, if any.
func (s *DocumentStore) FindByUserAndContentHash(ctx context.Context, userID uuid.UUID, contentHash string) (*document.Document, error) {
	var row documentRow
	err := s.db.NewSelect().
		Model(&row).
		Where("user_id = ?", userID).
		Where("content_hash = ?", contentHash).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return row.toDocument(), nil
}

// FindAnyByContentHash implements C5's find_any_document: any document
// (any user) matching contentHash, preferring the oldest so clones are
// deterministic across repeated intake of the same bytes.
func (s *DocumentStore) FindAnyByContentHash(ctx context.Context, contentHash string) (*document.Document, error) {
	var row documentRow
	err := s.db.NewSelect().
		Model(&row).
		Where("content_hash = ?", contentHash).
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return row.toDocument(), nil
}

// FindByParsedHash looks up a document (other than excludeID) sharing the
// given parsed hash, used by the parsed-validation stage handler to dedup
// at the parsed-content layer (spec §4.4).
func (s *DocumentStore) FindByParsedHash(ctx context.Context, parsedHash string, excludeID uuid.UUID) (*document.Document, error) {
	var row documentRow
	err := s.db.NewSelect().
		Model(&row).
		Where("parsed_hash = ?", parsedHash).
		Where("id != ?", excludeID).
		OrderExpr("created_at ASC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return row.toDocument(), nil
}

// UpdateParsed writes the parsed artifact path and parsed-content hash
// back to the document row (spec §4.4).
func (s *DocumentStore) UpdateParsed(ctx context.Context, id uuid.UUID, parsedPath, parsedHash string) error {
	_, err := s.db.NewUpdate().
		Model((*documentRow)(nil)).
		Set("parsed_path = ?", parsedPath).
		Set("parsed_hash = ?", parsedHash).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return err
}

// UpdateStatus writes the document's processing status (spec §4.1
// "terminal finalization" and §4.8's failed_* markers).
func (s *DocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, status document.Status) error {
	_, err := s.db.NewUpdate().
		Model((*documentRow)(nil)).
		Set("status = ?", string(status)).
		Set("updated_at = now()").
		Where("id = ?", id).
		Exec(ctx)
	return err
}
