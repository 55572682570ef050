// Package document defines the Document entity: the record an uploaded
// PDF becomes at intake, and the unit cross-user deduplication clones.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status mirrors the terminal subset of job stages for external
// consumers who only care about document-level progress, plus the
// stage-specific failed_* markers a deadlettered job rolls up to.
type Status string

const (
	StatusPending         Status = "pending"
	StatusCompleted       Status = "completed"
	StatusFailedParse     Status = "failed_parse"
	StatusFailedChunking  Status = "failed_chunking"
	StatusFailedEmbedding Status = "failed_embedding"
	StatusFailedUnknown   Status = "failed_unknown"
)

// Document is the record an uploaded PDF becomes at intake. Its status,
// parsed path, and parsed hash are mutated only by the worker; every other
// field is fixed at creation.
type Document struct {
	ID     uuid.UUID
	UserID uuid.UUID

	Filename string
	MIME     string
	ByteLen  int64
	Ext      string

	ContentHash string
	ParsedHash  string

	RawPath    string
	ParsedPath string

	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NamespaceUUID is the fixed namespace UUIDv5 ids are derived under. It is
// a configuration choice (see spec §9 "Deterministic ids"): changing it
// silently would partition the key space, so it is pinned here rather than
// left to per-deployment configuration drift.
var NamespaceUUID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ID computes the deterministic UUIDv5 document id over (user_id,
// content_hash), per spec §3 "Document id".
func ID(userID uuid.UUID, contentHash string) uuid.UUID {
	return uuid.NewSHA1(NamespaceUUID, []byte(userID.String()+":"+contentHash))
}
