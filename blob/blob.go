// Package blob defines the storage abstraction for raw and parsed
// artifacts (C2): a logical-path key/value interface, with the canonical
// path schemes spec §6 requires.
package blob

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store is the capability the parsing and parse-validation stage handlers
// read and write artifacts through. It has exactly one implementation
// exercised in production (blob/s3) and one for tests (blob/memory).
type Store interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, content []byte) error
	Exists(ctx context.Context, path string) (bool, error)
}

// ErrNotFound is returned by Get when path has never been written. Exists
// reports such a path as (false, nil) rather than returning ErrNotFound.
var ErrNotFound = notFoundError{}

type notFoundError struct{}

func (notFoundError) Error() string { return "blob: not found" }

// RawPath builds the canonical raw-artifact path:
// files/user/<user_id>/raw/<ts_hash>_<doc_hash>.<ext>, where ts_hash is an
// 8-hex-char digest of the given timestamp and doc_hash is an 8-hex-char
// digest of the document id (spec §6).
func RawPath(userID, documentID uuid.UUID, ts time.Time, ext string) string {
	return buildPath(userID, documentID, ts, "raw", ext)
}

// ParsedPath builds the canonical parsed-artifact path, analogous to
// RawPath but under .../parsed/... with a fixed .md suffix (spec §6).
func ParsedPath(userID, documentID uuid.UUID, ts time.Time) string {
	return buildPath(userID, documentID, ts, "parsed", "md")
}

func buildPath(userID, documentID uuid.UUID, ts time.Time, kind, ext string) string {
	tsHash := hash8(ts.UTC().Format(time.RFC3339Nano))
	docHash := hash8(documentID.String())
	ext = strings.TrimPrefix(ext, ".")
	return fmt.Sprintf("files/user/%s/%s/%s_%s.%s", userID, kind, tsHash, docHash, ext)
}

func hash8(s string) string {
	sum := md5.Sum([]byte(s))
	return hex.EncodeToString(sum[:])[:8]
}
