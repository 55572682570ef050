// Package chunk defines the Chunk entity and the deterministic
// markdown-to-chunks splitter (C6) used by the chunking stage handler.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// NamespaceUUID matches document.NamespaceUUID: both ids are derived
// under the same fixed namespace per spec §9.
var NamespaceUUID = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// ID computes the deterministic UUIDv5 chunk id over (document_id,
// chunker_name, chunker_version, ordinal), per spec §3.
func ID(documentID uuid.UUID, chunkerName, chunkerVersion string, ordinal int) uuid.UUID {
	data := documentID.String() + ":" + chunkerName + ":" + chunkerVersion + ":" + strconv.Itoa(ordinal)
	return uuid.NewSHA1(NamespaceUUID, []byte(data))
}

// Chunk is one ordered slice of a document's parsed markdown, eventually
// carrying a dense embedding vector.
type Chunk struct {
	ID             uuid.UUID
	DocumentID     uuid.UUID
	Ordinal        int
	ChunkerName    string
	ChunkerVersion string

	Text     string
	TextHash string

	EmbedModel   string
	EmbedVersion string
	VectorDim    int
	Vector       []float32
	VectorHash   string

	LineStart int
	LineEnd   int
	Type      string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// TextHash returns the SHA-256 hex digest of text.
func TextHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// VectorHash returns the SHA-256 hex digest over the vector's byte
// representation (IEEE 754 little-endian float32 per component), per
// spec §3's "vector integrity hash".
func VectorHash(vector []float32) string {
	buf := make([]byte, 0, len(vector)*4)
	for _, f := range vector {
		bits := math.Float32bits(f)
		buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
	}
	sum := sha256.Sum256(buf)
	return hex.EncodeToString(sum[:])
}
