package blob_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ingestpipe/pipeline/blob"
)

var pathPattern = regexp.MustCompile(`^files/user/[0-9a-f-]+/(raw|parsed)/[0-9a-f]{8}_[0-9a-f]{8}\.[a-z]+$`)

func TestRawPathMatchesCanonicalScheme(t *testing.T) {
	userID, docID := uuid.New(), uuid.New()
	p := blob.RawPath(userID, docID, time.Now(), "pdf")
	assert.Regexp(t, pathPattern, p)
	assert.Contains(t, p, "/raw/")
	assert.Regexp(t, `\.pdf$`, p)
}

func TestParsedPathUsesMdSuffix(t *testing.T) {
	userID, docID := uuid.New(), uuid.New()
	p := blob.ParsedPath(userID, docID, time.Now())
	assert.Regexp(t, pathPattern, p)
	assert.Contains(t, p, "/parsed/")
	assert.Regexp(t, `\.md$`, p)
}

func TestRawPathIsDeterministicForSameDocumentAndTimestamp(t *testing.T) {
	userID, docID := uuid.New(), uuid.New()
	ts := time.Now()
	assert.Equal(t, blob.RawPath(userID, docID, ts, "pdf"), blob.RawPath(userID, docID, ts, "pdf"))
}
