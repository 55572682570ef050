package document_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ingestpipe/pipeline/document"
)

func TestIDIsDeterministic(t *testing.T) {
	userID := uuid.New()
	hash := "abc123"
	assert.Equal(t, document.ID(userID, hash), document.ID(userID, hash))
}

func TestIDVariesByUserAndHash(t *testing.T) {
	userA, userB := uuid.New(), uuid.New()
	hash := "abc123"
	assert.NotEqual(t, document.ID(userA, hash), document.ID(userB, hash))
	assert.NotEqual(t, document.ID(userA, "abc123"), document.ID(userA, "def456"))
}
