package chunk_test

import (
	"strings"
	"testing"

	"github.com/ingestpipe/pipeline/chunk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitBreaksOnHeadings(t *testing.T) {
	text := "# Title\nfirst paragraph\n\n## Section\nsecond paragraph"
	chunks := chunk.Split(text)

	require.Len(t, chunks, 2)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 1, chunks[1].Ordinal)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "# Title"))
	assert.True(t, strings.HasPrefix(chunks[1].Text, "## Section"))
}

func TestSplitBreaksOnLineCount(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 45; i++ {
		b.WriteString("line\n")
	}
	chunks := chunk.Split(b.String())

	require.Len(t, chunks, 3)
	assert.Equal(t, 20, strings.Count(chunks[0].Text, "line"))
	assert.Equal(t, 20, strings.Count(chunks[1].Text, "line"))
	assert.Equal(t, 5, strings.Count(chunks[2].Text, "line"))
}

func TestSplitSkipsEmptyChunksAndIsDeterministic(t *testing.T) {
	text := "\n\n# Heading\n\ncontent here\n"
	first := chunk.Split(text)
	second := chunk.Split(text)

	require.Equal(t, first, second)
	for _, c := range first {
		assert.NotEmpty(t, strings.TrimSpace(c.Text))
	}
}

func TestSplitAssignsDenseOrdinals(t *testing.T) {
	text := "# A\ntext\n# B\ntext\n# C\ntext"
	chunks := chunk.Split(text)
	for i, c := range chunks {
		assert.Equal(t, i, c.Ordinal)
	}
}
