package chunk

import "strings"

// MarkdownSimpleName and MarkdownSimpleVersion identify the only chunker
// variant implemented so far. The chunker is versioned so future
// strategies can be introduced without invalidating existing chunk ids,
// which embed the version (spec §4.10).
const (
	MarkdownSimpleName    = "markdown-simple"
	MarkdownSimpleVersion = "1"
)

// linesPerChunk is the accumulation threshold that forces a chunk break in
// the absence of a heading line (spec §4.5).
const linesPerChunk = 20

// Split produces the markdown-simple chunk sequence (version 1) for text:
// a new chunk starts at any line beginning with '#' or after 20 non-empty
// lines have accumulated in the current chunk; the final residual becomes
// the last chunk. Each chunk is trimmed; empty chunks are skipped; ordinals
// are dense starting at 0. Deterministic: identical input always yields
// identical chunks.
func Split(text string) []Chunk {
	lines := strings.Split(text, "\n")

	var chunks []Chunk
	var cur []string
	curStart := 0
	nonEmpty := 0

	flush := func(endLine int) {
		joined := strings.TrimSpace(strings.Join(cur, "\n"))
		if joined != "" {
			chunks = append(chunks, Chunk{
				Ordinal:        len(chunks),
				ChunkerName:    MarkdownSimpleName,
				ChunkerVersion: MarkdownSimpleVersion,
				Text:           joined,
				TextHash:       TextHash(joined),
				LineStart:      curStart,
				LineEnd:        endLine,
				Type:           "markdown",
			})
		}
		cur = nil
		nonEmpty = 0
	}

	for i, line := range lines {
		if strings.HasPrefix(strings.TrimLeft(line, " \t"), "#") && len(cur) > 0 {
			flush(i - 1)
			curStart = i
		}
		if len(cur) == 0 {
			curStart = i
		}
		cur = append(cur, line)
		if strings.TrimSpace(line) != "" {
			nonEmpty++
		}
		if nonEmpty >= linesPerChunk {
			flush(i)
			curStart = i + 1
		}
	}
	if len(cur) > 0 {
		flush(len(lines) - 1)
	}

	return chunks
}
