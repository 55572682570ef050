package chunk

// Chunker is the capability the chunking stage handler dispatches
// through. A deployment's configured (name, version) pair selects one
// instance; the chunk ids it produces embed both, so introducing a new
// chunker never invalidates chunks produced by an existing one.
type Chunker interface {
	Name() string
	Version() string
	Split(text string) []Chunk
}

// MarkdownSimple is the version-1 heading/line-count splitter (spec
// §4.5/§4.10).
type MarkdownSimple struct{}

func (MarkdownSimple) Name() string    { return MarkdownSimpleName }
func (MarkdownSimple) Version() string { return MarkdownSimpleVersion }
func (MarkdownSimple) Split(text string) []Chunk { return Split(text) }
