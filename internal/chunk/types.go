// Package chunk splits parsed document text into overlapping,
// sentence-aligned chunks sized for the embedding model.
package chunk

const (
	// DefaultMaxTokens is the target chunk size in whitespace tokens.
	DefaultMaxTokens = 512

	// DefaultOverlapTokens is the number of trailing tokens carried from
	// one chunk into the start of the next.
	DefaultOverlapTokens = 64

	// DefaultPageOverlapChars is how many characters of a section's tail
	// are prefixed to the following section before chunking.
	DefaultPageOverlapChars = 200

	// DefaultMaxChunks caps how many chunks a single document may produce.
	DefaultMaxChunks = 2000
)

// Options controls chunk sizing and overlap.
type Options struct {
	// MaxTokens is the per-chunk token budget. Zero means DefaultMaxTokens.
	MaxTokens int

	// OverlapTokens is the minimum token overlap between consecutive
	// chunks. Zero means DefaultOverlapTokens; negative disables overlap.
	OverlapTokens int

	// PageOverlapChars is the tail length carried across section
	// boundaries. Zero means DefaultPageOverlapChars; negative disables
	// the carry.
	PageOverlapChars int

	// MaxChunks bounds the chunk count per document. Zero means
	// DefaultMaxChunks.
	MaxChunks int
}

// DefaultOptions returns the standard chunking configuration.
func DefaultOptions() Options {
	return Options{
		MaxTokens:        DefaultMaxTokens,
		OverlapTokens:    DefaultOverlapTokens,
		PageOverlapChars: DefaultPageOverlapChars,
		MaxChunks:        DefaultMaxChunks,
	}
}

func (o Options) normalized() Options {
	if o.MaxTokens <= 0 {
		o.MaxTokens = DefaultMaxTokens
	}
	if o.OverlapTokens == 0 {
		o.OverlapTokens = DefaultOverlapTokens
	}
	if o.OverlapTokens < 0 {
		o.OverlapTokens = 0
	}
	if o.PageOverlapChars == 0 {
		o.PageOverlapChars = DefaultPageOverlapChars
	}
	if o.PageOverlapChars < 0 {
		o.PageOverlapChars = 0
	}
	if o.MaxChunks <= 0 {
		o.MaxChunks = DefaultMaxChunks
	}
	return o
}

// Chunk is one retrievable unit of a document.
type Chunk struct {
	// Text is the chunk content.
	Text string

	// TokenCount is the whitespace token count of Text.
	TokenCount int

	// Index is the chunk's position within the document, starting at 0.
	Index int

	// Page is the 1-based page the chunk came from, or 0 when the source
	// format has no pages.
	Page int

	// Section is the heading of the section the chunk came from, if any.
	Section string
}
