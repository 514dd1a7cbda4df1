package chunk

import (
	"github.com/pmbstyle/alicerag/internal/parse"
)

// ChunkDocument chunks every section of a parsed document. Each section
// after the first is prefixed with the trailing opts.PageOverlapChars
// characters of the previous section's text, so content that straddles a
// page or heading boundary lands in at least one chunk together. Chunks
// take their page and section metadata from the section that produced
// them, and indexes run across the whole document. Output stops at
// opts.MaxChunks.
func ChunkDocument(doc *parse.Document, opts Options) []Chunk {
	opts = opts.normalized()
	var (
		chunks []Chunk
		carry  string
	)
	for _, sec := range doc.Sections {
		text := sec.Text
		if carry != "" && text != "" {
			text = carry + " " + text
		}
		for _, c := range ChunkText(text, opts) {
			if len(chunks) >= opts.MaxChunks {
				return chunks
			}
			c.Index = len(chunks)
			c.Page = sec.Page
			c.Section = sec.Heading
			chunks = append(chunks, c)
		}
		carry = tailChars(sec.Text, opts.PageOverlapChars)
	}
	return chunks
}

// tailChars returns the last n characters of s, aligned to rune
// boundaries.
func tailChars(s string, n int) string {
	if n <= 0 || s == "" {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[len(runes)-n:])
}
