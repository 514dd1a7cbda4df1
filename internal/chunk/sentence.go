package chunk

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// SplitSentences splits text on sentence terminators ('.', '!', '?')
// that are followed by whitespace or end the text. Terminators inside
// words, such as decimal points, do not split. Sentences are trimmed;
// empty pieces are dropped. Text without any terminator comes back as a
// single sentence.
func SplitSentences(text string) []string {
	var sentences []string
	lastEnd := 0
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c != '.' && c != '!' && c != '?' {
			continue
		}
		if i+1 < len(text) {
			next, _ := utf8.DecodeRuneInString(text[i+1:])
			if !unicode.IsSpace(next) {
				continue
			}
		}
		if s := strings.TrimSpace(text[lastEnd : i+1]); s != "" {
			sentences = append(sentences, s)
		}
		lastEnd = i + 1
	}
	if tail := strings.TrimSpace(text[lastEnd:]); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

// TokenCount counts whitespace-delimited words.
func TokenCount(text string) int {
	return len(strings.Fields(text))
}

// ChunkText splits text into sentence-aligned chunks of at most
// opts.MaxTokens tokens, with consecutive chunks sharing at least
// opts.OverlapTokens trailing tokens. A single sentence larger than the
// budget becomes its own chunk, so every call makes progress. Chunk
// indexes are local to the returned slice.
func ChunkText(text string, opts Options) []Chunk {
	opts = opts.normalized()
	sentences := SplitSentences(text)
	if len(sentences) == 0 {
		return nil
	}
	counts := make([]int, len(sentences))
	for i, s := range sentences {
		counts[i] = TokenCount(s)
	}

	var chunks []Chunk
	start := 0
	for start < len(sentences) {
		end := start
		total := 0
		for end < len(sentences) {
			if total > 0 && total+counts[end] > opts.MaxTokens {
				break
			}
			total += counts[end]
			end++
		}
		chunks = append(chunks, Chunk{
			Text:       strings.Join(sentences[start:end], " "),
			TokenCount: total,
			Index:      len(chunks),
		})
		if end >= len(sentences) {
			break
		}
		// Walk back from the end of the finished chunk until the overlap
		// budget is met. The next start never regresses to the previous
		// one, so the loop always advances.
		newStart := end
		overlap := 0
		for newStart-1 > start && overlap < opts.OverlapTokens {
			overlap += counts[newStart-1]
			newStart--
		}
		start = newStart
	}
	return chunks
}
