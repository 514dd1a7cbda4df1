package store

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// maxQueryTerms caps how many distinct terms a keyword query uses.
// Long natural-language questions collapse to their most specific
// words; the longest terms carry the most signal.
const maxQueryTerms = 6

// minTermLength is the minimum term length in runes. Shorter runs are
// almost always noise in natural-language queries.
const minTermLength = 3

// wordRegex matches letter/digit runs in lowercased query text.
var wordRegex = regexp.MustCompile(`[\p{L}\p{N}]+`)

// defaultQueryStopwords are common English words removed from keyword
// queries. The three-rune minimum already drops most function words;
// this list catches the longer ones.
var defaultQueryStopwords = []string{
	"the", "and", "for", "are", "was", "were", "been", "being",
	"have", "has", "had", "does", "did", "will", "would", "can",
	"could", "should", "may", "might", "must", "shall",
	"this", "that", "these", "those", "there", "then", "than",
	"what", "which", "who", "whom", "whose", "when", "where", "why", "how",
	"with", "without", "within", "into", "onto", "from", "about",
	"above", "below", "between", "through", "during", "before", "after",
	"all", "any", "both", "each", "few", "more", "most", "other",
	"some", "such", "not", "nor", "only", "own", "same", "too", "very",
	"just", "also", "but", "his", "her", "its", "our", "their", "your",
	"you", "she", "they", "them",
}

// BuildStopwordSet converts stopwords to a set, lowercased.
func BuildStopwordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// DefaultStopwordSet returns the built-in English stopword set,
// optionally extended with extra words.
func DefaultStopwordSet(extra []string) map[string]struct{} {
	set := BuildStopwordSet(defaultQueryStopwords)
	for _, w := range extra {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

// ExtractQueryTerms turns free text into keyword query terms:
// lowercase letter/digit runs of at least three runes, stopwords
// removed, deduplicated, keeping at most the six longest. Ties keep
// their order of first appearance so the result is deterministic.
func ExtractQueryTerms(text string, stopwords map[string]struct{}) []string {
	lowered := strings.ToLower(text)
	words := wordRegex.FindAllString(lowered, -1)

	seen := make(map[string]struct{}, len(words))
	var terms []string
	for _, w := range words {
		if utf8.RuneCountInString(w) < minTermLength {
			continue
		}
		if _, isStop := stopwords[w]; isStop {
			continue
		}
		if _, dup := seen[w]; dup {
			continue
		}
		seen[w] = struct{}{}
		terms = append(terms, w)
	}

	sort.SliceStable(terms, func(i, j int) bool {
		return utf8.RuneCountInString(terms[i]) > utf8.RuneCountInString(terms[j])
	})

	if len(terms) > maxQueryTerms {
		terms = terms[:maxQueryTerms]
	}
	return terms
}

// BuildPrefixMatchQuery renders terms as an FTS5 prefix-OR match
// expression: `term1* OR term2*`. Terms are letter/digit runs, so no
// FTS5 escaping is needed.
func BuildPrefixMatchQuery(terms []string) string {
	if len(terms) == 0 {
		return ""
	}
	parts := make([]string, len(terms))
	for i, t := range terms {
		parts[i] = t + "*"
	}
	return strings.Join(parts, " OR ")
}
