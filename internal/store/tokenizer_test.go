package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractQueryTerms(t *testing.T) {
	stopwords := DefaultStopwordSet(nil)

	tests := []struct {
		name     string
		query    string
		expected []string
	}{
		{
			name:     "lowercases and splits on punctuation",
			query:    "Invoice-Total: $4,820",
			expected: []string{"invoice", "total", "820"},
		},
		{
			name:     "drops short runs",
			query:    "go to NY in Q2 2024",
			expected: []string{"2024"},
		},
		{
			name:     "removes stopwords",
			query:    "what is the total for the invoice",
			expected: []string{"invoice", "total"},
		},
		{
			name:     "deduplicates keeping first occurrence",
			query:    "refund policy refund terms refund",
			expected: []string{"refund", "policy", "terms"},
		},
		{
			name:     "empty query",
			query:    "",
			expected: nil,
		},
		{
			name:     "only noise",
			query:    "?? !! a b",
			expected: nil,
		},
		{
			name:     "unicode words survive",
			query:    "café straße",
			expected: []string{"straße", "café"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			terms := ExtractQueryTerms(tt.query, stopwords)
			assert.Equal(t, tt.expected, terms)
		})
	}
}

func TestExtractQueryTerms_CapsAtSixLongest(t *testing.T) {
	stopwords := DefaultStopwordSet(nil)

	query := "alpha beta gamma delta epsilon zeta eta theta"
	terms := ExtractQueryTerms(query, stopwords)

	assert.Len(t, terms, 6)
	// Longest first, ties in first-occurrence order.
	assert.Equal(t, []string{"epsilon", "alpha", "gamma", "delta", "theta", "beta"}, terms)
}

func TestExtractQueryTerms_ExtraStopwords(t *testing.T) {
	stopwords := DefaultStopwordSet([]string{"acme"})

	terms := ExtractQueryTerms("acme quarterly report", stopwords)

	assert.Equal(t, []string{"quarterly", "report"}, terms)
}

func TestBuildPrefixMatchQuery(t *testing.T) {
	assert.Equal(t, "", BuildPrefixMatchQuery(nil))
	assert.Equal(t, "invoice*", BuildPrefixMatchQuery([]string{"invoice"}))
	assert.Equal(t, "invoice* OR total*", BuildPrefixMatchQuery([]string{"invoice", "total"}))
}
