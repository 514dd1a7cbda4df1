package parse

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	horizontalRunPattern = regexp.MustCompile(`[ \t]+`)
	trailingSpacePattern = regexp.MustCompile(`(?m)[ \t]+$`)
	blankRunPattern      = regexp.MustCompile(`\n{3,}`)
)

// CleanText normalizes extracted text: valid UTF-8, LF line endings,
// no control characters beyond newline and tab, collapsed horizontal
// whitespace, at most one blank line in a row.
func CleanText(s string) string {
	s = strings.TrimPrefix(s, "\uFEFF")
	s = strings.ToValidUTF8(s, "")
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, " ", " ")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r == '\n' || r == '\t' || !unicode.IsControl(r) {
			b.WriteRune(r)
		}
	}
	s = b.String()

	s = horizontalRunPattern.ReplaceAllString(s, " ")
	s = trailingSpacePattern.ReplaceAllString(s, "")
	s = blankRunPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
