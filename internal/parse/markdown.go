package parse

import (
	"context"
	"os"
	"regexp"
	"strings"
)

var (
	headingPattern     = regexp.MustCompile(`^(#{1,6})\s+(.+)$`)
	frontmatterPattern = regexp.MustCompile(`(?s)^---\n.*?\n---\n*`)
	fencePattern       = regexp.MustCompile("^(```|~~~)")

	imagePattern      = regexp.MustCompile(`!\[([^\]]*)\]\([^)]*\)`)
	linkPattern       = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	inlineCodePattern = regexp.MustCompile("`([^`]*)`")
	listMarkerPattern = regexp.MustCompile(`(?m)^(\s*)(?:[-*+]|\d+\.)\s+`)
	blockquotePattern = regexp.MustCompile(`(?m)^(?:>\s?)+`)
	rulePattern       = regexp.MustCompile(`(?m)^[-*_]{3,}\s*$`)
	emphasisPattern   = regexp.MustCompile(`[*~]+`)
)

// MarkdownParser splits markdown into heading-bounded sections with
// the markup stripped down to plain prose.
type MarkdownParser struct{}

var _ Parser = (*MarkdownParser)(nil)

// NewMarkdownParser creates a markdown parser.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{}
}

// SupportedExtensions returns the extensions this parser handles.
func (p *MarkdownParser) SupportedExtensions() []string {
	return []string{".md", ".markdown"}
}

// Parse reads the file and splits it at headings. The document title
// is the first level-1 heading, falling back to the file name.
func (p *MarkdownParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	content := strings.ReplaceAll(string(data), "\r\n", "\n")
	content = frontmatterPattern.ReplaceAllString(content, "")

	doc := &Document{Title: TitleFromPath(path)}
	titleFromHeading := ""

	var sections []Section
	var current strings.Builder
	currentHeading := ""
	inFence := false

	flush := func() {
		text := cleanMarkdown(current.String())
		current.Reset()
		if text == "" {
			return
		}
		sections = append(sections, Section{Text: text, Heading: currentHeading})
	}

	for _, line := range strings.Split(content, "\n") {
		if fencePattern.MatchString(strings.TrimSpace(line)) {
			inFence = !inFence
			continue
		}
		if !inFence {
			if m := headingPattern.FindStringSubmatch(line); m != nil {
				flush()
				currentHeading = strings.TrimSpace(m[2])
				if len(m[1]) == 1 && titleFromHeading == "" {
					titleFromHeading = currentHeading
				}
				// The heading line stays in the section text so
				// its words are searchable.
				current.WriteString(currentHeading)
				current.WriteString("\n")
				continue
			}
		}
		current.WriteString(line)
		current.WriteString("\n")
	}
	flush()

	if titleFromHeading != "" {
		doc.Title = titleFromHeading
	}
	doc.Sections = sections
	return doc, nil
}

// cleanMarkdown strips inline markup, then normalizes whitespace.
func cleanMarkdown(s string) string {
	s = rulePattern.ReplaceAllString(s, "")
	s = blockquotePattern.ReplaceAllString(s, "")
	s = listMarkerPattern.ReplaceAllString(s, "$1")
	s = imagePattern.ReplaceAllString(s, "$1")
	s = linkPattern.ReplaceAllString(s, "$1")
	s = inlineCodePattern.ReplaceAllString(s, "$1")
	s = emphasisPattern.ReplaceAllString(s, "")
	return CleanText(s)
}
