package parse

import (
	"context"
	"os"
	"strings"
)

// TextParser handles plain text files. Form feeds split the file into
// pages, matching the convention of paginated text exports; a file
// without form feeds is a single unpaged section.
type TextParser struct{}

var _ Parser = (*TextParser)(nil)

// NewTextParser creates a plain text parser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// SupportedExtensions returns the extensions this parser handles.
func (p *TextParser) SupportedExtensions() []string {
	return []string{".txt"}
}

// Parse reads the file and splits it into page sections.
func (p *TextParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	doc := &Document{Title: TitleFromPath(path)}

	pages := strings.Split(string(data), "\f")
	if len(pages) == 1 {
		if text := CleanText(pages[0]); text != "" {
			doc.Sections = append(doc.Sections, Section{Text: text})
		}
		return doc, nil
	}

	for i, page := range pages {
		text := CleanText(page)
		if text == "" {
			continue
		}
		doc.Sections = append(doc.Sections, Section{Text: text, Page: i + 1})
	}
	return doc, nil
}
