package parse

import (
	"bytes"
	"context"
	"os"
	"strings"

	"golang.org/x/net/html"
)

// Tags whose subtree is never document text.
var htmlSkipTags = map[string]bool{
	"script":   true,
	"style":    true,
	"noscript": true,
	"template": true,
	"iframe":   true,
	"svg":      true,
}

// Tags that introduce a line break around their content.
var htmlBlockTags = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "ul": true,
	"ol": true, "tr": true, "td": true, "th": true, "table": true,
	"blockquote": true, "pre": true, "section": true, "article": true,
	"header": true, "footer": true, "main": true, "aside": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"hr": true, "dt": true, "dd": true, "figcaption": true,
}

// Headings that start a new section.
var htmlSectionTags = map[string]bool{
	"h1": true, "h2": true, "h3": true,
}

// HTMLParser extracts readable text from HTML, splitting sections at
// top-level headings.
type HTMLParser struct{}

var _ Parser = (*HTMLParser)(nil)

// NewHTMLParser creates an HTML parser.
func NewHTMLParser() *HTMLParser {
	return &HTMLParser{}
}

// SupportedExtensions returns the extensions this parser handles.
func (p *HTMLParser) SupportedExtensions() []string {
	return []string{".html", ".htm"}
}

// Parse reads the file, walks the DOM, and splits at h1-h3 headings.
// The title comes from <title>, then the first heading, then the file
// name.
func (p *HTMLParser) Parse(ctx context.Context, path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}

	w := &htmlWalker{}
	w.walk(root)
	w.flush()

	doc := &Document{Title: TitleFromPath(path)}
	switch {
	case strings.TrimSpace(w.title) != "":
		doc.Title = CleanText(w.title)
	case w.firstHeading != "":
		doc.Title = w.firstHeading
	}
	doc.Sections = w.sections
	return doc, nil
}

type htmlWalker struct {
	sections     []Section
	current      strings.Builder
	pendingBreak bool
	heading      string
	title        string
	firstHeading string
}

func (w *htmlWalker) walk(n *html.Node) {
	if n.Type == html.ElementNode {
		tag := strings.ToLower(n.Data)
		if htmlSkipTags[tag] {
			return
		}
		if tag == "title" {
			w.title = textContent(n)
			return
		}
		if htmlSectionTags[tag] {
			w.flush()
			w.heading = CleanText(textContent(n))
			if w.firstHeading == "" {
				w.firstHeading = w.heading
			}
			// Keep heading words searchable inside the section.
			w.writeText(w.heading)
			w.pendingBreak = true
			return
		}
		if htmlBlockTags[tag] {
			w.pendingBreak = true
		}
	}
	if n.Type == html.TextNode {
		w.writeText(n.Data)
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		w.walk(c)
	}
	if n.Type == html.ElementNode && htmlBlockTags[strings.ToLower(n.Data)] {
		w.pendingBreak = true
	}
}

// writeText appends text, inserting the one line break any block
// boundaries since the last text collapsed into.
func (w *htmlWalker) writeText(s string) {
	if w.pendingBreak && w.current.Len() > 0 {
		w.current.WriteByte('\n')
	}
	w.pendingBreak = false
	w.current.WriteString(s)
}

func (w *htmlWalker) flush() {
	text := CleanText(w.current.String())
	w.current.Reset()
	w.pendingBreak = false
	if text == "" {
		return
	}
	w.sections = append(w.sections, Section{Text: text, Heading: w.heading})
}

// textContent collects the concatenated text beneath a node.
func textContent(n *html.Node) string {
	var b strings.Builder
	var visit func(*html.Node)
	visit = func(node *html.Node) {
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(n)
	return b.String()
}
