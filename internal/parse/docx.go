package parse

import (
	"archive/zip"
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

const (
	docxDocumentPath = "word/document.xml"
	docxCorePath     = "docProps/core.xml"
)

// DocxParser extracts text from DOCX (WordprocessingML) files.
// Sections split at heading-styled paragraphs and explicit page
// breaks; the title comes from the core properties when set.
type DocxParser struct{}

var _ Parser = (*DocxParser)(nil)

// NewDocxParser creates a DOCX parser.
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// SupportedExtensions returns the extensions this parser handles.
func (p *DocxParser) SupportedExtensions() []string {
	return []string{".docx"}
}

// Parse opens the archive and walks the document XML.
func (p *DocxParser) Parse(ctx context.Context, path string) (*Document, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open docx: %w", err)
	}
	defer archive.Close()

	doc := &Document{Title: TitleFromPath(path)}

	if title := readCoreTitle(&archive.Reader); title != "" {
		doc.Title = title
	}

	body, err := openArchiveFile(&archive.Reader, docxDocumentPath)
	if err != nil {
		return nil, err
	}
	defer body.Close()

	sections, err := extractDocxSections(ctx, body)
	if err != nil {
		return nil, err
	}
	doc.Sections = sections
	return doc, nil
}

func openArchiveFile(archive *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range archive.File {
		if f.Name == name {
			return f.Open()
		}
	}
	return nil, fmt.Errorf("docx is missing %s", name)
}

// docxCoreProps is the subset of docProps/core.xml we read.
type docxCoreProps struct {
	Title string `xml:"title"`
}

func readCoreTitle(archive *zip.Reader) string {
	f, err := openArchiveFile(archive, docxCorePath)
	if err != nil {
		return ""
	}
	defer f.Close()

	var props docxCoreProps
	if err := xml.NewDecoder(f).Decode(&props); err != nil {
		return ""
	}
	return strings.TrimSpace(props.Title)
}

// extractDocxSections streams the document XML, emitting one section
// per heading-styled paragraph run and advancing the page counter at
// explicit page breaks. Pages are reported only when the document
// contains page breaks at all.
func extractDocxSections(ctx context.Context, r io.Reader) ([]Section, error) {
	dec := xml.NewDecoder(r)

	var sections []Section
	var current strings.Builder
	var para strings.Builder

	heading := ""
	page := 1
	sawPageBreak := false
	pageBreakPending := false
	paraStyle := ""
	inText := false

	flush := func() {
		text := CleanText(current.String())
		current.Reset()
		if text == "" {
			return
		}
		sections = append(sections, Section{Text: text, Page: page, Heading: heading})
	}

	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				para.Reset()
				paraStyle = ""
			case "pStyle":
				for _, attr := range t.Attr {
					if attr.Name.Local == "val" {
						paraStyle = attr.Value
					}
				}
			case "t":
				inText = true
			case "tab":
				para.WriteByte('\t')
			case "br":
				for _, attr := range t.Attr {
					if attr.Name.Local == "type" && attr.Value == "page" {
						pageBreakPending = true
					}
				}
				para.WriteByte('\n')
			case "cr":
				para.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				text := para.String()
				if isDocxHeadingStyle(paraStyle) {
					flush()
					heading = CleanText(text)
				}
				current.WriteString(text)
				current.WriteString("\n")
				if pageBreakPending {
					flush()
					sawPageBreak = true
					page++
					pageBreakPending = false
				}
			}
		}
	}
	flush()

	// Pages are meaningful only when the document actually breaks.
	if !sawPageBreak {
		for i := range sections {
			sections[i].Page = 0
		}
	}
	return sections, nil
}

// isDocxHeadingStyle matches the built-in Heading1..Heading9 styles.
func isDocxHeadingStyle(style string) bool {
	rest, ok := strings.CutPrefix(style, "Heading")
	if !ok || rest == "" {
		return false
	}
	for _, r := range rest {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
