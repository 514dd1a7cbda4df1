package parse

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts text page by page, one section per page. Pages
// whose extraction fails are skipped individually so one damaged page
// does not sink the document.
type PDFParser struct{}

var _ Parser = (*PDFParser)(nil)

// NewPDFParser creates a PDF parser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// SupportedExtensions returns the extensions this parser handles.
func (p *PDFParser) SupportedExtensions() []string {
	return []string{".pdf"}
}

// Parse opens the PDF and extracts plain text per page.
func (p *PDFParser) Parse(ctx context.Context, path string) (*Document, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open pdf: %w", err)
	}
	defer f.Close()

	doc := &Document{Title: TitleFromPath(path)}

	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		text, err := extractPage(reader, i)
		if err != nil {
			slog.Debug("pdf_page_skipped",
				slog.String("path", path),
				slog.Int("page", i),
				slog.String("error", err.Error()))
			continue
		}
		cleaned := CleanText(text)
		if cleaned == "" {
			continue
		}
		doc.Sections = append(doc.Sections, Section{Text: cleaned, Page: i})
	}
	return doc, nil
}

// extractPage pulls the plain text of one page. The pdf library
// panics on some malformed content streams; that surfaces here as a
// page error.
func extractPage(reader *pdf.Reader, num int) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("page extraction panic: %v", rec)
		}
	}()

	page := reader.Page(num)
	if page.V.IsNull() {
		return "", fmt.Errorf("page %d is null", num)
	}
	return page.GetPlainText(nil)
}
