// Package parse converts document files into structured text for
// indexing. One parser per supported format; every parser produces a
// title plus an ordered list of cleaned text sections carrying
// optional page and heading metadata for the chunker.
package parse

import (
	"context"
	"path/filepath"
	"strings"
	"time"
)

// DefaultParseTimeout is the wall-clock budget for parsing a single
// file. PDF extraction in particular can stall on pathological
// inputs; a file that blows the budget is skipped, never fatal.
const DefaultParseTimeout = 120 * time.Second

// Document is the parsed form of a file.
type Document struct {
	// Title is the document title, falling back to the file name.
	Title string

	// Sections are ordered fragments of cleaned text. Paginated
	// formats produce one section per page; heading-structured
	// formats produce one per heading.
	Sections []Section
}

// Section is one contiguous fragment of document text.
type Section struct {
	// Text is the cleaned section text.
	Text string

	// Page is the 1-based page number, 0 when the format has no
	// page structure.
	Page int

	// Heading is the nearest enclosing heading, empty when none.
	Heading string
}

// Parser converts a file of one format family into a Document.
type Parser interface {
	// Parse reads and extracts the file at path.
	Parse(ctx context.Context, path string) (*Document, error)

	// SupportedExtensions returns the extensions this parser
	// handles, lowercase with leading dot.
	SupportedExtensions() []string
}

// TitleFromPath derives a fallback title from the file name.
func TitleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
