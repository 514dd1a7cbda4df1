package mcp

import (
	"path/filepath"
	"strings"
)

// mimeTypes maps document extensions to MIME types. Extraction
// formats map to text/plain because their resources serve extracted
// text, not the original bytes.
var mimeTypes = map[string]string{
	".md":       "text/markdown",
	".markdown": "text/markdown",
	".txt":      "text/plain",
	".html":     "text/html",
	".htm":      "text/html",
	".pdf":      "text/plain",
	".docx":     "text/plain",
}

// MimeTypeForPath returns the MIME type served for a document path.
func MimeTypeForPath(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	if mt, ok := mimeTypes[ext]; ok {
		return mt
	}
	return "text/plain"
}

// extractedFormats are the formats whose resource content comes from
// the parser instead of a raw file read.
var extractedFormats = map[string]bool{
	".pdf":  true,
	".docx": true,
}

// isExtractedFormat reports whether reading the path as a resource
// requires text extraction.
func isExtractedFormat(path string) bool {
	return extractedFormats[strings.ToLower(filepath.Ext(path))]
}
