// Package extract turns document files into markdown-flavoured text. Headings are emitted as
// "#" lines wherever the source format marks them, so the outline survives extraction.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// SupportedExtensions lists the extensions with a dedicated extractor.
var SupportedExtensions = []string{".txt", ".md", ".markdown", ".rst", ".pdf", ".docx", ".xlsx", ".html", ".htm"}

// Extractor extracts text from document files.
type Extractor struct {
	html *htmlConverter
}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{html: newHTMLConverter()}
}

// Extract reads the file at path and returns its text content.
func (e *Extractor) Extract(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (string, error) {
	switch strings.ToLower(ext) {
	case ".pdf":
		return extractPDF(content)
	case ".docx":
		return extractDOCX(content)
	case ".xlsx":
		return extractExcel(content)
	case ".html", ".htm":
		return e.html.convert(content)
	default:
		// Unknown extension: treat as plain text
		return extractPlain(content)
	}
}
