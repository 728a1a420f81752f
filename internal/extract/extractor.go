// Package extract loads document files as plain text ready for chunking.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/kotae/internal/models"
)

// MetaFormat is the metadata key holding the source format (extension without the dot).
const MetaFormat = "format"

type extractFunc func(content []byte) (string, map[string]string, error)

var extractors = map[string]extractFunc{
	".pdf":  extractPDF,
	".docx": extractDOCX,
	".xlsx": extractExcel,
	".pptx": extractPPTX,
	".odt":  extractOpenDocument,
	".odp":  extractOpenDocument,
	".ods":  extractOpenDocument,
	".txt":  extractPlain,
	".md":   extractPlain,
	".rst":  extractPlain,
}

// Supported reports whether ext (with leading dot) has a known extractor.
func Supported(ext string) bool {
	_, ok := extractors[strings.ToLower(ext)]
	return ok
}

// Extractor turns files into documents.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Load reads the file at path and returns it as a document whose source is the absolute path.
func (e *Extractor) Load(path string) (models.Document, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return models.Document{}, fmt.Errorf("resolve path: %w", err)
	}
	content, err := os.ReadFile(abs)
	if err != nil {
		return models.Document{}, fmt.Errorf("read file: %w", err)
	}
	return e.LoadBytes(abs, content, filepath.Ext(abs))
}

// LoadBytes extracts content according to ext and wraps it as a document from source.
// Unknown extensions are read as plain text.
func (e *Extractor) LoadBytes(source string, content []byte, ext string) (models.Document, error) {
	ext = strings.ToLower(ext)
	fn, ok := extractors[ext]
	if !ok {
		fn = extractPlain
	}
	text, meta, err := fn(content)
	if err != nil {
		return models.Document{}, err
	}
	if meta == nil {
		meta = make(map[string]string, 1)
	}
	format := strings.TrimPrefix(ext, ".")
	if format == "" {
		format = "txt"
	}
	meta[MetaFormat] = format
	return models.Document{Source: source, Content: text, Metadata: meta}, nil
}
