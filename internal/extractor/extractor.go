package extractor

import (
	"errors"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
)

// Category groups formats that share an extraction strategy.
type Category string

const (
	CategoryText  Category = "text"
	CategoryPDF   Category = "pdf"
	CategoryWord  Category = "word"
	CategorySheet Category = "sheet"
	CategorySlide Category = "slide"
)

// ErrUnsupportedFormat is returned for files no parser handles. Callers
// typically skip such files rather than fail a batch.
var ErrUnsupportedFormat = errors.New("unsupported format")

// ExtractionError reports a parser failure or a file that yielded no text.
type ExtractionError struct {
	Format string
	Err    error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("extract %s: %s", e.Format, e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

var errNoText = errors.New("no text extracted")

// Result is the raw text of a document plus the number of physical
// segments (pages) it was read from.
type Result struct {
	Text         string
	SegmentCount int
	Category     Category
	Format       string
}

// Parser turns raw file bytes into text and a segment count.
type Parser interface {
	Parse(data []byte) (text string, segments int, err error)
}

type format struct {
	category Category
	parser   Parser
}

// Extractor dispatches by MIME type, falling back to the file extension.
type Extractor struct {
	formats map[string]format
}

// New builds an Extractor. fallbackPdftotext enables the pdftotext binary
// when the Go PDF reader cannot open a file.
func New(fallbackPdftotext bool) *Extractor {
	return &Extractor{
		formats: map[string]format{
			"txt":  {CategoryText, &TextParser{}},
			"md":   {CategoryText, &MarkdownParser{}},
			"csv":  {CategoryText, &CSVParser{}},
			"html": {CategoryText, &HTMLParser{}},
			"pdf":  {CategoryPDF, &PDFParser{FallbackPdftotext: fallbackPdftotext}},
			"docx": {CategoryWord, &DOCXParser{}},
			"xlsx": {CategorySheet, &XLSXParser{}},
			"xls":  {CategorySheet, &XLSParser{}},
			"pptx": {CategorySlide, &PPTXParser{}},
		},
	}
}

var mimeFormats = map[string]string{
	"text/plain":               "txt",
	"text/markdown":            "md",
	"text/x-markdown":          "md",
	"text/csv":                 "csv",
	"text/html":                "html",
	"application/xhtml+xml":    "html",
	"application/pdf":          "pdf",
	"application/vnd.ms-excel": "xls",

	"application/vnd.openxmlformats-officedocument.wordprocessingml.document":   "docx",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
}

var extFormats = map[string]string{
	".txt":      "txt",
	".text":     "txt",
	".log":      "txt",
	".md":       "md",
	".markdown": "md",
	".csv":      "csv",
	".html":     "html",
	".htm":      "html",
	".pdf":      "pdf",
	".docx":     "docx",
	".xlsx":     "xlsx",
	".xls":      "xls",
	".pptx":     "pptx",
}

// FormatFor resolves the format key for a MIME type and file name, or ""
// when neither is recognized.
func FormatFor(mimeType, fileName string) string {
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		if f, ok := mimeFormats[strings.ToLower(mt)]; ok {
			return f
		}
	}
	return extFormats[strings.ToLower(filepath.Ext(fileName))]
}

// IsSupported reports whether a file can be extracted.
func IsSupported(mimeType, fileName string) bool {
	return FormatFor(mimeType, fileName) != ""
}

// MimeTypeFor returns the canonical MIME type for a file name, used when the
// caller did not declare one.
func MimeTypeFor(fileName string) string {
	f := extFormats[strings.ToLower(filepath.Ext(fileName))]
	for mt, ff := range mimeFormats {
		if ff == f && !strings.HasPrefix(mt, "text/x-") && mt != "application/xhtml+xml" {
			return mt
		}
	}
	return "application/octet-stream"
}

// Extract returns the document text. Unsupported files yield
// ErrUnsupportedFormat; empty output and parser errors yield *ExtractionError.
func (e *Extractor) Extract(data []byte, mimeType, fileName string) (Result, error) {
	key := FormatFor(mimeType, fileName)
	f, ok := e.formats[key]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s (%s)", ErrUnsupportedFormat, fileName, mimeType)
	}

	text, segments, err := f.parser.Parse(data)
	if err != nil {
		return Result{}, &ExtractionError{Format: key, Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return Result{}, &ExtractionError{Format: key, Err: errNoText}
	}
	if segments < 1 {
		segments = 1
	}
	return Result{Text: text, SegmentCount: segments, Category: f.category, Format: key}, nil
}
