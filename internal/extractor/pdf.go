package extractor

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
)

// PDFParser reads text page by page with the Go library and falls back to
// pdftotext when the library cannot open the file.
type PDFParser struct {
	FallbackPdftotext bool
}

// Parse returns the text of every readable page. The segment count is the
// highest page index that yielded a page.
func (p *PDFParser) Parse(data []byte) (string, int, error) {
	pages, err := extractPDFPages(data)
	if err != nil && p.FallbackPdftotext {
		pages, err = extractPdftotext(data)
	}
	if err != nil {
		return "", 0, fmt.Errorf("extract pdf text: %w", err)
	}

	var buf strings.Builder
	maxPage := 0
	for i, page := range pages {
		if page == nil {
			continue
		}
		maxPage = i + 1
		t := strings.TrimSpace(*page)
		if t == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteString("\n\n")
		}
		buf.WriteString(t)
	}
	return buf.String(), maxPage, nil
}

// extractPDFPages returns one entry per physical page; nil marks a page the
// library could not load.
func extractPDFPages(data []byte) (pages []*string, err error) {
	// The reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("pdf reader: %v", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages = make([]*string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			text = ""
		}
		pages[i-1] = &text
	}
	return pages, nil
}

func extractPdftotext(data []byte) ([]*string, error) {
	tmp, err := os.CreateTemp("", "opsrag-pdf-*.pdf")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write temp file: %w", err)
	}
	tmp.Close()

	out, err := exec.Command("pdftotext", "-layout", tmpPath, "-").Output()
	if err != nil {
		return nil, fmt.Errorf("pdftotext: %w", err)
	}

	// pdftotext ends every page with a form feed.
	parts := strings.Split(strings.TrimSuffix(string(out), "\f"), "\f")
	pages := make([]*string, len(parts))
	for i := range parts {
		pages[i] = &parts[i]
	}
	return pages, nil
}
