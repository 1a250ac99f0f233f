package quality

import (
	"unicode/utf8"

	"github.com/dgallion1/opsrag/internal/extractor"
	"github.com/dgallion1/opsrag/internal/sanitize"
)

// Policy holds the thresholds that decide whether extracted text is good
// enough to skip OCR.
type Policy struct {
	MinLength       int     // Minimum sanitized runes.
	MinPerSegment   int     // Minimum sanitized runes per page.
	MinMeaningful   float64 // Minimum meaningful-character ratio.
	MaxOCRSegments  int     // OCR is not attempted above this page count.
	OCRReplaceRatio float64 // OCR text replaces the original above this ratio.
}

// DefaultPolicy returns the standard thresholds.
func DefaultPolicy() Policy {
	return Policy{
		MinLength:       100,
		MinPerSegment:   50,
		MinMeaningful:   0.6,
		MaxOCRSegments:  30,
		OCRReplaceRatio: 0.8,
	}
}

// IsInsufficient reports whether text should be escalated to OCR. Rules are
// evaluated in order on the sanitized text; the first that fires wins.
func (p Policy) IsInsufficient(text string, segmentCount int) bool {
	clean := sanitize.Sanitize(text)
	n := utf8.RuneCountInString(clean)
	if n < p.MinLength {
		return true
	}
	if segmentCount > 0 && float64(n)/float64(max(segmentCount, 1)) < float64(p.MinPerSegment) {
		return true
	}
	return sanitize.MeaningfulRatio(clean) < p.MinMeaningful
}

// ShouldOCR combines the cost guard with the gate. Only PDFs are sent to OCR;
// other formats carry a real text layer.
func (p Policy) ShouldOCR(category extractor.Category, text string, segmentCount int) bool {
	if category != extractor.CategoryPDF {
		return false
	}
	if segmentCount > p.MaxOCRSegments {
		return false
	}
	return p.IsInsufficient(text, segmentCount)
}
