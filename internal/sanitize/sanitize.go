package sanitize

import (
	"strings"
	"unicode"
)

// Sanitize normalizes raw extracted text. It is pure and idempotent:
// Sanitize(Sanitize(x)) == Sanitize(x).
//
// Steps run in a fixed order; dash/quote folding happens before the
// run-collapsing steps so that folded characters collapse on the first pass.
func Sanitize(text string) string {
	if text == "" {
		return ""
	}
	s := stripControl(text)
	s = replaceDecorative(s)
	s = foldPunctuation(s)
	s = collapseRepeats(s, 5, 3)
	s = collapseSentenceEnds(s)
	s = normalizeWhitespace(s)
	s = dropNoiseLines(s)
	s = collapseBlankLines(s)
	return strings.TrimSpace(s)
}

// MeaningfulRatio is the share of runes that are letters, digits, CJK or
// sentence punctuation. Whitespace counts toward the total. Empty text is 0.
func MeaningfulRatio(text string) float64 {
	total, meaningful := 0, 0
	for _, r := range text {
		total++
		if IsMeaningful(r) || isSentencePunct(r) {
			meaningful++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(meaningful) / float64(total)
}

// IsMeaningful reports whether r is a letter, digit or CJK character.
func IsMeaningful(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || IsCJK(r)
}

// IsCJK reports whether r belongs to the Han, Hiragana, Katakana or Hangul scripts.
func IsCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

func isSentencePunct(r rune) bool {
	switch r {
	case '.', ',', '!', '?', ';', ':', '。', '，', '！', '？', '；', '：', '、':
		return true
	}
	return false
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func stripControl(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case '\n', '\r', '\t', '\f', '\v':
			b.WriteRune(r)
			continue
		case '\u200b', '\u200c', '\u200d', '\u2060', '\ufeff', '\u00ad':
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// isDecorative matches glyphs that carry no text: box drawing, block
// elements, geometric shapes, bullets, dingbats, private use and the
// replacement character left behind by broken decoders.
func isDecorative(r rune) bool {
	switch {
	case r >= 0x2500 && r <= 0x25FF:
		return true
	case r >= 0x2700 && r <= 0x27BF:
		return true
	case r >= 0xE000 && r <= 0xF8FF:
		return true
	}
	switch r {
	case '•', '‣', '⁃', '∙', '·', '‧', '\ufffd', '★', '☆', '☐', '☑', '☒':
		return true
	}
	return false
}

func replaceDecorative(s string) string {
	return strings.Map(func(r rune) rune {
		if isDecorative(r) {
			return ' '
		}
		return r
	}, s)
}

var punctuationFolder = strings.NewReplacer(
	"‐", "-", "‑", "-", "‒", "-", "–", "-", "—", "-", "―", "-", "−", "-", "﹘", "-", "﹣", "-", "－", "-",
	"‘", "'", "’", "'", "‚", "'", "‛", "'", "′", "'", "´", "'",
	"“", `"`, "”", `"`, "„", `"`, "‟", `"`, "″", `"`, "«", `"`, "»", `"`,
	"…", "...",
)

func foldPunctuation(s string) string {
	return punctuationFolder.Replace(s)
}

// collapseRepeats shortens runs of at least min identical non-space runes
// to keep runes.
func collapseRepeats(s string, min, keep int) string {
	rs := []rune(s)
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(rs); {
		j := i + 1
		for j < len(rs) && rs[j] == rs[i] {
			j++
		}
		n := j - i
		if n >= min && !unicode.IsSpace(rs[i]) {
			n = keep
		}
		for k := 0; k < n; k++ {
			b.WriteRune(rs[i])
		}
		i = j
	}
	return b.String()
}

// collapseSentenceEnds keeps only the first rune of a run of sentence
// terminators, so "?!?" becomes "?" and "..." becomes ".".
func collapseSentenceEnds(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevEnd := false
	for _, r := range s {
		end := isSentenceEnd(r)
		if end && prevEnd {
			continue
		}
		prevEnd = end
		b.WriteRune(r)
	}
	return b.String()
}

func normalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var b strings.Builder
	b.Grow(len(s))
	inSpace := false
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\f' || r == '\v':
			b.WriteByte('\n')
			inSpace = false
		case unicode.IsSpace(r):
			if !inSpace {
				b.WriteByte(' ')
			}
			inSpace = true
		default:
			b.WriteRune(r)
			inSpace = false
		}
	}
	lines := strings.Split(b.String(), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}

// isNoiseLine reports whether a non-empty line is at most two runes with
// no letter, digit or CJK content. A lone symbol falls under the same rule.
func isNoiseLine(line string) bool {
	if line == "" {
		return false
	}
	n := 0
	for _, r := range line {
		n++
		if n > 2 || IsMeaningful(r) {
			return false
		}
	}
	return true
}

func dropNoiseLines(s string) string {
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if isNoiseLine(line) {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// collapseBlankLines leaves at most one blank line between paragraphs.
func collapseBlankLines(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	newlines := 0
	for _, r := range s {
		if r == '\n' {
			newlines++
			if newlines > 2 {
				continue
			}
		} else {
			newlines = 0
		}
		b.WriteRune(r)
	}
	return b.String()
}
