// Package summary builds short extractive summaries of document text.
package summary

import (
	"math"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// MaxRunes caps the length of a summary.
const MaxRunes = 600

var (
	sentenceRe = regexp.MustCompile(`[^.!?。！？\n]+[.!?。！？]?`)
	tokenRe    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
)

// Summarizer ranks sentences by the normalized frequency of their
// non-stopword tokens.
type Summarizer struct {
	stopwords map[string]struct{}
}

func New() *Summarizer {
	return &Summarizer{stopwords: stopwords()}
}

// Summarize returns up to maxSentences top-scoring sentences in their
// original order, cut to MaxRunes. Empty text yields "".
func (s *Summarizer) Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	var sentences []string
	for _, m := range sentenceRe.FindAllString(text, -1) {
		if m = strings.TrimSpace(m); len(s.tokens(m)) > 0 {
			sentences = append(sentences, m)
		}
	}
	if len(sentences) == 0 {
		return ""
	}

	freq := map[string]float64{}
	var top float64
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			if _, stop := s.stopwords[tok]; stop {
				continue
			}
			freq[tok]++
			top = math.Max(top, freq[tok])
		}
	}

	type scored struct {
		idx   int
		score float64
	}
	ranked := make([]scored, len(sentences))
	for i, sent := range sentences {
		toks := s.tokens(sent)
		var score float64
		for _, tok := range toks {
			score += freq[tok] / top
		}
		ranked[i] = scored{i, score / math.Sqrt(float64(len(toks)))}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	n := min(maxSentences, len(ranked))
	picked := make([]int, n)
	for i := range picked {
		picked[i] = ranked[i].idx
	}
	sort.Ints(picked)

	parts := make([]string, n)
	for i, idx := range picked {
		parts[i] = sentences[idx]
	}
	return clip(strings.Join(parts, " "), MaxRunes)
}

func (s *Summarizer) tokens(text string) []string {
	return tokenRe.FindAllString(strings.ToLower(text), -1)
}

func clip(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)[:n]
	if i := strings.LastIndexByte(string(r), ' '); i > n/2 {
		return strings.TrimSpace(string(r)[:i]) + "..."
	}
	return string(r) + "..."
}

func stopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at",
		"by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "its", "this", "that",
		"these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such",
		"into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off",
		"own", "same", "too", "very", "can", "will", "just", "should", "now", "not", "no", "do", "does",
		"you", "your", "we", "our", "they", "their", "he", "she", "his", "her", "i", "me", "my", "all", "any",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
