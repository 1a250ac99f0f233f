package chunker

import (
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/opsrag/internal/sanitize"
)

// Config controls chunking behavior. Sizes are in characters.
type Config struct {
	ChunkSize    int // Maximum chunk size.
	ChunkOverlap int // Trailing context carried into the next chunk.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		ChunkSize:    2000,
		ChunkOverlap: 300,
	}
}

// separators is the split priority table. A piece that is too large is
// split on the first level that occurs in it; pieces that are still too
// large move on to the next level. Text with no separator at all is cut
// at ChunkSize characters.
var separators = [][]string{
	{"\n\n"},
	{". ", "! ", "? ", "。", "！", "？"},
	{"\n"},
	{" "},
}

// Chunker splits sanitized document text into ordered, overlapping chunks.
type Chunker struct {
	size    int
	overlap int
}

// New returns a Chunker. Non-positive values take the defaults and the
// overlap is kept below half the chunk size.
func New(cfg Config) *Chunker {
	def := DefaultConfig()
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.ChunkOverlap <= 0 {
		cfg.ChunkOverlap = def.ChunkOverlap
	}
	if cfg.ChunkOverlap*2 >= cfg.ChunkSize {
		cfg.ChunkOverlap = cfg.ChunkSize / 4
	}
	return &Chunker{size: cfg.ChunkSize, overlap: cfg.ChunkOverlap}
}

// Split returns the chunks of text in document order. Every chunk is
// re-sanitized and empty chunks are dropped, so callers can number the
// result 1..N.
func (c *Chunker) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var out []string
	for _, chunk := range c.merge(c.pieces(text)) {
		if s := sanitize.Sanitize(chunk); s != "" {
			out = append(out, s)
		}
	}
	return out
}

type workItem struct {
	text  string
	level int
}

// pieces breaks text into fragments no longer than the chunk size using an
// explicit work stack. Concatenating the fragments reproduces text.
func (c *Chunker) pieces(text string) []string {
	var out []string
	stack := []workItem{{text: text}}
	for len(stack) > 0 {
		it := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if utf8.RuneCountInString(it.text) <= c.size {
			out = append(out, it.text)
			continue
		}
		parts, next := splitAtLevel(it.text, it.level)
		if parts == nil {
			out = append(out, hardCut(it.text, c.size)...)
			continue
		}
		for i := len(parts) - 1; i >= 0; i-- {
			stack = append(stack, workItem{text: parts[i], level: next})
		}
	}
	return out
}

// splitAtLevel splits on the first separator level at or after level that
// occurs in text, returning the parts and the level their children use.
func splitAtLevel(text string, level int) ([]string, int) {
	for l := level; l < len(separators); l++ {
		if parts := splitKeep(text, separators[l]); len(parts) > 1 {
			return parts, l + 1
		}
	}
	return nil, len(separators)
}

// splitKeep splits after every occurrence of any sep, keeping the separator
// on the left-hand part.
func splitKeep(text string, seps []string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(text); {
		matched := 0
		for _, sep := range seps {
			if strings.HasPrefix(text[i:], sep) {
				matched = len(sep)
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		i += matched
		parts = append(parts, text[start:i])
		start = i
	}
	if start < len(text) {
		parts = append(parts, text[start:])
	}
	return parts
}

func hardCut(text string, size int) []string {
	runes := []rune(text)
	var out []string
	for len(runes) > 0 {
		n := min(size, len(runes))
		out = append(out, string(runes[:n]))
		runes = runes[n:]
	}
	return out
}

// merge packs fragments greedily into chunks of at most the chunk size.
// A new chunk starts with the trailing fragments of the previous one that
// fit within the overlap.
func (c *Chunker) merge(pieces []string) []string {
	var chunks []string
	var cur []string
	curLen := 0
	for _, p := range pieces {
		pl := utf8.RuneCountInString(p)
		if curLen+pl > c.size && len(cur) > 0 {
			chunks = append(chunks, strings.Join(cur, ""))

			keep, keptLen := 0, 0
			for j := len(cur) - 1; j >= 0; j-- {
				l := utf8.RuneCountInString(cur[j])
				if keptLen+l > c.overlap {
					break
				}
				keptLen += l
				keep++
			}
			cur = append([]string(nil), cur[len(cur)-keep:]...)
			curLen = keptLen
			for len(cur) > 0 && curLen+pl > c.size {
				curLen -= utf8.RuneCountInString(cur[0])
				cur = cur[1:]
			}
		}
		cur = append(cur, p)
		curLen += pl
	}
	if len(cur) > 0 {
		chunks = append(chunks, strings.Join(cur, ""))
	}
	return chunks
}
