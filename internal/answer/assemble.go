// Package answer turns retrieved chunks into a prompt context and streams
// the generated answer back to the caller.
package answer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/opsrag/internal/retriever"
)

// NoEvidenceContext replaces the context when retrieval found nothing.
const NoEvidenceContext = "No relevant passages were found in the user's documents. " +
	"Answer from general knowledge, state that the documents do not cover the question, " +
	"and do not cite any sources."

// ContextSeparator sits between rendered chunks.
const ContextSeparator = "\n\n---\n\n"

// DefaultBudget is the default context size in runes.
const DefaultBudget = 12000

// Assemble renders chunks within DefaultBudget.
func Assemble(chunks []retriever.Chunk) string {
	return AssembleWithin(chunks, DefaultBudget)
}

// AssembleWithin renders chunks as "<file>, chunk <n>, similarity=<score>: <text>"
// until the next chunk would exceed budget runes. The first chunk is always
// included, cut to the budget if necessary.
func AssembleWithin(chunks []retriever.Chunk, budget int) string {
	if len(chunks) == 0 {
		return NoEvidenceContext
	}
	if budget <= 0 {
		budget = DefaultBudget
	}

	var sb strings.Builder
	used := 0
	for i, c := range chunks {
		entry := fmt.Sprintf("%s, chunk %d, similarity=%.3f: %s", c.FileName, c.Order, c.Similarity, c.Text)
		n := utf8.RuneCountInString(entry)
		if i > 0 {
			n += utf8.RuneCountInString(ContextSeparator)
		}
		if used+n > budget {
			if i == 0 {
				sb.WriteString(string([]rune(entry)[:budget]))
			}
			break
		}
		if i > 0 {
			sb.WriteString(ContextSeparator)
		}
		sb.WriteString(entry)
		used += n
	}
	return sb.String()
}
