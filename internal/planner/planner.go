// Package planner expands a user question into several search queries.
package planner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/dgallion1/opsrag/internal/llm"
)

// MaxQueries caps the planned query list, the original question included.
const MaxQueries = 7

// Completer runs a single-turn chat completion.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Planner asks a chat model for alternative phrasings of a question. A nil
// Completer disables planning.
type Planner struct {
	llm     Completer
	timeout time.Duration
	log     *slog.Logger
}

func New(c Completer, timeout time.Duration, log *slog.Logger) *Planner {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Planner{llm: c, timeout: timeout, log: log}
}

const systemPrompt = `You rewrite questions about operational documents into search queries for a semantic search index.
Return between 3 and 7 short, distinct queries that together cover the question: synonyms, the likely section title, the specific part or procedure name.
Respond with ONLY a JSON array of strings, no other text.`

func buildPrompt(question string, scope []string) string {
	var sb strings.Builder
	sb.WriteString("Question: ")
	sb.WriteString(question)
	if len(scope) > 0 {
		sb.WriteString("\nDocuments in scope: ")
		sb.WriteString(strings.Join(scope, ", "))
	}
	return sb.String()
}

// Plan returns the queries to retrieve with. The original question is
// always first. Any planning failure yields just the question.
func (p *Planner) Plan(ctx context.Context, question string, scope []string) (queries []string) {
	question = strings.TrimSpace(question)
	fallback := []string{question}
	if p == nil || p.llm == nil || question == "" {
		return fallback
	}
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("query planner panicked", "panic", r)
			queries = fallback
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	raw, err := p.llm.Complete(ctx, systemPrompt, buildPrompt(question, scope))
	if err != nil {
		p.log.Warn("query planning failed, using question only", "error", err)
		return fallback
	}
	planned, err := ParseQueries(raw)
	if err != nil {
		p.log.Warn("query plan rejected, using question only", "error", err, "raw", llm.Truncate(raw, 200))
		return fallback
	}
	return merge(question, planned)
}

var errEmptyPlan = errors.New("plan contains no queries")

// ParseQueries decodes planner output: a JSON array of strings or an
// object with a "queries" array, optionally inside a code fence.
func ParseQueries(raw string) ([]string, error) {
	text := llm.StripCodeBlock(raw)

	var items []json.RawMessage
	if strings.HasPrefix(text, "{") {
		var obj struct {
			Queries []json.RawMessage `json:"queries"`
		}
		if err := json.Unmarshal([]byte(text), &obj); err != nil {
			return nil, fmt.Errorf("parse plan object: %w", err)
		}
		items = obj.Queries
	} else if err := json.Unmarshal([]byte(text), &items); err != nil {
		return nil, fmt.Errorf("parse plan array: %w", err)
	}
	if len(items) == 0 {
		return nil, errEmptyPlan
	}

	out := make([]string, 0, len(items))
	for i, item := range items {
		var s string
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("query %d is not a string", i)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, fmt.Errorf("query %d is empty", i)
		}
		out = append(out, s)
	}
	return out, nil
}

var injectionPattern = regexp.MustCompile(
	`(?i)(ignore\s+(previous|all|above)|system\s*prompt|you\s+are\s+now|` +
		`act\s+as\s+|pretend\s+|forget\s+(everything|all)|override|` +
		`new\s+instructions)`,
)

// merge puts the question first, drops injected or duplicate queries and
// caps the list.
func merge(question string, planned []string) []string {
	out := []string{question}
	seen := map[string]bool{strings.ToLower(question): true}
	for _, q := range planned {
		if len(out) == MaxQueries {
			break
		}
		key := strings.ToLower(q)
		if seen[key] || injectionPattern.MatchString(q) {
			continue
		}
		seen[key] = true
		out = append(out, q)
	}
	return out
}
