package answer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/dgallion1/opsrag/internal/llm"
	"github.com/dgallion1/opsrag/internal/retriever"
)

// SourcesSentinel separates the answer text from the JSON source list.
// Clients split the stream on its first occurrence.
const SourcesSentinel = "\u241eSOURCES\u241e"

// ErrorFragment ends a stream whose generation failed.
const ErrorFragment = "\n\n[error: answer generation interrupted]"

const snippetRunes = 240

// Outcome is how a stream ended.
type Outcome string

const (
	OutcomeCompleted            Outcome = "completed"
	OutcomeCompletedWithSources Outcome = "completed_with_sources"
	OutcomeFailed               Outcome = "failed"
	OutcomeCancelled            Outcome = "cancelled"
)

// Generator starts one streamed completion.
type Generator interface {
	Stream(ctx context.Context, msgs []llm.Message) (llm.TokenStream, error)
}

// Source is the client-facing summary of a retrieved chunk.
type Source struct {
	ID         string  `json:"id"`
	FileName   string  `json:"fileName"`
	Position   int     `json:"position"`
	Similarity float64 `json:"similarity"`
	Snippet    string  `json:"snippet"`
}

// Sources summarizes chunks for the trailer.
func Sources(chunks []retriever.Chunk) []Source {
	out := make([]Source, len(chunks))
	for i, c := range chunks {
		out[i] = Source{
			ID:         c.ID,
			FileName:   c.FileName,
			Position:   c.Order,
			Similarity: c.Similarity,
			Snippet:    snippet(c.Text),
		}
	}
	return out
}

func snippet(s string) string {
	r := []rune(s)
	if len(r) <= snippetRunes {
		return s
	}
	return string(r[:snippetRunes])
}

type Streamer struct {
	gen Generator
	log *slog.Logger
}

func NewStreamer(gen Generator, log *slog.Logger) *Streamer {
	return &Streamer{gen: gen, log: log}
}

// Stream relays generated tokens to w as they arrive, flushing after each
// one. After a normal end it appends SourcesSentinel and the JSON source
// list when sources is non-empty. A generation failure appends
// ErrorFragment instead. Cancelling ctx stops reading from the upstream.
func (s *Streamer) Stream(ctx context.Context, w io.Writer, msgs []llm.Message, sources []retriever.Chunk) Outcome {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	flush := flusher(w)

	stream, err := s.gen.Stream(ctx, msgs)
	if err != nil {
		return s.interrupted(ctx, w, flush, fmt.Errorf("start generation: %w", err))
	}
	defer stream.Close()

	for {
		tok, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return s.interrupted(ctx, w, flush, err)
		}
		if err := s.write(w, flush, tok); err != nil {
			// The caller went away.
			return OutcomeCancelled
		}
		if errors.Is(ctx.Err(), context.Canceled) {
			return OutcomeCancelled
		}
	}

	if len(sources) == 0 {
		return OutcomeCompleted
	}
	payload, err := json.Marshal(Sources(sources))
	if err != nil {
		s.log.Error("encode sources", "error", err)
		return OutcomeCompleted
	}
	if err := s.write(w, flush, SourcesSentinel+string(payload)); err != nil {
		return OutcomeCancelled
	}
	return OutcomeCompletedWithSources
}

// interrupted ends a stream that stopped early. A cancelled context means
// the caller is gone and nothing more is written; anything else, including
// an exceeded generation deadline, gets ErrorFragment.
func (s *Streamer) interrupted(ctx context.Context, w io.Writer, flush func() error, err error) Outcome {
	if errors.Is(ctx.Err(), context.Canceled) {
		return OutcomeCancelled
	}
	s.log.Error("answer generation interrupted", "error", err)
	s.write(w, flush, ErrorFragment)
	return OutcomeFailed
}

func (s *Streamer) write(w io.Writer, flush func() error, text string) error {
	if _, err := io.WriteString(w, text); err != nil {
		return err
	}
	return flush()
}

func flusher(w io.Writer) func() error {
	if rw, ok := w.(http.ResponseWriter); ok {
		rc := http.NewResponseController(rw)
		return func() error {
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return err
			}
			return nil
		}
	}
	return func() error { return nil }
}
