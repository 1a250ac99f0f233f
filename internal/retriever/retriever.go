// Package retriever runs the planned queries against the corpus store and
// merges their results into one ranked, de-duplicated list.
package retriever

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/dgallion1/opsrag/internal/embedding"
	"github.com/dgallion1/opsrag/internal/store"
)

// Searcher is the vector search half of the corpus store.
type Searcher interface {
	Search(ctx context.Context, vector []float32, p store.SearchParams) ([]store.SearchHit, error)
}

// Chunk is a search hit annotated with the query that produced it.
type Chunk struct {
	ID         string  `json:"id"`
	DocumentID string  `json:"documentId"`
	FileName   string  `json:"fileName"`
	Order      int     `json:"position"`
	Text       string  `json:"text"`
	Similarity float64 `json:"similarity"`
	Query      string  `json:"query"`
}

// Options controls a retrieval.
type Options struct {
	OwnerID       string
	Scope         []string
	Threshold     float64
	PerQueryLimit int
	TopN          int
}

// Config holds the retriever's fixed settings.
type Config struct {
	Workers      int           // Concurrent sub-queries; default 4.
	QueryTimeout time.Duration // Per sub-query embed+search budget; default 10s.
}

type Retriever struct {
	embedder embedding.Embedder
	searcher Searcher
	workers  int
	timeout  time.Duration
	log      *slog.Logger
}

func New(e embedding.Embedder, s Searcher, cfg Config, log *slog.Logger) *Retriever {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 10 * time.Second
	}
	return &Retriever{
		embedder: e,
		searcher: s,
		workers:  cfg.Workers,
		timeout:  cfg.QueryTimeout,
		log:      log,
	}
}

// Retrieve embeds and searches every query, at most r.workers at a time.
// A failed query contributes nothing. The result has unique chunk ids, is
// ordered by similarity descending and holds at most opts.TopN chunks.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, opts Options) []Chunk {
	if opts.TopN <= 0 {
		opts.TopN = 7
	}
	if opts.PerQueryLimit <= 0 {
		opts.PerQueryLimit = opts.TopN
	}

	// One slot per query so goroutines never share an accumulator.
	results := make([][]store.SearchHit, len(queries))

	var g errgroup.Group
	g.SetLimit(r.workers)
	for i, q := range queries {
		if strings.TrimSpace(q) == "" {
			continue
		}
		g.Go(func() error {
			hits, err := r.search(ctx, q, opts)
			if err != nil {
				r.log.Warn("retrieval sub-query failed", "query", q, "error", err)
				return nil
			}
			results[i] = hits
			return nil
		})
	}
	g.Wait()

	return rank(queries, results, opts.TopN)
}

func (r *Retriever) search(ctx context.Context, query string, opts Options) ([]store.SearchHit, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	vec, err := embedding.EmbedOne(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}
	return r.searcher.Search(ctx, vec, store.SearchParams{
		OwnerID:   opts.OwnerID,
		Threshold: opts.Threshold,
		Limit:     opts.PerQueryLimit,
		Scope:     opts.Scope,
	})
}

// rank merges per-query hits in query order, keeping the first occurrence
// of each chunk id, then sorts and truncates.
func rank(queries []string, results [][]store.SearchHit, topN int) []Chunk {
	seen := make(map[string]bool)
	var merged []Chunk
	for i, hits := range results {
		for _, h := range hits {
			if seen[h.ChunkID] {
				continue
			}
			seen[h.ChunkID] = true
			merged = append(merged, Chunk{
				ID:         h.ChunkID,
				DocumentID: h.DocumentID,
				FileName:   h.FileName,
				Order:      h.Order,
				Text:       h.Text,
				Similarity: h.Similarity,
				Query:      queries[i],
			})
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > topN {
		merged = merged[:topN]
	}
	return merged
}
