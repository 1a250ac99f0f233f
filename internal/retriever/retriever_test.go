package retriever

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgallion1/opsrag/internal/store"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEmbedder encodes the query index into the vector so fakeSearcher can
// recover which query is being searched.
type fakeEmbedder struct {
	index map[string]int
	fail  map[string]bool
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if f.fail[t] {
			return nil, errors.New("embedding unavailable")
		}
		out[i] = []float32{float32(f.index[t])}
	}
	return out, nil
}

type fakeSearcher struct {
	hits     map[int][]store.SearchHit
	fail     map[int]bool
	delay    time.Duration
	inFlight atomic.Int32
	peak     atomic.Int32

	mu     sync.Mutex
	params []store.SearchParams
}

func (f *fakeSearcher) Search(ctx context.Context, vec []float32, p store.SearchParams) ([]store.SearchHit, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if n <= peak || f.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	f.mu.Lock()
	f.params = append(f.params, p)
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	q := int(vec[0])
	if f.fail[q] {
		return nil, fmt.Errorf("search %d failed", q)
	}
	return f.hits[q], nil
}

func hit(id string, sim float64) store.SearchHit {
	return store.SearchHit{ChunkID: id, DocumentID: "doc", FileName: "manual.pdf", Order: 1, Text: id, Similarity: sim}
}

func queriesAndIndex(n int) ([]string, map[string]int) {
	qs := make([]string, n)
	idx := make(map[string]int, n)
	for i := range qs {
		qs[i] = fmt.Sprintf("query %d", i)
		idx[qs[i]] = i
	}
	return qs, idx
}

func assertRanked(t *testing.T, chunks []Chunk, topN int) {
	t.Helper()
	assert.LessOrEqual(t, len(chunks), topN)
	seen := map[string]bool{}
	for i, c := range chunks {
		assert.False(t, seen[c.ID], "duplicate chunk %s", c.ID)
		seen[c.ID] = true
		if i > 0 {
			assert.GreaterOrEqual(t, chunks[i-1].Similarity, c.Similarity)
		}
	}
}

func TestRetrieveCapsAtTopN(t *testing.T) {
	qs, idx := queriesAndIndex(7)
	s := &fakeSearcher{hits: map[int][]store.SearchHit{}}
	for i := range qs {
		for j := 0; j < 3; j++ {
			s.hits[i] = append(s.hits[i], hit(fmt.Sprintf("c%d-%d", i, j), 0.9-float64(i)*0.01-float64(j)*0.1))
		}
	}
	r := New(&fakeEmbedder{index: idx}, s, Config{}, quietLogger())

	got := r.Retrieve(context.Background(), qs, Options{OwnerID: "u", Threshold: 0.3, PerQueryLimit: 3})
	require.Len(t, got, 7)
	assertRanked(t, got, 7)
	assert.Equal(t, "c0-0", got[0].ID)
}

func TestRetrieveDedupFirstOccurrenceWins(t *testing.T) {
	qs, idx := queriesAndIndex(2)
	s := &fakeSearcher{hits: map[int][]store.SearchHit{
		0: {hit("shared", 0.5), hit("a", 0.4)},
		1: {hit("shared", 0.95), hit("b", 0.6)},
	}}
	r := New(&fakeEmbedder{index: idx}, s, Config{}, quietLogger())

	got := r.Retrieve(context.Background(), qs, Options{TopN: 10})
	require.Len(t, got, 3)
	assertRanked(t, got, 10)
	assert.Equal(t, []string{"b", "shared", "a"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Equal(t, 0.5, got[1].Similarity)
	assert.Equal(t, "query 0", got[1].Query)
}

func TestRetrievePartialFailure(t *testing.T) {
	qs, idx := queriesAndIndex(3)
	s := &fakeSearcher{
		hits: map[int][]store.SearchHit{
			0: {hit("a", 0.8)},
			1: {hit("b", 0.7)},
			2: {hit("c", 0.6)},
		},
		fail: map[int]bool{1: true},
	}
	e := &fakeEmbedder{index: idx, fail: map[string]bool{"query 2": true}}
	r := New(e, s, Config{}, quietLogger())

	got := r.Retrieve(context.Background(), qs, Options{})
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].ID)
}

func TestRetrieveAllFailuresYieldEmpty(t *testing.T) {
	qs, idx := queriesAndIndex(2)
	s := &fakeSearcher{fail: map[int]bool{0: true, 1: true}}
	r := New(&fakeEmbedder{index: idx}, s, Config{}, quietLogger())
	assert.Empty(t, r.Retrieve(context.Background(), qs, Options{}))
}

func TestRetrieveBoundsConcurrency(t *testing.T) {
	qs, idx := queriesAndIndex(12)
	s := &fakeSearcher{delay: 20 * time.Millisecond}
	r := New(&fakeEmbedder{index: idx}, s, Config{Workers: 3}, quietLogger())

	r.Retrieve(context.Background(), qs, Options{})
	assert.LessOrEqual(t, s.peak.Load(), int32(3))
	assert.Len(t, s.params, 12)
}

func TestRetrieveTimesOutSlowQueries(t *testing.T) {
	qs, idx := queriesAndIndex(1)
	s := &fakeSearcher{delay: time.Second, hits: map[int][]store.SearchHit{0: {hit("late", 0.9)}}}
	r := New(&fakeEmbedder{index: idx}, s, Config{QueryTimeout: 20 * time.Millisecond}, quietLogger())

	start := time.Now()
	assert.Empty(t, r.Retrieve(context.Background(), qs, Options{}))
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestRetrievePassesSearchParams(t *testing.T) {
	s := &fakeSearcher{}
	r := New(&fakeEmbedder{index: map[string]int{}}, s, Config{}, quietLogger())
	r.Retrieve(context.Background(), []string{"q", "  "}, Options{
		OwnerID: "owner", Scope: []string{"a.pdf"}, Threshold: 0.4, PerQueryLimit: 5,
	})
	require.Len(t, s.params, 1)
	assert.Equal(t, store.SearchParams{OwnerID: "owner", Scope: []string{"a.pdf"}, Threshold: 0.4, Limit: 5}, s.params[0])
}

func TestRetrieveNoQueries(t *testing.T) {
	r := New(&fakeEmbedder{}, &fakeSearcher{}, Config{}, quietLogger())
	assert.Empty(t, r.Retrieve(context.Background(), nil, Options{}))
}
