// Package memory is an in-process store.Store with brute-force cosine
// search, used in tests and local development.
package memory

import (
	"context"
	"math"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/dgallion1/opsrag/internal/store"
)

type Store struct {
	mu     sync.RWMutex
	docs   map[string]store.Document
	chunks map[string][]store.Chunk
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		docs:   make(map[string]store.Document),
		chunks: make(map[string][]store.Chunk),
	}
}

func (s *Store) Close() error { return nil }

func (s *Store) UpsertDocument(_ context.Context, doc store.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if prev, ok := s.docs[doc.ID]; ok {
		doc.CreatedAt = prev.CreatedAt
	} else if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.StorageName == "" {
		doc.StorageName = store.StorageName(doc.StorageRef)
	}
	if doc.Status == "" {
		doc.Status = store.StatusPending
	}
	doc.UpdatedAt = now
	s.docs[doc.ID] = doc
	return nil
}

func (s *Store) GetDocument(_ context.Context, id string) (*store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &doc, nil
}

func (s *Store) ListDocuments(_ context.Context, ownerID string) ([]store.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := []store.Document{}
	for _, d := range s.docs {
		if d.OwnerID == ownerID {
			docs = append(docs, d)
		}
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].CreatedAt.Equal(docs[j].CreatedAt) {
			return docs[i].CreatedAt.After(docs[j].CreatedAt)
		}
		return docs[i].ID < docs[j].ID
	})
	return docs, nil
}

func (s *Store) SetStatus(_ context.Context, id string, status store.Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return store.ErrNotFound
	}
	doc.Status = status
	doc.FailureReason = reason
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

func (s *Store) ReplaceChunks(_ context.Context, documentID string, chunks []store.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.docs[documentID]; !ok {
		return store.ErrNotFound
	}
	cp := make([]store.Chunk, len(chunks))
	for i, c := range chunks {
		c.DocumentID = documentID
		c.Embedding = slices.Clone(c.Embedding)
		cp[i] = c
	}
	s.chunks[documentID] = cp
	return nil
}

// Chunks returns a copy of the document's chunk set.
func (s *Store) Chunks(documentID string) []store.Chunk {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.chunks[documentID])
}

func (s *Store) Search(_ context.Context, vector []float32, p store.SearchParams) ([]store.SearchHit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []store.SearchHit
	for docID, chunks := range s.chunks {
		doc := s.docs[docID]
		if doc.OwnerID != p.OwnerID || !inScope(doc, p.Scope) {
			continue
		}
		for _, c := range chunks {
			sim := cosine(vector, c.Embedding)
			if sim < p.Threshold {
				continue
			}
			hits = append(hits, store.SearchHit{
				ChunkID:    c.ID,
				DocumentID: docID,
				FileName:   doc.OriginalName,
				Order:      c.Order,
				Text:       c.Text,
				Similarity: sim,
			})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if p.Limit > 0 && len(hits) > p.Limit {
		hits = hits[:p.Limit]
	}
	return hits, nil
}

func (s *Store) DeleteDocument(_ context.Context, id string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return "", false, store.ErrNotFound
	}
	delete(s.docs, id)
	delete(s.chunks, id)
	for _, d := range s.docs {
		if d.StorageName == doc.StorageName {
			return doc.StorageName, false, nil
		}
	}
	return doc.StorageName, true, nil
}

func inScope(doc store.Document, scope []string) bool {
	if len(scope) == 0 {
		return true
	}
	return slices.Contains(scope, doc.ID) || slices.Contains(scope, doc.OriginalName)
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
