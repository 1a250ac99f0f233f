// Package store defines the corpus store: documents, their chunk vectors
// and similarity search over them.
package store

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("not found")

// Status is the processing state of a document.
type Status string

const (
	StatusPending      Status = "pending"
	StatusExtracting   Status = "extracting"
	StatusQualityCheck Status = "quality_check"
	StatusOCR          Status = "ocr"
	StatusSanitizing   Status = "sanitizing"
	StatusChunking     Status = "chunking"
	StatusEmbedding    Status = "embedding"
	StatusPersisted    Status = "persisted"
	StatusFailed       Status = "failed"
)

// Metadata describes the last successful ingestion of a document.
type Metadata struct {
	PageCount   int       `json:"pageCount"`
	SourceType  string    `json:"sourceType"`
	MimeType    string    `json:"mimeType"`
	OCRApplied  bool      `json:"ocrApplied"`
	ProcessedAt time.Time `json:"processedAt"`
}

// Value stores Metadata as JSON.
func (m Metadata) Value() (driver.Value, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan reads Metadata from a JSON column.
func (m *Metadata) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*m = Metadata{}
		return nil
	case []byte:
		return json.Unmarshal(v, m)
	case string:
		return json.Unmarshal([]byte(v), m)
	default:
		return fmt.Errorf("metadata: unsupported type %T", src)
	}
}

// Document is an uploaded file known to the corpus.
type Document struct {
	ID            string    `json:"id" db:"id"`
	OwnerID       string    `json:"ownerId" db:"owner_id"`
	StorageRef    string    `json:"storageRef" db:"storage_ref"`
	OriginalName  string    `json:"originalName" db:"original_name"`
	StorageName   string    `json:"storageName" db:"storage_name"`
	Summary       *string   `json:"summary" db:"summary"`
	Metadata      Metadata  `json:"metadata" db:"metadata"`
	Status        Status    `json:"status" db:"status"`
	FailureReason string    `json:"failureReason,omitempty" db:"failure_reason"`
	CreatedAt     time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time `json:"updatedAt" db:"updated_at"`
}

// StorageName derives the encoded storage name from a storage reference.
func StorageName(storageRef string) string {
	return path.Base(storageRef)
}

// Chunk is one embedded slice of a document's text. Order starts at 1.
type Chunk struct {
	ID         string
	DocumentID string
	Order      int
	Text       string
	Embedding  []float32
}

// SearchParams filters a similarity search. An empty Scope searches all of
// the owner's documents; otherwise a document matches when its id or
// original name is listed.
type SearchParams struct {
	OwnerID   string
	Threshold float64
	Limit     int
	Scope     []string
}

// SearchHit is one chunk returned by a similarity search.
type SearchHit struct {
	ChunkID    string  `db:"chunk_id"`
	DocumentID string  `db:"document_id"`
	FileName   string  `db:"file_name"`
	Order      int     `db:"chunk_order"`
	Text       string  `db:"text"`
	Similarity float64 `db:"similarity"`
}

// Store persists documents and chunks.
type Store interface {
	UpsertDocument(ctx context.Context, doc Document) error
	GetDocument(ctx context.Context, id string) (*Document, error)
	ListDocuments(ctx context.Context, ownerID string) ([]Document, error)
	SetStatus(ctx context.Context, id string, status Status, reason string) error

	// ReplaceChunks atomically swaps a document's chunk set.
	ReplaceChunks(ctx context.Context, documentID string, chunks []Chunk) error

	Search(ctx context.Context, vector []float32, p SearchParams) ([]SearchHit, error)

	// DeleteDocument removes a document and its chunks. orphaned reports
	// whether no other document references the same storage name.
	DeleteDocument(ctx context.Context, id string) (storageName string, orphaned bool, err error)

	Close() error
}
