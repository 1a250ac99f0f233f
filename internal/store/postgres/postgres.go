// Package postgres implements store.Store on PostgreSQL with pgvector.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/pgvector/pgvector-go"

	"github.com/dgallion1/opsrag/internal/store"
	"github.com/dgallion1/opsrag/internal/store/postgres/migrations"
)

// Store is a Postgres-backed corpus store.
type Store struct {
	db *sqlx.DB
}

var _ store.Store = (*Store)(nil)

// Open connects to databaseURL and applies pending migrations. dimensions
// fixes the embedding column size on first migration.
func Open(ctx context.Context, databaseURL string, dimensions int) (*Store, error) {
	db, err := sqlx.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(ctx, migrations.FS, dimensions); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context, fsys fs.FS, dimensions int) error {
	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version    INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	var current int
	if err := s.db.GetContext(ctx, &current, `SELECT COALESCE(MAX(version), 0) FROM schema_migrations`); err != nil {
		return fmt.Errorf("current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	var names []string
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".up.sql") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil || version <= current {
			continue
		}
		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		ddl := strings.ReplaceAll(string(content), "{{dimensions}}", strconv.Itoa(dimensions))

		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, ddl); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES ($1)`, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record %s: %w", name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit %s: %w", name, err)
		}
	}
	return nil
}

const documentColumns = `id, owner_id, storage_ref, original_name, storage_name, summary,
	metadata, status, failure_reason, created_at, updated_at`

func (s *Store) UpsertDocument(ctx context.Context, doc store.Document) error {
	now := time.Now().UTC()
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = now
	}
	if doc.StorageName == "" {
		doc.StorageName = store.StorageName(doc.StorageRef)
	}
	if doc.Status == "" {
		doc.Status = store.StatusPending
	}
	doc.UpdatedAt = now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES (:id, :owner_id, :storage_ref, :original_name, :storage_name, :summary,
			:metadata, :status, :failure_reason, :created_at, :updated_at)
		ON CONFLICT (id) DO UPDATE SET
			owner_id       = EXCLUDED.owner_id,
			storage_ref    = EXCLUDED.storage_ref,
			original_name  = EXCLUDED.original_name,
			storage_name   = EXCLUDED.storage_name,
			summary        = EXCLUDED.summary,
			metadata       = EXCLUDED.metadata,
			status         = EXCLUDED.status,
			failure_reason = EXCLUDED.failure_reason,
			updated_at     = EXCLUDED.updated_at`, doc)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

func (s *Store) GetDocument(ctx context.Context, id string) (*store.Document, error) {
	var doc store.Document
	err := s.db.GetContext(ctx, &doc, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

func (s *Store) ListDocuments(ctx context.Context, ownerID string) ([]store.Document, error) {
	docs := []store.Document{}
	err := s.db.SelectContext(ctx, &docs,
		`SELECT `+documentColumns+` FROM documents WHERE owner_id = $1 ORDER BY created_at DESC, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

func (s *Store) SetStatus(ctx context.Context, id string, status store.Status, reason string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, failure_reason = $3, updated_at = now() WHERE id = $1`,
		id, status, reason)
	if err != nil {
		return fmt.Errorf("set status %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) ReplaceChunks(ctx context.Context, documentID string, chunks []store.Chunk) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}
	for _, c := range chunks {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO chunks (id, document_id, chunk_order, text, embedding) VALUES ($1, $2, $3, $4, $5)`,
			c.ID, documentID, c.Order, c.Text, pgvector.NewVector(c.Embedding))
		if err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Order, err)
		}
	}
	return tx.Commit()
}

func (s *Store) Search(ctx context.Context, vector []float32, p store.SearchParams) ([]store.SearchHit, error) {
	args := []any{pgvector.NewVector(vector), p.Threshold, p.OwnerID}
	query := `
		SELECT
			c.id::text AS chunk_id,
			c.document_id,
			d.original_name AS file_name,
			c.chunk_order,
			c.text,
			1 - (c.embedding <=> $1) AS similarity
		FROM chunks c
		INNER JOIN documents d ON c.document_id = d.id
		WHERE (1 - (c.embedding <=> $1)) >= $2
		AND d.owner_id = $3`
	if len(p.Scope) > 0 {
		args = append(args, p.Scope)
		query += ` AND (d.id = ANY($4) OR d.original_name = ANY($4))`
	}
	args = append(args, p.Limit)
	query += fmt.Sprintf(` ORDER BY c.embedding <=> $1 LIMIT $%d`, len(args))

	hits := []store.SearchHit{}
	if err := s.db.SelectContext(ctx, &hits, query, args...); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return hits, nil
}

func (s *Store) DeleteDocument(ctx context.Context, id string) (string, bool, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return "", false, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var storageName string
	err = tx.GetContext(ctx, &storageName, `DELETE FROM documents WHERE id = $1 RETURNING storage_name`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, store.ErrNotFound
	}
	if err != nil {
		return "", false, fmt.Errorf("delete document %s: %w", id, err)
	}

	var refs int
	if err := tx.GetContext(ctx, &refs, `SELECT COUNT(*) FROM documents WHERE storage_name = $1`, storageName); err != nil {
		return "", false, fmt.Errorf("count references: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", false, fmt.Errorf("commit: %w", err)
	}
	return storageName, refs == 0, nil
}
