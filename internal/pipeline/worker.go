package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/opsrag/internal/blob"
	"github.com/dgallion1/opsrag/internal/chunker"
	"github.com/dgallion1/opsrag/internal/embedding"
	"github.com/dgallion1/opsrag/internal/extractor"
	"github.com/dgallion1/opsrag/internal/ocr"
	"github.com/dgallion1/opsrag/internal/quality"
	"github.com/dgallion1/opsrag/internal/sanitize"
	"github.com/dgallion1/opsrag/internal/store"
	"github.com/dgallion1/opsrag/internal/summary"
)

// Failure reasons recorded on a failed document.
const (
	ReasonInvalidRequest    = "invalid_request"
	ReasonOwnerMismatch     = "owner_mismatch"
	ReasonSourceNotFound    = "source_not_found"
	ReasonSourceUnavailable = "source_unavailable"
	ReasonUnsupportedFormat = "unsupported_format"
	ReasonExtractionFailed  = "extraction_failed"
	ReasonNoContent         = "no_content"
	ReasonEmbeddingFailed   = "embedding_failed"
	ReasonPersistenceFailed = "persistence_failed"
	ReasonCancelled         = "cancelled"
)

// Request identifies a stored file to ingest into a document.
type Request struct {
	DocumentID   string `json:"documentId"`
	OwnerID      string `json:"ownerId"`
	StorageRef   string `json:"storageRef"`
	OriginalName string `json:"originalName"`
	MimeType     string `json:"mimeType,omitempty"`
}

// Result is the outcome of a successful ingestion.
type Result struct {
	DocumentID  string  `json:"documentId"`
	Summary     *string `json:"summary"`
	ChunksCount int     `json:"chunksCount"`
}

// Error reports the stage and reason an ingestion failed at.
type Error struct {
	Stage  store.Status
	Reason string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("ingest %s (%s): %v", e.Stage, e.Reason, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Extractor turns file bytes into text.
type Extractor interface {
	Extract(data []byte, mimeType, fileName string) (extractor.Result, error)
}

// OCR recognizes text in scanned files. It never fails; ok is false when
// no usable text came back.
type OCR interface {
	Enabled() bool
	OCR(ctx context.Context, data []byte, mimeType string) (text string, ok bool)
}

// Deps are the collaborators of a Worker.
type Deps struct {
	Blobs      blob.Store
	Extractor  Extractor
	Policy     quality.Policy
	OCR        OCR
	Chunker    *chunker.Chunker
	Embedder   embedding.Embedder
	Store      store.Store
	Summarizer *summary.Summarizer
	Log        *slog.Logger

	EmbedBatch       int // Chunks per embedding call; default 32.
	SummarySentences int // Default 3.
}

// Worker runs the ingestion state machine for one document at a time.
type Worker struct {
	d       Deps
	backoff func(attempt int) time.Duration
}

func NewWorker(d Deps) *Worker {
	if d.EmbedBatch <= 0 {
		d.EmbedBatch = 32
	}
	if d.SummarySentences <= 0 {
		d.SummarySentences = 3
	}
	if d.Chunker == nil {
		d.Chunker = chunker.New(chunker.DefaultConfig())
	}
	if d.Summarizer == nil {
		d.Summarizer = summary.New()
	}
	return &Worker{d: d, backoff: Backoff}
}

// Ingest runs the pipeline synchronously.
func (w *Worker) Ingest(ctx context.Context, req Request) (Result, error) {
	return w.run(ctx, req, nil)
}

// Process runs a queued job, recording progress on it.
func (w *Worker) Process(ctx context.Context, job *Job) {
	job.SetStatus(StatusRunning, store.StatusPending)
	res, err := w.run(ctx, job.Request, job)
	if err != nil {
		reason := ReasonPersistenceFailed
		var ie *Error
		if errors.As(err, &ie) {
			reason = ie.Reason
		}
		job.AddError(err.Error())
		job.Fail(reason)
		return
	}
	job.Complete(res)
}

// run is the state machine: pending, extracting, quality_check, [ocr],
// sanitizing, chunking, embedding, persisted. Any stage may fail the
// document. Chunks are only replaced after every embedding succeeded.
func (w *Worker) run(ctx context.Context, req Request, job *Job) (Result, error) {
	log := w.d.Log.With("document_id", req.DocumentID, "owner_id", req.OwnerID)
	if job != nil {
		log = log.With("job_id", job.ID)
	}
	if err := validate(req); err != nil {
		return Result{}, &Error{Stage: store.StatusPending, Reason: ReasonInvalidRequest, Err: err}
	}

	doc, err := w.begin(ctx, req)
	if err != nil {
		return Result{}, err
	}

	r := &ingestRun{w: w, ctx: ctx, doc: doc, job: job, log: log}

	// extracting
	if err := r.advance(store.StatusExtracting); err != nil {
		return Result{}, err
	}
	data, err := w.d.Blobs.Get(ctx, req.StorageRef)
	if errors.Is(err, blob.ErrNotFound) {
		return Result{}, r.fail(ReasonSourceNotFound, err)
	}
	if err != nil {
		return Result{}, r.fail(ReasonSourceUnavailable, err)
	}
	mime := req.MimeType
	if mime == "" {
		mime = extractor.MimeTypeFor(req.OriginalName)
	}
	ext, err := w.d.Extractor.Extract(data, mime, req.OriginalName)
	if errors.Is(err, extractor.ErrUnsupportedFormat) {
		return Result{}, r.fail(ReasonUnsupportedFormat, err)
	}
	if err != nil {
		return Result{}, r.fail(ReasonExtractionFailed, err)
	}
	log.Info("extracted document", "category", ext.Category, "segments", ext.SegmentCount, "chars", len(ext.Text))

	// quality_check, ocr
	if err := r.advance(store.StatusQualityCheck); err != nil {
		return Result{}, err
	}
	text := ext.Text
	ocrApplied := false
	if w.d.OCR != nil && w.d.OCR.Enabled() && w.d.Policy.ShouldOCR(ext.Category, text, ext.SegmentCount) {
		if err := r.advance(store.StatusOCR); err != nil {
			return Result{}, err
		}
		if ocrText, ok := w.d.OCR.OCR(ctx, data, mime); ok {
			text = ocr.Merge(text, ocrText, w.d.Policy.OCRReplaceRatio)
			ocrApplied = true
			log.Info("ocr applied", "chars", len(ocrText))
		}
	}

	// sanitizing
	if err := r.advance(store.StatusSanitizing); err != nil {
		return Result{}, err
	}
	text = sanitize.Sanitize(text)
	if text == "" {
		return Result{}, r.fail(ReasonNoContent, errors.New("no text after sanitizing"))
	}

	// chunking
	if err := r.advance(store.StatusChunking); err != nil {
		return Result{}, err
	}
	pieces := w.d.Chunker.Split(text)
	if len(pieces) == 0 {
		return Result{}, r.fail(ReasonNoContent, errors.New("no chunks produced"))
	}
	if job != nil {
		job.SetTotalChunks(len(pieces))
	}
	log.Info("chunked document", "chunks", len(pieces))

	// embedding
	if err := r.advance(store.StatusEmbedding); err != nil {
		return Result{}, err
	}
	vectors, err := r.embedAll(pieces)
	if err != nil {
		if ctx.Err() != nil {
			return Result{}, r.fail(ReasonCancelled, err)
		}
		return Result{}, r.fail(ReasonEmbeddingFailed, err)
	}

	chunks := make([]store.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = store.Chunk{
			ID:         uuid.NewString(),
			DocumentID: doc.ID,
			Order:      i + 1,
			Text:       p,
			Embedding:  vectors[i],
		}
	}
	if err := w.d.Store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		return Result{}, r.fail(ReasonPersistenceFailed, err)
	}

	// persisted
	var sum *string
	if s := w.d.Summarizer.Summarize(text, w.d.SummarySentences); s != "" {
		sum = &s
	}
	doc.Summary = sum
	doc.Metadata = store.Metadata{
		PageCount:   ext.SegmentCount,
		SourceType:  string(ext.Category),
		MimeType:    mime,
		OCRApplied:  ocrApplied,
		ProcessedAt: time.Now().UTC(),
	}
	doc.Status = store.StatusPersisted
	doc.FailureReason = ""
	if err := w.d.Store.UpsertDocument(ctx, *doc); err != nil {
		return Result{}, r.fail(ReasonPersistenceFailed, err)
	}
	log.Info("document persisted", "chunks", len(chunks), "ocr", ocrApplied)

	return Result{DocumentID: doc.ID, Summary: sum, ChunksCount: len(chunks)}, nil
}

func validate(req Request) error {
	var missing []string
	if strings.TrimSpace(req.DocumentID) == "" {
		missing = append(missing, "documentId")
	}
	if strings.TrimSpace(req.OwnerID) == "" {
		missing = append(missing, "ownerId")
	}
	if strings.TrimSpace(req.StorageRef) == "" {
		missing = append(missing, "storageRef")
	}
	if strings.TrimSpace(req.OriginalName) == "" {
		missing = append(missing, "originalName")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing %s", strings.Join(missing, ", "))
	}
	return nil
}

// begin loads or creates the document and resets it to pending.
func (w *Worker) begin(ctx context.Context, req Request) (*store.Document, error) {
	doc, err := w.d.Store.GetDocument(ctx, req.DocumentID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		doc = &store.Document{ID: req.DocumentID, OwnerID: req.OwnerID}
	case err != nil:
		return nil, &Error{Stage: store.StatusPending, Reason: ReasonPersistenceFailed, Err: err}
	case doc.OwnerID != req.OwnerID:
		return nil, &Error{Stage: store.StatusPending, Reason: ReasonOwnerMismatch,
			Err: fmt.Errorf("document %s belongs to another owner", req.DocumentID)}
	}
	doc.StorageRef = req.StorageRef
	doc.StorageName = store.StorageName(req.StorageRef)
	doc.OriginalName = req.OriginalName
	doc.Status = store.StatusPending
	doc.FailureReason = ""
	if err := w.d.Store.UpsertDocument(ctx, *doc); err != nil {
		return nil, &Error{Stage: store.StatusPending, Reason: ReasonPersistenceFailed, Err: err}
	}
	return doc, nil
}

// ingestRun carries the per-document state through the stages.
type ingestRun struct {
	w   *Worker
	ctx context.Context
	doc *store.Document
	job *Job
	log *slog.Logger
}

func (r *ingestRun) advance(stage store.Status) error {
	if err := r.ctx.Err(); err != nil {
		return r.fail(ReasonCancelled, err)
	}
	if err := r.w.d.Store.SetStatus(r.ctx, r.doc.ID, stage, ""); err != nil {
		return &Error{Stage: stage, Reason: ReasonPersistenceFailed, Err: err}
	}
	r.doc.Status = stage
	if r.job != nil {
		r.job.SetStatus(StatusRunning, stage)
	}
	r.log.Debug("stage", "status", stage)
	return nil
}

// fail marks the document failed. The status write outlives a cancelled
// request context.
func (r *ingestRun) fail(reason string, cause error) error {
	stage := r.doc.Status
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.ctx), 5*time.Second)
	defer cancel()
	if err := r.w.d.Store.SetStatus(ctx, r.doc.ID, store.StatusFailed, reason); err != nil {
		r.log.Error("record failure status", "error", err)
	}
	r.log.Warn("ingestion failed", "stage", stage, "reason", reason, "error", cause)
	return &Error{Stage: stage, Reason: reason, Err: cause}
}

// embedAll embeds texts in batches, retrying transient failures.
func (r *ingestRun) embedAll(texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += r.w.d.EmbedBatch {
		batch := texts[start:min(start+r.w.d.EmbedBatch, len(texts))]
		vecs, err := r.embedBatch(batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
		if r.job != nil {
			r.job.AddEmbedded(len(batch))
		}
	}
	return out, nil
}

func (r *ingestRun) embedBatch(batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := range MaxRetries {
		vecs, err := r.w.d.Embedder.Embed(r.ctx, batch)
		if err == nil && len(vecs) != len(batch) {
			err = &embedding.ServiceError{StatusCode: 502, Message: fmt.Sprintf("expected %d vectors, got %d", len(batch), len(vecs))}
		}
		if err == nil {
			return vecs, nil
		}
		lastErr = err
		if !IsRetryable(err) || attempt == MaxRetries-1 {
			break
		}
		r.log.Warn("retryable embedding error", "attempt", attempt, "error", err)
		select {
		case <-time.After(r.w.backoff(attempt)):
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		}
	}
	return nil, lastErr
}
