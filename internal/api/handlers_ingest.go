package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dgallion1/opsrag/internal/extractor"
	"github.com/dgallion1/opsrag/internal/pipeline"
)

// reasonStatus maps ingestion failure reasons to HTTP statuses.
var reasonStatus = map[string]int{
	pipeline.ReasonInvalidRequest:    http.StatusBadRequest,
	pipeline.ReasonOwnerMismatch:     http.StatusForbidden,
	pipeline.ReasonSourceNotFound:    http.StatusNotFound,
	pipeline.ReasonSourceUnavailable: http.StatusBadGateway,
	pipeline.ReasonUnsupportedFormat: http.StatusUnsupportedMediaType,
	pipeline.ReasonExtractionFailed:  http.StatusUnprocessableEntity,
	pipeline.ReasonNoContent:         http.StatusUnprocessableEntity,
	pipeline.ReasonEmbeddingFailed:   http.StatusBadGateway,
	pipeline.ReasonPersistenceFailed: http.StatusInternalServerError,
	pipeline.ReasonCancelled:         http.StatusServiceUnavailable,
}

// handleIngest runs the ingestion pipeline for one stored file and
// responds when the document is persisted or has failed.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)

	var req pipeline.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		jsonError(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if req.MimeType != "" && !extractor.IsSupported(req.MimeType, req.OriginalName) {
		jsonReasonError(w, fmt.Sprintf("unsupported file type: %s", req.MimeType),
			pipeline.ReasonUnsupportedFormat, http.StatusUnsupportedMediaType)
		return
	}

	res, err := s.d.Worker.Ingest(r.Context(), req)
	if err != nil {
		var ie *pipeline.Error
		if !errors.As(err, &ie) {
			jsonError(w, err.Error(), http.StatusInternalServerError)
			return
		}
		code, ok := reasonStatus[ie.Reason]
		if !ok {
			code = http.StatusInternalServerError
		}
		jsonReasonError(w, ie.Error(), ie.Reason, code)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	job := s.d.Orchestrator.GetJob(jobID)
	if job == nil {
		jsonError(w, "job not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, job.Snapshot())
}

// handleBatchIngest stores each uploaded file under its content hash and
// queues it for asynchronous ingestion. Identical uploads share a storage
// object.
func (s *Server) handleBatchIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes*10+10*1024*1024)

	if err := r.ParseMultipartForm(64 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	ownerID := r.FormValue("owner_id")
	if ownerID == "" {
		jsonError(w, "owner_id is required", http.StatusBadRequest)
		return
	}

	files := r.MultipartForm.File["files"]
	if len(files) == 0 {
		jsonError(w, "at least one file is required", http.StatusBadRequest)
		return
	}

	results := make([]map[string]any, 0, len(files))
	for _, fh := range files {
		filename := sanitizeFilename(fh.Filename)
		if !extractor.IsSupported("", filename) {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    fmt.Sprintf("unsupported file type: %s", filepath.Ext(filename)),
			})
			continue
		}

		data, err := s.readUpload(fh)
		if err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"error":    err.Error(),
			})
			continue
		}

		ref := pipeline.ContentHashHex(data) + strings.ToLower(filepath.Ext(filename))
		if err := s.d.Blobs.Put(r.Context(), ref, data); err != nil {
			s.log.Error("store upload", "filename", filename, "error", err)
			results = append(results, map[string]any{
				"filename": filename,
				"error":    "failed to store file",
			})
			continue
		}

		job := pipeline.NewJob(pipeline.Request{
			DocumentID:   uuid.NewString(),
			OwnerID:      ownerID,
			StorageRef:   ref,
			OriginalName: filename,
		})
		if err := s.d.Orchestrator.Submit(job); err != nil {
			results = append(results, map[string]any{
				"filename": filename,
				"job_id":   job.ID,
				"error":    err.Error(),
			})
			continue
		}

		results = append(results, map[string]any{
			"filename":    filename,
			"job_id":      job.ID,
			"document_id": job.Request.DocumentID,
			"status":      pipeline.StatusQueued,
			"poll_url":    fmt.Sprintf("/api/ingest/%s/status", job.ID),
		})
	}

	writeJSON(w, http.StatusAccepted, map[string]any{"jobs": results})
}

func (s *Server) readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, errors.New("failed to open file")
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		return nil, errors.New("failed to read file")
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		return nil, fmt.Errorf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes)
	}
	if len(data) == 0 {
		return nil, errors.New("file is empty")
	}
	return data, nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func jsonReasonError(w http.ResponseWriter, msg, reason string, code int) {
	writeJSON(w, code, map[string]string{"error": msg, "reason": reason})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." || name == "/" {
		name = "unnamed"
	}
	return name
}
