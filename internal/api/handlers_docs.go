package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dgallion1/opsrag/internal/store"
)

// handleListDocuments lists all documents for an owner.
func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request) {
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		jsonError(w, "owner_id query parameter is required", http.StatusBadRequest)
		return
	}

	docs, err := s.d.Store.ListDocuments(r.Context(), ownerID)
	if err != nil {
		jsonError(w, "failed to list documents: "+err.Error(), http.StatusInternalServerError)
		return
	}
	if docs == nil {
		docs = []store.Document{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": docs})
}

// handleDeleteDocument deletes a document and its chunks. The stored file
// is removed once no other document references it.
func (s *Server) handleDeleteDocument(w http.ResponseWriter, r *http.Request) {
	docID := chi.URLParam(r, "docID")
	ownerID := r.URL.Query().Get("owner_id")
	if ownerID == "" {
		jsonError(w, "owner_id query parameter is required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	doc, err := s.d.Store.GetDocument(ctx, docID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && doc.OwnerID != ownerID) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to load document: "+err.Error(), http.StatusInternalServerError)
		return
	}

	storageName, orphaned, err := s.d.Store.DeleteDocument(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		jsonError(w, "document not found", http.StatusNotFound)
		return
	}
	if err != nil {
		jsonError(w, "failed to delete document: "+err.Error(), http.StatusInternalServerError)
		return
	}

	blobDeleted := false
	if orphaned {
		if err := s.d.Blobs.Delete(ctx, doc.StorageRef); err != nil {
			s.log.Warn("delete orphaned blob", "document_id", docID, "storage_name", storageName, "error", err)
		} else {
			blobDeleted = true
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"document_id":  docID,
		"storage_name": storageName,
		"blob_deleted": blobDeleted,
	})
}
