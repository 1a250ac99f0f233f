package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/dgallion1/opsrag/internal/blob"
	"github.com/dgallion1/opsrag/internal/config"
	"github.com/dgallion1/opsrag/internal/llm"
	"github.com/dgallion1/opsrag/internal/pipeline"
	"github.com/dgallion1/opsrag/internal/query"
	"github.com/dgallion1/opsrag/internal/store"
)

// Deps are the components the HTTP API drives.
type Deps struct {
	Worker       *pipeline.Worker
	Orchestrator *pipeline.Orchestrator
	Blobs        blob.Store
	Store        store.Store
	Query        *query.Service
	Stats        *llm.Registry
}

// Server is the HTTP API server for opsrag.
type Server struct {
	router chi.Router
	d      Deps
	log    *slog.Logger
	cfg    config.Config
}

// NewServer creates and configures the HTTP server.
func NewServer(d Deps, log *slog.Logger, cfg config.Config) *Server {
	s := &Server{
		d:   d,
		log: log,
		cfg: cfg,
	}
	s.setupRoutes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) setupRoutes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestLogger(s.log))

	// Public endpoints.
	r.Get("/health", s.handleHealth)

	// Authenticated endpoints.
	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(s.cfg.APIKey, s.log))

		r.Post("/api/ingest", s.handleIngest)
		r.Post("/api/ingest/batch", s.handleBatchIngest)
		r.Get("/api/ingest/{jobID}/status", s.handleIngestStatus)

		r.Post("/api/query", s.handleQuery)

		r.Get("/api/documents", s.handleListDocuments)
		r.Delete("/api/documents/{docID}", s.handleDeleteDocument)

		r.Get("/api/stats/llm", s.handleLLMStats)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}
