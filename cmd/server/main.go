package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dgallion1/opsrag/internal/answer"
	"github.com/dgallion1/opsrag/internal/api"
	"github.com/dgallion1/opsrag/internal/blob"
	"github.com/dgallion1/opsrag/internal/chunker"
	"github.com/dgallion1/opsrag/internal/config"
	"github.com/dgallion1/opsrag/internal/embedding"
	"github.com/dgallion1/opsrag/internal/extractor"
	"github.com/dgallion1/opsrag/internal/llm"
	"github.com/dgallion1/opsrag/internal/ocr"
	"github.com/dgallion1/opsrag/internal/pipeline"
	"github.com/dgallion1/opsrag/internal/planner"
	"github.com/dgallion1/opsrag/internal/quality"
	"github.com/dgallion1/opsrag/internal/query"
	"github.com/dgallion1/opsrag/internal/retriever"
	"github.com/dgallion1/opsrag/internal/store"
	"github.com/dgallion1/opsrag/internal/store/memory"
	"github.com/dgallion1/opsrag/internal/store/postgres"
)

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		log.Error("load configuration", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stats := llm.NewRegistry(cfg.StatsWindow)

	// Corpus store.
	var st store.Store
	if cfg.DatabaseURL != "" {
		pg, err := postgres.Open(ctx, cfg.DatabaseURL, cfg.EmbeddingDimensions)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		st = pg
	} else {
		log.Warn("DATABASE_URL not set, using in-memory corpus store")
		st = memory.New()
	}

	// Blob storage.
	var blobs blob.Store
	var blobClient *blob.Client
	if cfg.BlobURL != "" {
		blobClient = blob.NewClient(cfg.BlobURL, cfg.BlobAPIKey, 60*time.Second)
		blobs = blobClient
	} else {
		dir, err := blob.NewDir(cfg.BlobDir)
		if err != nil {
			log.Error("open blob directory", "dir", cfg.BlobDir, "error", err)
			os.Exit(1)
		}
		blobs = dir
	}

	// Embeddings.
	var embedder embedding.Embedder
	var embedHTTP *embedding.HTTPClient
	if cfg.EmbeddingURL != "" {
		embedHTTP = embedding.NewHTTPClient(embedding.HTTPConfig{
			URL:       cfg.EmbeddingURL,
			APIKey:    cfg.EmbeddingAPIKey,
			Timeout:   cfg.EmbeddingTimeout,
			BatchSize: cfg.EmbeddingBatch,
			RPS:       cfg.EmbeddingRPS,
			Stats:     stats.For("embedding"),
		})
		embedder = embedHTTP
	} else {
		embedder = embedding.NewOpenAIClient(embedding.OpenAIConfig{
			APIKey:    cfg.OpenAIAPIKey,
			BaseURL:   cfg.OpenAIBaseURL,
			Model:     cfg.EmbeddingModel,
			BatchSize: cfg.EmbeddingBatch,
			Stats:     stats.For("embedding"),
		})
	}

	ocrClient := ocr.NewClient(cfg.OCRURL, cfg.OCRAPIKey, cfg.OCRTimeout, cfg.OCRRPS, log)

	// Ingestion pipeline.
	worker := pipeline.NewWorker(pipeline.Deps{
		Blobs:     blobs,
		Extractor: extractor.New(cfg.PDFFallbackPdftotext),
		Policy: quality.Policy{
			MinLength:       cfg.QualityMinLength,
			MinPerSegment:   cfg.QualityMinPerSegment,
			MinMeaningful:   cfg.QualityMinMeaningful,
			MaxOCRSegments:  cfg.OCRMaxPages,
			OCRReplaceRatio: cfg.OCRReplaceRatio,
		},
		OCR:        ocrClient,
		Chunker:    chunker.New(chunker.Config{ChunkSize: cfg.ChunkSize, ChunkOverlap: cfg.ChunkOverlap}),
		Embedder:   embedder,
		Store:      st,
		Log:        log,
		EmbedBatch: cfg.EmbeddingBatch,
	})
	orch := pipeline.NewOrchestrator(cfg, worker, log)
	orch.Start(ctx)

	// Question answering.
	var completer planner.Completer
	var anthropic *llm.AnthropicClient
	switch cfg.PlannerProvider {
	case "anthropic":
		anthropic = llm.NewAnthropicClient(llm.AnthropicConfig{
			APIKey:  cfg.AnthropicAPIKey,
			Model:   cfg.AnthropicModel,
			Timeout: cfg.PlannerTimeout,
			Stats:   stats.For("planner"),
		})
		completer = anthropic
	case "openai":
		completer = llm.NewOpenAIClient(llm.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			BaseURL: cfg.OpenAIBaseURL,
			Model:   cfg.GenerationModel,
			Stats:   stats.For("planner"),
		})
	}
	generator := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:    cfg.OpenAIAPIKey,
		BaseURL:   cfg.OpenAIBaseURL,
		Model:     cfg.GenerationModel,
		MaxTokens: cfg.GenerationMaxTokens,
		Stats:     stats.For("generation"),
	})

	ret := retriever.New(embedder, st, retriever.Config{
		Workers:      cfg.RetrieverWorkers,
		QueryTimeout: cfg.RetrieverQueryTimeout,
	}, log)
	svc := query.NewService(
		planner.New(completer, cfg.PlannerTimeout, log),
		ret,
		answer.NewStreamer(generator, log),
		query.Config{
			HistoryTurns:      cfg.HistoryTurns,
			Threshold:         cfg.RetrieverThreshold,
			PerQueryLimit:     cfg.RetrieverPerQueryLimit,
			TopN:              cfg.RetrieverTopN,
			ContextBudget:     cfg.ContextBudget,
			GenerationTimeout: cfg.GenerationTimeout,
		},
		log,
	)

	// Initialize HTTP server.
	srv := api.NewServer(api.Deps{
		Worker:       worker,
		Orchestrator: orch,
		Blobs:        blobs,
		Store:        st,
		Query:        svc,
		Stats:        stats,
	}, log, cfg)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()

		if anthropic != nil {
			anthropic.Close()
		}
		if embedHTTP != nil {
			embedHTTP.Close()
		}
		if blobClient != nil {
			blobClient.Close()
		}
		ocrClient.Close()
		if err := st.Close(); err != nil {
			log.Error("close store", "error", err)
		}
	}()

	log.Info("starting opsrag", "port", cfg.Port, "planner", cfg.PlannerProvider)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("server error", "error", err)
		os.Exit(1)
	}
	<-done
}
