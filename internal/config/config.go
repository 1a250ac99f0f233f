package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port string `yaml:"port"`

	// Auth
	APIKey string `yaml:"api_key"`

	// Corpus store. An empty DatabaseURL selects the in-memory store.
	DatabaseURL         string `yaml:"database_url"`
	EmbeddingDimensions int    `yaml:"embedding_dimensions"`

	// Blob storage: an HTTP object service, or a local directory.
	BlobURL    string `yaml:"blob_url"`
	BlobAPIKey string `yaml:"blob_api_key"`
	BlobDir    string `yaml:"blob_dir"`

	// Embeddings: the plain HTTP contract when EmbeddingURL is set,
	// otherwise the OpenAI embeddings API.
	EmbeddingURL     string        `yaml:"embedding_url"`
	EmbeddingAPIKey  string        `yaml:"embedding_api_key"`
	EmbeddingModel   string        `yaml:"embedding_model"`
	EmbeddingBatch   int           `yaml:"embedding_batch"`
	EmbeddingRPS     float64       `yaml:"embedding_rps"`
	EmbeddingTimeout time.Duration `yaml:"embedding_timeout"`

	// OpenAI-compatible chat and embeddings
	OpenAIAPIKey  string `yaml:"openai_api_key"`
	OpenAIBaseURL string `yaml:"openai_base_url"`

	// Answer generation
	GenerationModel     string        `yaml:"generation_model"`
	GenerationMaxTokens int           `yaml:"generation_max_tokens"`
	GenerationTimeout   time.Duration `yaml:"generation_timeout"`

	// Query planning: "anthropic", "openai" or "none".
	PlannerProvider string        `yaml:"planner_provider"`
	PlannerTimeout  time.Duration `yaml:"planner_timeout"`
	AnthropicAPIKey string        `yaml:"anthropic_api_key"`
	AnthropicModel  string        `yaml:"anthropic_model"`

	// OCR
	OCRURL          string        `yaml:"ocr_url"`
	OCRAPIKey       string        `yaml:"ocr_api_key"`
	OCRTimeout      time.Duration `yaml:"ocr_timeout"`
	OCRRPS          float64       `yaml:"ocr_rps"`
	OCRMaxPages     int           `yaml:"ocr_max_pages"`
	OCRReplaceRatio float64       `yaml:"ocr_replace_ratio"`

	// Quality gate
	QualityMinLength     int     `yaml:"quality_min_length"`
	QualityMinPerSegment int     `yaml:"quality_min_per_segment"`
	QualityMinMeaningful float64 `yaml:"quality_min_meaningful"`

	// Retrieval
	RetrieverWorkers       int           `yaml:"retriever_workers"`
	RetrieverTopN          int           `yaml:"retriever_top_n"`
	RetrieverThreshold     float64       `yaml:"retriever_threshold"`
	RetrieverPerQueryLimit int           `yaml:"retriever_per_query_limit"`
	RetrieverQueryTimeout  time.Duration `yaml:"retriever_query_timeout"`
	ContextBudget          int           `yaml:"context_budget"`
	HistoryTurns           int           `yaml:"history_turns"`

	// Worker pool
	WorkerCount  int `yaml:"worker_count"`
	MaxQueueSize int `yaml:"max_queue_size"`

	// Upload limits
	MaxUploadBytes int64 `yaml:"max_upload_bytes"`

	// Chunking
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Job state
	JobTTL time.Duration `yaml:"job_ttl"`

	// Latency stats window
	StatsWindow time.Duration `yaml:"stats_window"`

	// PDF
	PDFFallbackPdftotext bool `yaml:"pdf_fallback_pdftotext"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		Port:                   "8090",
		EmbeddingDimensions:    1536,
		BlobDir:                "./data/blobs",
		EmbeddingModel:         "text-embedding-3-small",
		EmbeddingBatch:         64,
		EmbeddingTimeout:       30 * time.Second,
		GenerationModel:        "gpt-4o-mini",
		GenerationMaxTokens:    1500,
		GenerationTimeout:      2 * time.Minute,
		PlannerProvider:        "anthropic",
		PlannerTimeout:         8 * time.Second,
		AnthropicModel:         "claude-sonnet-4-5-20250929",
		OCRTimeout:             60 * time.Second,
		OCRMaxPages:            30,
		OCRReplaceRatio:        0.8,
		QualityMinLength:       100,
		QualityMinPerSegment:   50,
		QualityMinMeaningful:   0.6,
		RetrieverWorkers:       4,
		RetrieverTopN:          7,
		RetrieverThreshold:     0.3,
		RetrieverPerQueryLimit: 5,
		RetrieverQueryTimeout:  10 * time.Second,
		ContextBudget:          12000,
		HistoryTurns:           6,
		WorkerCount:            4,
		MaxQueueSize:           100,
		MaxUploadBytes:         52428800, // 50MB
		ChunkSize:              2000,
		ChunkOverlap:           300,
		JobTTL:                 1 * time.Hour,
		StatsWindow:            1 * time.Hour,
		PDFFallbackPdftotext:   true,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE, then the environment (including a .env file). Later sources
// win.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	cfg.applyEnv()
	cfg.applyFloors()
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Port = envOr("PORT", c.Port)
	c.APIKey = envOr("OPSRAG_API_KEY", c.APIKey)

	c.DatabaseURL = envOr("DATABASE_URL", c.DatabaseURL)
	c.EmbeddingDimensions = envInt("EMBEDDING_DIMENSIONS", c.EmbeddingDimensions)

	c.BlobURL = envOr("BLOB_URL", c.BlobURL)
	c.BlobAPIKey = envOr("BLOB_API_KEY", c.BlobAPIKey)
	c.BlobDir = envOr("BLOB_DIR", c.BlobDir)

	c.EmbeddingURL = envOr("EMBEDDING_URL", c.EmbeddingURL)
	c.EmbeddingAPIKey = envOr("EMBEDDING_API_KEY", c.EmbeddingAPIKey)
	c.EmbeddingModel = envOr("EMBEDDING_MODEL", c.EmbeddingModel)
	c.EmbeddingBatch = envInt("EMBEDDING_BATCH", c.EmbeddingBatch)
	c.EmbeddingRPS = envFloat("EMBEDDING_RPS", c.EmbeddingRPS)
	c.EmbeddingTimeout = envDuration("EMBEDDING_TIMEOUT", c.EmbeddingTimeout)

	c.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = envOr("OPENAI_BASE_URL", c.OpenAIBaseURL)

	c.GenerationModel = envOr("GENERATION_MODEL", c.GenerationModel)
	c.GenerationMaxTokens = envInt("GENERATION_MAX_TOKENS", c.GenerationMaxTokens)
	c.GenerationTimeout = envDuration("GENERATION_TIMEOUT", c.GenerationTimeout)

	c.PlannerProvider = envOr("PLANNER_PROVIDER", c.PlannerProvider)
	c.PlannerTimeout = envDuration("PLANNER_TIMEOUT", c.PlannerTimeout)
	c.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.AnthropicAPIKey)
	c.AnthropicModel = envOr("ANTHROPIC_MODEL", c.AnthropicModel)

	c.OCRURL = envOr("OCR_URL", c.OCRURL)
	c.OCRAPIKey = envOr("OCR_API_KEY", c.OCRAPIKey)
	c.OCRTimeout = envDuration("OCR_TIMEOUT", c.OCRTimeout)
	c.OCRRPS = envFloat("OCR_RPS", c.OCRRPS)
	c.OCRMaxPages = envInt("OCR_MAX_PAGES", c.OCRMaxPages)
	c.OCRReplaceRatio = envFloat("OCR_REPLACE_RATIO", c.OCRReplaceRatio)

	c.QualityMinLength = envInt("QUALITY_MIN_LENGTH", c.QualityMinLength)
	c.QualityMinPerSegment = envInt("QUALITY_MIN_PER_SEGMENT", c.QualityMinPerSegment)
	c.QualityMinMeaningful = envFloat("QUALITY_MIN_MEANINGFUL", c.QualityMinMeaningful)

	c.RetrieverWorkers = envInt("RETRIEVER_WORKERS", c.RetrieverWorkers)
	c.RetrieverTopN = envInt("RETRIEVER_TOP_N", c.RetrieverTopN)
	c.RetrieverThreshold = envFloat("RETRIEVER_THRESHOLD", c.RetrieverThreshold)
	c.RetrieverPerQueryLimit = envInt("RETRIEVER_PER_QUERY_LIMIT", c.RetrieverPerQueryLimit)
	c.RetrieverQueryTimeout = envDuration("RETRIEVER_QUERY_TIMEOUT", c.RetrieverQueryTimeout)
	c.ContextBudget = envInt("CONTEXT_BUDGET", c.ContextBudget)
	c.HistoryTurns = envInt("HISTORY_TURNS", c.HistoryTurns)

	c.WorkerCount = envInt("WORKER_COUNT", c.WorkerCount)
	c.MaxQueueSize = envInt("MAX_QUEUE_SIZE", c.MaxQueueSize)
	c.MaxUploadBytes = envInt64("MAX_UPLOAD_BYTES", c.MaxUploadBytes)
	c.ChunkSize = envInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = envInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.JobTTL = envDuration("JOB_TTL", c.JobTTL)
	c.StatsWindow = envDuration("STATS_WINDOW", c.StatsWindow)
	c.PDFFallbackPdftotext = envBool("PDF_FALLBACK_PDFTOTEXT", c.PDFFallbackPdftotext)
}

// applyFloors replaces non-positive sizes with the defaults.
func (c *Config) applyFloors() {
	def := Defaults()
	if c.WorkerCount <= 0 {
		c.WorkerCount = def.WorkerCount
	}
	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = def.MaxQueueSize
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = def.MaxUploadBytes
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = def.ChunkSize
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = def.ChunkOverlap
	}
	if c.JobTTL <= 0 {
		c.JobTTL = def.JobTTL
	}
	if c.RetrieverWorkers <= 0 {
		c.RetrieverWorkers = def.RetrieverWorkers
	}
	if c.RetrieverTopN <= 0 {
		c.RetrieverTopN = def.RetrieverTopN
	}
	if c.HistoryTurns <= 0 {
		c.HistoryTurns = def.HistoryTurns
	}
	if c.EmbeddingDimensions <= 0 {
		c.EmbeddingDimensions = def.EmbeddingDimensions
	}
}

func (c Config) Validate() error {
	if c.APIKey == "" {
		return fmt.Errorf("OPSRAG_API_KEY is required")
	}
	if c.EmbeddingURL == "" && c.OpenAIAPIKey == "" {
		return fmt.Errorf("EMBEDDING_URL or OPENAI_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required for answer generation")
	}
	switch c.PlannerProvider {
	case "anthropic":
		if c.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required when PLANNER_PROVIDER=anthropic")
		}
	case "openai", "none":
	default:
		return fmt.Errorf("unknown PLANNER_PROVIDER %q", c.PlannerProvider)
	}
	if c.ChunkOverlap*2 >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP (%d) must be less than half of CHUNK_SIZE (%d)", c.ChunkOverlap, c.ChunkSize)
	}
	if c.OCRReplaceRatio < 0 || c.OCRReplaceRatio > 1 {
		return fmt.Errorf("OCR_REPLACE_RATIO must be within [0, 1]")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
