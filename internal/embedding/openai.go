package embedding

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient embeds through an OpenAI-compatible /embeddings endpoint.
type OpenAIClient struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	batchSize int
	stats     LatencyRecorder
}

// OpenAIConfig configures an OpenAIClient. BaseURL is optional and allows
// compatible self-hosted servers.
type OpenAIConfig struct {
	APIKey    string
	BaseURL   string
	Model     string
	BatchSize int
	Stats     LatencyRecorder
}

func NewOpenAIClient(cfg OpenAIConfig) *OpenAIClient {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = string(openai.SmallEmbedding3)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 64
	}
	return &OpenAIClient{
		client:    openai.NewClientWithConfig(oc),
		model:     openai.EmbeddingModel(cfg.Model),
		batchSize: cfg.BatchSize,
		stats:     cfg.Stats,
	}
}

func (c *OpenAIClient) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += c.batchSize {
		end := min(start+c.batchSize, len(texts))
		vecs, err := c.call(ctx, texts[start:end])
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}
	return out, nil
}

func (c *OpenAIClient) call(ctx context.Context, texts []string) ([][]float32, error) {
	start := time.Now()
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: c.model,
	})
	if c.stats != nil {
		c.stats.Record(time.Since(start).Milliseconds())
	}
	if err != nil {
		return nil, toServiceError(err)
	}
	if err := checkCount(len(resp.Data), len(texts)); err != nil {
		return nil, err
	}
	vecs := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, &ServiceError{StatusCode: 502, Message: "embedding index out of range"}
		}
		vecs[d.Index] = d.Embedding
	}
	return vecs, nil
}

func toServiceError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &ServiceError{StatusCode: apiErr.HTTPStatusCode, Message: apiErr.Message}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &ServiceError{StatusCode: reqErr.HTTPStatusCode, Message: reqErr.Error()}
	}
	return &ServiceError{Message: err.Error()}
}
