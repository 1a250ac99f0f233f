package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/dgallion1/opsrag/internal/sanitize"
)

// Marker separates the original extraction from appended OCR output.
const Marker = "[OCR EXTRACTED TEXT]"

// Client calls the external OCR service. Every failure degrades to "no
// result"; OCR is never fatal to ingestion.
type Client struct {
	url        string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        *slog.Logger
}

// NewClient returns a client for url. An empty url disables OCR. rps caps
// outbound requests per second; zero means unlimited.
func NewClient(url, apiKey string, timeout time.Duration, rps float64, log *slog.Logger) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &Client{
		url:        url,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(limit, 1),
		log:        log,
	}
}

// Enabled reports whether an OCR endpoint is configured.
func (c *Client) Enabled() bool {
	return c != nil && c.url != ""
}

type ocrRequest struct {
	Content  string `json:"content"`
	MimeType string `json:"mimeType"`
}

type ocrResponse struct {
	Text *string `json:"text"`
}

// OCR returns the recognized text and true, or "" and false when the service
// is disabled, fails, times out or returns no text.
func (c *Client) OCR(ctx context.Context, data []byte, mimeType string) (string, bool) {
	if !c.Enabled() {
		return "", false
	}
	text, err := c.call(ctx, data, mimeType)
	if err != nil {
		c.log.Warn("ocr failed, keeping extracted text", "error", err)
		return "", false
	}
	if text == nil || strings.TrimSpace(*text) == "" {
		return "", false
	}
	return *text, true
}

func (c *Client) call(ctx context.Context, data []byte, mimeType string) (*string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit: %w", err)
	}

	body, err := json.Marshal(ocrRequest{
		Content:  base64.StdEncoding.EncodeToString(data),
		MimeType: mimeType,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("ocr request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("ocr status %d: %s", resp.StatusCode, string(respBody))
	}

	var out ocrResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 32<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	c.log.Debug("ocr complete", "bytes", len(data), "duration_ms", time.Since(start).Milliseconds())
	return out.Text, nil
}

// Merge combines extracted and OCR text. Clean OCR output replaces the
// original outright; otherwise both are kept, separated by Marker.
func Merge(original, ocrText string, replaceRatio float64) string {
	if sanitize.MeaningfulRatio(sanitize.Sanitize(ocrText)) > replaceRatio {
		return ocrText
	}
	return original + "\n\n" + Marker + "\n\n" + ocrText
}

// Close releases idle connections.
func (c *Client) Close() {
	c.httpClient.CloseIdleConnections()
}
