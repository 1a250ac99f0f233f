package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// Embedder turns texts into fixed-length vectors. Implementations return
// exactly one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// LatencyRecorder receives the duration of every upstream call.
type LatencyRecorder interface {
	Record(durationMs int64)
}

// ServiceError reports a failed call to the embedding service.
type ServiceError struct {
	StatusCode int // 0 for transport failures.
	Message    string
}

func (e *ServiceError) Error() string {
	if e.StatusCode == 0 {
		return "embedding service: " + e.Message
	}
	return fmt.Sprintf("embedding service status %d: %s", e.StatusCode, truncate(e.Message, 200))
}

// Retryable reports whether the failure is transient.
func (e *ServiceError) Retryable() bool {
	return e.StatusCode == 0 ||
		e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode >= 500
}

// IsRetryable reports whether err wraps a transient ServiceError.
func IsRetryable(err error) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Retryable()
}

// EmbedOne embeds a single text.
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vecs, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func checkCount(got, want int) error {
	if got != want {
		return &ServiceError{
			StatusCode: http.StatusBadGateway,
			Message:    fmt.Sprintf("expected %d vectors, got %d", want, got),
		}
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
