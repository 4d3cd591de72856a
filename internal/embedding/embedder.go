// Package embedding turns text into vectors through pluggable providers.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrProviderFailed wraps any provider failure. Providers never return zero vectors instead.
	ErrProviderFailed = errors.New("embedding provider failed")
	// ErrEmptyText is returned for blank input.
	ErrEmptyText = errors.New("text is empty")
	// ErrUnsupportedProvider is returned by New for unknown provider names.
	ErrUnsupportedProvider = errors.New("unsupported embedding provider")
)

// Provider names accepted by New.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderCohere = "cohere"
	ProviderGoogle = "google"
	ProviderONNX   = "onnx"
	ProviderMock   = "mock"
)

// Embedder produces vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Close() error
}

// Options configures the remote providers.
type Options struct {
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
	Timeout    time.Duration
	Retry      RetryConfig
}

func (o Options) withDefaults(model, baseURL string) Options {
	if o.Model == "" {
		o.Model = model
	}
	if o.BaseURL == "" {
		o.BaseURL = baseURL
	}
	o.BaseURL = strings.TrimRight(o.BaseURL, "/")
	if o.Timeout <= 0 {
		o.Timeout = 30 * time.Second
	}
	if o.Retry.MaxRetries <= 0 {
		o.Retry = DefaultRetryConfig()
	}
	return o
}

func checkText(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyText
	}
	return nil
}

// checkVector rejects empty vectors and, when want > 0, vectors of the wrong length.
func checkVector(vec []float32, want int) error {
	if len(vec) == 0 {
		return fmt.Errorf("%w: empty embedding returned", ErrProviderFailed)
	}
	if want > 0 && len(vec) != want {
		return fmt.Errorf("%w: got %d dimensions, expected %d", ErrProviderFailed, len(vec), want)
	}
	return nil
}

// embedEach implements EmbedBatch for providers without a batch endpoint.
func embedEach(ctx context.Context, e Embedder, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := e.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = emb
	}
	return out, nil
}
