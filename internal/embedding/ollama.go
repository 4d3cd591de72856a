package embedding

import (
	"context"
	"fmt"
	"net/http"
)

const (
	defaultOllamaModel   = "nomic-embed-text"
	defaultOllamaBaseURL = "http://localhost:11434"
)

// OllamaEmbedder calls a local Ollama server's /api/embeddings endpoint.
type OllamaEmbedder struct {
	opts   Options
	client *http.Client
}

// NewOllamaEmbedder creates an Ollama embedder.
func NewOllamaEmbedder(opts Options) *OllamaEmbedder {
	opts = opts.withDefaults(defaultOllamaModel, defaultOllamaBaseURL)
	return &OllamaEmbedder{opts: opts, client: newHTTPClient(opts.Timeout)}
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Embed embeds one text.
func (e *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}
	rsp, err := retryWithBackoff(ctx, e.opts.Retry, func() (ollamaResponse, error) {
		var out ollamaResponse
		err := postJSON(ctx, e.client, e.opts.BaseURL+"/api/embeddings", "",
			ollamaRequest{Model: e.opts.Model, Prompt: text}, &out)
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: ollama: %v", ErrProviderFailed, err)
	}
	if err := checkVector(rsp.Embedding, e.opts.Dimensions); err != nil {
		return nil, err
	}
	return rsp.Embedding, nil
}

// EmbedBatch embeds texts one request at a time.
func (e *OllamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the configured dimension.
func (e *OllamaEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close is a no-op.
func (e *OllamaEmbedder) Close() error {
	return nil
}
