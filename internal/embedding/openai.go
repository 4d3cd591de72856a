package embedding

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

const (
	defaultOpenAIModel   = "text-embedding-3-small"
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
)

// OpenAIEmbedder calls the OpenAI embeddings API or any compatible endpoint.
type OpenAIEmbedder struct {
	opts   Options
	client *openai.Client
}

// NewOpenAIEmbedder creates an OpenAI embedder. An API key is required.
func NewOpenAIEmbedder(opts Options) (*OpenAIEmbedder, error) {
	opts = opts.withDefaults(defaultOpenAIModel, defaultOpenAIBaseURL)
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: openai api key is required", ErrProviderFailed)
	}
	cfg := openai.DefaultConfig(opts.APIKey)
	cfg.BaseURL = opts.BaseURL
	cfg.HTTPClient = newHTTPClient(opts.Timeout)
	return &OpenAIEmbedder{opts: opts, client: openai.NewClientWithConfig(cfg)}, nil
}

// Embed embeds a single text.
func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in one request.
func (e *OpenAIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if err := checkText(t); err != nil {
			return nil, err
		}
	}

	rsp, err := retryWithBackoff(ctx, e.opts.Retry, func() (openai.EmbeddingResponse, error) {
		return e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: texts,
			Model: openai.EmbeddingModel(e.opts.Model),
		})
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: openai: %v", ErrProviderFailed, err)
	}
	if len(rsp.Data) != len(texts) {
		return nil, fmt.Errorf("%w: openai returned %d embeddings for %d texts", ErrProviderFailed, len(rsp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range rsp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("%w: openai returned index %d", ErrProviderFailed, d.Index)
		}
		if err := checkVector(d.Embedding, e.opts.Dimensions); err != nil {
			return nil, err
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

// Dimensions returns the configured dimension.
func (e *OpenAIEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close is a no-op.
func (e *OpenAIEmbedder) Close() error {
	return nil
}
