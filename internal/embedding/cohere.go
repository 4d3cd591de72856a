package embedding

import (
	"context"
	"fmt"
	"net/http"
)

const (
	defaultCohereModel   = "embed-english-v3.0"
	defaultCohereBaseURL = "https://api.cohere.ai"
)

// CohereEmbedder calls Cohere's /v1/embed endpoint with input_type search_document.
type CohereEmbedder struct {
	opts   Options
	client *http.Client
}

// NewCohereEmbedder creates a Cohere embedder. An API key is required.
func NewCohereEmbedder(opts Options) (*CohereEmbedder, error) {
	opts = opts.withDefaults(defaultCohereModel, defaultCohereBaseURL)
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: cohere api key is required", ErrProviderFailed)
	}
	return &CohereEmbedder{opts: opts, client: newHTTPClient(opts.Timeout)}, nil
}

type cohereRequest struct {
	Model     string   `json:"model"`
	Texts     []string `json:"texts"`
	InputType string   `json:"input_type"`
}

type cohereResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
}

// Embed embeds one text.
func (e *CohereEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// EmbedBatch embeds all texts in one request.
func (e *CohereEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for _, t := range texts {
		if err := checkText(t); err != nil {
			return nil, err
		}
	}
	rsp, err := retryWithBackoff(ctx, e.opts.Retry, func() (cohereResponse, error) {
		var out cohereResponse
		err := postJSON(ctx, e.client, e.opts.BaseURL+"/v1/embed", e.opts.APIKey,
			cohereRequest{Model: e.opts.Model, Texts: texts, InputType: "search_document"}, &out)
		return out, err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: cohere: %v", ErrProviderFailed, err)
	}
	if len(rsp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: cohere returned %d embeddings for %d texts", ErrProviderFailed, len(rsp.Embeddings), len(texts))
	}
	for _, v := range rsp.Embeddings {
		if err := checkVector(v, e.opts.Dimensions); err != nil {
			return nil, err
		}
	}
	return rsp.Embeddings, nil
}

// Dimensions returns the configured dimension.
func (e *CohereEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close is a no-op.
func (e *CohereEmbedder) Close() error {
	return nil
}
