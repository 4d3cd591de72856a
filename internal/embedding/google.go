package embedding

import (
	"context"
	"fmt"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

const defaultGoogleModel = "text-embedding-004"

// GoogleEmbedder calls the Gemini embedding API.
type GoogleEmbedder struct {
	opts   Options
	client *genai.Client
}

// NewGoogleEmbedder creates a Gemini embedder. An API key is required.
func NewGoogleEmbedder(ctx context.Context, opts Options) (*GoogleEmbedder, error) {
	opts = opts.withDefaults(defaultGoogleModel, "")
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: google api key is required", ErrProviderFailed)
	}
	clientOpts := []option.ClientOption{option.WithAPIKey(opts.APIKey)}
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, option.WithEndpoint(opts.BaseURL))
	}
	client, err := genai.NewClient(ctx, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("%w: google client: %v", ErrProviderFailed, err)
	}
	return &GoogleEmbedder{opts: opts, client: client}, nil
}

// Embed embeds one text.
func (e *GoogleEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := checkText(text); err != nil {
		return nil, err
	}
	model := e.client.EmbeddingModel(e.opts.Model)
	rsp, err := retryWithBackoff(ctx, e.opts.Retry, func() (*genai.EmbedContentResponse, error) {
		return model.EmbedContent(ctx, genai.Text(text))
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: google: %v", ErrProviderFailed, err)
	}
	if rsp == nil || rsp.Embedding == nil {
		return nil, fmt.Errorf("%w: no response from google", ErrProviderFailed)
	}
	if err := checkVector(rsp.Embedding.Values, e.opts.Dimensions); err != nil {
		return nil, err
	}
	return rsp.Embedding.Values, nil
}

// EmbedBatch embeds texts one request at a time.
func (e *GoogleEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return embedEach(ctx, e, texts)
}

// Dimensions returns the configured dimension.
func (e *GoogleEmbedder) Dimensions() int {
	return e.opts.Dimensions
}

// Close closes the client.
func (e *GoogleEmbedder) Close() error {
	return e.client.Close()
}
