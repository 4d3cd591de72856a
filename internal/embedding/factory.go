package embedding

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/pkg/utils"
)

// New builds the embedder named by cfg.Provider, wrapped in an LRU cache when cfg.CacheSize > 0.
func New(ctx context.Context, cfg config.EmbeddingConfig, logger *zap.Logger) (Embedder, error) {
	logger = utils.OrNop(logger)
	opts := Options{
		Model:      cfg.Model,
		APIKey:     cfg.APIKey,
		BaseURL:    cfg.BaseURL,
		Dimensions: cfg.Dimensions,
		Timeout:    cfg.Timeout,
	}

	var (
		e   Embedder
		err error
	)
	switch cfg.Provider {
	case ProviderOpenAI:
		e, err = NewOpenAIEmbedder(opts)
	case ProviderOllama:
		e = NewOllamaEmbedder(opts)
	case ProviderCohere:
		e, err = NewCohereEmbedder(opts)
	case ProviderGoogle:
		e, err = NewGoogleEmbedder(ctx, opts)
	case ProviderONNX:
		e, err = NewONNXEmbedder(cfg.ModelPath, cfg.Dimensions, cfg.MaxTokens)
	case ProviderMock:
		e = NewMockEmbedder(cfg.Dimensions)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, cfg.Provider)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("embedding provider ready",
		zap.String("provider", cfg.Provider),
		zap.String("model", cfg.Model),
		zap.Int("dimensions", e.Dimensions()))

	if cfg.CacheSize <= 0 {
		return e, nil
	}
	cached, err := NewCachedEmbedder(e, cfg.CacheSize)
	if err != nil {
		_ = e.Close()
		return nil, err
	}
	return cached, nil
}
