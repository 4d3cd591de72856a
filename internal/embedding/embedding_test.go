package embedding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hyperjump/kioku/internal/config"
)

func fastRetry() RetryConfig {
	return RetryConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond, Multiplier: 2}
}

func TestMockEmbedder_Deterministic(t *testing.T) {
	e := NewMockEmbedder(384)
	a, err := e.Embed(context.Background(), "ramen in osaka")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "ramen in osaka")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 384)

	_, err = e.Embed(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyText)

	e.FailWith(ErrProviderFailed)
	_, err = e.Embed(context.Background(), "x")
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, 4, e.Calls())
}

func TestCachedEmbedder(t *testing.T) {
	inner := NewMockEmbedder(8)
	c, err := NewCachedEmbedder(inner, 2)
	require.NoError(t, err)
	ctx := context.Background()

	first, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	first[0] = 42 // callers may mutate their copy
	second, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	assert.NotEqual(t, float32(42), second[0])
	assert.Equal(t, 1, inner.Calls())

	out, err := c.EmbedBatch(ctx, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, second, out[0])
	assert.Equal(t, 3, inner.Calls(), "only b and c should reach the provider")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, 8, c.Dimensions())

	inner.FailWith(ErrProviderFailed)
	_, err = c.Embed(ctx, "zzz")
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1, 0.2, 0.3}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{BaseURL: srv.URL + "/", Dimensions: 3, Retry: fastRetry()})
	v, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, v)

	batch, err := e.EmbedBatch(context.Background(), []string{"hello", "hello"})
	require.NoError(t, err)
	assert.Len(t, batch, 2)
}

func TestOllamaEmbedder_WrongDimension(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{0.1}})
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{BaseURL: srv.URL, Dimensions: 768, Retry: fastRetry()})
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrProviderFailed)
}

func TestOllamaEmbedder_RetriesThenFails(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	e := NewOllamaEmbedder(Options{BaseURL: srv.URL, Retry: fastRetry()})
	_, err := e.Embed(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrProviderFailed)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestRetryWithBackoff_RecoversAndStopsOnCancel(t *testing.T) {
	attempts := 0
	v, err := retryWithBackoff(context.Background(), fastRetry(), func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("transient")
		}
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = retryWithBackoff(ctx, fastRetry(), func() (int, error) { return 0, errors.New("boom") })
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCohereEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embed", r.URL.Path)
		assert.Equal(t, "Bearer co-key", r.Header.Get("Authorization"))
		var req cohereRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_document", req.InputType)
		out := cohereResponse{}
		for range req.Texts {
			out.Embeddings = append(out.Embeddings, []float32{1, 0})
		}
		_ = json.NewEncoder(w).Encode(out)
	}))
	defer srv.Close()

	_, err := NewCohereEmbedder(Options{BaseURL: srv.URL})
	assert.Error(t, err, "api key is required")

	e, err := NewCohereEmbedder(Options{BaseURL: srv.URL, APIKey: "co-key", Dimensions: 2, Retry: fastRetry()})
	require.NoError(t, err)
	out, err := e.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {1, 0}}, out)
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","model":"text-embedding-3-small","data":[
			{"object":"embedding","index":1,"embedding":[0,1]},
			{"object":"embedding","index":0,"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	e, err := NewOpenAIEmbedder(Options{APIKey: "sk-test", BaseURL: srv.URL, Dimensions: 2, Retry: fastRetry()})
	require.NoError(t, err)
	out, err := e.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1, 0}, {0, 1}}, out)
}

func TestNew(t *testing.T) {
	e, err := New(context.Background(), config.EmbeddingConfig{Provider: ProviderMock, Dimensions: 384, CacheSize: 10}, nil)
	require.NoError(t, err)
	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
	assert.Equal(t, 384, e.Dimensions())

	e, err = New(context.Background(), config.EmbeddingConfig{Provider: ProviderOllama, Dimensions: 768}, nil)
	require.NoError(t, err)
	_, ok = e.(*OllamaEmbedder)
	assert.True(t, ok)

	_, err = New(context.Background(), config.EmbeddingConfig{Provider: "word2vec"}, nil)
	assert.ErrorIs(t, err, ErrUnsupportedProvider)
}
