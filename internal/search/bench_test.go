package search

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

func BenchmarkFuse(b *testing.B) {
	vec := make([]*models.SearchResult, 100)
	kw := make([]*models.SearchResult, 100)
	for i := 0; i < 100; i++ {
		rec := &models.Record{ID: fmt.Sprintf("m%d", i%60)}
		vec[i] = &models.SearchResult{Record: rec, Similarity: float64(i) / 100, Relevance: float64(i) / 100}
		kw[i] = &models.SearchResult{Record: rec, Similarity: float64(100-i) / 100, Relevance: float64(100-i) / 100}
	}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = Fuse(BoostVector(vec, VectorBoost), kw)
	}
}

func benchEngine(b *testing.B, n int) *Engine {
	b.Helper()
	store := storage.NewMemoryStorage()
	embedder := embedding.NewMockEmbedder(384)
	ctx := context.Background()
	for i := 0; i < n; i++ {
		content := fmt.Sprintf("memory number %d about topic %d", i, i%17)
		emb, _ := embedder.Embed(ctx, content)
		rec := &models.Record{
			ID:             fmt.Sprintf("m%d", i),
			OwnerID:        "u1",
			Platform:       models.PlatformWeb,
			Content:        content,
			Embedding:      emb,
			Importance:     0.5,
			ConversationID: fmt.Sprintf("c%d", i%10),
			CreatedAt:      ago(time.Duration(i) * time.Minute),
		}
		if err := store.Create(ctx, rec); err != nil {
			b.Fatal(err)
		}
	}
	return NewEngine(store, embedder, WithClock(clock))
}

func BenchmarkRetrieve(b *testing.B) {
	e := benchEngine(b, 1000)
	ctx := context.Background()
	q := &models.Query{OwnerID: "u1", Text: "memory about topic 3", Limit: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.Retrieve(ctx, q)
	}
}

func BenchmarkRetrieveWithContext(b *testing.B) {
	e := benchEngine(b, 1000)
	ctx := context.Background()
	q := &models.Query{OwnerID: "u1", Text: "memory about topic 3", Limit: 10}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.RetrieveWithContext(ctx, q)
	}
}

func BenchmarkHybridSearch(b *testing.B) {
	e := benchEngine(b, 1000)
	ctx := context.Background()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = e.HybridSearch(ctx, "u1", "topic 3", nil)
	}
}
