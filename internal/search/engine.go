package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/keyword"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/scoring"
	"github.com/hyperjump/kioku/internal/storage"
	"github.com/hyperjump/kioku/internal/vector"
)

// Options are the engine tunables. Zero fields take the defaults.
type Options struct {
	DefaultLimit       int
	DefaultThreshold   float64
	KeywordWindow      int
	ContextWindow      int
	ContextConcurrency int
}

// DefaultOptions returns the built-in tunables.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:       models.DefaultLimit,
		DefaultThreshold:   models.DefaultThreshold,
		KeywordWindow:      100,
		ContextWindow:      50,
		ContextConcurrency: 8,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.DefaultLimit <= 0 {
		o.DefaultLimit = d.DefaultLimit
	}
	if o.DefaultThreshold <= 0 || o.DefaultThreshold > 1 {
		o.DefaultThreshold = d.DefaultThreshold
	}
	if o.KeywordWindow <= 0 {
		o.KeywordWindow = d.KeywordWindow
	}
	if o.ContextWindow <= 0 {
		o.ContextWindow = d.ContextWindow
	}
	if o.ContextConcurrency <= 0 {
		o.ContextConcurrency = d.ContextConcurrency
	}
	return o
}

// Engine answers retrieval queries over a record store. It keeps no state
// between calls apart from its tunables, which may be swapped at any time.
type Engine struct {
	store    storage.RecordStore
	embedder embedding.Embedder
	logger   *zap.Logger
	now      func() time.Time
	opts     atomic.Pointer[Options]
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithOptions sets the engine tunables.
func WithOptions(o Options) EngineOption {
	return func(e *Engine) { e.SetOptions(o) }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine. embedder may be nil, in which case text
// queries take the recency or keyword-only paths.
func NewEngine(store storage.RecordStore, embedder embedding.Embedder, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		embedder: embedder,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	e.SetOptions(DefaultOptions())
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// SetOptions atomically replaces the tunables.
func (e *Engine) SetOptions(o Options) {
	o = o.withDefaults()
	e.opts.Store(&o)
}

// Options returns the current tunables.
func (e *Engine) Options() Options {
	return *e.opts.Load()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrUnavailable, err)
}

// prepare validates q and returns a copy with defaults applied.
func (e *Engine) prepare(q *models.Query, o Options) (*models.Query, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}
	q = q.Clone()
	if q.Limit == 0 {
		q.Limit = o.DefaultLimit
	}
	if q.Threshold == nil {
		t := o.DefaultThreshold
		q.Threshold = &t
	}
	if len(q.Embedding) > 0 {
		if _, ok := models.SlotForDimension(len(q.Embedding)); !ok {
			return nil, fmt.Errorf("%w: unsupported embedding dimension %d", models.ErrInvalidQuery, len(q.Embedding))
		}
	}
	return q, nil
}

// embed returns a usable query embedding for text, or nil when the provider
// is missing, fails or answers with an unsupported dimension.
func (e *Engine) embed(ctx context.Context, text string) ([]float32, error) {
	if e.embedder == nil || strings.TrimSpace(text) == "" {
		return nil, nil
	}
	emb, err := e.embedder.Embed(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		e.logger.Warn("query embedding failed, degrading", zap.Error(err))
		return nil, nil
	}
	if _, ok := models.SlotForDimension(len(emb)); !ok {
		e.logger.Warn("query embedding has unsupported dimension, degrading", zap.Int("dimensions", len(emb)))
		return nil, nil
	}
	return emb, nil
}

// Retrieve returns up to q.Limit of the owner's records ranked by combined
// score. Without a usable embedding it ranks the owner's most recent records.
func (e *Engine) Retrieve(ctx context.Context, q *models.Query) ([]*models.SearchResult, error) {
	o := e.Options()
	q, err := e.prepare(q, o)
	if err != nil {
		return nil, err
	}
	if len(q.Embedding) == 0 {
		emb, err := e.embed(ctx, q.Text)
		if err != nil {
			return nil, err
		}
		q.Embedding = emb
	}
	return e.retrieve(ctx, q)
}

// retrieve runs on a prepared query.
func (e *Engine) retrieve(ctx context.Context, q *models.Query) ([]*models.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(q.Embedding) == 0 {
		return e.recentResults(ctx, q)
	}

	slot, _ := models.SlotForDimension(len(q.Embedding))
	hits, err := e.store.VectorSearch(ctx, q.OwnerID, q.Embedding, slot, 2*q.Limit, *q.Threshold)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("vector search", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]*models.SearchResult, 0, len(hits))
	for _, h := range hits {
		if !admits(q, h.Record) {
			continue
		}
		r := &models.SearchResult{
			Record:     h.Record,
			Similarity: h.Similarity,
			Relevance:  scoring.Relevance(h.Record, q, h.Similarity),
		}
		scoring.Memoize(r, now)
		if !admitsMood(q, h.Record) {
			continue
		}
		results = append(results, r)
	}

	scoring.Rank(results, now)
	return truncate(results, q.Limit), nil
}

func (e *Engine) recentResults(ctx context.Context, q *models.Query) ([]*models.SearchResult, error) {
	recs, err := e.store.ListByOwner(ctx, q.OwnerID, q.Limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("list records", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	now := e.now()
	results := make([]*models.SearchResult, 0, len(recs))
	for _, rec := range recs {
		results = append(results, &models.SearchResult{
			Record:     rec,
			Similarity: 1.0,
			Relevance:  scoring.BaselineRelevance(rec, q),
		})
	}
	scoring.Rank(results, now)
	return truncate(results, q.Limit), nil
}

// admits applies the platform and time-range filters.
func admits(q *models.Query, rec *models.Record) bool {
	return q.AllowsPlatform(rec.Platform) && q.TimeRange.Contains(rec.CreatedAt)
}

// admitsMood drops records without a listed mood when the query filters by mood.
func admitsMood(q *models.Query, rec *models.Record) bool {
	if !q.HasMoodFilter() {
		return true
	}
	return rec.Emotion != nil && q.AllowsMood(rec.Emotion.Mood)
}

func truncate(results []*models.SearchResult, limit int) []*models.SearchResult {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}

// RetrieveWithContext runs Retrieve and adds the records that share a
// conversation with, or are referenced by, the primary results. No primary
// record appears in the context list and the context list has no duplicates.
func (e *Engine) RetrieveWithContext(ctx context.Context, q *models.Query) (*models.ContextResult, error) {
	primary, err := e.Retrieve(ctx, q)
	if err != nil {
		return nil, err
	}
	o := e.Options()

	seen := make(map[string]struct{}, len(primary))
	for _, r := range primary {
		seen[r.Record.ID] = struct{}{}
	}

	threads := make(map[string]struct{})
	var refIDs []string
	refSeen := make(map[string]struct{})
	for _, r := range primary {
		if c := r.Record.ConversationID; c != "" {
			threads[c] = struct{}{}
		}
		for _, ref := range r.Record.References {
			if _, dup := refSeen[ref]; dup {
				continue
			}
			refSeen[ref] = struct{}{}
			if _, inPrimary := seen[ref]; !inPrimary {
				refIDs = append(refIDs, ref)
			}
		}
	}

	var threadRecs []*models.Record
	refRecs := make([]*models.Record, len(refIDs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.ContextConcurrency)
	if len(threads) > 0 {
		g.Go(func() error {
			recs, err := e.store.ListByOwner(gctx, q.OwnerID, o.ContextWindow)
			if err != nil {
				return unavailable("list thread records", err)
			}
			for _, rec := range recs {
				if _, ok := threads[rec.ConversationID]; ok && rec.ConversationID != "" {
					threadRecs = append(threadRecs, rec)
				}
			}
			return nil
		})
	}
	for i, id := range refIDs {
		g.Go(func() error {
			rec, err := e.store.GetByID(gctx, id)
			if errors.Is(err, storage.ErrNotFound) {
				return nil
			}
			if err != nil {
				return unavailable("resolve reference", err)
			}
			if rec.OwnerID != q.OwnerID {
				e.logger.Debug("skipping reference owned by another owner", zap.String("id", id))
				return nil
			}
			refRecs[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	supplementary := make([]*models.Record, 0, len(threadRecs)+len(refRecs))
	for _, rec := range append(threadRecs, refRecs...) {
		if rec == nil {
			continue
		}
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		supplementary = append(supplementary, rec)
	}

	return &models.ContextResult{Primary: primary, Context: supplementary}, nil
}

// HybridSearch fuses a vector pass and a keyword pass over the owner's
// records. The two passes run concurrently. When no embedding can be
// obtained the result is keyword-only. q may be nil.
func (e *Engine) HybridSearch(ctx context.Context, ownerID, text string, q *models.Query) ([]*models.SearchResult, error) {
	if q == nil {
		q = &models.Query{}
	}
	q = q.Clone()
	q.OwnerID = ownerID
	q.Text = text

	o := e.Options()
	q, err := e.prepare(q, o)
	if err != nil {
		return nil, err
	}

	var vectorResults, keywordResults []*models.SearchResult
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		vq := q.Clone()
		if len(vq.Embedding) == 0 {
			emb, err := e.embed(gctx, text)
			if err != nil {
				return err
			}
			if emb == nil {
				return nil
			}
			vq.Embedding = emb
		}
		res, err := e.retrieve(gctx, vq)
		if err != nil {
			return err
		}
		vectorResults = BoostVector(res, VectorBoost)
		return nil
	})

	g.Go(func() error {
		terms := keyword.ExtractKeywords(text)
		if len(terms) == 0 {
			return nil
		}
		recs, err := e.store.ListByOwner(gctx, q.OwnerID, o.KeywordWindow)
		if err != nil {
			return unavailable("list keyword candidates", err)
		}
		for _, rec := range recs {
			if !keyword.Matches(rec.Content, terms) || !admits(q, rec) || !admitsMood(q, rec) {
				continue
			}
			keywordResults = append(keywordResults, &models.SearchResult{
				Record:     rec,
				Similarity: keyword.Similarity(rec.Content, terms),
				Relevance:  scoring.BaselineRelevance(rec, q),
			})
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}

	fused := Fuse(vectorResults, keywordResults)
	scoring.Rank(fused, e.now())
	return truncate(fused, q.Limit), nil
}

// Recent returns the owner's newest records created within window, newest first.
func (e *Engine) Recent(ctx context.Context, ownerID string, window time.Duration, limit int) ([]*models.Record, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner id is required", models.ErrInvalidQuery)
	}
	if limit < 0 || window < 0 {
		return nil, fmt.Errorf("%w: window and limit must not be negative", models.ErrInvalidQuery)
	}
	if limit == 0 {
		limit = 50
	}
	if window == 0 {
		window = 24 * time.Hour
	}

	recs, err := e.store.ListByOwner(ctx, ownerID, limit)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, unavailable("list recent records", err)
	}
	cutoff := e.now().Add(-window)
	out := make([]*models.Record, 0, len(recs))
	for _, rec := range recs {
		if !rec.CreatedAt.Before(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// EmbedCues embeds every cue and combines them into one unit query vector.
// A nil weights slice weighs the cues equally.
func (e *Engine) EmbedCues(ctx context.Context, cues []string, weights []float64) ([]float32, error) {
	if len(cues) == 0 {
		return nil, fmt.Errorf("%w: at least one cue is required", models.ErrInvalidQuery)
	}
	if weights != nil && len(weights) != len(cues) {
		return nil, fmt.Errorf("%w: %d weights for %d cues", models.ErrInvalidQuery, len(weights), len(cues))
	}
	if e.embedder == nil {
		return nil, fmt.Errorf("%w: no embedding provider configured", models.ErrUnavailable)
	}
	vecs, err := e.embedder.EmbedBatch(ctx, cues)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, embedding.ErrEmptyText) {
			return nil, fmt.Errorf("%w: %w", models.ErrInvalidQuery, err)
		}
		return nil, fmt.Errorf("embed cues: %w: %w", models.ErrUnavailable, err)
	}
	combined, err := vector.Combine(vecs, weights)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrInvalidQuery, err)
	}
	return combined, nil
}
