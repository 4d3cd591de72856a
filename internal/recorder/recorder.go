// Package recorder is the write path: it embeds and stores new memory records.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/embedding"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

// BatchSize is how many contents RememberBatch sends to the embedder at once.
const BatchSize = 10

// Recorder stores records, embedding their content first.
type Recorder struct {
	store    storage.Store
	embedder embedding.Embedder
	logger   *zap.Logger
	now      func() time.Time
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets a logger for debug output.
func WithLogger(l *zap.Logger) Option {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// New creates a recorder. embedder may be nil, in which case records are stored without embeddings.
func New(store storage.Store, embedder embedding.Embedder, opts ...Option) *Recorder {
	r := &Recorder{
		store:    store,
		embedder: embedder,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// build validates in and returns the record to store, without its embedding.
func (r *Recorder) build(in *models.RecordInput) (*models.Record, error) {
	if in == nil {
		return nil, fmt.Errorf("%w: input is required", models.ErrInvalidRecord)
	}
	content := Preprocess(in.Content)
	normalized := *in
	normalized.Content = content
	if err := normalized.Validate(); err != nil {
		return nil, err
	}

	importance := models.DefaultImportance
	if in.Importance != nil {
		importance = models.ClampImportance(*in.Importance)
	}
	return &models.Record{
		ID:             uuid.New().String(),
		OwnerID:        in.OwnerID,
		Platform:       in.Platform,
		Content:        content,
		Metadata:       in.Metadata,
		Importance:     importance,
		Emotion:        in.Emotion,
		CreatedAt:      r.now().UTC(),
		ConversationID: in.ConversationID,
		References:     in.References,
	}, nil
}

// attach sets emb on rec when it fits a dimension slot. Anything else leaves rec unembedded.
func (r *Recorder) attach(rec *models.Record, emb []float32) {
	if _, ok := models.SlotForDimension(len(emb)); !ok {
		r.logger.Warn("embedding has unsupported dimension, storing without it",
			zap.String("id", rec.ID), zap.Int("dimensions", len(emb)))
		return
	}
	rec.Embedding = emb
}

// Remember stores one record. Embedding failures are logged and the record
// is stored without a vector so that it stays reachable through recency and
// keyword search.
func (r *Recorder) Remember(ctx context.Context, in *models.RecordInput) (*models.Record, error) {
	rec, err := r.build(in)
	if err != nil {
		return nil, err
	}

	if r.embedder != nil {
		emb, err := r.embedder.Embed(ctx, rec.Content)
		switch {
		case err == nil:
			r.attach(rec, emb)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			r.logger.Warn("embedding failed, storing without vector", zap.String("id", rec.ID), zap.Error(err))
		}
	}

	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store record: %w", err)
	}
	r.logger.Debug("record stored",
		zap.String("id", rec.ID),
		zap.String("owner", rec.OwnerID),
		zap.Bool("embedded", len(rec.Embedding) > 0))
	return rec, nil
}

// RememberBatch validates every input, embeds contents BatchSize at a time
// and stores all records in one batch. Nothing is stored if any input is invalid.
func (r *Recorder) RememberBatch(ctx context.Context, inputs []*models.RecordInput) ([]*models.Record, error) {
	recs := make([]*models.Record, len(inputs))
	for i, in := range inputs {
		rec, err := r.build(in)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", i, err)
		}
		recs[i] = rec
	}

	if r.embedder != nil {
		for start := 0; start < len(recs); start += BatchSize {
			end := min(start+BatchSize, len(recs))
			texts := make([]string, 0, end-start)
			for _, rec := range recs[start:end] {
				texts = append(texts, rec.Content)
			}
			embs, err := r.embedder.EmbedBatch(ctx, texts)
			if err != nil {
				if ctx.Err() != nil {
					return nil, ctx.Err()
				}
				r.logger.Warn("batch embedding failed, storing without vectors",
					zap.Int("offset", start), zap.Int("count", len(texts)), zap.Error(err))
				continue
			}
			if len(embs) != len(texts) {
				return nil, fmt.Errorf("%w: got %d embeddings for %d texts", embedding.ErrProviderFailed, len(embs), len(texts))
			}
			for j, emb := range embs {
				r.attach(recs[start+j], emb)
			}
		}
	}

	if err := r.store.BatchCreate(ctx, recs); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to store records: %w", err)
	}
	r.logger.Debug("records stored", zap.Int("count", len(recs)))
	return recs, nil
}
