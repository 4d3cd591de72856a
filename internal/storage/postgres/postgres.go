// Package postgres is a pgvector-backed storage.Store.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"go.nhat.io/otelsql"
	semconv "go.opentelemetry.io/otel/semconv/v1.20.0"
	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/storage"
)

var driverName string

func init() {
	driver, err := otelsql.Register(
		"postgres",
		otelsql.TraceQueryWithoutArgs(),
		otelsql.TraceRowsClose(),
		otelsql.TraceRowsAffected(),
		otelsql.WithSystem(semconv.DBSystemPostgreSQL),
	)
	if err != nil {
		panic("failed to register postgres driver with otel: " + err.Error())
	}
	driverName = driver
}

// Store keeps records in a memories table with one vector column per slot.
type Store struct {
	conn   *sql.DB
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// New connects to url, ensures the schema and returns the store.
func New(ctx context.Context, url string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	conn, err := sql.Open(driverName, url)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if err := otelsql.RecordStats(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("record db stats: %w", err)
	}

	s.conn = conn
	if err := s.initSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	s.logger.Debug("postgres store ready")
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			platform TEXT NOT NULL,
			content TEXT NOT NULL,
			content_vector_384 vector(384),
			content_vector_768 vector(768),
			content_vector_1024 vector(1024),
			content_vector_1536 vector(1536),
			metadata JSONB,
			importance REAL NOT NULL DEFAULT 0.5,
			emotional_context JSONB,
			conversation_id TEXT,
			referenced_memories JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_owner_created ON memories(owner_id, created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func vectorColumn(slot models.Slot) (string, error) {
	switch slot {
	case models.Slot384:
		return "content_vector_384", nil
	case models.Slot768:
		return "content_vector_768", nil
	case models.Slot1024:
		return "content_vector_1024", nil
	case models.Slot1536:
		return "content_vector_1536", nil
	default:
		return "", fmt.Errorf("unsupported slot %d", slot)
	}
}

const selectColumns = `id, owner_id, platform, content,
	COALESCE(content_vector_384::text, content_vector_768::text, content_vector_1024::text, content_vector_1536::text),
	metadata, importance, emotional_context, conversation_id, referenced_memories, created_at`

// Create inserts a record.
func (s *Store) Create(ctx context.Context, rec *models.Record) error {
	return s.insert(ctx, s.conn, rec)
}

// BatchCreate inserts all records in one transaction.
func (s *Store) BatchCreate(ctx context.Context, recs []*models.Record) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, rec := range recs {
		if err := s.insert(ctx, tx, rec); err != nil {
			return err
		}
	}
	return tx.Commit()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) insert(ctx context.Context, ex execer, rec *models.Record) error {
	if err := storage.ValidateRecord(rec); err != nil {
		return err
	}
	cols, err := storage.EncodeColumns(rec)
	if err != nil {
		return err
	}

	names := []string{"id", "owner_id", "platform", "content", "metadata", "importance",
		"emotional_context", "conversation_id", "referenced_memories", "created_at"}
	args := []any{rec.ID, rec.OwnerID, string(rec.Platform), rec.Content, cols.Metadata, rec.Importance,
		cols.Emotion, nullString(rec.ConversationID), cols.References, rec.CreatedAt.UTC()}
	if slot, ok := rec.Slot(); ok {
		col, err := vectorColumn(slot)
		if err != nil {
			return err
		}
		names = append(names, col)
		args = append(args, pgvector.NewVector(rec.Embedding))
	}

	placeholders := make([]string, len(args))
	for i := range args {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO memories (%s) VALUES (%s)",
		strings.Join(names, ", "), strings.Join(placeholders, ", "))

	if _, err := ex.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			return fmt.Errorf("%w: %s", storage.ErrAlreadyExists, rec.ID)
		}
		return fmt.Errorf("insert memory: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner, extra ...any) (*models.Record, error) {
	var (
		rec      models.Record
		platform string
		vec      sql.NullString
		cols     storage.RecordColumns
		conv     sql.NullString
		created  time.Time
	)
	dest := append([]any{&rec.ID, &rec.OwnerID, &platform, &rec.Content, &vec,
		&cols.Metadata, &rec.Importance, &cols.Emotion, &conv, &cols.References, &created}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	rec.Platform = models.Platform(platform)
	rec.ConversationID = conv.String
	rec.CreatedAt = created.UTC()
	if vec.Valid {
		var v pgvector.Vector
		if err := v.Parse(vec.String); err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		rec.Embedding = v.Slice()
	}
	if err := cols.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID returns the record or storage.ErrNotFound.
func (s *Store) GetByID(ctx context.Context, id string) (*models.Record, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM memories WHERE id = $1`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", storage.ErrNotFound, id)
	}
	return rec, err
}

// ListByOwner returns the owner's newest records.
func (s *Store) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM memories WHERE owner_id = $1 ORDER BY created_at DESC LIMIT $2`,
		ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// VectorSearch runs a cosine distance query against the slot's column.
func (s *Store) VectorSearch(ctx context.Context, ownerID string, query []float32, slot models.Slot, limit int, threshold float64) ([]*storage.ScoredRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(query) != slot.Dimensions() {
		return nil, fmt.Errorf("query has %d dimensions, slot %d", len(query), slot)
	}
	col, err := vectorColumn(slot)
	if err != nil {
		return nil, err
	}

	q := fmt.Sprintf(`SELECT %s, 1 - (%[2]s <=> $2) AS similarity
		FROM memories
		WHERE owner_id = $1 AND %[2]s IS NOT NULL AND 1 - (%[2]s <=> $2) > $3
		ORDER BY %[2]s <=> $2
		LIMIT $4`, selectColumns, col)

	rows, err := s.conn.QueryContext(ctx, q, ownerID, pgvector.NewVector(query), threshold, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*storage.ScoredRecord
	for rows.Next() {
		var sim float64
		rec, err := scanRecord(rows, &sim)
		if err != nil {
			return nil, err
		}
		hits = append(hits, &storage.ScoredRecord{Record: rec, Similarity: sim})
	}
	return hits, rows.Err()
}

// Count returns the number of stored records.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.conn.Close()
}
