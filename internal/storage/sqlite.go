package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/vector"
)

// SQLiteStorage implements Store using SQLite. Embeddings are stored as
// little-endian float32 blobs next to their slot, and vector search scans the
// owner's rows in that slot.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage opens or creates a SQLite database at dbPath and initializes the schema.
// Parent directories are created if they do not exist.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &SQLiteStorage{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id TEXT PRIMARY KEY,
		owner_id TEXT NOT NULL,
		platform TEXT NOT NULL,
		content TEXT NOT NULL,
		embedding BLOB,
		embedding_dim INTEGER,
		metadata TEXT,
		importance REAL NOT NULL DEFAULT 0.5,
		emotional_context TEXT,
		conversation_id TEXT,
		referenced_memories TEXT,
		created_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_memories_owner_created ON memories(owner_id, created_at);
	CREATE INDEX IF NOT EXISTS idx_memories_owner_dim ON memories(owner_id, embedding_dim);
	CREATE INDEX IF NOT EXISTS idx_memories_conversation ON memories(conversation_id);
	`
	_, err := db.Exec(schema)
	return err
}

const recordColumns = `id, owner_id, platform, content, embedding, metadata, importance,
	emotional_context, conversation_id, referenced_memories, created_at`

// Create inserts a record.
func (s *SQLiteStorage) Create(ctx context.Context, rec *models.Record) error {
	return s.insert(ctx, s.db, rec)
}

// BatchCreate inserts multiple records in a transaction.
func (s *SQLiteStorage) BatchCreate(ctx context.Context, recs []*models.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
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
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func (s *SQLiteStorage) insert(ctx context.Context, ex execer, rec *models.Record) error {
	if err := ValidateRecord(rec); err != nil {
		return err
	}
	cols, err := EncodeColumns(rec)
	if err != nil {
		return err
	}
	var blob []byte
	var dim sql.NullInt64
	if slot, ok := rec.Slot(); ok {
		blob = vector.Encode(rec.Embedding)
		dim = sql.NullInt64{Int64: int64(slot), Valid: true}
	}
	var conversation sql.NullString
	if rec.ConversationID != "" {
		conversation = sql.NullString{String: rec.ConversationID, Valid: true}
	}

	_, err = ex.ExecContext(ctx,
		`INSERT INTO memories (id, owner_id, platform, content, embedding, embedding_dim, metadata,
			importance, emotional_context, conversation_id, referenced_memories, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OwnerID, string(rec.Platform), rec.Content, blob, dim, cols.Metadata,
		rec.Importance, cols.Emotion, conversation, cols.References, rec.CreatedAt.UTC(),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("%w: %s", ErrAlreadyExists, rec.ID)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*models.Record, error) {
	var (
		rec          models.Record
		platform     string
		blob         []byte
		cols         RecordColumns
		conversation sql.NullString
	)
	if err := row.Scan(&rec.ID, &rec.OwnerID, &platform, &rec.Content, &blob, &cols.Metadata,
		&rec.Importance, &cols.Emotion, &conversation, &cols.References, &rec.CreatedAt); err != nil {
		return nil, err
	}
	rec.Platform = models.Platform(platform)
	rec.ConversationID = conversation.String
	if len(blob) > 0 {
		emb, err := vector.Decode(blob)
		if err != nil {
			return nil, err
		}
		rec.Embedding = emb
	}
	if err := cols.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// GetByID returns a record by ID.
func (s *SQLiteStorage) GetByID(ctx context.Context, id string) (*models.Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListByOwner returns the owner's most recent records, newest first.
func (s *SQLiteStorage) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*models.Record, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memories
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, rowid DESC
		 LIMIT ?`, ownerID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*models.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// VectorSearch scores every owner record in slot against query.
func (s *SQLiteStorage) VectorSearch(ctx context.Context, ownerID string, query []float32, slot models.Slot, limit int, threshold float64) ([]*ScoredRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	if len(query) != slot.Dimensions() {
		return nil, fmt.Errorf("%w: query has %d dimensions, slot %d", vector.ErrDimensionMismatch, len(query), slot)
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+recordColumns+` FROM memories
		 WHERE owner_id = ? AND embedding_dim = ?`, ownerID, int(slot))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []*ScoredRecord
	for rows.Next() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		sim := vector.CosineSimilarity(query, rec.Embedding)
		if sim > threshold {
			hits = append(hits, &ScoredRecord{Record: rec, Similarity: sim})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// Count returns the number of stored records.
func (s *SQLiteStorage) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM memories").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}
