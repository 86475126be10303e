// Package sqlite provides a durable core.MemoryStore backed by SQLite.
// Embedding vectors are stored as little-endian float32 blobs and scored in
// process; at conversational scale a session's record count stays small
// enough that a linear scan beats maintaining a separate vector index.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
	"github.com/lumenstack/concierge/memory"
)

// Options configure a Store.
type Options struct {
	// RecallTimeout bounds one recall, embedding included. On expiry the
	// store returns an empty result set rather than an error.
	RecallTimeout time.Duration
	Logger        logging.Logger
}

// Store implements core.MemoryStore on a SQLite database.
type Store struct {
	db       *sql.DB
	embedder core.Embedder
	timeout  time.Duration
	logger   logging.Logger
}

// New opens (or creates) the database at dbPath and initializes the schema.
func New(dbPath string, embedder core.Embedder, optFns ...func(o *Options)) (*Store, error) {
	opts := Options{RecallTimeout: 2 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// WAL for concurrent readers during writes.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	store := &Store{db: db, embedder: embedder, timeout: opts.RecallTimeout, logger: opts.Logger}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *Store) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS memory_records (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		text TEXT NOT NULL,
		embedding BLOB NOT NULL,
		role TEXT NOT NULL,
		capability TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memory_session ON memory_records(session_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Write indexes a turn for semantic recall. Idempotent on turn ID: the upsert
// overwrites any prior record with the same id.
func (s *Store) Write(ctx context.Context, sessionID string, turn core.Turn) (string, error) {
	text := memory.IndexText(turn)
	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed turn: %w", err)
	}

	var capability sql.NullString
	if turn.Capability != nil {
		capability = sql.NullString{String: turn.Capability.Name, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO memory_records (id, session_id, text, embedding, role, capability, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			text = excluded.text,
			embedding = excluded.embedding,
			capability = excluded.capability`,
		turn.ID, sessionID, text, encodeVector(vec), string(turn.Role), capability, turn.Timestamp.UnixNano(),
	)
	if err != nil {
		return "", fmt.Errorf("write memory record: %w", err)
	}
	return turn.ID, nil
}

// Recall returns up to k records most similar to query, most-similar first,
// ties broken by recency. A recall that cannot complete within the configured
// budget degrades to an empty slice rather than failing the turn.
func (s *Store) Recall(ctx context.Context, sessionID, query string, k int) ([]core.MemoryRecord, error) {
	if k <= 0 {
		return []core.MemoryRecord{}, nil
	}

	recallCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	queryVec, err := s.embedder.Embed(recallCtx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("memory recall degraded to empty context", "session_id", sessionID, "error", err)
		return []core.MemoryRecord{}, nil
	}

	rows, err := s.db.QueryContext(recallCtx, `
		SELECT id, text, embedding, role, capability, created_at
		FROM memory_records WHERE session_id = ?`, sessionID)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("memory recall degraded to empty context", "session_id", sessionID, "error", err)
		return []core.MemoryRecord{}, nil
	}
	defer func() { _ = rows.Close() }()

	var scored []core.MemoryRecord
	for rows.Next() {
		var (
			rec        core.MemoryRecord
			blob       []byte
			role       string
			capability sql.NullString
			createdAt  int64
		)
		if err := rows.Scan(&rec.ID, &rec.Text, &blob, &role, &capability, &createdAt); err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.SessionID = sessionID
		rec.Embedding = decodeVector(blob)
		rec.Timestamp = time.Unix(0, createdAt).UTC()
		rec.Score = memory.Cosine(queryVec, rec.Embedding)
		rec.Metadata = map[string]any{"role": role, "timestamp": rec.Timestamp}
		if capability.Valid {
			rec.Metadata["capability"] = capability.String
		}
		scored = append(scored, rec)
	}
	if err := rows.Err(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("memory recall degraded to empty context", "session_id", sessionID, "error", err)
		return []core.MemoryRecord{}, nil
	}

	memory.SortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	if scored == nil {
		scored = []core.MemoryRecord{}
	}
	return scored, nil
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}
