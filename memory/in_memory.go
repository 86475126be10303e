package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/logging"
)

// Options configure an InMemoryStore.
type Options struct {
	// RecallTimeout bounds one recall, embedding included. On expiry the
	// store returns an empty result set rather than an error.
	RecallTimeout time.Duration
	Logger        logging.Logger
}

// InMemoryStore is a process-local core.MemoryStore holding embedding vectors
// in a map. Writes are keyed by turn ID so a duplicate write overwrites the
// prior record instead of double-inserting. Recall scores by cosine
// similarity with recency as the tie-break.
//
// Concurrency: protected by RWMutex; safe for concurrent use across sessions.
type InMemoryStore struct {
	embedder core.Embedder
	timeout  time.Duration
	logger   logging.Logger

	mu      sync.RWMutex
	records map[string]map[string]core.MemoryRecord // sessionID -> turnID -> record
}

// NewInMemoryStore creates an in-memory store over the given embedder.
func NewInMemoryStore(embedder core.Embedder, optFns ...func(o *Options)) *InMemoryStore {
	opts := Options{RecallTimeout: 2 * time.Second, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &InMemoryStore{
		embedder: embedder,
		timeout:  opts.RecallTimeout,
		logger:   opts.Logger,
		records:  make(map[string]map[string]core.MemoryRecord),
	}
}

// Write indexes a turn for semantic recall. Idempotent on turn ID. The
// record is visible to subsequent recalls in the same session as soon as
// Write returns.
func (m *InMemoryStore) Write(ctx context.Context, sessionID string, turn core.Turn) (string, error) {
	text := IndexText(turn)
	vec, err := m.embedder.Embed(ctx, text)
	if err != nil {
		return "", fmt.Errorf("embed turn: %w", err)
	}

	rec := core.MemoryRecord{
		ID:        turn.ID,
		SessionID: sessionID,
		Text:      text,
		Embedding: vec,
		Timestamp: turn.Timestamp,
		Metadata:  RecordMetadata(turn),
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[sessionID]; !ok {
		m.records[sessionID] = make(map[string]core.MemoryRecord)
	}
	m.records[sessionID][turn.ID] = rec
	return rec.ID, nil
}

// Recall returns up to k records most similar to query, most-similar first,
// ties broken by recency. k = 0 is legal and returns an empty slice. A recall
// that cannot complete within the configured budget degrades to an empty
// slice rather than failing the turn.
func (m *InMemoryStore) Recall(ctx context.Context, sessionID, query string, k int) ([]core.MemoryRecord, error) {
	if k <= 0 {
		return []core.MemoryRecord{}, nil
	}

	recallCtx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	queryVec, err := m.embedder.Embed(recallCtx, query)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		m.logger.Warn("memory recall degraded to empty context", "session_id", sessionID, "error", err)
		return []core.MemoryRecord{}, nil
	}

	m.mu.RLock()
	session := m.records[sessionID]
	scored := make([]core.MemoryRecord, 0, len(session))
	for _, rec := range session {
		rec.Score = Cosine(queryVec, rec.Embedding)
		scored = append(scored, rec)
	}
	m.mu.RUnlock()

	SortByScore(scored)
	if len(scored) > k {
		scored = scored[:k]
	}
	return scored, nil
}

// IndexText builds the text indexed for a turn: the user utterance plus the
// synthesized response when present.
func IndexText(turn core.Turn) string {
	if turn.Response == "" {
		return turn.Content
	}
	return turn.Content + "\n" + turn.Response
}

// RecordMetadata extracts the metadata persisted alongside a memory record.
func RecordMetadata(turn core.Turn) map[string]any {
	md := map[string]any{
		"role":      string(turn.Role),
		"timestamp": turn.Timestamp,
	}
	if turn.Capability != nil {
		md["capability"] = turn.Capability.Name
	}
	return md
}

// SortByScore orders records by similarity descending, breaking ties by
// recency (newer first).
func SortByScore(records []core.MemoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].Score != records[j].Score {
			return records[i].Score > records[j].Score
		}
		return records[i].Timestamp.After(records[j].Timestamp)
	})
}

// Cosine returns the cosine similarity of two vectors, 0 when either has no
// magnitude or lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
