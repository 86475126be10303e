package core

import (
	"context"
	"time"
)

// MemoryRecord is a committed turn indexed for semantic recall. Records are
// immutable once written; expiry is a retention collaborator's policy.
type MemoryRecord struct {
	ID        string         `json:"id"`
	SessionID string         `json:"session_id"`
	Text      string         `json:"text"`
	Embedding []float32      `json:"-"`
	Score     float64        `json:"score"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MemoryStore defines persistence and semantic retrieval of conversational
// memory. Implementations must be safe for concurrent use across sessions.
//
// Contract:
//   - Write is idempotent on turn ID: a duplicate write overwrites the prior
//     record rather than double-inserting
//   - Recall orders by embedding cosine similarity descending, breaking ties
//     by recency (newer first), and returns at most k records; k = 0 returns
//     an empty slice without error
//   - Recall never blocks indefinitely: on an index timeout it returns an
//     empty slice rather than failing the turn
//   - A completed Write is visible to subsequent Recalls in the same session.
type MemoryStore interface {
	Write(ctx context.Context, sessionID string, turn Turn) (string, error)
	Recall(ctx context.Context, sessionID, query string, k int) ([]MemoryRecord, error)
}

// Embedder produces embedding vectors for memory indexing. The provider
// gateway satisfies this.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}
