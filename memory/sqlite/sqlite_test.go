package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/provider"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(filepath.Join(t.TempDir(), "memory.db"), provider.NewMockProvider("embed"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func turnAt(sessionID, content string, at time.Time) core.Turn {
	turn := core.NewTurn(sessionID, content)
	turn.State = core.StateCommitted
	turn.Timestamp = at
	return turn
}

func TestStore_WriteRecallRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turn := turnAt("s1", "show me today's orders", time.Now().UTC())
	turn.Response = "You have 3 open orders."
	_, err := store.Write(ctx, "s1", turn)
	require.NoError(t, err)

	got, err := store.Recall(ctx, "s1", "show me today's orders", 5)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, turn.ID, got[0].ID)
	assert.Contains(t, got[0].Text, "3 open orders")
	assert.Equal(t, "user", got[0].Metadata["role"])
}

func TestStore_WriteIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	turn := turnAt("s1", "check stock for sku-7", time.Now().UTC())
	_, err := store.Write(ctx, "s1", turn)
	require.NoError(t, err)

	turn.Response = "12 units on hand"
	id, err := store.Write(ctx, "s1", turn)
	require.NoError(t, err)
	assert.Equal(t, turn.ID, id)

	got, err := store.Recall(ctx, "s1", "check stock for sku-7", 10)
	require.NoError(t, err)
	require.Len(t, got, 1, "upsert must overwrite, not double-insert")
	assert.Contains(t, got[0].Text, "12 units")
}

func TestStore_RecallZeroKAndSessionIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	_, err := store.Write(ctx, "s1", turnAt("s1", "hello", time.Now().UTC()))
	require.NoError(t, err)

	got, err := store.Recall(ctx, "s1", "hello", 0)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = store.Recall(ctx, "s2", "hello", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestStore_RecallTiesBreakByRecency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC()
	older := turnAt("s1", "orders due today", base)
	newer := turnAt("s1", "orders due today", base.Add(time.Minute))
	_, err := store.Write(ctx, "s1", older)
	require.NoError(t, err)
	_, err = store.Write(ctx, "s1", newer)
	require.NoError(t, err)

	got, err := store.Recall(ctx, "s1", "orders due today", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, newer.ID, got[0].ID)
}
