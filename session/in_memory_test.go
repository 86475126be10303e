package session

import (
	"errors"
	"testing"
	"time"

	"github.com/lumenstack/concierge/core"
	"github.com/lumenstack/concierge/internal/testutil"
)

func TestInMemoryStore_GetOrCreateIsLazy(t *testing.T) {
	store := NewInMemoryStore()

	if _, err := store.Get("missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	sess, err := store.GetOrCreate("s1")
	if err != nil {
		t.Fatal(err)
	}
	if sess.ID != "s1" {
		t.Errorf("unexpected session id %s", sess.ID)
	}

	if _, err := store.Get("s1"); err != nil {
		t.Errorf("session should exist after GetOrCreate: %v", err)
	}
}

func TestInMemoryStore_ReturnsClones(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.GetOrCreate("s1"); err != nil {
		t.Fatal(err)
	}

	sess, _ := store.Get("s1")
	sess.AppendTurn(core.NewTurn("s1", "mutated externally"))

	fresh, _ := store.Get("s1")
	if len(fresh.GetTurns()) != 0 {
		t.Error("external mutation leaked into the store")
	}
}

func TestInMemoryStore_AppendTurnEnforcesOrdering(t *testing.T) {
	store := NewInMemoryStore()

	first := core.NewTurn("s1", "first")
	if err := store.AppendTurn("s1", first); err != nil {
		t.Fatal(err)
	}

	stale := core.NewTurn("s1", "stale")
	stale.Timestamp = first.Timestamp.Add(-time.Minute)
	if err := store.AppendTurn("s1", stale); err == nil {
		t.Error("expected ordering violation to be rejected")
	}

	next := core.NewTurn("s1", "next")
	next.Timestamp = first.Timestamp.Add(time.Second)
	if err := store.AppendTurn("s1", next); err != nil {
		t.Errorf("in-order append rejected: %v", err)
	}

	sess, _ := store.Get("s1")
	turns := sess.GetTurns()
	for i := 1; i < len(turns); i++ {
		if turns[i].Timestamp.Before(turns[i-1].Timestamp) {
			t.Error("turns not in non-decreasing timestamp order")
		}
	}
}

func TestInMemoryStore_SetWorkflowState(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.GetOrCreate("s1"); err != nil {
		t.Fatal(err)
	}

	if err := store.SetWorkflowState("s1", core.StateClassifying); err != nil {
		t.Fatal(err)
	}
	sess, _ := store.Get("s1")
	if sess.WorkflowState() != core.StateClassifying {
		t.Errorf("state not recorded, got %s", sess.WorkflowState())
	}

	if err := store.SetWorkflowState("missing", core.StateFailed); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_BindUserPersistsThroughCloneReads(t *testing.T) {
	store := NewInMemoryStore()
	if _, err := store.GetOrCreate("s1"); err != nil {
		t.Fatal(err)
	}

	if err := store.BindUser("s1", "user-42"); err != nil {
		t.Fatal(err)
	}
	sess, _ := store.Get("s1")
	if sess.UserID != "user-42" {
		t.Errorf("user id not persisted, got %q", sess.UserID)
	}

	// First binding wins.
	if err := store.BindUser("s1", "user-99"); err != nil {
		t.Fatal(err)
	}
	sess, _ = store.Get("s1")
	if sess.UserID != "user-42" {
		t.Errorf("binding overwritten, got %q", sess.UserID)
	}

	if err := store.BindUser("missing", "user-42"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestInMemoryStore_RecentHistoryKeepsTerminalTurns(t *testing.T) {
	store := NewInMemoryStore()

	turns := []core.Turn{
		testutil.NewTurnBuilder("s1").Content("where is order 42?").
			Intent(core.IntentOrdersLookup, 0.9).
			Invocation("orders.query", "order 42 shipped").
			Committed("Order 42 has shipped.").Build(),
		testutil.NewTurnBuilder("s1").Content("zxcvb").Failed("provider_unavailable").Build(),
		testutil.NewTurnBuilder("s1").Content("still in flight").Build(),
	}
	var last time.Time
	for _, turn := range turns {
		if !turn.Timestamp.After(last) {
			turn.Timestamp = last.Add(time.Millisecond)
		}
		last = turn.Timestamp
		if err := store.AppendTurn("s1", turn); err != nil {
			t.Fatal(err)
		}
	}

	sess, err := store.Get("s1")
	if err != nil {
		t.Fatal(err)
	}
	history := sess.RecentHistory(5)
	if len(history) != 2 {
		t.Fatalf("expected 2 terminal turns in history, got %d", len(history))
	}
	if history[0].Response != "Order 42 has shipped." {
		t.Errorf("unexpected first history turn: %+v", history[0])
	}
	if history[1].ErrorKind != "provider_unavailable" {
		t.Errorf("failed turn should stay visible in history: %+v", history[1])
	}
}
